package main

import (
	"log"
	"os"

	"clinicgo/internal/api"
	"clinicgo/internal/clinical"
	"clinicgo/internal/config"
	"clinicgo/internal/engine"
	"clinicgo/internal/reconciler"
	"clinicgo/internal/session"

	"github.com/gin-gonic/gin"
)

func main() {
	cfgPath := os.Getenv("CLINICGO_CONFIG")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	db, err := session.Open()
	if err != nil {
		log.Fatalf("open session database: %v", err)
	}
	defer db.Close()
	if err := session.Migrate(db); err != nil {
		log.Fatalf("migrate session database: %v", err)
	}
	store, err := session.NewStore(db)
	if err != nil {
		log.Fatalf("init conversation store: %v", err)
	}

	answerEngine, err := engine.NewService(cfg)
	if err != nil {
		log.Fatalf("init answer engine: %v", err)
	}

	composer := clinical.NewComposer(cfg.BasicConfig.AnswerLanguage)
	rec := reconciler.New(store, answerEngine)
	handlers := api.NewHandler(composer, store, rec)

	router := gin.Default()
	handlers.RegisterRoutes(router)

	addr := cfg.BasicConfig.ServerAddress
	if addr == "" {
		addr = ":8090"
	}
	if err := router.Run(addr); err != nil {
		log.Fatalf("server stopped: %v", err)
	}
}
