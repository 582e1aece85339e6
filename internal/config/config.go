package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Config represents runtime configuration for the service.
type Config struct {
	BasicConfig BasicConfig               `json:"basic_config"`
	Providers   map[string]ProviderConfig `json:"providers"`
	Search      SearchConfig              `json:"search"`
}

type ProviderConfig struct {
	BaseURL string `json:"base_url"`
	Model   string `json:"model"`
	APIKey  string `json:"api_key"`
}

type SearchConfig struct {
	TavilyAPIKey         string `json:"tavily_api_key"`
	GoogleAPIKey         string `json:"google_api_key"`
	GoogleSearchEngineID string `json:"google_search_engine_id"`
}

type BasicConfig struct {
	ServerAddress  string `json:"server_address"`
	Provider       string `json:"provider"`
	Model          string `json:"model"`
	AnswerLanguage string `json:"answer_language"`
}

// Load reads configuration from the provided path (defaults to config.json).
// Both required credentials are checked here: a missing search or model API
// key is a startup error, never a runtime one.
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.json"
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	file, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}
	defer file.Close()

	var cfg Config
	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if cfg.BasicConfig.Provider == "" {
		return nil, fmt.Errorf("provider must be configured")
	}
	provCfg, ok := cfg.Providers[cfg.BasicConfig.Provider]
	if !ok {
		return nil, fmt.Errorf("provider %s not configured", cfg.BasicConfig.Provider)
	}
	if provCfg.APIKey == "" {
		return nil, fmt.Errorf("api_key for provider %s must be configured", cfg.BasicConfig.Provider)
	}
	if cfg.Search.TavilyAPIKey == "" {
		return nil, fmt.Errorf("tavily_api_key must be configured")
	}

	return &cfg, nil
}
