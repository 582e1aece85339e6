package session

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// Open creates the session-scoped SQLite database. The DSN is always
// in-memory: all conversation state dies with the process. The pool is
// pinned to one connection because each sqlite :memory: connection is its
// own database.
func Open() (*sql.DB, error) {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable sqlite foreign keys: %w", err)
	}
	return db, nil
}

// Migrate ensures the required tables are present.
func Migrate(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS messages (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			msg_id TEXT NOT NULL DEFAULT '',
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			cached INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS history (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			entry_id TEXT NOT NULL,
			label TEXT NOT NULL,
			query TEXT NOT NULL,
			response TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_msg_id ON messages(msg_id)`,
		`CREATE INDEX IF NOT EXISTS idx_history_entry_id ON history(entry_id)`,
		`CREATE INDEX IF NOT EXISTS idx_history_query ON history(query)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
