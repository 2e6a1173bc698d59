package store

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"keywordpipe/internal/config"
)

// Open opens the SQLite file at cfg.DBPath, applies the pool settings
// from cfg, ensures the schema exists, and returns the shared *sql.DB
// every component acquires connections from.
func Open(cfg config.Config) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite3 %s: %w", cfg.DBPath, err)
	}

	db.SetMaxOpenConns(cfg.PoolSize)
	db.SetMaxIdleConns(cfg.PoolSize + cfg.PoolOverflow)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime())

	if err := EnsureSchema(db, cfg); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// EnsureSchema creates the source, derived, and category tables if
// they do not already exist, plus the indexes the pipeline relies on
// for read performance. The unique index on the keyword table is
// defensive — InsertBatch's own WHERE NOT EXISTS guard is what actually
// makes the insert idempotent.
func EnsureSchema(db *sql.DB, cfg config.Config) error {
	schema := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %[1]s (
		%[2]s         INTEGER PRIMARY KEY AUTOINCREMENT,
		%[3]s         TEXT NOT NULL,
		%[4]s         TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_%[1]s_%[4]s ON %[1]s(%[4]s);

	CREATE TABLE IF NOT EXISTS %[5]s (
		query_text       TEXT NOT NULL,
		keyword          TEXT NOT NULL,
		category_id      INTEGER NOT NULL,
		query_count      INTEGER NOT NULL,
		batch_created_at TIMESTAMP NOT NULL,
		created_at       TIMESTAMP NOT NULL
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_%[5]s_text_date ON %[5]s(query_text, DATE(created_at));
	CREATE INDEX IF NOT EXISTS idx_%[5]s_created_at ON %[5]s(created_at);

	CREATE TABLE IF NOT EXISTS categories (
		category_id   INTEGER PRIMARY KEY,
		category_name TEXT NOT NULL
	);
	`, cfg.ChattingsTable, cfg.ChattingsPK, cfg.ChattingsText, cfg.ChattingsCreatedAt, cfg.KeywordsTable)

	_, err := db.Exec(schema)
	if err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// SyncCategories replaces the contents of the categories table with
// the given id/name pairs, so downstream SQL reporting can join against
// it even though the YAML file remains the source of truth at runtime.
func SyncCategories(db *sql.DB, names map[int]string) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("sync categories: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM categories`); err != nil {
		return fmt.Errorf("sync categories: clear: %w", err)
	}
	stmt, err := tx.Prepare(`INSERT INTO categories (category_id, category_name) VALUES (?, ?)`)
	if err != nil {
		return fmt.Errorf("sync categories: prepare: %w", err)
	}
	defer stmt.Close()

	for id, name := range names {
		if _, err := stmt.Exec(id, name); err != nil {
			return fmt.Errorf("sync categories: insert %d: %w", id, err)
		}
	}
	return tx.Commit()
}
