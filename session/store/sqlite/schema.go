package sqlite

import (
	"context"
	"database/sql"
	"fmt"
)

const schemaVersion = 1

// schemaStatements are executed in order to create the database schema.
// All use IF NOT EXISTS for idempotent re-application.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS sessions (
		id             TEXT    PRIMARY KEY,
		user_id        TEXT    NOT NULL,
		summary        TEXT    NOT NULL DEFAULT '',
		token_count    INTEGER NOT NULL DEFAULT 0,
		created_at_ms  INTEGER NOT NULL,
		last_active_ms INTEGER NOT NULL,
		ttl_ms         INTEGER NOT NULL
	)`,

	`CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id)`,

	`CREATE INDEX IF NOT EXISTS idx_sessions_expiry ON sessions(last_active_ms)`,

	`CREATE TABLE IF NOT EXISTS session_messages (
		session_id    TEXT    NOT NULL,
		seq           INTEGER NOT NULL,
		id            TEXT    NOT NULL,
		role          TEXT    NOT NULL,
		content       TEXT    NOT NULL DEFAULT '',
		tokens        INTEGER NOT NULL DEFAULT 0,
		created_at_ms INTEGER NOT NULL,
		PRIMARY KEY (session_id, seq)
	)`,
}

// migrate creates or updates the database schema to the latest version.
// All DDL uses IF NOT EXISTS, making migration idempotent.
func migrate(db *sql.DB) error {
	ctx := context.Background()

	if _, err := db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY)"); err != nil {
		return fmt.Errorf("sqlite: create schema_version: %w", err)
	}

	var current int
	if err := db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&current); err != nil {
		return fmt.Errorf("sqlite: read schema version: %w", err)
	}
	if current >= schemaVersion {
		return nil
	}

	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite: apply schema: %w", err)
		}
	}

	if _, err := db.ExecContext(ctx, "INSERT OR REPLACE INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		return fmt.Errorf("sqlite: record schema version: %w", err)
	}
	return nil
}
