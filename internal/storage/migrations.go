package storage

import (
	"context"
	"fmt"
)

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS openrouter_usage_logs (
		id            UUID PRIMARY KEY,
		model         TEXT NOT NULL,
		input_text    TEXT NOT NULL,
		output_text   TEXT NOT NULL,
		input_tokens  INTEGER NOT NULL DEFAULT 0 CHECK (input_tokens >= 0),
		output_tokens INTEGER NOT NULL DEFAULT 0 CHECK (output_tokens >= 0),
		total_tokens  INTEGER NOT NULL DEFAULT 0 CHECK (total_tokens >= 0),
		input_cost    NUMERIC(20, 10) NOT NULL DEFAULT 0 CHECK (input_cost >= 0),
		output_cost   NUMERIC(20, 10) NOT NULL DEFAULT 0 CHECK (output_cost >= 0),
		total_cost    NUMERIC(20, 10) NOT NULL DEFAULT 0 CHECK (total_cost >= 0),
		created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_openrouter_usage_logs_created_at
		ON openrouter_usage_logs (created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_openrouter_usage_logs_model
		ON openrouter_usage_logs (model)`,
	`CREATE TABLE IF NOT EXISTS users (
		id               UUID PRIMARY KEY,
		auth_id          TEXT NOT NULL UNIQUE,
		email            TEXT NOT NULL UNIQUE,
		first_name       TEXT,
		last_name        TEXT,
		image_url        TEXT,
		is_admin         BOOLEAN NOT NULL DEFAULT FALSE,
		email_subscribed BOOLEAN NOT NULL DEFAULT TRUE,
		created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS openrouter_usage_logs (
		id            TEXT PRIMARY KEY,
		model         TEXT NOT NULL,
		input_text    TEXT NOT NULL,
		output_text   TEXT NOT NULL,
		input_tokens  INTEGER NOT NULL DEFAULT 0 CHECK (input_tokens >= 0),
		output_tokens INTEGER NOT NULL DEFAULT 0 CHECK (output_tokens >= 0),
		total_tokens  INTEGER NOT NULL DEFAULT 0 CHECK (total_tokens >= 0),
		input_cost    REAL NOT NULL DEFAULT 0 CHECK (input_cost >= 0),
		output_cost   REAL NOT NULL DEFAULT 0 CHECK (output_cost >= 0),
		total_cost    REAL NOT NULL DEFAULT 0 CHECK (total_cost >= 0),
		created_at    TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
	)`,
	`CREATE INDEX IF NOT EXISTS idx_openrouter_usage_logs_created_at
		ON openrouter_usage_logs (created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_openrouter_usage_logs_model
		ON openrouter_usage_logs (model)`,
	`CREATE TABLE IF NOT EXISTS users (
		id               TEXT PRIMARY KEY,
		auth_id          TEXT NOT NULL UNIQUE,
		email            TEXT NOT NULL UNIQUE,
		first_name       TEXT,
		last_name        TEXT,
		image_url        TEXT,
		is_admin         INTEGER NOT NULL DEFAULT 0,
		email_subscribed INTEGER NOT NULL DEFAULT 1,
		created_at       TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now')),
		updated_at       TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
	)`,
}

// Migrate creates the tables this service owns if they do not exist yet
func (db *DB) Migrate(ctx context.Context) error {
	statements := postgresSchema
	if db.driver == DriverSQLite {
		statements = sqliteSchema
	}

	for _, stmt := range statements {
		if _, err := db.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply migration: %w", err)
		}
	}
	return nil
}
