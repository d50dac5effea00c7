package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// EnsurePublishSchema creates the publish_tasks and oauth_credentials tables on PostgreSQL and
// adds newer columns when an older table is found. Safe to call at startup.
func EnsurePublishSchema(db *sql.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ddl := []string{
		`CREATE TABLE IF NOT EXISTS publish_tasks (
			id TEXT PRIMARY KEY,
			flow_id TEXT NULL,
			material_id TEXT NULL,
			material_policy TEXT NOT NULL DEFAULT '',
			user_id TEXT NOT NULL,
			account_id TEXT NOT NULL,
			platform TEXT NOT NULL,
			account_uid TEXT NOT NULL DEFAULT '',
			title TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			topics TEXT[] NOT NULL DEFAULT '{}',
			video_url TEXT NOT NULL DEFAULT '',
			cover_url TEXT NOT NULL DEFAULT '',
			image_urls TEXT[] NOT NULL DEFAULT '{}',
			publish_time TIMESTAMPTZ NOT NULL,
			status TEXT NOT NULL,
			queue_id TEXT NULL,
			in_queue BOOLEAN NOT NULL DEFAULT FALSE,
			queued BOOLEAN NOT NULL DEFAULT FALSE,
			data_id TEXT NULL,
			work_link TEXT NULL,
			error_message TEXT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS ix_publish_tasks_due ON publish_tasks (status, publish_time)`,
		`CREATE INDEX IF NOT EXISTS ix_publish_tasks_flow ON publish_tasks (flow_id)`,
		`CREATE TABLE IF NOT EXISTS oauth_credentials (
			id BIGSERIAL PRIMARY KEY,
			account_id TEXT NOT NULL,
			platform TEXT NOT NULL,
			access_token TEXT NOT NULL,
			refresh_token TEXT NOT NULL DEFAULT '',
			access_token_expires_at TIMESTAMPTZ NULL,
			refresh_token_expires_at TIMESTAMPTZ NULL,
			scopes TEXT NOT NULL DEFAULT '',
			token_type TEXT NOT NULL DEFAULT '',
			raw BYTEA NULL,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			UNIQUE (account_id, platform)
		)`,
	}
	for _, q := range ddl {
		if _, err := db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("ensure publish schema: %w", err)
		}
	}

	checks := []struct {
		table  string
		column string
		ddl    string
	}{
		{"publish_tasks", "external_ref", "ALTER TABLE publish_tasks ADD COLUMN external_ref TEXT"},
		{"publish_tasks", "attempt_count", "ALTER TABLE publish_tasks ADD COLUMN attempt_count INTEGER NOT NULL DEFAULT 0"},
	}
	for _, c := range checks {
		exists, err := columnExists(ctx, db, c.table, c.column)
		if err != nil {
			return err
		}
		if !exists {
			if _, err := db.ExecContext(ctx, c.ddl); err != nil {
				return fmt.Errorf("adding column %s.%s failed: %w", c.table, c.column, err)
			}
		}
	}
	if _, err := db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS ix_publish_tasks_external ON publish_tasks (platform, account_uid, external_ref)`); err != nil {
		return fmt.Errorf("ensure publish schema: %w", err)
	}
	return nil
}

func columnExists(ctx context.Context, db *sql.DB, table, column string) (bool, error) {
	row := db.QueryRowContext(ctx, `SELECT 1 FROM information_schema.columns WHERE table_name=$1 AND column_name=$2`, table, column)
	var one int
	if err := row.Scan(&one); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
