package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// EnsurePublishSchemaMSSQL creates the publish tables for SQL Server if they do not exist.
func EnsurePublishSchemaMSSQL(db *sql.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	tasks := `IF NOT EXISTS (SELECT * FROM sys.objects WHERE object_id = OBJECT_ID(N'dbo.publish_tasks') AND type in (N'U'))
BEGIN
    CREATE TABLE dbo.[publish_tasks] (
        id NVARCHAR(64) NOT NULL PRIMARY KEY,
        flow_id NVARCHAR(64) NULL,
        material_id NVARCHAR(128) NULL,
        material_policy NVARCHAR(32) NOT NULL DEFAULT '',
        user_id NVARCHAR(128) NOT NULL,
        account_id NVARCHAR(128) NOT NULL,
        platform NVARCHAR(64) NOT NULL,
        account_uid NVARCHAR(255) NOT NULL DEFAULT '',
        title NVARCHAR(MAX) NOT NULL DEFAULT '',
        description NVARCHAR(MAX) NOT NULL DEFAULT '',
        topics NVARCHAR(MAX) NOT NULL DEFAULT '[]',
        video_url NVARCHAR(2048) NOT NULL DEFAULT '',
        cover_url NVARCHAR(2048) NOT NULL DEFAULT '',
        image_urls NVARCHAR(MAX) NOT NULL DEFAULT '[]',
        publish_time DATETIME2 NOT NULL,
        status NVARCHAR(32) NOT NULL,
        queue_id NVARCHAR(64) NULL,
        in_queue BIT NOT NULL DEFAULT 0,
        queued BIT NOT NULL DEFAULT 0,
        data_id NVARCHAR(255) NULL,
        work_link NVARCHAR(2048) NULL,
        error_message NVARCHAR(MAX) NULL,
        created_at DATETIME2 NOT NULL,
        updated_at DATETIME2 NOT NULL
    );
    CREATE INDEX IX_publish_tasks_due ON dbo.[publish_tasks](status, publish_time);
    CREATE INDEX IX_publish_tasks_flow ON dbo.[publish_tasks](flow_id);
END`
	if _, err := db.ExecContext(ctx, tasks); err != nil {
		return fmt.Errorf("create publish_tasks (mssql): %w", err)
	}

	// Helper to add a column if missing via COL_LENGTH check
	addIfMissing := func(table, column, ddl string) error {
		q := fmt.Sprintf(`IF COL_LENGTH('%s', '%s') IS NULL BEGIN %s END`, table, column, ddl)
		if _, err := db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("ensure column %s.%s: %w", table, column, err)
		}
		return nil
	}
	if err := addIfMissing("dbo.publish_tasks", "external_ref", "ALTER TABLE dbo.[publish_tasks] ADD external_ref NVARCHAR(255) NULL"); err != nil {
		return err
	}
	if err := addIfMissing("dbo.publish_tasks", "attempt_count", "ALTER TABLE dbo.[publish_tasks] ADD attempt_count INT NOT NULL DEFAULT 0"); err != nil {
		return err
	}

	creds := `IF NOT EXISTS (SELECT * FROM sys.objects WHERE object_id = OBJECT_ID(N'dbo.oauth_credentials') AND type in (N'U'))
BEGIN
    CREATE TABLE dbo.[oauth_credentials] (
        id BIGINT IDENTITY(1,1) PRIMARY KEY,
        account_id NVARCHAR(128) NOT NULL,
        platform NVARCHAR(64) NOT NULL,
        access_token NVARCHAR(MAX) NOT NULL,
        refresh_token NVARCHAR(MAX) NOT NULL DEFAULT '',
        access_token_expires_at DATETIME2 NULL,
        refresh_token_expires_at DATETIME2 NULL,
        scopes NVARCHAR(MAX) NOT NULL DEFAULT '',
        token_type NVARCHAR(32) NOT NULL DEFAULT '',
        raw VARBINARY(MAX) NULL,
        created_at DATETIME2 NOT NULL,
        updated_at DATETIME2 NOT NULL
    );
    CREATE UNIQUE INDEX UX_oauth_credentials_account_platform ON dbo.[oauth_credentials](account_id, platform);
END`
	if _, err := db.ExecContext(ctx, creds); err != nil {
		return fmt.Errorf("create oauth_credentials (mssql): %w", err)
	}
	return nil
}
