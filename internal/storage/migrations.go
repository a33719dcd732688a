package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Migration represents a database migration.
type Migration struct {
	Version int
	Name    string
	Up      string
}

// migrations holds all database migrations in order.
var migrations = []Migration{
	{
		Version: 1,
		Name:    "alarm_state",
		Up: `
			-- Alarm state per (project, alarm key)
			CREATE TABLE IF NOT EXISTS alarm_states (
				project_id TEXT NOT NULL,
				alarm_key TEXT NOT NULL,
				status TEXT NOT NULL,
				last_detected_at INTEGER NOT NULL DEFAULT 0,
				last_notified_at INTEGER NOT NULL DEFAULT 0,
				detection_count INTEGER NOT NULL DEFAULT 0,
				current_streak INTEGER NOT NULL DEFAULT 0,
				updated_at INTEGER NOT NULL DEFAULT 0,
				PRIMARY KEY (project_id, alarm_key)
			);

			-- Last fully searched instant per project
			CREATE TABLE IF NOT EXISTS project_checkpoints (
				project_id TEXT PRIMARY KEY,
				last_searched_at INTEGER NOT NULL
			);

			CREATE INDEX IF NOT EXISTS idx_alarm_states_status ON alarm_states(status);
		`,
	},
	{
		Version: 2,
		Name:    "notification_history",
		Up: `
			CREATE TABLE IF NOT EXISTS notification_history (
				id TEXT PRIMARY KEY,
				project_id TEXT NOT NULL,
				alarm_key TEXT NOT NULL,
				action TEXT NOT NULL,
				severity TEXT NOT NULL,
				destination TEXT NOT NULL,
				subject TEXT NOT NULL,
				match_count INTEGER NOT NULL DEFAULT 0,
				sent_at INTEGER NOT NULL
			);

			CREATE INDEX IF NOT EXISTS idx_notification_history_project ON notification_history(project_id);
			CREATE INDEX IF NOT EXISTS idx_notification_history_sent_at ON notification_history(sent_at);
		`,
	},
}

// runMigrations applies all pending migrations.
func runMigrations(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at INTEGER NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	var currentVersion int
	err = db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("get current version: %w", err)
	}

	for _, m := range migrations {
		if m.Version <= currentVersion {
			continue
		}
		if err := applyMigration(ctx, db, m); err != nil {
			return err
		}
	}
	return nil
}

func applyMigration(ctx context.Context, db *sql.DB, m Migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction for migration %d: %w", m.Version, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, m.Up); err != nil {
		return fmt.Errorf("execute migration %d (%s): %w", m.Version, m.Name, err)
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)",
		m.Version, m.Name, time.Now().UnixNano(),
	); err != nil {
		return fmt.Errorf("record migration %d: %w", m.Version, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %d: %w", m.Version, err)
	}
	return nil
}
