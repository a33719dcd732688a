package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

type sqliteCheckpointRepo struct {
	db *sql.DB
}

func (r *sqliteCheckpointRepo) Get(ctx context.Context, projectID string) (time.Time, error) {
	var n int64
	err := r.db.QueryRowContext(ctx,
		"SELECT last_searched_at FROM project_checkpoints WHERE project_id = ?", projectID,
	).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("get checkpoint: %w", err)
	}
	return fromUnixNano(n), nil
}

func (r *sqliteCheckpointRepo) Put(ctx context.Context, projectID string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO project_checkpoints (project_id, last_searched_at) VALUES (?, ?)
		ON CONFLICT (project_id) DO UPDATE SET last_searched_at = excluded.last_searched_at
	`, projectID, toUnixNano(at))
	if err != nil {
		return fmt.Errorf("put checkpoint: %w", err)
	}
	return nil
}

func (r *sqliteCheckpointRepo) List(ctx context.Context) (map[string]time.Time, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT project_id, last_searched_at FROM project_checkpoints")
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer rows.Close()

	out := make(map[string]time.Time)
	for rows.Next() {
		var id string
		var n int64
		if err := rows.Scan(&id, &n); err != nil {
			return nil, fmt.Errorf("scan checkpoint: %w", err)
		}
		out[id] = fromUnixNano(n)
	}
	return out, rows.Err()
}
