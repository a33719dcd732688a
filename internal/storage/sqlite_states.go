package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/good-yellow-bee/keywatch/internal/models"
)

type sqliteStateRepo struct {
	db *sql.DB
}

const stateColumns = `project_id, alarm_key, status, last_detected_at, last_notified_at,
	detection_count, current_streak, updated_at`

func (r *sqliteStateRepo) Get(ctx context.Context, projectID, key string) (*models.AlarmState, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+stateColumns+" FROM alarm_states WHERE project_id = ? AND alarm_key = ?",
		projectID, key,
	)
	s, err := scanState(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get alarm state: %w", err)
	}
	return s, nil
}

func (r *sqliteStateRepo) Put(ctx context.Context, s *models.AlarmState) error {
	query := `
		INSERT INTO alarm_states (` + stateColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (project_id, alarm_key) DO UPDATE SET
			status = excluded.status,
			last_detected_at = excluded.last_detected_at,
			last_notified_at = excluded.last_notified_at,
			detection_count = excluded.detection_count,
			current_streak = excluded.current_streak,
			updated_at = excluded.updated_at
	`
	_, err := r.db.ExecContext(ctx, query,
		s.ProjectID, s.Key, string(s.Status),
		toUnixNano(s.LastDetectedAt), toUnixNano(s.LastNotifiedAt),
		s.DetectionCount, s.CurrentStreak, toUnixNano(s.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("put alarm state: %w", err)
	}
	return nil
}

func (r *sqliteStateRepo) List(ctx context.Context, projectID string) ([]*models.AlarmState, error) {
	query := "SELECT " + stateColumns + " FROM alarm_states"
	var args []any
	if projectID != "" {
		query += " WHERE project_id = ?"
		args = append(args, projectID)
	}
	query += " ORDER BY project_id, alarm_key"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list alarm states: %w", err)
	}
	defer rows.Close()

	var states []*models.AlarmState
	for rows.Next() {
		s, err := scanState(rows)
		if err != nil {
			return nil, fmt.Errorf("scan alarm state: %w", err)
		}
		states = append(states, s)
	}
	return states, rows.Err()
}

func (r *sqliteStateRepo) Delete(ctx context.Context, projectID, key string) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM alarm_states WHERE project_id = ? AND alarm_key = ?", projectID, key)
	if err != nil {
		return fmt.Errorf("delete alarm state: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete alarm state: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanState(row rowScanner) (*models.AlarmState, error) {
	s := &models.AlarmState{}
	var status string
	var detected, notified, updated int64
	err := row.Scan(&s.ProjectID, &s.Key, &status, &detected, &notified,
		&s.DetectionCount, &s.CurrentStreak, &updated)
	if err != nil {
		return nil, err
	}
	s.Status = models.AlarmStatus(status)
	s.LastDetectedAt = fromUnixNano(detected)
	s.LastNotifiedAt = fromUnixNano(notified)
	s.UpdatedAt = fromUnixNano(updated)
	return s, nil
}
