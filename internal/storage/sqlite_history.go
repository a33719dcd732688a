package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/good-yellow-bee/keywatch/internal/models"
)

type sqliteHistoryRepo struct {
	db *sql.DB
}

const historyColumns = `id, project_id, alarm_key, action, severity, destination, subject, match_count, sent_at`

func (r *sqliteHistoryRepo) Create(ctx context.Context, h *models.NotificationRecord) error {
	if h.ID == "" {
		h.ID = uuid.New().String()
	}
	_, err := r.db.ExecContext(ctx,
		"INSERT INTO notification_history ("+historyColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)",
		h.ID, h.ProjectID, h.Key, h.Action, string(h.Severity), h.Destination, h.Subject,
		h.MatchCount, toUnixNano(h.SentAt),
	)
	if err != nil {
		return fmt.Errorf("create notification history: %w", err)
	}
	return nil
}

func (r *sqliteHistoryRepo) List(ctx context.Context, limit, offset int) ([]*models.NotificationRecord, int64, error) {
	var total int64
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM notification_history").Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count notification history: %w", err)
	}

	rows, err := r.db.QueryContext(ctx,
		"SELECT "+historyColumns+" FROM notification_history ORDER BY sent_at DESC LIMIT ? OFFSET ?",
		limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("query notification history: %w", err)
	}
	defer rows.Close()

	records, err := scanHistory(rows)
	if err != nil {
		return nil, 0, err
	}
	return records, total, nil
}

func (r *sqliteHistoryRepo) ListByProject(ctx context.Context, projectID string, limit, offset int) ([]*models.NotificationRecord, int64, error) {
	var total int64
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM notification_history WHERE project_id = ?", projectID).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count notification history by project: %w", err)
	}

	rows, err := r.db.QueryContext(ctx,
		"SELECT "+historyColumns+" FROM notification_history WHERE project_id = ? ORDER BY sent_at DESC LIMIT ? OFFSET ?",
		projectID, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("query notification history by project: %w", err)
	}
	defer rows.Close()

	records, err := scanHistory(rows)
	if err != nil {
		return nil, 0, err
	}
	return records, total, nil
}

func (r *sqliteHistoryRepo) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, "DELETE FROM notification_history WHERE sent_at < ?", toUnixNano(before))
	if err != nil {
		return 0, fmt.Errorf("delete notification history: %w", err)
	}
	return result.RowsAffected()
}

func scanHistory(rows *sql.Rows) ([]*models.NotificationRecord, error) {
	var records []*models.NotificationRecord
	for rows.Next() {
		h := &models.NotificationRecord{}
		var severity string
		var sentAt int64
		err := rows.Scan(&h.ID, &h.ProjectID, &h.Key, &h.Action, &severity,
			&h.Destination, &h.Subject, &h.MatchCount, &sentAt)
		if err != nil {
			return nil, fmt.Errorf("scan notification history: %w", err)
		}
		h.Severity = models.Severity(severity)
		h.SentAt = fromUnixNano(sentAt)
		records = append(records, h)
	}
	return records, rows.Err()
}
