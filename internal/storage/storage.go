// Package storage provides persistence for alarm state, project checkpoints
// and notification history, and search access to the log source.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/good-yellow-bee/keywatch/internal/models"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

// Storage is the main interface for engine-owned persistent data.
type Storage interface {
	// Open initializes the database connection.
	Open() error
	// Close closes the database connection.
	Close() error
	// Migrate runs database migrations.
	Migrate() error

	States() StateRepository
	Checkpoints() CheckpointRepository
	History() HistoryRepository
}

// StateRepository stores alarm state per (project, alarm key).
type StateRepository interface {
	// Get returns nil, nil when no state exists.
	Get(ctx context.Context, projectID, key string) (*models.AlarmState, error)
	Put(ctx context.Context, state *models.AlarmState) error
	// List returns states for a project, or for all projects when projectID is empty.
	List(ctx context.Context, projectID string) ([]*models.AlarmState, error)
	Delete(ctx context.Context, projectID, key string) error
}

// CheckpointRepository stores the last fully searched instant per project.
type CheckpointRepository interface {
	// Get returns the zero time when the project has never been checkpointed.
	Get(ctx context.Context, projectID string) (time.Time, error)
	Put(ctx context.Context, projectID string, at time.Time) error
	List(ctx context.Context) (map[string]time.Time, error)
}

// HistoryRepository stores sent notifications.
type HistoryRepository interface {
	Create(ctx context.Context, rec *models.NotificationRecord) error
	List(ctx context.Context, limit, offset int) ([]*models.NotificationRecord, int64, error)
	ListByProject(ctx context.Context, projectID string, limit, offset int) ([]*models.NotificationRecord, int64, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}
