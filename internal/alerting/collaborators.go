package alerting

import (
	"context"
	"iter"
	"time"

	"github.com/good-yellow-bee/keywatch/internal/models"
)

// LogSearcher runs paginated keyword searches. The returned sequence is
// lazy and finite; iteration stops at the first error.
type LogSearcher interface {
	Search(ctx context.Context, q models.SearchQuery) iter.Seq2[models.LogMatch, error]
}

// Store reads operator configuration and persists engine-owned state.
type Store interface {
	GlobalConfig(ctx context.Context) (*models.GlobalConfig, error)
	// Projects returns every project with its checkpoint populated.
	Projects(ctx context.Context) ([]models.ProjectConfig, error)
	// State returns nil, nil when no state exists for the key.
	State(ctx context.Context, projectID, key string) (*models.AlarmState, error)
	PutState(ctx context.Context, state *models.AlarmState) error
	PutCheckpoint(ctx context.Context, projectID string, at time.Time) error
}

// HistoryRecorder is optionally implemented by a Store to keep a record of
// sent notifications.
type HistoryRecorder interface {
	RecordNotification(ctx context.Context, rec *models.NotificationRecord) error
}

// Publisher delivers a rendered notification to a destination.
type Publisher interface {
	Publish(ctx context.Context, destination, subject, body string) error
}

// MetricSink records a numeric observation tagged with dimensions.
type MetricSink interface {
	Record(ctx context.Context, namespace string, dims map[string]string, value float64) error
}
