package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/good-yellow-bee/keywatch/internal/models"
)

// ConfigSource provides the current monitor configuration.
type ConfigSource interface {
	Snapshot() *models.MonitorConfig
}

// EngineStore combines the operator-edited monitor configuration with
// engine-owned state, checkpoints and history.
type EngineStore struct {
	config      ConfigSource
	states      StateRepository
	checkpoints CheckpointRepository
	history     HistoryRepository
}

// NewEngineStore creates an engine store. history may be nil.
func NewEngineStore(config ConfigSource, states StateRepository, checkpoints CheckpointRepository, history HistoryRepository) *EngineStore {
	return &EngineStore{
		config:      config,
		states:      states,
		checkpoints: checkpoints,
		history:     history,
	}
}

func (s *EngineStore) snapshot() (*models.MonitorConfig, error) {
	cfg := s.config.Snapshot()
	if cfg == nil {
		return nil, fmt.Errorf("monitor configuration not loaded")
	}
	return cfg, nil
}

// GlobalConfig returns a copy of the global configuration.
func (s *EngineStore) GlobalConfig(ctx context.Context) (*models.GlobalConfig, error) {
	cfg, err := s.snapshot()
	if err != nil {
		return nil, err
	}
	g := cfg.Global
	return &g, nil
}

// Projects returns a copy of every project with its checkpoint.
func (s *EngineStore) Projects(ctx context.Context) ([]models.ProjectConfig, error) {
	cfg, err := s.snapshot()
	if err != nil {
		return nil, err
	}
	checkpoints, err := s.checkpoints.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]models.ProjectConfig, len(cfg.Projects))
	copy(out, cfg.Projects)
	for i := range out {
		out[i].LastSearchedAt = checkpoints[out[i].ID]
	}
	return out, nil
}

// State returns nil, nil when the alarm has never fired.
func (s *EngineStore) State(ctx context.Context, projectID, key string) (*models.AlarmState, error) {
	return s.states.Get(ctx, projectID, key)
}

// PutState persists an alarm state.
func (s *EngineStore) PutState(ctx context.Context, state *models.AlarmState) error {
	return s.states.Put(ctx, state)
}

// PutCheckpoint advances a project's checkpoint.
func (s *EngineStore) PutCheckpoint(ctx context.Context, projectID string, at time.Time) error {
	return s.checkpoints.Put(ctx, projectID, at)
}

// RecordNotification stores a sent notification when history is enabled.
func (s *EngineStore) RecordNotification(ctx context.Context, rec *models.NotificationRecord) error {
	if s.history == nil {
		return nil
	}
	return s.history.Create(ctx, rec)
}
