package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/good-yellow-bee/keywatch/internal/models"
)

// Source holds the current monitor document. Snapshots are immutable; a
// reload swaps in a new document atomically so a scan in progress keeps
// the one it started with.
type Source struct {
	path   string
	logger *zap.Logger

	current atomic.Pointer[models.MonitorConfig]
	reloads atomic.Int64

	mu        sync.Mutex
	listeners []func(*models.MonitorConfig)
}

// NewSource creates a source for path. Call Load before use.
func NewSource(path string, logger *zap.Logger) *Source {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Source{path: path, logger: logger}
}

// NewStaticSource wraps an already loaded document.
func NewStaticSource(cfg *models.MonitorConfig) *Source {
	s := &Source{logger: zap.NewNop()}
	s.current.Store(cfg)
	return s
}

// Path returns the watched file.
func (s *Source) Path() string {
	return s.path
}

// Snapshot returns the current document, or nil before the first Load.
func (s *Source) Snapshot() *models.MonitorConfig {
	return s.current.Load()
}

// Reloads returns how many times the document was successfully reloaded.
func (s *Source) Reloads() int64 {
	return s.reloads.Load()
}

// OnReload registers fn to be called after each successful reload.
func (s *Source) OnReload(fn func(*models.MonitorConfig)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Load reads the file and replaces the current document. On error the
// previous document stays active.
func (s *Source) Load() error {
	cfg, err := LoadMonitors(s.path)
	if err != nil {
		return err
	}
	s.current.Store(cfg)
	return nil
}

func (s *Source) reload() {
	if err := s.Load(); err != nil {
		s.logger.Error("monitor config reload failed, keeping previous config",
			zap.String("path", s.path), zap.Error(err))
		return
	}
	s.reloads.Add(1)
	cfg := s.Snapshot()
	s.logger.Info("monitor config reloaded",
		zap.String("path", s.path), zap.Int("projects", len(cfg.Projects)))

	s.mu.Lock()
	listeners := append(([]func(*models.MonitorConfig))(nil), s.listeners...)
	s.mu.Unlock()
	for _, fn := range listeners {
		fn(cfg)
	}
}

// Watch reloads the document whenever the file changes, until ctx is
// cancelled. The parent directory is watched so editors that save by
// renaming a temp file over the original are picked up.
func (s *Source) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(s.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	target := filepath.Clean(s.path)

	s.logger.Info("watching monitor config for changes", zap.String("path", s.path))

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			s.reload()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Error("monitor config watcher error", zap.Error(err))
		}
	}
}
