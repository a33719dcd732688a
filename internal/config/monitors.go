// Package config loads the operator-edited monitor document and keeps it
// current while the process runs.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/good-yellow-bee/keywatch/internal/alerting"
	"github.com/good-yellow-bee/keywatch/internal/models"
)

// LoadMonitors reads and validates a monitor document.
func LoadMonitors(path string) (*models.MonitorConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read monitors file: %w", err)
	}
	cfg, err := ParseMonitors(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// ParseMonitors decodes a monitor document. Unknown top-level and global
// keys are rejected.
func ParseMonitors(data []byte) (*models.MonitorConfig, error) {
	var cfg models.MonitorConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse monitors: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate monitors: %w", err)
	}
	return &cfg, nil
}

// ProjectIssue is a per-project resolution problem found by Check.
type ProjectIssue struct {
	ProjectID string
	Err       error
}

// Check resolves every enabled project's monitors the way a scan would and
// returns the projects that would fail with a configuration error.
func Check(cfg *models.MonitorConfig) []ProjectIssue {
	var issues []ProjectIssue
	for i := range cfg.Projects {
		p := &cfg.Projects[i]
		if !p.IsEnabled() {
			continue
		}
		if _, err := alerting.Prepare(&cfg.Global, p); err != nil {
			issues = append(issues, ProjectIssue{ProjectID: p.ID, Err: err})
		}
	}
	return issues
}
