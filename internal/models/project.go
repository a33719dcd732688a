package models

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Keywords is one or more literal keywords, logically OR'd. In YAML it may
// be written as a single string or a list.
type Keywords []string

// UnmarshalYAML accepts a scalar or a sequence of scalars.
func (k *Keywords) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var s string
		if err := node.Decode(&s); err != nil {
			return err
		}
		*k = Keywords{s}
	case yaml.SequenceNode:
		var list []string
		if err := node.Decode(&list); err != nil {
			return err
		}
		*k = list
	default:
		return fmt.Errorf("line %d: keyword must be a string or a list of strings", node.Line)
	}
	return nil
}

// MonitorSpec is a keyword watch embedded in a project.
type MonitorSpec struct {
	Keyword  Keywords `yaml:"keyword"`
	Severity Severity `yaml:"severity,omitempty"`
	// RenotifyMinutes: absent inherits, explicit null never renotifies.
	RenotifyMinutes Nullable[int] `yaml:"renotify_minutes"`
	RecoverNotify   *bool         `yaml:"recover_notify,omitempty"`
	Exclude         []string      `yaml:"exclude,omitempty"`
	Destination     string        `yaml:"destination,omitempty"`
	Template        *Template     `yaml:"template,omitempty"`
	ContextLines    *int          `yaml:"context_lines,omitempty"`
	Mention         string        `yaml:"mention,omitempty"`
}

// UnmarshalYAML decodes the monitor and records explicit nulls.
func (m *MonitorSpec) UnmarshalYAML(node *yaml.Node) error {
	type rawMonitor MonitorSpec
	var raw rawMonitor
	if err := node.Decode(&raw); err != nil {
		return err
	}
	markNullable(node, "renotify_minutes", &raw.RenotifyMinutes)
	*m = MonitorSpec(raw)
	return nil
}

// AlarmKey is the identity of this monitor's alarm state within its project.
func (m *MonitorSpec) AlarmKey() string {
	return strings.Join(m.Keyword, "|")
}

// Validate checks the monitor definition.
func (m *MonitorSpec) Validate() error {
	if len(m.Keyword) == 0 {
		return fmt.Errorf("keyword is required")
	}
	for _, kw := range m.Keyword {
		if kw == "" {
			return fmt.Errorf("keyword must not be empty")
		}
	}
	if m.ContextLines != nil && *m.ContextLines < 0 {
		return fmt.Errorf("context_lines must not be negative for %q", m.AlarmKey())
	}
	if m.RenotifyMinutes.Value != nil && *m.RenotifyMinutes.Value <= 0 {
		return fmt.Errorf("renotify_minutes must be positive for %q", m.AlarmKey())
	}
	return nil
}

// ProjectConfig is one monitored project.
type ProjectConfig struct {
	ID           string              `yaml:"id"`
	DisplayName  string              `yaml:"display_name,omitempty"`
	StreamPrefix string              `yaml:"stream_prefix,omitempty"`
	Source       string              `yaml:"source,omitempty"`
	Enabled      *bool               `yaml:"enabled,omitempty"`
	Exclude      []string            `yaml:"exclude,omitempty"`
	Destinations map[Severity]string `yaml:"destinations,omitempty"`
	Template     *Template           `yaml:"template,omitempty"`

	RenotifyMinutes Nullable[int] `yaml:"renotify_minutes"`
	RecoverNotify   *bool         `yaml:"recover_notify,omitempty"`
	ContextLines    *int          `yaml:"context_lines,omitempty"`
	Mention         string        `yaml:"mention,omitempty"`

	Monitors []MonitorSpec `yaml:"monitors"`

	// LastSearchedAt is the checkpoint. It is owned by the engine and never
	// read from the operator document.
	LastSearchedAt time.Time `yaml:"-"`
}

// UnmarshalYAML decodes the project and records explicit nulls.
func (p *ProjectConfig) UnmarshalYAML(node *yaml.Node) error {
	type rawProject ProjectConfig
	var raw rawProject
	if err := node.Decode(&raw); err != nil {
		return err
	}
	markNullable(node, "renotify_minutes", &raw.RenotifyMinutes)
	*p = ProjectConfig(raw)
	return nil
}

// IsEnabled returns whether the project is enabled. Projects are enabled
// unless explicitly disabled.
func (p *ProjectConfig) IsEnabled() bool {
	if p.Enabled == nil {
		return true
	}
	return *p.Enabled
}

// Name returns the display name, falling back to the ID.
func (p *ProjectConfig) Name() string {
	if p.DisplayName != "" {
		return p.DisplayName
	}
	return p.ID
}

// Validate checks the project definition and its monitors.
func (p *ProjectConfig) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("project id is required")
	}
	if p.RenotifyMinutes.Value != nil && *p.RenotifyMinutes.Value <= 0 {
		return fmt.Errorf("project %q: renotify_minutes must be positive", p.ID)
	}
	for i := range p.Monitors {
		if err := p.Monitors[i].Validate(); err != nil {
			return fmt.Errorf("project %q monitor %d: %w", p.ID, i, err)
		}
	}
	return nil
}
