package models

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Nullable distinguishes an absent configuration key from an explicit null.
// Set is true whenever the key appeared in the document; Value is nil when
// the key was set to null.
type Nullable[T any] struct {
	Set   bool
	Value *T
}

// Of returns a Nullable holding v.
func Of[T any](v T) Nullable[T] {
	return Nullable[T]{Set: true, Value: &v}
}

// Null returns an explicitly null Nullable.
func Null[T any]() Nullable[T] {
	return Nullable[T]{Set: true}
}

// UnmarshalYAML decodes a non-null value. yaml.v3 never calls unmarshalers
// for null nodes, so owners mark explicit nulls via markNullable.
func (n *Nullable[T]) UnmarshalYAML(node *yaml.Node) error {
	var v T
	if err := node.Decode(&v); err != nil {
		return err
	}
	n.Set = true
	n.Value = &v
	return nil
}

// Template is a notification template with {placeholder} tags.
type Template struct {
	Subject string `yaml:"subject" json:"subject"`
	Body    string `yaml:"body,omitempty" json:"body,omitempty"`
}

// Defaults holds the global fallback values for monitor settings.
type Defaults struct {
	Severity Severity `yaml:"severity"`
	// RenotifyMinutes nil means never renotify.
	RenotifyMinutes *int `yaml:"renotify_minutes"`
	RecoverNotify   bool `yaml:"recover_notify"`
	ContextLines    *int `yaml:"context_lines"`
}

// GlobalConfig is the singleton operator configuration shared by all projects.
type GlobalConfig struct {
	// Source is the default log source identifier.
	Source string `yaml:"source"`
	// MetricNamespace tags every detection-count observation.
	MetricNamespace string `yaml:"metric_namespace"`
	// DisableMetrics turns off detection-count observations.
	DisableMetrics bool `yaml:"disable_metrics"`
	// Timezone is the IANA zone used for timestamps in notifications.
	Timezone string `yaml:"timezone"`

	Defaults     Defaults            `yaml:"defaults"`
	Destinations map[Severity]string `yaml:"destinations"`
	Template     *Template           `yaml:"template"`
}

// MonitorConfig is the operator-edited monitor document: the global
// configuration and every project.
type MonitorConfig struct {
	Global   GlobalConfig    `yaml:"global"`
	Projects []ProjectConfig `yaml:"projects"`
}

// Validate checks structural consistency. Field resolution errors (missing
// defaults, malformed templates) are reported per project at scan time.
func (c *MonitorConfig) Validate() error {
	if r := c.Global.Defaults.RenotifyMinutes; r != nil && *r <= 0 {
		return fmt.Errorf("global defaults: renotify_minutes must be positive")
	}
	seen := make(map[string]bool, len(c.Projects))
	for i := range c.Projects {
		p := &c.Projects[i]
		if err := p.Validate(); err != nil {
			return fmt.Errorf("project at index %d: %w", i, err)
		}
		if seen[p.ID] {
			return fmt.Errorf("duplicate project id %q", p.ID)
		}
		seen[p.ID] = true
	}
	return nil
}

// hasKey reports whether a mapping node contains key.
func hasKey(node *yaml.Node, key string) bool {
	if node.Kind != yaml.MappingNode {
		return false
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == key {
			return true
		}
	}
	return false
}

// markNullable flags n as set when key is present in node, covering the
// explicit-null case that UnmarshalYAML never sees.
func markNullable[T any](node *yaml.Node, key string, n *Nullable[T]) {
	if hasKey(node, key) {
		n.Set = true
	}
}
