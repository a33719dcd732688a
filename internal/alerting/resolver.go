package alerting

import (
	"fmt"

	"github.com/valyala/fasttemplate"

	"github.com/good-yellow-bee/keywatch/internal/models"
)

// DefaultContextLines caps rendered log lines when no tier sets context_lines.
const DefaultContextLines = 20

// Settings are the effective values for one (project, monitor) pair after
// monitor → project → global fallback.
type Settings struct {
	Source          string
	Severity        models.Severity
	RenotifyMinutes *int // nil: never renotify
	RecoverNotify   bool
	Destination     string
	Template        models.Template
	ContextLines    int
	Mention         string
	Exclude         []string
}

type source[T any] func() (T, bool)

// firstSet returns the value of the first source that reports presence.
func firstSet[T any](sources ...source[T]) (T, bool) {
	for _, s := range sources {
		if v, ok := s(); ok {
			return v, true
		}
	}
	var zero T
	return zero, false
}

func ptrSource[T any](p *T) source[T] {
	return func() (T, bool) {
		if p == nil {
			var zero T
			return zero, false
		}
		return *p, true
	}
}

func stringSource[T ~string](v T) source[T] {
	return func() (T, bool) { return v, v != "" }
}

// nullableSource reports presence for explicit nulls too, yielding a nil
// pointer so that a null at a nearer tier overrides a value further out.
func nullableSource[T any](n models.Nullable[T]) source[*T] {
	return func() (*T, bool) { return n.Value, n.Set }
}

func valueSource[T any](v T) source[T] {
	return func() (T, bool) { return v, true }
}

// Resolve computes the effective settings for a monitor. It returns a
// *ConfigurationError when a required field has no value at any tier or a
// template cannot be parsed.
func Resolve(global *models.GlobalConfig, project *models.ProjectConfig, monitor *models.MonitorSpec) (*Settings, error) {
	cfgErr := func(field, format string, args ...any) error {
		return &ConfigurationError{ProjectID: project.ID, Field: field, Reason: fmt.Sprintf(format, args...)}
	}

	s := &Settings{}
	var ok bool

	s.Source, ok = firstSet(stringSource(project.Source), stringSource(global.Source))
	if !ok {
		return nil, cfgErr("source", "no log source configured")
	}

	sev, ok := firstSet(stringSource(monitor.Severity), stringSource(global.Defaults.Severity))
	if !ok {
		return nil, cfgErr("severity", "no severity for keyword %q and no global default", monitor.AlarmKey())
	}
	s.Severity = models.ParseSeverity(string(sev))

	s.RenotifyMinutes, _ = firstSet(
		nullableSource(monitor.RenotifyMinutes),
		nullableSource(project.RenotifyMinutes),
		valueSource(global.Defaults.RenotifyMinutes),
	)

	s.RecoverNotify, _ = firstSet(
		ptrSource(monitor.RecoverNotify),
		ptrSource(project.RecoverNotify),
		valueSource(global.Defaults.RecoverNotify),
	)

	s.Destination, ok = firstSet(
		stringSource(monitor.Destination),
		stringSource(destinationFor(project.Destinations, s.Severity)),
		stringSource(destinationFor(global.Destinations, s.Severity)),
	)
	if !ok {
		return nil, cfgErr("destinations", "no destination for severity %q", s.Severity)
	}

	tmpl, ok := firstSet(ptrSource(monitor.Template), ptrSource(project.Template), ptrSource(global.Template))
	if !ok || tmpl.Subject == "" {
		return nil, cfgErr("template", "no subject template configured")
	}
	if tmpl.Body == "" {
		tmpl.Body = DefaultBodyTemplate
	}
	if err := checkTemplate(tmpl); err != nil {
		return nil, cfgErr("template", "%v", err)
	}
	s.Template = tmpl

	s.ContextLines, _ = firstSet(
		ptrSource(monitor.ContextLines),
		ptrSource(project.ContextLines),
		ptrSource(global.Defaults.ContextLines),
		valueSource(DefaultContextLines),
	)

	s.Mention, _ = firstSet(stringSource(monitor.Mention), stringSource(project.Mention))

	s.Exclude = make([]string, 0, len(project.Exclude)+len(monitor.Exclude))
	s.Exclude = append(s.Exclude, project.Exclude...)
	s.Exclude = append(s.Exclude, monitor.Exclude...)

	return s, nil
}

// destinationFor looks up a destination by severity, tolerating keys that
// differ only in case or surrounding space.
func destinationFor(m map[models.Severity]string, sev models.Severity) string {
	if d, ok := m[sev]; ok {
		return d
	}
	for k, d := range m {
		if models.ParseSeverity(string(k)) == sev {
			return d
		}
	}
	return ""
}

// checkTemplate rejects templates with unbalanced tags.
func checkTemplate(t models.Template) error {
	if _, err := fasttemplate.NewTemplate(t.Subject, tagStart, tagEnd); err != nil {
		return fmt.Errorf("malformed subject: %w", err)
	}
	if _, err := fasttemplate.NewTemplate(t.Body, tagStart, tagEnd); err != nil {
		return fmt.Errorf("malformed body: %w", err)
	}
	return nil
}
