package alerting

import (
	"errors"
	"fmt"
)

// ConfigurationError reports configuration that cannot be resolved for a
// project (missing global default, malformed template, duplicate alarm key).
// It is fatal to the affected project's cycle and never retried locally.
type ConfigurationError struct {
	ProjectID string
	Field     string
	Reason    string
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("configuration error in project %q: %s", e.ProjectID, e.Reason)
	}
	return fmt.Sprintf("configuration error in project %q (%s): %s", e.ProjectID, e.Field, e.Reason)
}

// CollaboratorError wraps a failed call to the log searcher, the store or
// the publisher. The monitor that hit it is aborted without a state write.
type CollaboratorError struct {
	Op  string
	Err error
}

func (e *CollaboratorError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *CollaboratorError) Unwrap() error {
	return e.Err
}

// RenderError reports a template that could not be rendered. The evaluator
// recovers from it with a minimal default message.
type RenderError struct {
	Placeholder string
	Err         error
}

func (e *RenderError) Error() string {
	if e.Placeholder != "" {
		return fmt.Sprintf("render template: unknown placeholder {%s}", e.Placeholder)
	}
	return fmt.Sprintf("render template: %v", e.Err)
}

func (e *RenderError) Unwrap() error {
	return e.Err
}

// IsConfigurationError reports whether err is or wraps a ConfigurationError.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

func collaboratorErr(op string, err error) error {
	return &CollaboratorError{Op: op, Err: err}
}
