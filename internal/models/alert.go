package models

import (
	"strings"
	"time"
)

// Severity represents alert severity level.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// ParseSeverity normalizes a configured severity. Unknown values are kept
// verbatim (lower-cased) so operators can route custom severities.
func ParseSeverity(s string) Severity {
	return Severity(strings.ToLower(strings.TrimSpace(s)))
}

// AlarmStatus is the persisted status of a (project, keyword) alarm.
type AlarmStatus string

const (
	StatusOK    AlarmStatus = "OK"
	StatusAlarm AlarmStatus = "ALARM"
)

// AlarmState tracks one alarm between scan cycles. It is created lazily on
// the first detection and only ever written by the engine.
type AlarmState struct {
	ProjectID      string      `json:"project_id"`
	Key            string      `json:"key"`
	Status         AlarmStatus `json:"status"`
	LastDetectedAt time.Time   `json:"last_detected_at"`
	LastNotifiedAt time.Time   `json:"last_notified_at"`
	DetectionCount int64       `json:"detection_count"`
	CurrentStreak  int         `json:"current_streak"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// IsAlarm reports whether the state is currently firing.
func (s *AlarmState) IsAlarm() bool {
	return s != nil && s.Status == StatusAlarm
}

// Clone returns a copy of the state, or nil for a nil receiver.
func (s *AlarmState) Clone() *AlarmState {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}
