package models

import "time"

// NotificationRecord records a notification sent for an alarm transition.
type NotificationRecord struct {
	ID          string    `json:"id"`
	ProjectID   string    `json:"project_id"`
	Key         string    `json:"key"`
	Action      string    `json:"action"`
	Severity    Severity  `json:"severity"`
	Destination string    `json:"destination"`
	Subject     string    `json:"subject"`
	MatchCount  int       `json:"match_count"`
	SentAt      time.Time `json:"sent_at"`
}
