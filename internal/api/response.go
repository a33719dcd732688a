package api

import (
	"encoding/json"
	"net/http"
)

// Response is a standard API response wrapper.
type Response struct {
	Data  any    `json:"data,omitempty"`
	Error *Error `json:"error,omitempty"`
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := Response{Data: data}
	json.NewEncoder(w).Encode(resp)
}

// JSONError writes a JSON error response.
func JSONError(w http.ResponseWriter, err *Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.Status)

	resp := Response{Error: err}
	json.NewEncoder(w).Encode(resp)
}

// OK writes a 200 OK response.
func OK(w http.ResponseWriter, data any) {
	JSON(w, http.StatusOK, data)
}

// Accepted writes a 202 Accepted response.
func Accepted(w http.ResponseWriter, data any) {
	JSON(w, http.StatusAccepted, data)
}

// NoContent writes a 204 No Content response.
func NoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// PaginatedResponse wraps a list with pagination info.
type PaginatedResponse struct {
	Items  any   `json:"items"`
	Total  int64 `json:"total"`
	Limit  int   `json:"limit"`
	Offset int   `json:"offset"`
}

// MonitorResponse describes one configured monitor and its alarm.
type MonitorResponse struct {
	Key         string              `json:"key"`
	Keywords    []string            `json:"keywords"`
	Severity    string              `json:"severity,omitempty"`
	Destination string              `json:"destination,omitempty"`
	State       *AlarmStateResponse `json:"state,omitempty"`
}

// ProjectResponse summarizes a configured project.
type ProjectResponse struct {
	ID             string            `json:"id"`
	Name           string            `json:"name"`
	Enabled        bool              `json:"enabled"`
	MonitorCount   int               `json:"monitor_count"`
	ActiveAlarms   int               `json:"active_alarms"`
	LastSearchedAt string            `json:"last_searched_at,omitempty"`
	Monitors       []MonitorResponse `json:"monitors,omitempty"`
}

// AlarmStateResponse is the wire form of an alarm state.
type AlarmStateResponse struct {
	ProjectID      string `json:"project_id"`
	Key            string `json:"key"`
	Status         string `json:"status"`
	LastDetectedAt string `json:"last_detected_at,omitempty"`
	LastNotifiedAt string `json:"last_notified_at,omitempty"`
	DetectionCount int64  `json:"detection_count"`
	CurrentStreak  int    `json:"current_streak"`
	UpdatedAt      string `json:"updated_at,omitempty"`
}

// RunResponse summarizes a scan run.
type RunResponse struct {
	ID                string `json:"id"`
	Status            string `json:"status"`
	StartedAt         string `json:"started_at"`
	FinishedAt        string `json:"finished_at,omitempty"`
	ProjectsProcessed int    `json:"projects_processed"`
	ProjectsFailed    int    `json:"projects_failed"`
	ProjectsSkipped   int    `json:"projects_skipped"`
	MonitorsFailed    int    `json:"monitors_failed"`
	Notifications     int    `json:"notifications"`
	Projects          any    `json:"projects"`
}
