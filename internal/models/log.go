// Package models contains the core data structures for keywatch.
package models

import "time"

// LogMatch is a single log line returned by a keyword search.
type LogMatch struct {
	// Timestamp is when the log event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Stream identifies the stream (file, container, log stream) the line came from.
	Stream string `json:"stream"`

	// Line is the full log line.
	Line string `json:"line"`
}

// SearchQuery describes one keyword search over a time window.
type SearchQuery struct {
	// Source is the log source identifier (log group, table partition, ...).
	Source string

	// StreamPrefix restricts the search to streams with this prefix.
	// Empty matches all streams.
	StreamPrefix string

	// Keyword is the literal searched for, case-sensitively.
	Keyword string

	// Start is inclusive, End is exclusive.
	Start time.Time
	End   time.Time
}
