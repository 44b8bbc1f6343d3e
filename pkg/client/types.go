package client

import (
	"fmt"
	"time"
)

// BackendStatus represents the lifecycle state of the supervised backend
type BackendStatus struct {
	State       string     `json:"state"`
	PID         int        `json:"pid,omitempty"`
	Port        int        `json:"port"`
	URL         string     `json:"url"`
	Mode        string     `json:"mode"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	ReadyAt     *time.Time `json:"ready_at,omitempty"`
	ExitCode    *int       `json:"exit_code,omitempty"`
	StdoutLines int        `json:"stdout_lines"`
	StderrLines int        `json:"stderr_lines"`
}

// OutputResponse represents captured lines of one stream
type OutputResponse struct {
	Stream string   `json:"stream"`
	Lines  []string `json:"lines"`
}

// HistoryEvent represents one recorded lifecycle event
type HistoryEvent struct {
	Type       string    `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	PID        int       `json:"pid"`
	State      string    `json:"state"`
	ExitCode   *int      `json:"exit_code,omitempty"`
	Detail     string    `json:"detail,omitempty"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// APIError is returned for any non-200 answer.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (HTTP %d): %s", e.Status, e.Message)
}
