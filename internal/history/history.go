// Package history records backend lifecycle events for later inspection.
package history

import (
	"context"
	"time"
)

// EventType defines the kind of lifecycle event.
type EventType string

const (
	EventLaunch       EventType = "launch"
	EventLaunchFailed EventType = "launch_failed"
	EventHealthy      EventType = "healthy"
	EventTimeout      EventType = "timeout"
	EventCrash        EventType = "crash"
	EventStop         EventType = "stop"
)

// Event is one lifecycle event of the backend process.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	PID        int       `json:"pid"`
	State      string    `json:"state"`
	ExitCode   *int      `json:"exit_code,omitempty"`
	Detail     string    `json:"detail,omitempty"`
}

// Sink is a destination for history events.
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// Reader reads back the most recent events, newest first.
type Reader interface {
	Recent(ctx context.Context, n int) ([]Event, error)
}
