package history

import (
	"context"
	"time"
)

// EventType defines the kind of wrapper event.
type EventType string

const (
	EventStarted  EventType = "started"
	EventFinished EventType = "finished"
)

// Run is the exported view of one wrapper invocation.
type Run struct {
	ID         string    `json:"id"`
	PID        int       `json:"pid"`
	Name       string    `json:"name"`
	Command    string    `json:"command"`
	ExitCode   int       `json:"exit_code"`
	Outcome    string    `json:"outcome"`
	Stopped    bool      `json:"stopped"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Error      string    `json:"error,omitempty"`
}

// Event is a wrapper event exported to external systems.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Run        Run       `json:"run"`
}

// Sink is a destination for history events.
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// Reader lists finished runs, most recent first. An empty name lists every
// supervised entry.
type Reader interface {
	List(ctx context.Context, name string, limit int) ([]Run, error)
}

// Nop discards every event.
type Nop struct{}

func (Nop) Send(context.Context, Event) error { return nil }
