// Package eventlog is the append-only record of alert lifecycle transitions.
// Entries are never mutated or deleted; the log, not the in-process broker,
// is the authoritative history.
package eventlog

import (
	"context"
	"time"
)

// Type classifies an event log entry.
type Type string

const (
	TypeCreated    Type = "CREATED"
	TypeEscalated  Type = "ESCALATED"
	TypeAutoClosed Type = "AUTO_CLOSED"
	TypeResolved   Type = "RESOLVED"
	TypeInfo       Type = "INFO"
)

// Entry is one immutable event log record. AlertID is a weak reference;
// many entries share one alert.
type Entry struct {
	ID        string         `json:"id"`
	AlertID   string         `json:"alertId"`
	Type      Type           `json:"type"`
	Timestamp time.Time      `json:"ts"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// Filter narrows List results.
type Filter struct {
	AlertID string
	Type    Type
	Since   time.Time
	Until   time.Time
	Limit   int
	Offset  int
}

// Store is the persistence contract for the event log. Method names carry
// the Events suffix so one store type can also implement alert.Store.
type Store interface {
	Append(ctx context.Context, e *Entry) error

	// ListEvents returns entries newest first.
	ListEvents(ctx context.Context, f Filter) ([]*Entry, error)

	// Counts returns entry counts per type in [since, until]; zero times
	// leave the corresponding bound open.
	Counts(ctx context.Context, since, until time.Time) (map[Type]int, error)
}
