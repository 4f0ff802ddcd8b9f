package alert

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when an alert ID does not exist.
var ErrNotFound = errors.New("alert not found")

// Filter narrows List results.
type Filter struct {
	Status     Status
	SourceType string
	DriverID   string
	Limit      int
	Offset     int
}

// Store is the persistence contract for alert records. The alert ID is the
// concurrency-control key: Transition and SetSeverity are atomic
// read-modify-writes at the storage layer, and their applied return value is
// the only signal callers may use to decide whether a transition happened.
type Store interface {
	Get(ctx context.Context, id string) (*Alert, bool, error)

	Insert(ctx context.Context, a *Alert) error

	// UpdateMetadata shallow-merges patch into the alert's metadata,
	// patch keys winning, and returns the updated record.
	UpdateMetadata(ctx context.Context, id string, patch map[string]any) (*Alert, error)

	// Transition moves the alert to state `to` with the given reason,
	// appending a history entry and stamping the LastTransition fields,
	// only if the current status is in `expect`. Exactly one of two
	// racing writers observes applied=true.
	Transition(ctx context.Context, id string, expect []Status, to Status, reason string, at time.Time) (applied bool, err error)

	// SetSeverity updates the alert's severity, applied only when it
	// differs from the current value.
	SetSeverity(ctx context.Context, id string, sev Severity) (applied bool, err error)

	// CountInWindow counts alerts in the group whose occurrence time is
	// within [from, to], bounds inclusive.
	CountInWindow(ctx context.Context, key GroupKey, from, to time.Time) (int, error)

	// FindGroup returns every alert matching the group key.
	FindGroup(ctx context.Context, key GroupKey) ([]*Alert, error)

	// FindByStatuses returns up to limit alerts whose status is in the
	// given set, oldest occurrence first.
	FindByStatuses(ctx context.Context, statuses []Status, limit int) ([]*Alert, error)

	List(ctx context.Context, f Filter) ([]*Alert, error)
}
