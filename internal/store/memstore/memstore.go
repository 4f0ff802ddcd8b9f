// Package memstore provides an in-memory implementation of alert.Store and
// eventlog.Store. Suitable for dev/testing.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Ved45ant/Intelligent-Alert-System/internal/alert"
	"github.com/Ved45ant/Intelligent-Alert-System/internal/eventlog"
)

// Store holds alerts and event log entries in memory. The single mutex gives
// Transition and SetSeverity the same atomic read-modify-write semantics the
// postgres store gets from conditional updates.
type Store struct {
	mu     sync.RWMutex
	alerts map[string]*alert.Alert
	events []*eventlog.Entry
}

// New initializes an empty Store.
func New() *Store {
	return &Store{alerts: make(map[string]*alert.Alert)}
}

// Get retrieves an alert by ID. Returns a copy.
func (s *Store) Get(_ context.Context, id string) (*alert.Alert, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.alerts[id]
	if !ok {
		return nil, false, nil
	}
	return copyAlert(a), true, nil
}

// Insert stores a copy of the alert.
func (s *Store) Insert(_ context.Context, a *alert.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts[a.ID] = copyAlert(a)
	return nil
}

// UpdateMetadata shallow-merges patch into the alert's metadata.
func (s *Store) UpdateMetadata(_ context.Context, id string, patch map[string]any) (*alert.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.alerts[id]
	if !ok {
		return nil, alert.ErrNotFound
	}
	if a.Metadata == nil {
		a.Metadata = make(map[string]any, len(patch))
	}
	for k, v := range patch {
		a.Metadata[k] = v
	}
	return copyAlert(a), nil
}

// Transition applies the guarded state change under the store lock.
func (s *Store) Transition(_ context.Context, id string, expect []alert.Status, to alert.Status, reason string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.alerts[id]
	if !ok {
		return false, alert.ErrNotFound
	}
	if !statusIn(a.Status, expect) {
		return false, nil
	}
	a.Status = to
	a.History = append(a.History, alert.HistoryEntry{State: to, Timestamp: at, Reason: reason})
	a.LastTransitionAt = at
	a.LastTransitionReason = reason
	return true, nil
}

// SetSeverity updates severity when it differs from the current value.
func (s *Store) SetSeverity(_ context.Context, id string, sev alert.Severity) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.alerts[id]
	if !ok {
		return false, alert.ErrNotFound
	}
	if a.Severity == sev {
		return false, nil
	}
	a.Severity = sev
	return true, nil
}

// CountInWindow counts group members with occurrence time in [from, to].
func (s *Store) CountInWindow(_ context.Context, key alert.GroupKey, from, to time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, a := range s.alerts {
		if !inGroup(a, key) {
			continue
		}
		if a.Timestamp.Before(from) || a.Timestamp.After(to) {
			continue
		}
		n++
	}
	return n, nil
}

// FindGroup returns copies of every alert in the group, oldest first.
func (s *Store) FindGroup(_ context.Context, key alert.GroupKey) ([]*alert.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*alert.Alert
	for _, a := range s.alerts {
		if inGroup(a, key) {
			out = append(out, copyAlert(a))
		}
	}
	sortByTimestamp(out, false)
	return out, nil
}

// FindByStatuses returns up to limit alerts in the status set, oldest first.
func (s *Store) FindByStatuses(_ context.Context, statuses []alert.Status, limit int) ([]*alert.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*alert.Alert
	for _, a := range s.alerts {
		if statusIn(a.Status, statuses) {
			out = append(out, copyAlert(a))
		}
	}
	sortByTimestamp(out, false)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// List returns alerts matching the filter, newest first.
func (s *Store) List(_ context.Context, f alert.Filter) ([]*alert.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*alert.Alert
	for _, a := range s.alerts {
		if f.Status != "" && a.Status != f.Status {
			continue
		}
		if f.SourceType != "" && a.SourceType != f.SourceType {
			continue
		}
		if f.DriverID != "" {
			d, ok := a.DriverID()
			if !ok || d != f.DriverID {
				continue
			}
		}
		out = append(out, copyAlert(a))
	}
	sortByTimestamp(out, true)
	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return nil, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// Append stores a copy of the event log entry.
func (s *Store) Append(_ context.Context, e *eventlog.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *e
	s.events = append(s.events, &cp)
	return nil
}

// ListEvents returns event entries matching the filter, newest first.
func (s *Store) ListEvents(_ context.Context, f eventlog.Filter) ([]*eventlog.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*eventlog.Entry
	for _, e := range s.events {
		if f.AlertID != "" && e.AlertID != f.AlertID {
			continue
		}
		if f.Type != "" && e.Type != f.Type {
			continue
		}
		if !f.Since.IsZero() && e.Timestamp.Before(f.Since) {
			continue
		}
		if !f.Until.IsZero() && e.Timestamp.After(f.Until) {
			continue
		}
		cp := *e
		out = append(out, &cp)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return nil, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// Counts returns event counts per type within [since, until].
func (s *Store) Counts(_ context.Context, since, until time.Time) (map[eventlog.Type]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[eventlog.Type]int)
	for _, e := range s.events {
		if !since.IsZero() && e.Timestamp.Before(since) {
			continue
		}
		if !until.IsZero() && e.Timestamp.After(until) {
			continue
		}
		out[e.Type]++
	}
	return out, nil
}

func copyAlert(a *alert.Alert) *alert.Alert {
	cp := *a
	if a.Metadata != nil {
		cp.Metadata = make(map[string]any, len(a.Metadata))
		for k, v := range a.Metadata {
			cp.Metadata[k] = v
		}
	}
	cp.History = append([]alert.HistoryEntry(nil), a.History...)
	return &cp
}

func statusIn(s alert.Status, set []alert.Status) bool {
	for _, v := range set {
		if s == v {
			return true
		}
	}
	return false
}

func inGroup(a *alert.Alert, key alert.GroupKey) bool {
	if a.SourceType != key.SourceType {
		return false
	}
	if key.DriverID == "" {
		return true
	}
	d, ok := a.DriverID()
	return ok && d == key.DriverID
}

func sortByTimestamp(alerts []*alert.Alert, newestFirst bool) {
	sort.SliceStable(alerts, func(i, j int) bool {
		if newestFirst {
			return alerts[i].Timestamp.After(alerts[j].Timestamp)
		}
		return alerts[i].Timestamp.Before(alerts[j].Timestamp)
	})
}
