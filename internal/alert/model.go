package alert

import "time"

// Status tracks where an alert is in its lifecycle.
type Status string

const (
	// StatusOpen means the alert is active and not yet acted on.
	StatusOpen Status = "OPEN"

	// StatusEscalated means a rule promoted the alert for attention.
	StatusEscalated Status = "ESCALATED"

	// StatusAutoClosed means a rule or expiry closed the alert. Terminal.
	StatusAutoClosed Status = "AUTO_CLOSED"

	// StatusResolved means an operator closed the alert manually. Terminal.
	StatusResolved Status = "RESOLVED"
)

// Terminal reports whether the status permits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusAutoClosed || s == StatusResolved
}

// NonTerminal is the expected-status set for every guarded transition.
var NonTerminal = []Status{StatusOpen, StatusEscalated}

// Severity is the operator-facing importance of an alert.
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

// ValidSeverity reports whether s is one of the known severities.
func ValidSeverity(s Severity) bool {
	return s == SeverityInfo || s == SeverityWarning || s == SeverityCritical
}

// Transition reasons recorded in history and event payloads.
const (
	ReasonManualResolve     = "MANUAL_RESOLVE"
	ReasonDocumentRenewed   = "DOCUMENT_RENEWED"
	ReasonTimeWindowExpired = "TIME_WINDOW_EXPIRED"
)

// HistoryEntry is one step of an alert's lifecycle, embedded in the record.
type HistoryEntry struct {
	State     Status    `json:"state"`
	Timestamp time.Time `json:"ts"`
	Reason    string    `json:"reason,omitempty"`
}

// Alert is a tracked record of a detected driver/vehicle condition.
// Timestamp is the immutable occurrence time; lifecycle changes are
// reflected in Status, History and the LastTransition fields.
type Alert struct {
	ID                   string         `json:"alertId"`
	SourceType           string         `json:"sourceType"`
	Severity             Severity       `json:"severity"`
	Status               Status         `json:"status"`
	Timestamp            time.Time      `json:"timestamp"`
	Metadata             map[string]any `json:"metadata"`
	History              []HistoryEntry `json:"history"`
	LastTransitionAt     time.Time      `json:"lastTransitionAt,omitempty"`
	LastTransitionReason string         `json:"lastTransitionReason,omitempty"`
}

// DriverID returns the driver the alert is attributed to, if any.
func (a *Alert) DriverID() (string, bool) {
	v, ok := a.Metadata["driverId"]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

// GroupKey identifies the set of alerts a count-in-window rule scans:
// same sourceType, and same driver when the alert carries one.
type GroupKey struct {
	SourceType string
	DriverID   string // empty = group by sourceType alone
}

// Group returns the alert's escalation grouping key.
func (a *Alert) Group() GroupKey {
	k := GroupKey{SourceType: a.SourceType}
	if d, ok := a.DriverID(); ok {
		k.DriverID = d
	}
	return k
}

// MetadataTrue reports whether the metadata field is the boolean true.
// Auto-close rules only ever test for truth, never presence.
func (a *Alert) MetadataTrue(field string) bool {
	v, ok := a.Metadata[field]
	if !ok {
		return false
	}
	b, ok := v.(bool)
	return ok && b
}
