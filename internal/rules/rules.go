// Package rules loads and serves the alert ruleset: count-in-window
// escalation rules, metadata auto-close rules, and condition-based severity
// classifiers.
package rules

import (
	"fmt"

	"github.com/Ved45ant/Intelligent-Alert-System/internal/alert"
)

// EscalationRule escalates a group of alerts when enough of them occur
// inside the window.
type EscalationRule struct {
	Count         int            `json:"escalate_if_count"`
	WindowMinutes int            `json:"window_mins"`
	EscalateTo    alert.Severity `json:"escalate_to,omitempty"`
}

// Reason is the transition reason recorded when this rule fires.
func (r EscalationRule) Reason() string {
	return fmt.Sprintf("RULE_COUNT_%d_IN_%dMIN", r.Count, r.WindowMinutes)
}

// AutoCloseRule closes an alert when the named metadata field is true.
type AutoCloseRule struct {
	Field string `json:"field"`
}

// Fallback metadata fields checked by every auto-close rule in addition to
// its designated field.
var AutoCloseFallbackFields = []string{"document_valid", "document_renewed"}

// Condition maps a metadata field to either a scalar (equality) or an
// operator object like {"gt": 100}.
type Condition map[string]any

// Classifier labels an advisory severity for matching alerts. It never
// transitions status.
type Classifier struct {
	RuleID      string         `json:"ruleId"`
	Name        string         `json:"name"`
	EventTypes  []string       `json:"eventTypes"`
	Condition   Condition      `json:"condition"`
	Severity    alert.Severity `json:"severity"`
	Description string         `json:"description,omitempty"`
}

// Ruleset is one immutable, validated snapshot of the rule configuration.
// Snapshots are swapped atomically; never mutate one after publishing.
type Ruleset struct {
	Escalation  map[string]EscalationRule
	AutoClose   map[string]AutoCloseRule
	Classifiers []Classifier
}

// Empty returns a ruleset with no rules.
func Empty() *Ruleset {
	return &Ruleset{
		Escalation: map[string]EscalationRule{},
		AutoClose:  map[string]AutoCloseRule{},
	}
}

// EscalationFor looks up the count+window rule for a source type.
func (rs *Ruleset) EscalationFor(sourceType string) (EscalationRule, bool) {
	r, ok := rs.Escalation[sourceType]
	return r, ok
}

// AutoCloseFor looks up the auto-close rule for a source type.
func (rs *Ruleset) AutoCloseFor(sourceType string) (AutoCloseRule, bool) {
	r, ok := rs.AutoClose[sourceType]
	return r, ok
}

// Classify returns the advisory severity of the first classifier (list
// order) whose event types include the alert's source type and whose
// condition matches the alert's metadata. Warnings describe skipped
// conditions (unknown operators); they never abort evaluation.
func (rs *Ruleset) Classify(a *alert.Alert) (sev alert.Severity, matched bool, warnings []string) {
	for _, c := range rs.Classifiers {
		if !containsString(c.EventTypes, a.SourceType) {
			continue
		}
		ok, warns := c.Condition.Matches(a.Metadata)
		warnings = append(warnings, warns...)
		if ok {
			return c.Severity, true, warnings
		}
	}
	return "", false, warnings
}

// Matches evaluates every field condition against the metadata; all must
// hold. A condition with an unknown operator is non-matching.
func (c Condition) Matches(metadata map[string]any) (bool, []string) {
	var warnings []string
	for field, want := range c {
		got, ok := metadata[field]
		if !ok {
			return false, warnings
		}
		switch w := want.(type) {
		case map[string]any:
			for op, operand := range w {
				ok, warn := compare(op, got, operand)
				if warn != "" {
					warnings = append(warnings, warn)
				}
				if !ok {
					return false, warnings
				}
			}
		default:
			if !equal(got, want) {
				return false, warnings
			}
		}
	}
	return true, warnings
}

func compare(op string, got, operand any) (bool, string) {
	switch op {
	case "eq":
		return equal(got, operand), ""
	case "neq":
		return !equal(got, operand), ""
	case "gt", "gte", "lt", "lte":
		a, aok := toFloat(got)
		b, bok := toFloat(operand)
		if !aok || !bok {
			return false, ""
		}
		switch op {
		case "gt":
			return a > b, ""
		case "gte":
			return a >= b, ""
		case "lt":
			return a < b, ""
		default:
			return a <= b, ""
		}
	default:
		return false, fmt.Sprintf("unknown operator %q", op)
	}
}

func equal(got, want any) bool {
	if a, aok := toFloat(got); aok {
		if b, bok := toFloat(want); bok {
			return a == b
		}
	}
	return got == want
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
