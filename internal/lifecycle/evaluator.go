package lifecycle

import (
	"context"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/Ved45ant/Intelligent-Alert-System/internal/alert"
	"github.com/Ved45ant/Intelligent-Alert-System/internal/eventlog"
	"github.com/Ved45ant/Intelligent-Alert-System/internal/rules"
)

// Action is the outcome of evaluating an alert against the ruleset.
type Action string

const (
	ActionNone      Action = "NONE"
	ActionEscalate  Action = "ESCALATE"
	ActionAutoClose Action = "AUTO_CLOSE"
)

// Decision is the evaluator's verdict for one alert. AdvisorySeverity is the
// classifier's label; it is informational and never drives a transition.
type Decision struct {
	Action           Action         `json:"action"`
	Details          map[string]any `json:"details,omitempty"`
	AdvisorySeverity alert.Severity `json:"advisorySeverity,omitempty"`
}

// Evaluator decides and applies rule-driven transitions. Every applied
// change goes through the store's per-alert CAS; an event is recorded only
// when the CAS reports the write as applied, so racing evaluations converge
// on exactly one event per transition.
type Evaluator struct {
	store   alert.Store
	events  *eventlog.Recorder
	logger  log.Logger
	metrics *Metrics
}

// NewEvaluator creates an Evaluator.
func NewEvaluator(store alert.Store, events *eventlog.Recorder, logger log.Logger, metrics *Metrics) *Evaluator {
	if logger == nil {
		logger = log.Nop()
	}
	return &Evaluator{store: store, events: events, logger: logger, metrics: metrics}
}

// Evaluate runs the ruleset against one alert's current persisted state.
// Terminal alerts always yield NONE. A missing rule for the source type is
// not an error.
func (e *Evaluator) Evaluate(ctx context.Context, a *alert.Alert, rs *rules.Ruleset) (*Decision, error) {
	d := &Decision{Action: ActionNone}

	sev, matched, warnings := rs.Classify(a)
	for _, w := range warnings {
		e.logger.Warn(ctx, "classifier condition skipped", "alert_id", a.ID, "warning", w)
	}
	if matched {
		d.AdvisorySeverity = sev
	}

	if a.Status.Terminal() {
		return d, nil
	}

	// Escalation by count in window. Only an OPEN alert can trigger the
	// group scan; an already-ESCALATED alert re-evaluates to NONE here.
	if rule, ok := rs.EscalationFor(a.SourceType); ok && a.Status == alert.StatusOpen {
		fired, count, err := e.escalate(ctx, a, rule)
		if err != nil {
			return nil, err
		}
		if fired {
			d.Action = ActionEscalate
			d.Details = map[string]any{"count": count, "reason": rule.Reason()}
			e.observeEvaluation(d.Action)
			return d, nil
		}
	}

	// Auto-close on a true metadata flag.
	if rule, ok := rs.AutoCloseFor(a.SourceType); ok {
		if field, ok := autoCloseTriggered(a, rule); ok {
			applied, err := e.transition(ctx, a.ID, alert.StatusAutoClosed, alert.ReasonDocumentRenewed,
				eventlog.TypeAutoClosed, map[string]any{"field": field})
			if err != nil {
				return nil, err
			}
			if applied {
				d.Action = ActionAutoClose
				d.Details = map[string]any{"field": field}
			}
			e.observeEvaluation(d.Action)
			return d, nil
		}
	}

	e.observeEvaluation(d.Action)
	return d, nil
}

// escalate counts the alert's group inside the rule window and, when the
// threshold is met, escalates every non-terminal member. The group scan is
// not one cross-document transaction: members converge to ESCALATED
// individually, each through its own CAS.
func (e *Evaluator) escalate(ctx context.Context, a *alert.Alert, rule rules.EscalationRule) (bool, int, error) {
	window := time.Duration(rule.WindowMinutes) * time.Minute
	from := a.Timestamp.Add(-window)
	key := a.Group()

	count, err := e.store.CountInWindow(ctx, key, from, a.Timestamp)
	if err != nil {
		return false, 0, err
	}
	if count < rule.Count {
		return false, count, nil
	}

	members, err := e.store.FindGroup(ctx, key)
	if err != nil {
		return false, count, err
	}

	reason := rule.Reason()
	for _, m := range members {
		if m.Status.Terminal() {
			continue
		}
		if _, err := e.transition(ctx, m.ID, alert.StatusEscalated, reason,
			eventlog.TypeEscalated, map[string]any{"reason": reason, "triggered_by": a.ID}); err != nil {
			return false, count, err
		}
	}

	// Bump the triggering alert's severity when the rule names a target.
	if rule.EscalateTo != "" {
		applied, err := e.store.SetSeverity(ctx, a.ID, rule.EscalateTo)
		if err != nil {
			return false, count, err
		}
		if applied {
			if _, err := e.events.Record(ctx, a.ID, eventlog.TypeInfo,
				map[string]any{"msg": "severity_bumped", "to": string(rule.EscalateTo)}); err != nil {
				return false, count, err
			}
		}
	}

	return true, count, nil
}

// transition applies one guarded transition and records the event only when
// the CAS applied. A lost race is a normal outcome, not an error.
func (e *Evaluator) transition(ctx context.Context, id string, to alert.Status, reason string, typ eventlog.Type, payload map[string]any) (bool, error) {
	applied, err := e.store.Transition(ctx, id, alert.NonTerminal, to, reason, time.Now().UTC())
	if err != nil {
		return false, err
	}
	if !applied {
		if e.metrics != nil {
			e.metrics.ConflictsTotal.Inc()
		}
		return false, nil
	}
	if e.metrics != nil {
		e.metrics.TransitionsTotal.WithLabelValues(string(to)).Inc()
	}
	if _, err := e.events.Record(ctx, id, typ, payload); err != nil {
		return true, err
	}
	return true, nil
}

func (e *Evaluator) observeEvaluation(a Action) {
	if e.metrics != nil {
		e.metrics.EvaluationsTotal.WithLabelValues(string(a)).Inc()
	}
}

// autoCloseTriggered returns the metadata field that satisfied the rule.
// The designated field and both document fallbacks are accepted.
func autoCloseTriggered(a *alert.Alert, rule rules.AutoCloseRule) (string, bool) {
	if rule.Field != "" && a.MetadataTrue(rule.Field) {
		return rule.Field, true
	}
	for _, f := range rules.AutoCloseFallbackFields {
		if a.MetadataTrue(f) {
			return f, true
		}
	}
	return "", false
}
