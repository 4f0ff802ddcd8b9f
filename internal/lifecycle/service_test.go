package lifecycle

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Ved45ant/Intelligent-Alert-System/internal/alert"
	"github.com/Ved45ant/Intelligent-Alert-System/internal/eventlog"
	"github.com/Ved45ant/Intelligent-Alert-System/internal/rules"
	"github.com/Ved45ant/Intelligent-Alert-System/internal/store/memstore"
)

const testRules = `{
	"SPEEDING": {"escalate_if_count": 3, "window_mins": 60, "escalate_to": "CRITICAL"},
	"DOC_EXPIRY": {"auto_close_if": "document_valid"}
}`

func newTestService(t *testing.T, rulesJSON string) (*Service, *memstore.Store) {
	t.Helper()

	store := memstore.New()
	recorder := eventlog.NewRecorder(store, eventlog.NewBroker(), nil)

	path := filepath.Join(t.TempDir(), "rules.json")
	if err := os.WriteFile(path, []byte(rulesJSON), 0o644); err != nil {
		t.Fatalf("write rules: %v", err)
	}
	loader := rules.NewLoader(path, nil)
	if err := loader.Load(context.Background()); err != nil {
		t.Fatalf("load rules: %v", err)
	}

	eval := NewEvaluator(store, recorder, nil, nil)
	return NewService(store, recorder, loader, eval, nil, nil, 0), store
}

func eventsOf(t *testing.T, store *memstore.Store, alertID string, typ eventlog.Type) []*eventlog.Entry {
	t.Helper()
	entries, err := store.ListEvents(context.Background(), eventlog.Filter{AlertID: alertID, Type: typ})
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	return entries
}

func TestCreate_Defaults(t *testing.T) {
	t.Parallel()

	svc, store := newTestService(t, testRules)
	ctx := context.Background()

	a, decision, err := svc.Create(ctx, CreateRequest{SourceType: "HARSH_BRAKING"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if a.ID == "" {
		t.Error("Create did not assign an ID")
	}
	if a.Severity != alert.SeverityWarning {
		t.Errorf("severity = %q, want default WARNING", a.Severity)
	}
	if a.Status != alert.StatusOpen {
		t.Errorf("status = %q, want OPEN", a.Status)
	}
	if a.Timestamp.IsZero() {
		t.Error("Create did not default the timestamp")
	}
	if len(a.History) != 1 || a.History[0].State != alert.StatusOpen {
		t.Errorf("history = %+v, want single OPEN entry", a.History)
	}
	if decision.Action != ActionNone {
		t.Errorf("decision = %q, want NONE with no matching rule", decision.Action)
	}

	if got := eventsOf(t, store, a.ID, eventlog.TypeCreated); len(got) != 1 {
		t.Errorf("CREATED events = %d, want 1", len(got))
	}
}

func TestCreate_Validation(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t, testRules)
	ctx := context.Background()

	_, _, err := svc.Create(ctx, CreateRequest{})
	var ve *ValidationError
	if !errors.As(err, &ve) || ve.Field != "sourceType" {
		t.Errorf("missing sourceType: err = %v, want ValidationError{sourceType}", err)
	}

	_, _, err = svc.Create(ctx, CreateRequest{SourceType: "SPEEDING", Severity: "SEVERE"})
	if !errors.As(err, &ve) || ve.Field != "severity" {
		t.Errorf("bad severity: err = %v, want ValidationError{severity}", err)
	}
}

// Three speeding alerts for one driver inside the window: the third crosses
// the threshold and the whole group escalates, including the earlier two.
func TestEscalation_Retroactive(t *testing.T) {
	t.Parallel()

	svc, store := newTestService(t, testRules)
	ctx := context.Background()
	base := time.Now().UTC().Add(-10 * time.Minute)
	meta := map[string]any{"driverId": "drv-1"}

	a1, d1, err := svc.Create(ctx, CreateRequest{SourceType: "SPEEDING", Timestamp: base, Metadata: meta})
	if err != nil {
		t.Fatalf("Create a1: %v", err)
	}
	if d1.Action != ActionNone {
		t.Fatalf("first alert decision = %q, want NONE", d1.Action)
	}

	a2, _, err := svc.Create(ctx, CreateRequest{SourceType: "SPEEDING", Timestamp: base.Add(time.Minute), Metadata: meta})
	if err != nil {
		t.Fatalf("Create a2: %v", err)
	}

	a3, d3, err := svc.Create(ctx, CreateRequest{SourceType: "SPEEDING", Timestamp: base.Add(2 * time.Minute), Metadata: meta})
	if err != nil {
		t.Fatalf("Create a3: %v", err)
	}
	if d3.Action != ActionEscalate {
		t.Fatalf("third alert decision = %q, want ESCALATE", d3.Action)
	}
	if d3.Details["reason"] != "RULE_COUNT_3_IN_60MIN" {
		t.Errorf("decision reason = %v", d3.Details["reason"])
	}

	for _, id := range []string{a1.ID, a2.ID, a3.ID} {
		got, err := svc.Get(ctx, id)
		if err != nil {
			t.Fatalf("Get %s: %v", id, err)
		}
		if got.Status != alert.StatusEscalated {
			t.Errorf("alert %s status = %q, want ESCALATED", id, got.Status)
		}
		if got.LastTransitionReason != "RULE_COUNT_3_IN_60MIN" {
			t.Errorf("alert %s reason = %q", id, got.LastTransitionReason)
		}
		if evs := eventsOf(t, store, id, eventlog.TypeEscalated); len(evs) != 1 {
			t.Errorf("alert %s ESCALATED events = %d, want 1", id, len(evs))
		}
	}

	// severity bump on the triggering alert only
	got3, _ := svc.Get(ctx, a3.ID)
	if got3.Severity != alert.SeverityCritical {
		t.Errorf("triggering alert severity = %q, want CRITICAL", got3.Severity)
	}
	got1, _ := svc.Get(ctx, a1.ID)
	if got1.Severity != alert.SeverityWarning {
		t.Errorf("group member severity = %q, want unchanged WARNING", got1.Severity)
	}
	if evs := eventsOf(t, store, a3.ID, eventlog.TypeInfo); len(evs) != 1 {
		t.Errorf("severity bump INFO events = %d, want 1", len(evs))
	}
}

func TestEscalation_OutsideWindowDoesNotFire(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t, testRules)
	ctx := context.Background()
	meta := map[string]any{"driverId": "drv-1"}
	now := time.Now().UTC()

	// two old alerts outside the 60 minute window of the third
	svc.Create(ctx, CreateRequest{SourceType: "SPEEDING", Timestamp: now.Add(-3 * time.Hour), Metadata: meta})
	svc.Create(ctx, CreateRequest{SourceType: "SPEEDING", Timestamp: now.Add(-2 * time.Hour), Metadata: meta})

	a3, d3, err := svc.Create(ctx, CreateRequest{SourceType: "SPEEDING", Timestamp: now, Metadata: meta})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if d3.Action != ActionNone {
		t.Errorf("decision = %q, want NONE outside window", d3.Action)
	}
	if a3.Status != alert.StatusOpen {
		t.Errorf("status = %q, want OPEN", a3.Status)
	}
}

// A renewed document auto-closes the alert on the same metadata patch, with
// exactly one AUTO_CLOSED event.
func TestAutoClose_OnMetadataPatch(t *testing.T) {
	t.Parallel()

	svc, store := newTestService(t, testRules)
	ctx := context.Background()

	a, _, err := svc.Create(ctx, CreateRequest{SourceType: "DOC_EXPIRY", Metadata: map[string]any{"docType": "license"}})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if a.Status != alert.StatusOpen {
		t.Fatalf("status after create = %q", a.Status)
	}

	updated, decision, err := svc.UpdateMetadata(ctx, a.ID, map[string]any{"document_valid": true})
	if err != nil {
		t.Fatalf("UpdateMetadata: %v", err)
	}
	if decision.Action != ActionAutoClose {
		t.Errorf("decision = %q, want AUTO_CLOSE", decision.Action)
	}
	if updated.Status != alert.StatusAutoClosed {
		t.Errorf("status = %q, want AUTO_CLOSED", updated.Status)
	}
	if updated.LastTransitionReason != alert.ReasonDocumentRenewed {
		t.Errorf("reason = %q, want DOCUMENT_RENEWED", updated.LastTransitionReason)
	}
	if evs := eventsOf(t, store, a.ID, eventlog.TypeAutoClosed); len(evs) != 1 {
		t.Errorf("AUTO_CLOSED events = %d, want exactly 1", len(evs))
	}

	// patching again must not close again or emit anything
	again, d2, err := svc.UpdateMetadata(ctx, a.ID, map[string]any{"document_valid": true})
	if err != nil {
		t.Fatalf("UpdateMetadata repeat: %v", err)
	}
	if d2.Action != ActionNone {
		t.Errorf("repeat decision = %q, want NONE", d2.Action)
	}
	if again.Status != alert.StatusAutoClosed {
		t.Errorf("repeat status = %q", again.Status)
	}
	if evs := eventsOf(t, store, a.ID, eventlog.TypeAutoClosed); len(evs) != 1 {
		t.Errorf("AUTO_CLOSED events after repeat = %d, want still 1", len(evs))
	}
}

func TestAutoClose_FallbackField(t *testing.T) {
	t.Parallel()

	// the rule names document_valid, but document_renewed also closes
	svc, _ := newTestService(t, testRules)
	ctx := context.Background()

	a, _, _ := svc.Create(ctx, CreateRequest{SourceType: "DOC_EXPIRY", Metadata: nil})
	updated, decision, err := svc.UpdateMetadata(ctx, a.ID, map[string]any{"document_renewed": true})
	if err != nil {
		t.Fatalf("UpdateMetadata: %v", err)
	}
	if decision.Action != ActionAutoClose || updated.Status != alert.StatusAutoClosed {
		t.Errorf("fallback field did not auto-close: action=%q status=%q", decision.Action, updated.Status)
	}
}

func TestAutoClose_RequiresRule(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t, testRules)
	ctx := context.Background()

	// no auto-close rule for HARSH_BRAKING: a true document flag is ignored
	a, _, _ := svc.Create(ctx, CreateRequest{SourceType: "HARSH_BRAKING"})
	updated, decision, err := svc.UpdateMetadata(ctx, a.ID, map[string]any{"document_valid": true})
	if err != nil {
		t.Fatalf("UpdateMetadata: %v", err)
	}
	if decision.Action != ActionNone || updated.Status != alert.StatusOpen {
		t.Errorf("auto-close without a rule: action=%q status=%q", decision.Action, updated.Status)
	}
}

func TestResolve(t *testing.T) {
	t.Parallel()

	svc, store := newTestService(t, testRules)
	ctx := context.Background()

	a, _, _ := svc.Create(ctx, CreateRequest{SourceType: "SPEEDING"})
	resolved, err := svc.Resolve(ctx, a.ID, "")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if resolved.Status != alert.StatusResolved {
		t.Errorf("status = %q, want RESOLVED", resolved.Status)
	}
	if resolved.LastTransitionReason != alert.ReasonManualResolve {
		t.Errorf("reason = %q, want MANUAL_RESOLVE default", resolved.LastTransitionReason)
	}
	if evs := eventsOf(t, store, a.ID, eventlog.TypeResolved); len(evs) != 1 {
		t.Errorf("RESOLVED events = %d, want 1", len(evs))
	}

	// resolving again is a no-op, not an error, and emits nothing
	again, err := svc.Resolve(ctx, a.ID, "operator changed mind")
	if err != nil {
		t.Fatalf("Resolve repeat: %v", err)
	}
	if again.Status != alert.StatusResolved || again.LastTransitionReason != alert.ReasonManualResolve {
		t.Errorf("repeat resolve mutated the alert: %+v", again)
	}
	if evs := eventsOf(t, store, a.ID, eventlog.TypeResolved); len(evs) != 1 {
		t.Errorf("RESOLVED events after repeat = %d, want still 1", len(evs))
	}
}

func TestResolve_PreemptsAutoClose(t *testing.T) {
	t.Parallel()

	svc, store := newTestService(t, testRules)
	ctx := context.Background()

	a, _, _ := svc.Create(ctx, CreateRequest{SourceType: "DOC_EXPIRY"})
	if _, err := svc.Resolve(ctx, a.ID, "handled by phone"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	// the renewal arrives late; the resolved alert must stay RESOLVED
	updated, decision, err := svc.UpdateMetadata(ctx, a.ID, map[string]any{"document_valid": true})
	if err != nil {
		t.Fatalf("UpdateMetadata: %v", err)
	}
	if decision.Action != ActionNone {
		t.Errorf("decision on resolved alert = %q, want NONE", decision.Action)
	}
	if updated.Status != alert.StatusResolved {
		t.Errorf("status = %q, want RESOLVED", updated.Status)
	}
	if evs := eventsOf(t, store, a.ID, eventlog.TypeAutoClosed); len(evs) != 0 {
		t.Errorf("AUTO_CLOSED events = %d, want 0", len(evs))
	}
}

func TestExpire_Idempotent(t *testing.T) {
	t.Parallel()

	svc, store := newTestService(t, testRules)
	ctx := context.Background()

	a, _, _ := svc.Create(ctx, CreateRequest{SourceType: "SPEEDING"})

	applied, err := svc.Expire(ctx, a.ID)
	if err != nil {
		t.Fatalf("Expire: %v", err)
	}
	if !applied {
		t.Fatal("first Expire did not apply")
	}

	got, _ := svc.Get(ctx, a.ID)
	if got.Status != alert.StatusAutoClosed || got.LastTransitionReason != alert.ReasonTimeWindowExpired {
		t.Errorf("expired alert = status %q reason %q", got.Status, got.LastTransitionReason)
	}

	applied, err = svc.Expire(ctx, a.ID)
	if err != nil {
		t.Fatalf("Expire repeat: %v", err)
	}
	if applied {
		t.Error("second Expire applied; expected CAS refusal")
	}
	if evs := eventsOf(t, store, a.ID, eventlog.TypeAutoClosed); len(evs) != 1 {
		t.Errorf("AUTO_CLOSED events = %d, want exactly 1", len(evs))
	}
}

func TestEvaluate_TerminalIsNone(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t, testRules)
	ctx := context.Background()

	a, _, _ := svc.Create(ctx, CreateRequest{SourceType: "SPEEDING"})
	svc.Resolve(ctx, a.ID, "")

	_, decision, err := svc.Evaluate(ctx, a.ID)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if decision.Action != ActionNone {
		t.Errorf("decision on terminal alert = %q, want NONE", decision.Action)
	}
}

func TestUnknownID(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t, testRules)
	ctx := context.Background()

	if _, err := svc.Get(ctx, "nope"); !errors.Is(err, alert.ErrNotFound) {
		t.Errorf("Get unknown = %v, want ErrNotFound", err)
	}
	if _, err := svc.Resolve(ctx, "nope", ""); !errors.Is(err, alert.ErrNotFound) {
		t.Errorf("Resolve unknown = %v, want ErrNotFound", err)
	}
	if _, _, err := svc.Evaluate(ctx, "nope"); !errors.Is(err, alert.ErrNotFound) {
		t.Errorf("Evaluate unknown = %v, want ErrNotFound", err)
	}
	if _, _, err := svc.UpdateMetadata(ctx, "nope", map[string]any{"x": 1}); !errors.Is(err, alert.ErrNotFound) {
		t.Errorf("UpdateMetadata unknown = %v, want ErrNotFound", err)
	}
	if _, err := svc.Expire(ctx, "nope"); !errors.Is(err, alert.ErrNotFound) {
		t.Errorf("Expire unknown = %v, want ErrNotFound", err)
	}
}

func TestClassifier_AdvisoryOnly(t *testing.T) {
	t.Parallel()

	const classifierRules = `{
		"rules": [
			{"ruleId": "r1", "name": "overspeed", "eventTypes": ["SPEEDING"], "condition": {"speed": {"gt": 120}}, "severity": "CRITICAL"}
		]
	}`
	svc, _ := newTestService(t, classifierRules)
	ctx := context.Background()

	a, decision, err := svc.Create(ctx, CreateRequest{SourceType: "SPEEDING", Metadata: map[string]any{"speed": float64(140)}})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if decision.AdvisorySeverity != alert.SeverityCritical {
		t.Errorf("advisory severity = %q, want CRITICAL", decision.AdvisorySeverity)
	}
	// advisory never drives transitions or the stored severity
	if decision.Action != ActionNone {
		t.Errorf("action = %q, want NONE", decision.Action)
	}
	if a.Status != alert.StatusOpen || a.Severity != alert.SeverityWarning {
		t.Errorf("alert = status %q severity %q, want OPEN/WARNING", a.Status, a.Severity)
	}
}

// An already-escalated group member re-evaluates to NONE: the group scan
// runs only for OPEN alerts.
func TestEvaluate_EscalatedIsStable(t *testing.T) {
	t.Parallel()

	svc, store := newTestService(t, testRules)
	ctx := context.Background()
	base := time.Now().UTC().Add(-5 * time.Minute)
	meta := map[string]any{"driverId": "drv-9"}

	var last *alert.Alert
	for i := 0; i < 3; i++ {
		a, _, err := svc.Create(ctx, CreateRequest{SourceType: "SPEEDING", Timestamp: base.Add(time.Duration(i) * time.Minute), Metadata: meta})
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		last = a
	}

	_, decision, err := svc.Evaluate(ctx, last.ID)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if decision.Action != ActionNone {
		t.Errorf("re-evaluation decision = %q, want NONE", decision.Action)
	}
	if evs := eventsOf(t, store, last.ID, eventlog.TypeEscalated); len(evs) != 1 {
		t.Errorf("ESCALATED events = %d, want still 1", len(evs))
	}
}
