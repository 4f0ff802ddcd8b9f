package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/oklog/ulid/v2"

	"github.com/Ved45ant/Intelligent-Alert-System/internal/alert"
	"github.com/Ved45ant/Intelligent-Alert-System/internal/eventlog"
	"github.com/Ved45ant/Intelligent-Alert-System/internal/rules"
)

// DefaultStoreTimeout bounds every store round-trip made by the service.
const DefaultStoreTimeout = 5 * time.Second

// ValidationError rejects a malformed request before anything is persisted.
type ValidationError struct {
	Field  string
	Detail string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Detail)
}

// CreateRequest is the ingestion payload.
type CreateRequest struct {
	AlertID    string         `json:"alertId,omitempty"`
	SourceType string         `json:"sourceType"`
	Severity   alert.Severity `json:"severity,omitempty"`
	Timestamp  time.Time      `json:"timestamp,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Service is the business boundary for alert lifecycle operations. All
// mutations flow through the store's per-alert CAS; independent call paths
// (ingestion, patches, resolves, the sweeper) share it without any global
// lock.
type Service struct {
	store        alert.Store
	events       *eventlog.Recorder
	loader       *rules.Loader
	eval         *Evaluator
	logger       log.Logger
	metrics      *Metrics
	storeTimeout time.Duration
}

// NewService creates the lifecycle service. metrics may be nil.
func NewService(store alert.Store, events *eventlog.Recorder, loader *rules.Loader, eval *Evaluator, logger log.Logger, metrics *Metrics, storeTimeout time.Duration) *Service {
	if logger == nil {
		logger = log.Nop()
	}
	if storeTimeout <= 0 {
		storeTimeout = DefaultStoreTimeout
	}
	return &Service{
		store:        store,
		events:       events,
		loader:       loader,
		eval:         eval,
		logger:       logger,
		metrics:      metrics,
		storeTimeout: storeTimeout,
	}
}

// Create validates and persists a new OPEN alert, records CREATED, and runs
// rule evaluation synchronously so creation itself can escalate or
// auto-close. The returned alert is re-read after evaluation.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*alert.Alert, *Decision, error) {
	if req.SourceType == "" {
		return nil, nil, &ValidationError{Field: "sourceType", Detail: "required"}
	}
	sev := req.Severity
	if sev == "" {
		sev = alert.SeverityWarning
	}
	if !alert.ValidSeverity(sev) {
		return nil, nil, &ValidationError{Field: "severity", Detail: fmt.Sprintf("unknown value %q", sev)}
	}

	now := time.Now().UTC()
	ts := req.Timestamp
	if ts.IsZero() {
		ts = now
	}
	id := req.AlertID
	if id == "" {
		id = ulid.Make().String()
	}
	metadata := req.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}

	a := &alert.Alert{
		ID:         id,
		SourceType: req.SourceType,
		Severity:   sev,
		Status:     alert.StatusOpen,
		Timestamp:  ts,
		Metadata:   metadata,
		History:    []alert.HistoryEntry{{State: alert.StatusOpen, Timestamp: now}},
	}

	ctx, cancel := s.bound(ctx)
	defer cancel()

	if err := s.store.Insert(ctx, a); err != nil {
		return nil, nil, fmt.Errorf("insert alert: %w", err)
	}
	if s.metrics != nil {
		s.metrics.AlertsCreatedTotal.Inc()
	}
	if _, err := s.events.Record(ctx, a.ID, eventlog.TypeCreated, map[string]any{"metadata": metadata}); err != nil {
		return nil, nil, fmt.Errorf("record created event: %w", err)
	}

	decision, err := s.eval.Evaluate(ctx, a, s.loader.Current(ctx))
	if err != nil {
		return nil, nil, fmt.Errorf("evaluate new alert: %w", err)
	}

	fresh, err := s.mustGet(ctx, a.ID)
	if err != nil {
		return nil, nil, err
	}
	return fresh, decision, nil
}

// UpdateMetadata shallow-merges patch into the alert's metadata (patch keys
// win) and re-runs evaluation, so a renewed document can auto-close the
// alert in the same call.
func (s *Service) UpdateMetadata(ctx context.Context, id string, patch map[string]any) (*alert.Alert, *Decision, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	updated, err := s.store.UpdateMetadata(ctx, id, patch)
	if err != nil {
		return nil, nil, err
	}

	decision, err := s.eval.Evaluate(ctx, updated, s.loader.Current(ctx))
	if err != nil {
		return nil, nil, fmt.Errorf("evaluate after metadata update: %w", err)
	}

	fresh, err := s.mustGet(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return fresh, decision, nil
}

// Resolve manually transitions a non-terminal alert to RESOLVED, pre-empting
// any pending automatic rules. Resolving an already-terminal alert is a
// no-op, not an error.
func (s *Service) Resolve(ctx context.Context, id, reason string) (*alert.Alert, error) {
	if reason == "" {
		reason = alert.ReasonManualResolve
	}

	ctx, cancel := s.bound(ctx)
	defer cancel()

	applied, err := s.store.Transition(ctx, id, alert.NonTerminal, alert.StatusResolved, reason, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	if applied {
		if _, err := s.events.Record(ctx, id, eventlog.TypeResolved, map[string]any{"reason": reason}); err != nil {
			return nil, fmt.Errorf("record resolved event: %w", err)
		}
	}
	return s.mustGet(ctx, id)
}

// Evaluate re-reads the alert and runs rule evaluation. It is re-entrant and
// safe to call concurrently with any other path; results apply through the
// same CAS discipline.
func (s *Service) Evaluate(ctx context.Context, id string) (*alert.Alert, *Decision, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	a, err := s.mustGet(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	decision, err := s.eval.Evaluate(ctx, a, s.loader.Current(ctx))
	if err != nil {
		return nil, nil, fmt.Errorf("evaluate alert: %w", err)
	}

	fresh, err := s.mustGet(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return fresh, decision, nil
}

// Expire age-closes an alert with reason TIME_WINDOW_EXPIRED. The CAS
// guarantees at most one AUTO_CLOSED event even with overlapping sweeps.
func (s *Service) Expire(ctx context.Context, id string) (bool, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	applied, err := s.eval.transition(ctx, id, alert.StatusAutoClosed, alert.ReasonTimeWindowExpired,
		eventlog.TypeAutoClosed, map[string]any{"reason": alert.ReasonTimeWindowExpired})
	if err != nil {
		return false, err
	}
	return applied, nil
}

// Get retrieves one alert.
func (s *Service) Get(ctx context.Context, id string) (*alert.Alert, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.mustGet(ctx, id)
}

// List returns alerts matching the filter.
func (s *Service) List(ctx context.Context, f alert.Filter) ([]*alert.Alert, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.store.List(ctx, f)
}

// Pending returns up to limit non-terminal alerts, oldest first.
func (s *Service) Pending(ctx context.Context, limit int) ([]*alert.Alert, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.store.FindByStatuses(ctx, alert.NonTerminal, limit)
}

func (s *Service) mustGet(ctx context.Context, id string) (*alert.Alert, error) {
	a, ok, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, alert.ErrNotFound
	}
	return a, nil
}

func (s *Service) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.storeTimeout)
}
