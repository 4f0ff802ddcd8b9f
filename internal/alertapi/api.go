// Package alertapi exposes the alert lifecycle over HTTP.
package alertapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/Ved45ant/Intelligent-Alert-System/internal/alert"
	"github.com/Ved45ant/Intelligent-Alert-System/internal/eventlog"
	"github.com/Ved45ant/Intelligent-Alert-System/internal/lifecycle"
	"github.com/Ved45ant/Intelligent-Alert-System/internal/rules"
)

// AlertService defines the business operations alertapi needs.
type AlertService interface {
	Create(ctx context.Context, req lifecycle.CreateRequest) (*alert.Alert, *lifecycle.Decision, error)
	Get(ctx context.Context, id string) (*alert.Alert, error)
	List(ctx context.Context, f alert.Filter) ([]*alert.Alert, error)
	UpdateMetadata(ctx context.Context, id string, patch map[string]any) (*alert.Alert, *lifecycle.Decision, error)
	Resolve(ctx context.Context, id, reason string) (*alert.Alert, error)
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger log.Logger
	svc    AlertService
	events eventlog.Store
	broker *eventlog.Broker
	loader *rules.Loader
}

// New creates a new API handler. broker and loader are optional; the routes
// depending on them return 404-style errors when absent.
func New(logger log.Logger, svc AlertService, events eventlog.Store, broker *eventlog.Broker, loader *rules.Loader) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if svc == nil {
		panic(xerrors.New("alert service is required"))
	}
	if events == nil {
		panic(xerrors.New("event store is required"))
	}
	return &API{
		logger: logger,
		svc:    svc,
		events: events,
		broker: broker,
		loader: loader,
	}
}

// RegisterRoutes attaches API endpoints to the router. auth guards the
// mutating and admin routes; nil leaves them open.
func (a *API) RegisterRoutes(r chi.Router, auth func(http.Handler) http.Handler) {
	if auth == nil {
		auth = func(next http.Handler) http.Handler { return next }
	}
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/alerts", a.handleListAlerts)
		r.Get("/alerts/{id}", a.handleGetAlert)

		r.Get("/events", a.handleListEvents)
		r.Get("/events/counts", a.handleEventCounts)
		r.Get("/events/stream", a.handleEventStream)

		r.Get("/rules", a.handleGetRules)

		r.Get("/dashboard/summary", a.handleDashboardSummary)
		r.Get("/dashboard/auto-closed", a.handleDashboardAutoClosed)

		r.Group(func(r chi.Router) {
			r.Use(auth)
			r.Post("/alerts", a.handleCreateAlert)
			r.Patch("/alerts/{id}/metadata", a.handlePatchMetadata)
			r.Post("/alerts/{id}/resolve", a.handleResolveAlert)
			r.Post("/rules/reload", a.handleReloadRules)
		})
	})
}

func (a *API) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps service errors onto the API's JSON error shape.
func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var ve *lifecycle.ValidationError
	switch {
	case errors.As(err, &ve):
		a.writeJSON(w, http.StatusBadRequest, map[string]any{
			"error": ve.Error(),
			"field": ve.Field,
		})
	case errors.Is(err, alert.ErrNotFound):
		a.writeJSON(w, http.StatusNotFound, map[string]any{"error": "alert not found"})
	default:
		a.logger.Error(r.Context(), err, "request failed", "path", r.URL.Path)
		a.writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "internal error"})
	}
}

func badRequest(detail string) error {
	return &lifecycle.ValidationError{Field: "request", Detail: detail}
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, badRequest(fmt.Sprintf("invalid %s %q", key, raw))
	}
	return n, nil
}
