package alertapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Ved45ant/Intelligent-Alert-System/internal/alert"
	"github.com/Ved45ant/Intelligent-Alert-System/internal/lifecycle"
)

func (a *API) handleCreateAlert(w http.ResponseWriter, r *http.Request) {
	var req lifecycle.CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid payload"})
		return
	}

	created, decision, err := a.svc.Create(r.Context(), req)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(
		attribute.String("alerts.alert.id", created.ID),
		attribute.String("alerts.alert.status", string(created.Status)),
	)

	a.writeJSON(w, http.StatusCreated, map[string]any{
		"alertId":    created.ID,
		"status":     created.Status,
		"severity":   created.Severity,
		"evaluation": decision,
	})
}

func (a *API) handleGetAlert(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("alerts.alert.id", id))

	al, err := a.svc.Get(r.Context(), id)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, al)
}

func (a *API) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit, err := queryInt(r, "limit", 100)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	f := alert.Filter{
		SourceType: q.Get("sourceType"),
		DriverID:   q.Get("driverId"),
		Limit:      limit,
		Offset:     offset,
	}
	if s := q.Get("status"); s != "" {
		f.Status = alert.Status(s)
	}

	alerts, err := a.svc.List(r.Context(), f)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if alerts == nil {
		alerts = []*alert.Alert{}
	}
	a.writeJSON(w, http.StatusOK, map[string]any{
		"alerts": alerts,
		"count":  len(alerts),
	})
}

func (a *API) handlePatchMetadata(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var body struct {
		Metadata map[string]any `json:"metadata"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		a.writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid payload"})
		return
	}
	if len(body.Metadata) == 0 {
		a.writeJSON(w, http.StatusBadRequest, map[string]any{"error": "missing or empty metadata object"})
		return
	}

	updated, decision, err := a.svc.UpdateMetadata(r.Context(), id, body.Metadata)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]any{
		"alert":      updated,
		"evaluation": decision,
	})
}

func (a *API) handleResolveAlert(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	// body is optional: {"reason": "..."}
	var body struct {
		Reason string `json:"reason"`
	}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			a.writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid payload"})
			return
		}
	}

	resolved, err := a.svc.Resolve(r.Context(), id, body.Reason)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, resolved)
}
