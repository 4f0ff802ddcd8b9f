package alertapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/Ved45ant/Intelligent-Alert-System/internal/eventlog"
)

// streamHeartbeat keeps idle SSE connections alive through proxies.
const streamHeartbeat = 15 * time.Second

func (a *API) handleListEvents(w http.ResponseWriter, r *http.Request) {
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
	since, err := queryTime(r, "since")
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	until, err := queryTime(r, "until")
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	f := eventlog.Filter{
		AlertID: q.Get("alertId"),
		Type:    eventlog.Type(q.Get("type")),
		Since:   since,
		Until:   until,
		Limit:   limit,
		Offset:  offset,
	}

	entries, err := a.events.ListEvents(r.Context(), f)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if entries == nil {
		entries = []*eventlog.Entry{}
	}
	a.writeJSON(w, http.StatusOK, map[string]any{
		"events": entries,
		"count":  len(entries),
	})
}

func (a *API) handleEventCounts(w http.ResponseWriter, r *http.Request) {
	since, err := queryTime(r, "since")
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	until, err := queryTime(r, "until")
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	counts, err := a.events.Counts(r.Context(), since, until)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"counts": counts})
}

// handleEventStream pushes live event log entries over SSE. Delivery is
// best-effort: no replay of entries published before the subscription, and a
// lagging client misses entries rather than backpressuring the publisher.
func (a *API) handleEventStream(w http.ResponseWriter, r *http.Request) {
	if a.broker == nil {
		a.writeJSON(w, http.StatusNotFound, map[string]any{"error": "streaming not enabled"})
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		a.writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "streaming unsupported"})
		return
	}

	ch := a.broker.Subscribe()
	defer a.broker.Unsubscribe(ch)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := time.NewTicker(streamHeartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case e, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(e)
			if err != nil {
				a.logger.Warn(r.Context(), "event stream marshal failed", "event_id", e.ID, "error", err)
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Type, data)
			flusher.Flush()
		case <-heartbeat.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

func queryTime(r *http.Request, key string) (time.Time, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, badRequest(fmt.Sprintf("invalid %s %q (want RFC 3339)", key, raw))
	}
	return t, nil
}
