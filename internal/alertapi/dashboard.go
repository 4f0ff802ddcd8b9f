package alertapi

import (
	"net/http"
	"sort"
	"time"

	"github.com/Ved45ant/Intelligent-Alert-System/internal/alert"
)

// summaryScanLimit bounds how many active alerts the summary aggregates.
const summaryScanLimit = 1000

func (a *API) handleDashboardSummary(w http.ResponseWriter, r *http.Request) {
	byStatus := map[alert.Status]int{}
	bySeverity := map[alert.Severity]int{}
	byDriver := map[string]int{}

	for _, st := range alert.NonTerminal {
		alerts, err := a.svc.List(r.Context(), alert.Filter{Status: st, Limit: summaryScanLimit})
		if err != nil {
			a.writeError(w, r, err)
			return
		}
		for _, al := range alerts {
			byStatus[al.Status]++
			bySeverity[al.Severity]++
			if d, ok := al.DriverID(); ok {
				byDriver[d]++
			}
		}
	}

	counts, err := a.events.Counts(r.Context(), time.Now().UTC().Add(-24*time.Hour), time.Time{})
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	a.writeJSON(w, http.StatusOK, map[string]any{
		"active":      byStatus[alert.StatusOpen] + byStatus[alert.StatusEscalated],
		"byStatus":    byStatus,
		"bySeverity":  bySeverity,
		"topDrivers":  topDrivers(byDriver, 5),
		"events24h":   counts,
		"generatedAt": time.Now().UTC(),
	})
}

func (a *API) handleDashboardAutoClosed(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 50)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	alerts, err := a.svc.List(r.Context(), alert.Filter{Status: alert.StatusAutoClosed, Limit: limit})
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

type driverCount struct {
	DriverID string `json:"driverId"`
	Count    int    `json:"count"`
}

// topDrivers returns the n busiest drivers, ties broken by ID for a stable
// order.
func topDrivers(counts map[string]int, n int) []driverCount {
	out := make([]driverCount, 0, len(counts))
	for id, c := range counts {
		out = append(out, driverCount{DriverID: id, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].DriverID < out[j].DriverID
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}
