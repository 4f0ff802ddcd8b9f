package alertapi

import "net/http"

func (a *API) handleGetRules(w http.ResponseWriter, r *http.Request) {
	if a.loader == nil {
		a.writeJSON(w, http.StatusNotFound, map[string]any{"error": "rules not configured"})
		return
	}
	rs := a.loader.Current(r.Context())
	a.writeJSON(w, http.StatusOK, map[string]any{
		"escalation":  rs.Escalation,
		"auto_close":  rs.AutoClose,
		"classifiers": rs.Classifiers,
	})
}

func (a *API) handleReloadRules(w http.ResponseWriter, r *http.Request) {
	if a.loader == nil {
		a.writeJSON(w, http.StatusNotFound, map[string]any{"error": "rules not configured"})
		return
	}
	if err := a.loader.Reload(r.Context()); err != nil {
		// the previous snapshot stays in effect
		a.logger.Error(r.Context(), err, "manual rules reload failed")
		a.writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":    "reload failed, previous ruleset retained",
			"reloaded": false,
		})
		return
	}
	rs := a.loader.Current(r.Context())
	a.writeJSON(w, http.StatusOK, map[string]any{
		"reloaded":         true,
		"escalation_rules": len(rs.Escalation),
		"auto_close_rules": len(rs.AutoClose),
		"classifiers":      len(rs.Classifiers),
	})
}
