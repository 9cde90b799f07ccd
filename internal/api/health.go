package api

import (
	"net/http"
	"time"
)

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status":  "ok",
		"version": h.version,
		"uptime":  time.Since(h.startTime).Round(time.Second).String(),
	}
	if h.status != nil {
		body["cycles"] = h.status.Cycles()
		if last := h.status.LastCycle(); last != nil {
			body["last_cycle"] = last
		}
	}
	if h.hub != nil {
		body["live_subscribers"] = h.hub.Subscribers()
		body["live_dropped"] = h.hub.Dropped()
	}
	writeJSON(w, http.StatusOK, body)
}
