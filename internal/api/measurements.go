package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/y0f/primotiming/internal/analytics"
	"github.com/y0f/primotiming/internal/httputil"
	"github.com/y0f/primotiming/internal/storage"
)

const (
	defaultHours        = 24
	defaultMeasurements = 500
	maxMeasurements     = 5000
)

func (h *Handler) ListMeasurements(w http.ResponseWriter, r *http.Request) {
	hours, err := httputil.ParseHours(r, defaultHours)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	now := time.Now().UTC()
	f := storage.MeasurementFilter{
		TargetID: r.URL.Query().Get("target"),
		From:     now.Add(-time.Duration(hours) * time.Hour),
		Limit:    httputil.ParseLimit(r, defaultMeasurements, maxMeasurements),
	}
	rows, err := h.store.ListMeasurements(r.Context(), f)
	if err != nil {
		h.logger.Error("list measurements", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list measurements")
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (h *Handler) GetDiagnostics(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid measurement id")
		return
	}
	payload, err := h.store.GetDiagnostics(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "diagnostics not found")
			return
		}
		h.logger.Error("get diagnostics", "measurement_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get diagnostics")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(payload)
}

func (h *Handler) Summary(w http.ResponseWriter, r *http.Request) {
	hours, err := httputil.ParseHours(r, defaultHours)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	to := time.Now().UTC()
	from := to.Add(-time.Duration(hours) * time.Hour)
	summaries, err := analytics.Compute(r.Context(), h.store, from, to)
	if err != nil {
		h.logger.Error("compute summary", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to compute summary")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"from":    from,
		"to":      to,
		"targets": summaries,
	})
}
