// Package api serves the JSON surface: target registration, read endpoints
// over targets, keywords and measurements, and the live measurement feed.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/y0f/primotiming/internal/config"
	"github.com/y0f/primotiming/internal/storage"
	"github.com/y0f/primotiming/internal/tracker"
)

// TrackerStatus exposes the loop's progress. It is nil when the server runs
// without a tracker.
type TrackerStatus interface {
	LastCycle() *tracker.CycleReport
	Cycles() int64
}

type Handler struct {
	cfg       *config.Config
	store     storage.Store
	status    TrackerStatus
	hub       *tracker.Hub
	logger    *slog.Logger
	version   string
	startTime time.Time
}

func New(cfg *config.Config, store storage.Store, status TrackerStatus, hub *tracker.Hub,
	logger *slog.Logger, version string) *Handler {
	return &Handler{
		cfg:       cfg,
		store:     store,
		status:    status,
		hub:       hub,
		logger:    logger,
		version:   version,
		startTime: time.Now(),
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func readJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("request body is empty")
		}
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}
