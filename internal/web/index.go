package web

import (
	"net/http"
	"time"

	"github.com/y0f/primotiming/internal/analytics"
	"github.com/y0f/primotiming/internal/httputil"
	"github.com/y0f/primotiming/internal/primo"
	"github.com/y0f/primotiming/internal/storage"
	"github.com/y0f/primotiming/internal/web/views"
)

const (
	defaultHours = 24
	recentRows   = 25
)

func (h *Handler) Index(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	hours, err := httputil.ParseHours(r, defaultHours)
	if err != nil {
		hours = defaultHours
	}
	to := time.Now().UTC()
	from := to.Add(-time.Duration(hours) * time.Hour)

	targets, err := h.store.ListTargets(ctx)
	if err != nil {
		h.logger.Error("web: list targets", "error", err)
		http.Error(w, "failed to load targets", http.StatusInternalServerError)
		return
	}

	rows, err := h.store.ListMeasurements(ctx, storage.MeasurementFilter{From: from, To: to})
	if err != nil {
		h.logger.Error("web: list measurements", "error", err)
		http.Error(w, "failed to load measurements", http.StatusInternalServerError)
		return
	}

	keywordCount, err := h.store.CountKeywords(ctx)
	if err != nil {
		h.logger.Warn("web: count keywords", "error", err)
	}

	h.render(w, r, views.IndexPage(views.IndexParams{
		LayoutParams: h.layout(w, r, "Dashboard"),
		Hours:        hours,
		KeywordCount: keywordCount,
		Targets:      targets,
		Summaries:    analytics.Summarize(rows),
		Recent:       latest(rows, recentRows),
	}))
}

// latest returns the newest n rows, newest first. rows are in ascending
// test order.
func latest(rows []*storage.MeasurementRow, n int) []*storage.MeasurementRow {
	if len(rows) < n {
		n = len(rows)
	}
	out := make([]*storage.MeasurementRow, 0, n)
	for i := len(rows) - 1; i >= len(rows)-n; i-- {
		out = append(out, rows[i])
	}
	return out
}

// Register handles the page's form post and redirects back with a flash.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	raw := r.PostFormValue("url")
	t, err := primo.ParseUIURL(raw, h.cfg.Primo.HostSuffix)
	if err != nil {
		h.logger.Warn("web: rejected registration", "url", raw, "error", err)
		h.setFlash(w, r, "Invalid URL. Please try again.")
		h.redirect(w, r, "/")
		return
	}

	created, err := h.store.UpsertTarget(r.Context(), t)
	if err != nil {
		h.logger.Error("web: upsert target", "target_id", t.ID, "error", err)
		h.setFlash(w, r, "Could not save the target.")
		h.redirect(w, r, "/")
		return
	}
	if created {
		h.logger.Info("target registered", "target_id", t.ID, "domain_prefix", t.DomainPrefix, "scope", t.Scope)
		h.setFlash(w, r, "Success!")
	} else {
		h.setFlash(w, r, "Already registered.")
	}
	h.redirect(w, r, "/")
}
