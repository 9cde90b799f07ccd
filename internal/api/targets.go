package api

import (
	"mime"
	"net/http"

	"github.com/y0f/primotiming/internal/primo"
)

const (
	msgRegistered = "Success!"
	msgInvalidURL = "Invalid URL. Please try again."
)

type registerRequest struct {
	URL string `json:"url"`
}

// RegisterURL accepts a Primo VE search page URL, either as a form field or
// as a JSON body, and stores the target it identifies.
func (h *Handler) RegisterURL(w http.ResponseWriter, r *http.Request) {
	raw, err := registrationURL(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	t, err := primo.ParseUIURL(raw, h.cfg.Primo.HostSuffix)
	if err != nil {
		h.logger.Warn("rejected registration", "url", raw, "error", err)
		writeError(w, http.StatusBadRequest, msgInvalidURL)
		return
	}

	created, err := h.store.UpsertTarget(r.Context(), t)
	if err != nil {
		h.logger.Error("upsert target", "target_id", t.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to store target")
		return
	}
	if created {
		h.logger.Info("target registered", "target_id", t.ID, "domain_prefix", t.DomainPrefix, "scope", t.Scope)
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, map[string]any{
		"message": msgRegistered,
		"created": created,
		"target":  t,
	})
}

func registrationURL(r *http.Request) (string, error) {
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct == "application/json" {
		var req registerRequest
		if err := readJSON(r, &req); err != nil {
			return "", err
		}
		return req.URL, nil
	}
	if err := r.ParseForm(); err != nil {
		return "", err
	}
	return r.PostFormValue("url"), nil
}

func (h *Handler) ListTargets(w http.ResponseWriter, r *http.Request) {
	targets, err := h.store.ListTargets(r.Context())
	if err != nil {
		h.logger.Error("list targets", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list targets")
		return
	}
	writeJSON(w, http.StatusOK, targets)
}

func (h *Handler) CountKeywords(w http.ResponseWriter, r *http.Request) {
	n, err := h.store.CountKeywords(r.Context())
	if err != nil {
		h.logger.Error("count keywords", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to count keywords")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"count": n})
}
