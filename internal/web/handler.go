// Package web serves the HTML page: a registration form and the latest
// latency figures.
package web

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/a-h/templ"

	"github.com/y0f/primotiming/internal/config"
	"github.com/y0f/primotiming/internal/storage"
	"github.com/y0f/primotiming/internal/web/views"
)

const flashCookie = "flash"

type Handler struct {
	cfg     *config.Config
	store   storage.Store
	logger  *slog.Logger
	version string
	csp     string
}

// New builds the page handler. frameDirective is the frame-ancestors
// directive shared with the rest of the server.
func New(cfg *config.Config, store storage.Store, logger *slog.Logger, version, frameDirective string) *Handler {
	return &Handler{
		cfg:     cfg,
		store:   store,
		logger:  logger,
		version: version,
		csp: "default-src 'self'; style-src 'self' 'unsafe-inline'; form-action 'self'; base-uri 'none'; " +
			frameDirective,
	}
}

// popFlash returns the pending flash message and expires its cookie so it
// shows only once.
func (h *Handler) popFlash(w http.ResponseWriter, r *http.Request) string {
	c, err := r.Cookie(flashCookie)
	if err != nil {
		return ""
	}
	msg, err := url.QueryUnescape(c.Value)
	if err != nil {
		msg = ""
	}
	http.SetCookie(w, &http.Cookie{Name: flashCookie, Path: h.cookiePath(), MaxAge: -1})
	return msg
}

func (h *Handler) setFlash(w http.ResponseWriter, r *http.Request, msg string) {
	http.SetCookie(w, &http.Cookie{
		Name:     flashCookie,
		Value:    url.QueryEscape(msg),
		Path:     h.cookiePath(),
		MaxAge:   5,
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *Handler) cookiePath() string {
	return h.cfg.Server.BasePath + "/"
}

func (h *Handler) layout(w http.ResponseWriter, r *http.Request, title string) views.LayoutParams {
	return views.LayoutParams{
		Title:    title,
		Version:  h.version,
		Flash:    h.popFlash(w, r),
		BasePath: h.cfg.Server.BasePath,
	}
}

// render buffers the page so a failing component yields a clean 500
// instead of half a document.
func (h *Handler) render(w http.ResponseWriter, r *http.Request, c templ.Component) {
	var buf bytes.Buffer
	if err := c.Render(r.Context(), &buf); err != nil {
		h.logger.Error("web: render", "path", r.URL.Path, "error", err)
		http.Error(w, "failed to render page", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Content-Security-Policy", h.csp)
	w.Write(buf.Bytes())
}

func (h *Handler) redirect(w http.ResponseWriter, r *http.Request, path string) {
	http.Redirect(w, r, h.cfg.Server.BasePath+path, http.StatusSeeOther)
}
