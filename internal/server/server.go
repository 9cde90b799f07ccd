// Package server assembles the HTTP handler: routes for the JSON API and
// the web page behind the shared middleware chain.
package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/y0f/primotiming/internal/api"
	"github.com/y0f/primotiming/internal/config"
	"github.com/y0f/primotiming/internal/httputil"
	"github.com/y0f/primotiming/internal/storage"
	"github.com/y0f/primotiming/internal/tracker"
	"github.com/y0f/primotiming/internal/web"
)

var _ http.Handler = (*Server)(nil)

type Server struct {
	cfg     *config.Config
	logger  *slog.Logger
	api     *api.Handler
	web     *web.Handler
	handler http.Handler
}

// NewServer wires the handlers. status may be nil when no tracker runs in
// this process; hub may be nil to disable the live feed.
func NewServer(cfg *config.Config, store storage.Store, status api.TrackerStatus, hub *tracker.Hub,
	logger *slog.Logger, version string) *Server {
	s := &Server{
		cfg:    cfg,
		logger: logger,
		api:    api.New(cfg, store, status, hub, logger, version),
		web:    web.New(cfg, store, logger, version, frameDirective(cfg.Server.FrameAncestors)),
	}

	mux := http.NewServeMux()
	s.registerRoutes(mux)

	rl := httputil.NewRateLimiter(cfg.Server.RateLimitPerSec, cfg.Server.RateLimitBurst)
	handler := chain(mux,
		recovery(logger),
		requestID(),
		accessLog(logger),
		secureHeaders(cfg.Server.FrameAncestors),
		cors(cfg.Server.CORSOrigins),
		rl.Middleware(cfg.TrustedNets(), writeError),
		bodyLimit(cfg.Server.MaxBodySize),
	)

	s.handler = handler
	return s
}

func frameDirective(ancestors []string) string {
	d, _ := framePolicy(ancestors)
	return d
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) p(path string) string {
	return s.cfg.Server.BasePath + path
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
