package server

import (
	"net/http"
)

func (s *Server) registerRoutes(mux *http.ServeMux) {
	if s.cfg.Server.BasePath != "" {
		mux.HandleFunc("GET "+s.cfg.Server.BasePath, func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, s.cfg.Server.BasePath+"/", http.StatusMovedPermanently)
		})
	}

	mux.HandleFunc("GET "+s.p("/{$}"), s.web.Index)
	mux.HandleFunc("POST "+s.p("/register"), s.web.Register)

	// Registration path expected by existing load scripts.
	mux.HandleFunc("POST "+s.p("/url"), s.api.RegisterURL)

	mux.HandleFunc("GET "+s.p("/api/v1/health"), s.api.Health)
	mux.HandleFunc("POST "+s.p("/api/v1/targets"), s.api.RegisterURL)
	mux.HandleFunc("GET "+s.p("/api/v1/targets"), s.api.ListTargets)
	mux.HandleFunc("GET "+s.p("/api/v1/keywords/count"), s.api.CountKeywords)
	mux.HandleFunc("GET "+s.p("/api/v1/measurements"), s.api.ListMeasurements)
	mux.HandleFunc("GET "+s.p("/api/v1/measurements/{id}/diagnostics"), s.api.GetDiagnostics)
	mux.HandleFunc("GET "+s.p("/api/v1/summary"), s.api.Summary)
	mux.HandleFunc("GET "+s.p("/api/v1/live"), s.api.Live)
}
