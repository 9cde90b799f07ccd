package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"slices"
	"strings"
	"time"

	"github.com/y0f/primotiming/internal/httputil"
)

type middleware func(http.Handler) http.Handler

// chain wraps h so that the first middleware listed sees the request first.
func chain(h http.Handler, mws ...middleware) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

func recovery(logger *slog.Logger) middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				err := recover()
				if err == nil {
					return
				}
				if e, ok := err.(error); ok && errors.Is(e, http.ErrAbortHandler) {
					panic(err)
				}
				logger.Error("panic recovered",
					"error", fmt.Sprint(err),
					"path", r.URL.Path,
					"request_id", httputil.GetRequestID(r.Context()),
					"stack", string(debug.Stack()),
				)
				writeError(w, http.StatusInternalServerError, "internal server error")
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// validRequestID accepts ids forwarded by a fronting proxy when they are
// short and made of token characters.
func validRequestID(id string) bool {
	if id == "" || len(id) > 64 {
		return false
	}
	for _, c := range id {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			return false
		}
	}
	return true
}

func requestID() middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get("X-Request-ID")
			if !validRequestID(id) {
				id = httputil.GenerateID()
			}
			w.Header().Set("X-Request-ID", id)
			ctx := context.WithValue(r.Context(), httputil.CtxKeyRequestID, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func accessLog(logger *slog.Logger) middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &httputil.StatusWriter{ResponseWriter: w, Code: http.StatusOK}
			next.ServeHTTP(sw, r)

			level := slog.LevelInfo
			switch {
			case sw.Code >= 500:
				level = slog.LevelError
			case sw.Code >= 400:
				level = slog.LevelWarn
			}
			logger.LogAttrs(r.Context(), level, "request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", sw.Code),
				slog.Int64("duration_ms", time.Since(start).Milliseconds()),
				slog.String("request_id", httputil.GetRequestID(r.Context())),
				slog.String("remote", r.RemoteAddr),
				slog.String("user_agent", r.UserAgent()),
			)
		})
	}
}

// framePolicy turns the configured frame ancestors into a CSP directive and
// the matching X-Frame-Options value. The latter is empty when no legacy
// equivalent exists.
func framePolicy(ancestors []string) (directive, xFrameOptions string) {
	switch {
	case len(ancestors) == 0:
		return "frame-ancestors 'none'", "DENY"
	case len(ancestors) == 1 && ancestors[0] == "self":
		return "frame-ancestors 'self'", "SAMEORIGIN"
	}
	sources := make([]string, len(ancestors))
	for i, a := range ancestors {
		if a == "self" {
			a = "'self'"
		}
		sources[i] = a
	}
	return "frame-ancestors " + strings.Join(sources, " "), ""
}

func secureHeaders(ancestors []string) middleware {
	directive, xfo := framePolicy(ancestors)
	static := http.Header{
		"X-Content-Type-Options":  {"nosniff"},
		"X-Xss-Protection":        {"0"},
		"Referrer-Policy":         {"strict-origin-when-cross-origin"},
		"Cache-Control":           {"no-store"},
		"Content-Security-Policy": {"default-src 'none'; " + directive},
	}
	if xfo != "" {
		static.Set("X-Frame-Options", xfo)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			for k, v := range static {
				h[k] = v
			}
			if r.TLS != nil {
				h.Set("Strict-Transport-Security", "max-age=63072000; includeSubDomains")
			}
			next.ServeHTTP(w, r)
		})
	}
}

// cors answers preflights for allowed origins. Plain OPTIONS requests
// without Access-Control-Request-Method fall through to the mux.
func cors(allowed []string) middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			ok := origin != "" && isAllowedOrigin(origin, allowed)
			if ok {
				h := w.Header()
				h.Set("Access-Control-Allow-Origin", origin)
				h.Add("Vary", "Origin")
			}
			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				if ok {
					h := w.Header()
					h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
					h.Set("Access-Control-Allow-Headers", "Content-Type")
					h.Set("Access-Control-Max-Age", "86400")
				}
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func isAllowedOrigin(origin string, allowed []string) bool {
	return slices.Contains(allowed, "*") || slices.Contains(allowed, origin)
}

// bodyLimit caps request bodies on the write methods. A non-positive limit
// disables it.
func bodyLimit(maxBytes int64) middleware {
	return func(next http.Handler) http.Handler {
		if maxBytes <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil && r.Method != http.MethodGet && r.Method != http.MethodHead {
				r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			}
			next.ServeHTTP(w, r)
		})
	}
}
