// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 jwtserver Contributors

package web

import (
	"context"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gobwas/glob"
	"github.com/google/uuid"
	"github.com/samber/oops"

	"github.com/knat-dev/jwtserver/internal/observability"
)

// RequestIDHeader carries the request ID in both directions.
const RequestIDHeader = "X-Request-ID"

// unmatchedRoute labels requests that matched no route.
const unmatchedRoute = "unmatched"

// RequestID tags each request with a UUID. A well-formed incoming
// X-Request-ID is reused so IDs can follow a request across proxies.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

// statusRecorder captures the status code written by the handler.
type statusRecorder struct {
	http.ResponseWriter
	status  int
	written bool
}

func (sr *statusRecorder) WriteHeader(code int) {
	if !sr.written {
		sr.status = code
		sr.written = true
	}
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if !sr.written {
		sr.status = http.StatusOK
		sr.written = true
	}
	return sr.ResponseWriter.Write(b) //nolint:wrapcheck // passthrough writer
}

// AccessLog logs one line per request and records HTTP metrics against the
// chi route pattern. metrics may be nil.
func AccessLog(logger *slog.Logger, metrics *observability.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rec, r)

			elapsed := time.Since(start)
			route := routePattern(r)
			metrics.ObserveHTTP(r.Method, route, rec.status, elapsed)

			level := slog.LevelInfo
			switch {
			case rec.status >= http.StatusInternalServerError:
				level = slog.LevelError
			case rec.status >= http.StatusBadRequest:
				level = slog.LevelWarn
			}

			attrs := []slog.Attr{
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("route", route),
				slog.Int("status", rec.status),
				slog.Float64("duration_ms", float64(elapsed.Microseconds())/1000),
				slog.String("request_id", RequestIDFromContext(r.Context())),
			}
			logger.LogAttrs(r.Context(), level, "http request", attrs...)
		})
	}
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return unmatchedRoute
}

// Recoverer turns a handler panic into a 500 and logs the stack.
func Recoverer(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler { //nolint:errorlint // sentinel panic value
					panic(rec)
				}
				logger.ErrorContext(r.Context(), "panic recovered",
					"panic", rec,
					"method", r.Method,
					"path", r.URL.Path,
					"request_id", RequestIDFromContext(r.Context()),
					"stack", string(debug.Stack()),
				)
				writeInternalError(w, r)
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// CORS allows credentialed cross-origin requests from origins matching any
// of the glob patterns (for example https://*.example.com). The matching
// origin is echoed back; a wildcard is never sent.
func CORS(origins []string) (func(http.Handler) http.Handler, error) {
	patterns := make([]glob.Glob, 0, len(origins))
	for _, origin := range origins {
		g, err := glob.Compile(strings.TrimSuffix(origin, "/"))
		if err != nil {
			return nil, oops.Code("CORS_ORIGIN_INVALID").With("origin", origin).Wrap(err)
		}
		patterns = append(patterns, g)
	}

	allowed := func(origin string) bool {
		for _, g := range patterns {
			if g.Match(origin) {
				return true
			}
		}
		return false
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}
			w.Header().Add("Vary", "Origin")
			if !allowed(origin) {
				if r.Method == http.MethodOptions {
					w.WriteHeader(http.StatusForbidden)
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type, "+RequestIDHeader)
				h.Set("Access-Control-Max-Age", strconv.Itoa(int((12 * time.Hour).Seconds())))
				w.WriteHeader(http.StatusNoContent)
				return
			}
			h.Set("Access-Control-Expose-Headers", RequestIDHeader)
			next.ServeHTTP(w, r)
		})
	}, nil
}

// Authenticator resolves an Authorization header to a user ID.
type Authenticator interface {
	Authenticate(authorization string) (userID string, ok bool)
}

// RequireAuth rejects requests without a valid bearer access token and
// stores the caller's user ID in the request context.
func RequireAuth(a Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, ok := a.Authenticate(r.Header.Get("Authorization"))
			if !ok {
				writeJSON(w, r, http.StatusUnauthorized, errorBody{Error: "not authenticated"})
				return
			}
			next.ServeHTTP(w, r.WithContext(withUserID(r.Context(), userID)))
		})
	}
}
