// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 jwtserver Contributors

package web

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/samber/oops"

	"github.com/knat-dev/jwtserver/internal/observability"
)

// RouterDeps holds everything NewRouter wires together.
type RouterDeps struct {
	Auth        AuthService
	Cookie      CookieConfig
	CORSOrigins []string

	// RateLimiter throttles /register and /login. Nil disables throttling.
	RateLimiter *RateLimiter

	// Metrics may be nil.
	Metrics *observability.Metrics
	Logger  *slog.Logger
}

// NewRouter builds the HTTP API.
//
// Middleware order: RequestID, WithLogger, AccessLog, Recoverer, CORS. Protected routes
// add RequireAuth; credential routes add the rate limiter.
func NewRouter(deps RouterDeps) (http.Handler, error) {
	if deps.Auth == nil {
		return nil, oops.Code("ROUTER_INVALID").Errorf("auth service is required")
	}
	if deps.Cookie.Name == "" {
		return nil, oops.Code("ROUTER_INVALID").Errorf("refresh cookie name is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	cors, err := CORS(deps.CORSOrigins)
	if err != nil {
		return nil, err
	}

	h := &handlers{
		svc:     deps.Auth,
		cookie:  deps.Cookie,
		metrics: deps.Metrics,
		logger:  logger,
	}

	throttle := func(next http.Handler) http.Handler { return next }
	if deps.RateLimiter != nil {
		throttle = deps.RateLimiter.Middleware
	}

	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(WithLogger(logger))
	r.Use(AccessLog(logger, deps.Metrics))
	r.Use(Recoverer(logger))
	r.Use(cors)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, r, http.StatusNotFound, errorBody{Error: "not found"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, r, http.StatusMethodNotAllowed, errorBody{Error: "method not allowed"})
	})

	r.Get("/", h.root)
	r.With(throttle).Post("/register", h.register)
	r.With(throttle).Post("/login", h.login)
	r.Post(RefreshPath, h.refresh)
	r.Post("/logout", h.logout)
	r.Get("/me", h.me)

	r.Group(func(r chi.Router) {
		r.Use(RequireAuth(deps.Auth))
		r.Post("/revoke", h.revoke)
		r.Get("/users", h.users)
		r.Get("/hello", h.hello)
	})

	return r, nil
}
