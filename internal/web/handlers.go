// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 jwtserver Contributors

package web

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/knat-dev/jwtserver/internal/auth"
	"github.com/knat-dev/jwtserver/internal/observability"
	"github.com/knat-dev/jwtserver/pkg/errutil"
)

// maxBodyBytes caps credential request bodies.
const maxBodyBytes = 1 << 16

// AuthService is the part of *auth.Service the handlers call.
type AuthService interface {
	Authenticator
	Register(ctx context.Context, email, username, password string) auth.RegisterResult
	Login(ctx context.Context, cookie auth.RefreshCookie, emailOrUsername, password string) auth.LoginResult
	Refresh(ctx context.Context, cookie auth.RefreshCookie, token string) auth.RefreshResult
	RevokeAllSessions(ctx context.Context, userID string) (bool, error)
	Logout(cookie auth.RefreshCookie) bool
	Me(ctx context.Context, authorization string) (*auth.User, error)
	Users(ctx context.Context) ([]*auth.User, error)
	Hello(userID string) string
}

type errorBody struct {
	Error string `json:"error"`
}

type registerRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// loginRequest accepts an email or a username in the email field.
type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type handlers struct {
	svc     AuthService
	cookie  CookieConfig
	metrics *observability.Metrics
	logger  *slog.Logger
}

func (h *handlers) root(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("hello")) //nolint:errcheck // client went away
}

func (h *handlers) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeBody(w, r, &req) {
		return
	}
	res := h.svc.Register(r.Context(), req.Email, req.Username, req.Password)
	h.metrics.RecordAuth("register", outcome(res.OK, len(res.Errors)))
	if !res.OK && len(res.Errors) == 0 {
		writeInternalError(w, r)
		return
	}
	writeJSON(w, r, http.StatusOK, res)
}

func (h *handlers) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeBody(w, r, &req) {
		return
	}
	res := h.svc.Login(r.Context(), NewRefreshCookie(w, h.cookie), req.Email, req.Password)
	h.metrics.RecordAuth("login", outcome(res.OK, len(res.Errors)))
	if !res.OK && len(res.Errors) == 0 {
		writeInternalError(w, r)
		return
	}
	writeJSON(w, r, http.StatusOK, res)
}

// refresh never fails loudly: an absent, invalid or revoked cookie yields
// {"ok":false,"accessToken":""}, and so does a storage or signing failure.
// Only the metric outcome tells a rejected token from an error.
func (h *handlers) refresh(w http.ResponseWriter, r *http.Request) {
	res := h.svc.Refresh(r.Context(), NewRefreshCookie(w, h.cookie), refreshTokenFrom(r, h.cookie.Name))
	switch {
	case res.OK:
		h.metrics.RecordAuth("refresh", observability.OutcomeOK)
	case res.Failed:
		h.metrics.RecordAuth("refresh", observability.OutcomeError)
	default:
		h.metrics.RecordAuth("refresh", observability.OutcomeRejected)
	}
	writeJSON(w, r, http.StatusOK, res)
}

func (h *handlers) logout(w http.ResponseWriter, r *http.Request) {
	ok := h.svc.Logout(NewRefreshCookie(w, h.cookie))
	h.metrics.RecordAuth("logout", observability.OutcomeOK)
	writeJSON(w, r, http.StatusOK, ok)
}

func (h *handlers) revoke(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())
	ok, err := h.svc.RevokeAllSessions(r.Context(), userID)
	switch {
	case errors.Is(err, auth.ErrNotFound):
		h.metrics.RecordAuth("revoke", observability.OutcomeRejected)
		writeJSON(w, r, http.StatusNotFound, errorBody{Error: "user not found"})
	case err != nil:
		h.metrics.RecordAuth("revoke", observability.OutcomeError)
		errutil.LogErrorContext(r.Context(), h.logger, "revoke failed", err)
		writeInternalError(w, r)
	default:
		h.metrics.RecordAuth("revoke", observability.OutcomeOK)
		writeJSON(w, r, http.StatusOK, ok)
	}
}

// me answers null rather than 401 for anonymous callers.
func (h *handlers) me(w http.ResponseWriter, r *http.Request) {
	user, err := h.svc.Me(r.Context(), r.Header.Get("Authorization"))
	if err != nil {
		errutil.LogErrorContext(r.Context(), h.logger, "me lookup failed", err)
		writeInternalError(w, r)
		return
	}
	writeJSON(w, r, http.StatusOK, user)
}

func (h *handlers) users(w http.ResponseWriter, r *http.Request) {
	users, err := h.svc.Users(r.Context())
	if err != nil {
		errutil.LogErrorContext(r.Context(), h.logger, "list users failed", err)
		writeInternalError(w, r)
		return
	}
	writeJSON(w, r, http.StatusOK, users)
}

func (h *handlers) hello(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())
	writeJSON(w, r, http.StatusOK, h.svc.Hello(userID))
}

func outcome(ok bool, fieldErrors int) string {
	switch {
	case ok:
		return observability.OutcomeOK
	case fieldErrors > 0:
		return observability.OutcomeRejected
	default:
		return observability.OutcomeError
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		writeJSON(w, r, http.StatusBadRequest, errorBody{Error: "invalid request body"})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		loggerFromContext(r.Context()).DebugContext(r.Context(), "write response failed",
			"error", err,
			"path", r.URL.Path,
			"request_id", RequestIDFromContext(r.Context()),
		)
	}
}

func writeInternalError(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusInternalServerError, errorBody{Error: "internal error"})
}
