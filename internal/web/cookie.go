// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 jwtserver Contributors

package web

import (
	"net/http"
	"time"

	"github.com/knat-dev/jwtserver/internal/auth"
)

// RefreshPath is the only path the browser sends the refresh cookie to.
const RefreshPath = "/refresh"

// CookieConfig describes the refresh token cookie.
type CookieConfig struct {
	Name   string
	Secure bool
	MaxAge time.Duration
}

type refreshCookie struct {
	w   http.ResponseWriter
	cfg CookieConfig
}

// NewRefreshCookie returns an auth.RefreshCookie that writes Set-Cookie
// headers to w.
func NewRefreshCookie(w http.ResponseWriter, cfg CookieConfig) auth.RefreshCookie {
	return &refreshCookie{w: w, cfg: cfg}
}

func (c *refreshCookie) SetRefreshToken(token string) {
	http.SetCookie(c.w, c.cookie(token, int(c.cfg.MaxAge/time.Second)))
}

func (c *refreshCookie) ClearRefreshToken() {
	http.SetCookie(c.w, c.cookie("", -1))
}

func (c *refreshCookie) cookie(value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     c.cfg.Name,
		Value:    value,
		Path:     RefreshPath,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   c.cfg.Secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// refreshTokenFrom returns the refresh cookie value or "".
func refreshTokenFrom(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}
