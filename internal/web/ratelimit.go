// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 jwtserver Contributors

package web

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitConfig sets the per-client token bucket for credential endpoints.
type RateLimitConfig struct {
	Rate            rate.Limit
	Burst           int
	CleanupInterval time.Duration
}

// DefaultRateLimitConfig allows 5 requests per second with a burst of 10.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Rate:            5,
		Burst:           10,
		CleanupInterval: 5 * time.Minute,
	}
}

type clientLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// RateLimiter throttles requests per client IP. Idle clients are forgotten
// by a background sweep; call Stop to end it.
type RateLimiter struct {
	cfg RateLimitConfig
	now func() time.Time

	mu      sync.Mutex
	clients map[string]*clientLimiter

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

// NewRateLimiter starts a RateLimiter.
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = DefaultRateLimitConfig().CleanupInterval
	}
	rl := &RateLimiter{
		cfg:     cfg,
		now:     time.Now,
		clients: make(map[string]*clientLimiter),
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
	}
	go rl.cleanupLoop()
	return rl
}

// Stop ends the cleanup goroutine and waits for it. Safe to call twice.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
	<-rl.done
}

// Clients reports how many clients are currently tracked.
func (rl *RateLimiter) Clients() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}

// Allow consumes one token for key.
func (rl *RateLimiter) Allow(key string) bool {
	return rl.limiter(key).Allow()
}

// Middleware answers 429 with Retry-After once a client exhausts its bucket.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		client := clientIP(r)
		if !rl.Allow(client) {
			loggerFromContext(r.Context()).WarnContext(r.Context(), "rate limit exceeded",
				"client", client,
				"path", r.URL.Path,
				"request_id", RequestIDFromContext(r.Context()),
			)
			w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(rl.cfg.Rate)))
			writeJSON(w, r, http.StatusTooManyRequests, errorBody{Error: "too many requests"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (rl *RateLimiter) limiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if c, ok := rl.clients[key]; ok {
		c.lastAccess = now
		return c.limiter
	}
	c := &clientLimiter{limiter: rate.NewLimiter(rl.cfg.Rate, rl.cfg.Burst), lastAccess: now}
	rl.clients[key] = c
	return c.limiter
}

func (rl *RateLimiter) cleanupLoop() {
	defer close(rl.done)
	ticker := time.NewTicker(rl.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stopCh:
			return
		}
	}
}

// cleanup drops clients idle for more than two cleanup intervals.
func (rl *RateLimiter) cleanup() {
	ttl := 2 * rl.cfg.CleanupInterval
	now := rl.now()

	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, c := range rl.clients {
		if now.Sub(c.lastAccess) > ttl {
			delete(rl.clients, key)
		}
	}
}

func retryAfterSeconds(r rate.Limit) int {
	if r <= 0 || r == rate.Inf {
		return 1
	}
	return max(1, int(math.Ceil(1/float64(r))))
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
