// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 jwtserver Contributors

// Package observability serves Prometheus metrics and health checks on a
// listener separate from the public API.
package observability

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/oops"
)

// ReadinessChecker reports nil when the service can take traffic.
type ReadinessChecker func(ctx context.Context) error

const readinessTimeout = 2 * time.Second

// Server exposes /metrics, /healthz/liveness and /healthz/readiness.
type Server struct {
	addr       string
	listener   net.Listener
	httpServer *http.Server
	registry   *prometheus.Registry
	metrics    *Metrics
	isReady    ReadinessChecker
	running    atomic.Bool
}

// NewServer creates a server with its own registry holding the Go runtime,
// process and jwtserver collectors. addr is "host:port"; ":0" picks a free port.
func NewServer(addr string, readiness ReadinessChecker) *Server {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return &Server{
		addr:     addr,
		registry: registry,
		metrics:  NewMetrics(registry),
		isReady:  readiness,
	}
}

// Metrics returns the collectors application code records into.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// Handler returns the health and metrics mux without binding a listener.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
	mux.HandleFunc("/healthz/liveness", s.handleLiveness)
	mux.HandleFunc("/healthz/readiness", s.handleReadiness)
	return mux
}

// Start binds the listener and serves in the background.
// The returned channel receives a serve failure, and is closed once the
// server stops.
func (s *Server) Start() (<-chan error, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, oops.Code("OBSERVABILITY_ALREADY_RUNNING").Errorf("observability server already running")
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		s.running.Store(false)
		return nil, oops.Code("OBSERVABILITY_LISTEN_FAILED").With("addr", s.addr).Wrap(err)
	}
	s.listener = listener

	httpSrv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.httpServer = httpSrv

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if serveErr := httpSrv.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			slog.Error("observability server error", "error", serveErr)
			errCh <- serveErr
		}
	}()

	slog.Info("observability server started", "addr", listener.Addr().String())
	return errCh, nil
}

// Stop shuts the server down. Stopping a stopped server is a no-op.
func (s *Server) Stop(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.running.Store(true)
			return oops.Code("OBSERVABILITY_SHUTDOWN_FAILED").Wrap(err)
		}
	}

	slog.Info("observability server stopped")
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

func (s *Server) handleLiveness(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	//nolint:errcheck // client may have disconnected
	w.Write([]byte("ok\n"))
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	if s.isReady != nil {
		ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
		defer cancel()
		if err := s.isReady(ctx); err != nil {
			slog.WarnContext(ctx, "readiness check failed", "error", err)
			w.WriteHeader(http.StatusServiceUnavailable)
			//nolint:errcheck // client may have disconnected
			w.Write([]byte("not ready\n"))
			return
		}
	}

	w.WriteHeader(http.StatusOK)
	//nolint:errcheck // client may have disconnected
	w.Write([]byte("ok\n"))
}
