// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 jwtserver Contributors

package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Auth outcome label values.
const (
	OutcomeOK       = "ok"
	OutcomeRejected = "rejected"
	OutcomeError    = "error"
)

// Metrics holds the jwtserver collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	AuthOperations *prometheus.CounterVec
	HTTPRequests   *prometheus.CounterVec
	HTTPDuration   *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		AuthOperations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jwtserver_auth_operations_total",
				Help: "Auth operations by operation and outcome",
			},
			[]string{"operation", "outcome"},
		),
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jwtserver_http_requests_total",
				Help: "HTTP requests by method, route pattern and status code",
			},
			[]string{"method", "route", "status"},
		),
		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "jwtserver_http_request_duration_seconds",
				Help:    "HTTP request latency by method and route pattern",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}

	reg.MustRegister(m.AuthOperations, m.HTTPRequests, m.HTTPDuration)
	return m
}

// RecordAuth counts one auth operation.
func (m *Metrics) RecordAuth(operation, outcome string) {
	if m == nil {
		return
	}
	m.AuthOperations.WithLabelValues(operation, outcome).Inc()
}

// ObserveHTTP records one served request. route is the router pattern, not
// the raw path, to keep label cardinality bounded.
func (m *Metrics) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}
