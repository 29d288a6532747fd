// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 jwtserver Contributors

// Package logging provides structured logging with OpenTelemetry trace context
// and redaction of credential-bearing attributes.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/samber/oops"
	"go.opentelemetry.io/otel/trace"
)

// Redacted replaces the value of any sensitive attribute.
const Redacted = "[REDACTED]"

// sensitiveKeys are matched case-insensitively against attribute keys.
var sensitiveKeys = map[string]struct{}{
	"password":      {},
	"password_hash": {},
	"token":         {},
	"access_token":  {},
	"refresh_token": {},
	"authorization": {},
	"cookie":        {},
}

// traceHandler wraps a slog.Handler to add service identity and trace context.
type traceHandler struct {
	handler slog.Handler
	service string
	version string
}

// Handle adds trace context to the log record.
func (h *traceHandler) Handle(ctx context.Context, r slog.Record) error {
	r.AddAttrs(
		slog.String("service", h.service),
		slog.String("version", h.version),
	)

	spanCtx := trace.SpanContextFromContext(ctx)
	if spanCtx.HasTraceID() {
		r.AddAttrs(slog.String("trace_id", spanCtx.TraceID().String()))
	}
	if spanCtx.HasSpanID() {
		r.AddAttrs(slog.String("span_id", spanCtx.SpanID().String()))
	}

	//nolint:wrapcheck // Handler interface requires unwrapped error passthrough
	return h.handler.Handle(ctx, r)
}

// Enabled returns true if the level is enabled.
func (h *traceHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.handler.Enabled(ctx, level)
}

// WithAttrs returns a new handler with the given attributes.
func (h *traceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &traceHandler{
		handler: h.handler.WithAttrs(attrs),
		service: h.service,
		version: h.version,
	}
}

// WithGroup returns a new handler with the given group.
func (h *traceHandler) WithGroup(name string) slog.Handler {
	return &traceHandler{
		handler: h.handler.WithGroup(name),
		service: h.service,
		version: h.version,
	}
}

// ParseLevel maps debug, info, warn or error to a slog.Level.
// An empty string means info.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, oops.Code("LOG_LEVEL_INVALID").
			With("level", level).
			Errorf("unknown log level %q", level)
	}
}

// redact is a slog ReplaceAttr hook that hides sensitive values.
func redact(_ []string, a slog.Attr) slog.Attr {
	if _, ok := sensitiveKeys[strings.ToLower(a.Key)]; ok {
		return slog.String(a.Key, Redacted)
	}
	return a
}

// Setup creates a configured slog.Logger.
// format is "json" or "text" (anything else means json). An unparseable
// level falls back to info. If w is nil, writes to os.Stderr.
func Setup(service, version, format, level string, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}

	lvl, _ := ParseLevel(level) //nolint:errcheck // config validation reports bad levels
	opts := &slog.HandlerOptions{
		Level:       lvl,
		ReplaceAttr: redact,
	}

	var baseHandler slog.Handler
	if format == "text" {
		baseHandler = slog.NewTextHandler(w, opts)
	} else {
		baseHandler = slog.NewJSONHandler(w, opts)
	}

	return slog.New(&traceHandler{
		handler: baseHandler,
		service: service,
		version: version,
	})
}

// SetDefault sets up and installs the default logger.
func SetDefault(service, version, format, level string) *slog.Logger {
	logger := Setup(service, version, format, level, nil)
	slog.SetDefault(logger)
	return logger
}
