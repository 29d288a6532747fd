// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 jwtserver Contributors

// Package errutil renders oops errors for logs, metrics and tests.
package errutil

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/samber/oops"
)

// LogError logs an error with structured context if it's an oops error.
func LogError(logger *slog.Logger, msg string, err error) {
	LogErrorContext(context.Background(), logger, msg, err)
}

// LogErrorContext is LogError with a context so handlers can attach trace IDs.
// For oops errors, the code and context map are logged as separate attributes.
func LogErrorContext(ctx context.Context, logger *slog.Logger, msg string, err error) {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		logger.ErrorContext(ctx, msg, "error", err)
		return
	}

	attrs := []any{"error", oopsErr.Error()}
	if code := Code(err); code != "" {
		attrs = append(attrs, "code", code)
	}
	if c := oopsErr.Context(); len(c) > 0 {
		attrs = append(attrs, "context", c)
	}
	logger.ErrorContext(ctx, msg, attrs...)
}

// Code returns the oops code carried by err, or "" if it has none.
func Code(err error) string {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}
	code := oopsErr.Code()
	if code == nil {
		return ""
	}
	return fmt.Sprint(code)
}
