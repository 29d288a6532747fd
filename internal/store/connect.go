// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 jwtserver Contributors

// Package store owns the PostgreSQL connection pool and schema migrations.
package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

// Backoff settings for Connect. Variables so tests can shrink them.
var (
	connectBackoffBase = 500 * time.Millisecond
	connectBackoffCap  = 5 * time.Second
)

// Connect opens a pgx pool and pings it, retrying with exponential backoff
// until the database answers or attempts are exhausted. attempts below 1
// is treated as 1.
func Connect(ctx context.Context, databaseURL string, attempts uint64) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, oops.Code("DB_CONFIG_INVALID").With("operation", "parse database url").Wrap(err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, oops.Code("DB_CONNECT_FAILED").With("operation", "create pool").Wrap(err)
	}

	if attempts < 1 {
		attempts = 1
	}
	backoff := retry.WithMaxRetries(attempts-1,
		retry.WithCappedDuration(connectBackoffCap, retry.NewExponential(connectBackoffBase)))

	var attempt int
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		if pingErr := pool.Ping(ctx); pingErr != nil {
			slog.WarnContext(ctx, "database not ready",
				"attempt", attempt,
				"max_attempts", attempts,
				"host", cfg.ConnConfig.Host,
				"error", pingErr)
			return retry.RetryableError(pingErr)
		}
		return nil
	})
	if err != nil {
		pool.Close()
		return nil, oops.Code("DB_CONNECT_FAILED").
			With("operation", "ping database").
			With("attempts", attempt).
			Wrap(err)
	}

	slog.InfoContext(ctx, "connected to database", "host", cfg.ConnConfig.Host, "attempts", attempt)
	return pool, nil
}
