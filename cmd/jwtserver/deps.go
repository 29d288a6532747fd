// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 jwtserver Contributors

package main

import (
	"context"
	"log/slog"
	"net"

	"github.com/samber/oops"

	"github.com/knat-dev/jwtserver/internal/auth"
	"github.com/knat-dev/jwtserver/internal/auth/memory"
	"github.com/knat-dev/jwtserver/internal/auth/postgres"
	"github.com/knat-dev/jwtserver/internal/config"
	"github.com/knat-dev/jwtserver/internal/observability"
	"github.com/knat-dev/jwtserver/internal/store"
)

// Deps contains injectable dependencies shared by the commands.
// All fields with nil values will use their default implementations.
type Deps struct {
	// PoolFactory opens the PostgreSQL pool.
	// Default: store.Connect
	PoolFactory func(ctx context.Context, url string, attempts uint64) (DBPool, error)

	// MigratorFactory opens a schema migrator.
	// Default: store.NewMigrator
	MigratorFactory func(url string) (SchemaMigrator, error)

	// ObservabilityServerFactory creates an observability server.
	// Default: observability.NewServer
	ObservabilityServerFactory func(addr string, readiness observability.ReadinessChecker) ObservabilityServer

	// ListenerFactory creates the API listener.
	// Default: net.Listen
	ListenerFactory func(network, address string) (net.Listener, error)
}

// DBPool wraps the methods used from *pgxpool.Pool.
type DBPool interface {
	postgres.DBTX
	Ping(ctx context.Context) error
	Close()
}

// SchemaMigrator wraps the methods used from *store.Migrator.
type SchemaMigrator interface {
	Up() error
	Down() error
	Steps(n int) error
	Force(version int) error
	Status() (store.MigrationStatus, error)
	Close() error
}

// ObservabilityServer wraps the methods used from *observability.Server.
type ObservabilityServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
	Metrics() *observability.Metrics
}

func (d *Deps) withDefaults() *Deps {
	out := Deps{}
	if d != nil {
		out = *d
	}
	if out.PoolFactory == nil {
		out.PoolFactory = func(ctx context.Context, url string, attempts uint64) (DBPool, error) {
			return store.Connect(ctx, url, attempts)
		}
	}
	if out.MigratorFactory == nil {
		out.MigratorFactory = func(url string) (SchemaMigrator, error) {
			return store.NewMigrator(url)
		}
	}
	if out.ObservabilityServerFactory == nil {
		out.ObservabilityServerFactory = func(addr string, readiness observability.ReadinessChecker) ObservabilityServer {
			return observability.NewServer(addr, readiness)
		}
	}
	if out.ListenerFactory == nil {
		out.ListenerFactory = net.Listen
	}
	return &out
}

// userStore is an opened user repository plus its readiness check and cleanup.
type userStore struct {
	users auth.UserRepository
	ready observability.ReadinessChecker
	close func()
}

// openUserStore selects PostgreSQL when database.url is set and the in-memory
// store otherwise. With migrate set, pending migrations run first.
func openUserStore(ctx context.Context, cfg *config.Config, deps *Deps, migrate bool) (*userStore, error) {
	if cfg.Database.URL == "" {
		slog.WarnContext(ctx, "database.url is empty, users are kept in memory and lost on exit")
		return &userStore{
			users: memory.NewUserRepository(),
			ready: func(context.Context) error { return nil },
			close: func() {},
		}, nil
	}

	if migrate {
		if err := migrateUp(cfg.Database.URL, deps); err != nil {
			return nil, err
		}
	}

	pool, err := deps.PoolFactory(ctx, cfg.Database.URL, uint64(cfg.Database.ConnectAttempts)) //nolint:gosec // validated >= 1
	if err != nil {
		return nil, oops.Code("DB_CONNECT_FAILED").With("operation", "connect to database").Wrap(err)
	}
	slog.InfoContext(ctx, "connected to database")

	return &userStore{
		users: postgres.NewUserRepository(pool),
		ready: pool.Ping,
		close: pool.Close,
	}, nil
}

func migrateUp(url string, deps *Deps) (err error) {
	m, err := deps.MigratorFactory(url)
	if err != nil {
		return oops.Code("MIGRATION_FAILED").With("operation", "open migrator").Wrap(err)
	}
	defer func() {
		if closeErr := m.Close(); closeErr != nil {
			slog.Warn("failed to close migrator", "error", closeErr)
		}
	}()

	if err := m.Up(); err != nil {
		return oops.Code("MIGRATION_FAILED").With("operation", "apply migrations").Wrap(err)
	}
	status, err := m.Status()
	if err != nil {
		return oops.Code("MIGRATION_FAILED").With("operation", "read migration status").Wrap(err)
	}
	slog.Info("database schema is current", "version", status.Current)
	return nil
}

// newAuthService wires the hasher, token service and auth service from cfg.
func newAuthService(cfg *config.Config, users auth.UserRepository, logger *slog.Logger) (*auth.Service, *auth.TokenService, error) {
	hasher, err := auth.NewPasswordHasher(cfg.Auth.Hasher, cfg.Auth.BcryptCost)
	if err != nil {
		return nil, nil, err
	}
	tokens, err := auth.NewTokenService(cfg.TokenConfig())
	if err != nil {
		return nil, nil, err
	}
	svc, err := auth.NewAuthService(users, hasher, tokens,
		auth.WithLogger(logger),
		auth.WithPasswordPolicy(cfg.PasswordPolicy()),
	)
	if err != nil {
		return nil, nil, err
	}
	return svc, tokens, nil
}
