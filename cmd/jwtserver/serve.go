// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 jwtserver Contributors

package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/knat-dev/jwtserver/internal/config"
	"github.com/knat-dev/jwtserver/internal/logging"
	"github.com/knat-dev/jwtserver/internal/observability"
	"github.com/knat-dev/jwtserver/internal/web"
)

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Long: `Start the HTTP API serving register, login, refresh, logout and
revoke, plus the metrics and health listener when metrics.addr is set.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServeWithDeps(ctx, cfg, cmd, nil)
		},
	}

	config.RegisterFlags(cmd.Flags())
	return cmd
}

// runServeWithDeps serves until ctx is cancelled or a listener fails.
// If deps is nil, default implementations are used.
func runServeWithDeps(ctx context.Context, cfg *config.Config, cmd *cobra.Command, deps *Deps) error {
	deps = deps.withDefaults()

	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := logging.SetDefault("jwtserver", version, cfg.Log.Format, cfg.Log.Level)
	logger.InfoContext(ctx, "starting jwtserver",
		"addr", cfg.Server.Addr,
		"hasher", cfg.Auth.Hasher,
		"persistent", cfg.Database.URL != "",
	)

	users, err := openUserStore(ctx, cfg, deps, cfg.Database.AutoMigrate)
	if err != nil {
		return err
	}
	defer users.close()

	svc, tokens, err := newAuthService(cfg, users.users, logger)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		obsServer ObservabilityServer
		metrics   *observability.Metrics
	)
	if cfg.Metrics.Addr != "" {
		obsServer = deps.ObservabilityServerFactory(cfg.Metrics.Addr, users.ready)
		obsErrChan, err := obsServer.Start()
		if err != nil {
			return oops.Code("SERVE_FAILED").With("operation", "start observability server").Wrap(err)
		}
		go monitorServerErrors(ctx, cancel, obsErrChan, "observability")
		metrics = obsServer.Metrics()
		logger.InfoContext(ctx, "observability server started", "addr", obsServer.Addr())
	}

	limiter := web.NewRateLimiter(web.RateLimitConfig{
		Rate:  rate.Limit(cfg.Server.LoginRate),
		Burst: cfg.Server.LoginBurst,
	})
	defer limiter.Stop()

	router, err := web.NewRouter(web.RouterDeps{
		Auth: svc,
		Cookie: web.CookieConfig{
			Name:   cfg.Server.RefreshCookieName,
			Secure: cfg.Server.Production,
			MaxAge: tokens.RefreshTTL(),
		},
		CORSOrigins: cfg.Server.CORSOrigins,
		RateLimiter: limiter,
		Metrics:     metrics,
		Logger:      logger,
	})
	if err != nil {
		stopObservability(obsServer, cfg.Server.ShutdownTimeout)
		return err
	}

	listener, err := deps.ListenerFactory("tcp", cfg.Server.Addr)
	if err != nil {
		stopObservability(obsServer, cfg.Server.ShutdownTimeout)
		return oops.Code("SERVE_FAILED").With("addr", cfg.Server.Addr).Wrap(err)
	}

	httpServer := &http.Server{
		Handler:           router,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}

	errChan := make(chan error, 1)
	go func() {
		if serveErr := httpServer.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			errChan <- serveErr
		}
	}()

	cmd.Printf("jwtserver listening on %s\n", listener.Addr())
	logger.InfoContext(ctx, "jwtserver ready", "addr", listener.Addr().String())

	var serveErr error
	select {
	case serveErr = <-errChan:
		serveErr = oops.Code("SERVE_FAILED").With("operation", "serve http").Wrap(serveErr)
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("error stopping http server", "error", err)
	}
	stopObservability(obsServer, cfg.Server.ShutdownTimeout)

	logger.Info("shutdown complete")
	return serveErr
}

func stopObservability(s ObservabilityServer, timeout time.Duration) {
	if s == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		slog.Warn("error stopping observability server", "error", err)
	}
}

// monitorServerErrors cancels ctx when a background server fails.
// It exits when either an error is received, the channel is closed, or the context is cancelled.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string) {
	select {
	case err, ok := <-errCh:
		if !ok {
			return
		}
		if err != nil {
			slog.Error("server error, triggering shutdown",
				"server", serverName,
				"error", err,
			)
			cancel()
		}
	case <-ctx.Done():
	}
}
