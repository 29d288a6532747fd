// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 jwtserver Contributors

package main

import (
	"fmt"
	"strings"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/knat-dev/jwtserver/internal/store"
)

// NewMigrateCmd creates the migrate subcommand.
func NewMigrateCmd() *cobra.Command {
	return newMigrateCmd(nil)
}

func newMigrateCmd(deps *Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage database schema migrations",
		Long: `Apply, roll back or inspect the embedded PostgreSQL migrations.
The database URL comes from database.url (--database-url, JWTSERVER_DATABASE_URL
or the config file).`,
	}
	cmd.PersistentFlags().String("database-url", "", "PostgreSQL URL")

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd, deps, func(m SchemaMigrator) error {
				cmd.Println("Running migrations...")
				if err := m.Up(); err != nil {
					return err //nolint:wrapcheck // already coded by the migrator
				}
				cmd.Println("Migrations completed successfully")
				return nil
			})
		},
	})

	var yes bool
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back every migration, dropping all users",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return oops.Code("CONFIRMATION_REQUIRED").Errorf("migrate down deletes every user; pass --yes to confirm")
			}
			return withMigrator(cmd, deps, func(m SchemaMigrator) error {
				if err := m.Down(); err != nil {
					return err //nolint:wrapcheck // already coded by the migrator
				}
				cmd.Println("All migrations rolled back")
				return nil
			})
		},
	}
	down.Flags().BoolVar(&yes, "yes", false, "confirm the rollback")
	cmd.AddCommand(down)

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show applied and pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd, deps, func(m SchemaMigrator) error {
				status, err := m.Status()
				if err != nil {
					return err //nolint:wrapcheck // already coded by the migrator
				}
				printStatus(cmd, status)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "force VERSION",
		Short: "Mark VERSION as applied without running it (clears a dirty state)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			version, err := parseForceVersion(args[0])
			if err != nil {
				return err
			}
			return withMigrator(cmd, deps, func(m SchemaMigrator) error {
				if err := m.Force(version); err != nil {
					return err //nolint:wrapcheck // already coded by the migrator
				}
				cmd.Printf("Forced schema version to %d\n", version)
				return nil
			})
		},
	})

	return cmd
}

func withMigrator(cmd *cobra.Command, deps *Deps, fn func(SchemaMigrator) error) error {
	deps = deps.withDefaults()
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.Database.URL == "" {
		return oops.Code("CONFIG_INVALID").Errorf("database.url is required for migrations")
	}

	m, err := deps.MigratorFactory(cfg.Database.URL)
	if err != nil {
		return oops.Code("MIGRATION_FAILED").With("operation", "open migrator").Wrap(err)
	}
	defer func() {
		if closeErr := m.Close(); closeErr != nil {
			cmd.PrintErrf("warning: closing migrator: %v\n", closeErr)
		}
	}()
	return fn(m)
}

// parseForceVersion reads a leading integer. Anything after the digits is ignored.
func parseForceVersion(s string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(strings.TrimSpace(s), "%d", &version); err != nil {
		return 0, oops.Code("INVALID_VERSION").With("input", s).Errorf("version must be an integer: %v", err)
	}
	return version, nil
}

func printStatus(cmd *cobra.Command, status store.MigrationStatus) {
	state := "clean"
	if status.Dirty {
		state = "DIRTY (fix the schema, then run migrate force)"
	}
	cmd.Printf("Current version: %d (%s)\n", status.Current, state)
	cmd.Printf("Applied: %d, pending: %d\n", len(status.Applied), len(status.Pending))
	for _, v := range status.Pending {
		name, err := store.MigrationName(v)
		if err != nil || name == "" {
			name = fmt.Sprintf("%06d", v)
		}
		cmd.Printf("  pending %s\n", name)
	}
}
