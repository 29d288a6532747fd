// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 jwtserver Contributors

package main

import (
	"strings"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/knat-dev/jwtserver/internal/config"
)

// NewConfigCmd creates the config subcommand.
func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "schema",
		Short: "Print the JSON Schema for the YAML config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := config.GenerateSchema()
			if err != nil {
				return err //nolint:wrapcheck // already coded
			}
			cmd.Println(string(data))
			return nil
		},
	})

	validate := &cobra.Command{
		Use:   "validate",
		Short: "Load and check the effective configuration",
		Long: `Load the config file, environment and flags exactly as serve would,
report every invalid setting, and print a summary with secrets masked.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				cmd.PrintErrln("configuration is invalid:")
				for _, line := range strings.Split(err.Error(), "\n") {
					cmd.PrintErrln("  - " + line)
				}
				return oops.Code("CONFIG_INVALID").Errorf("configuration is invalid")
			}
			printConfig(cmd, cfg.Redacted())
			cmd.Println("configuration is valid")
			return nil
		},
	}
	config.RegisterFlags(validate.Flags())
	cmd.AddCommand(validate)

	return cmd
}

func printConfig(cmd *cobra.Command, cfg config.Config) {
	store := "memory"
	if cfg.Database.URL != "" {
		store = cfg.Database.URL
	}
	metrics := cfg.Metrics.Addr
	if metrics == "" {
		metrics = "disabled"
	}
	cmd.Printf("server.addr:          %s\n", cfg.Server.Addr)
	cmd.Printf("server.cors_origins:  %s\n", strings.Join(cfg.Server.CORSOrigins, ", "))
	cmd.Printf("server.production:    %t\n", cfg.Server.Production)
	cmd.Printf("database:             %s\n", store)
	cmd.Printf("auth.access_secret:   %s\n", cfg.Auth.AccessSecret)
	cmd.Printf("auth.refresh_secret:  %s\n", cfg.Auth.RefreshSecret)
	cmd.Printf("auth.ttl:             access %s, refresh %s\n", cfg.Auth.AccessTTL, cfg.Auth.RefreshTTL)
	cmd.Printf("auth.hasher:          %s\n", cfg.Auth.Hasher)
	cmd.Printf("metrics.addr:         %s\n", metrics)
	cmd.Printf("log:                  %s/%s\n", cfg.Log.Format, cfg.Log.Level)
}
