// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 jwtserver Contributors

package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/knat-dev/jwtserver/internal/config"
	"github.com/knat-dev/jwtserver/internal/xdg"
)

// Global flags available to all subcommands.
var configFile string

// environ is the environment config overrides are read from. Tests replace it.
var environ = os.Environ

// NewRootCmd creates the root command for the jwtserver CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jwtserver",
		Short: "jwtserver - password login with access and refresh tokens",
		Long: `jwtserver registers users, checks their passwords and issues a
short-lived access token plus a revocable refresh token kept in an
HTTP-only cookie.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "",
		"config file path (default $XDG_CONFIG_HOME/jwtserver/config.yaml if present)")

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewConfigCmd())
	cmd.AddCommand(NewUserCmd())

	return cmd
}

// loadConfig layers the config file, environment and cmd's flags.
// Flags the command does not define keep their file or default value.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	return config.Load(xdg.ResolveConfigFile(configFile), cmd.Flags(), environ())
}
