// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 jwtserver Contributors

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/knat-dev/jwtserver/internal/auth"
	"github.com/knat-dev/jwtserver/internal/logging"
)

// readPassword is a test seam for term.ReadPassword.
var readPassword = term.ReadPassword

// stdinIsTerminal is a test seam for term.IsTerminal on stdin.
var stdinIsTerminal = func() bool { return term.IsTerminal(int(os.Stdin.Fd())) } //nolint:gosec // fd fits in int

// NewUserCmd creates the user subcommand.
func NewUserCmd() *cobra.Command {
	return newUserCmd(nil)
}

func newUserCmd(deps *Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage accounts in the PostgreSQL store",
	}
	cmd.PersistentFlags().String("database-url", "", "PostgreSQL URL")

	var email, username string
	add := &cobra.Command{
		Use:   "add",
		Short: "Register a user; the password is prompted for or read from stdin",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			password, err := promptPassword(cmd)
			if err != nil {
				return err
			}
			return withService(cmd, deps, func(ctx context.Context, svc *auth.Service) error {
				res := svc.Register(ctx, email, username, password)
				if res.OK {
					cmd.Printf("created user %s\n", strings.TrimSpace(username))
					return nil
				}
				if len(res.Errors) == 0 {
					return oops.Code("USER_ADD_FAILED").Errorf("registration failed, see log for details")
				}
				for _, fe := range res.Errors {
					cmd.PrintErrf("%s: %s\n", fe.Field, fe.Message)
				}
				return oops.Code("USER_ADD_REJECTED").Errorf("registration rejected")
			})
		},
	}
	add.Flags().StringVar(&email, "email", "", "email address")
	add.Flags().StringVar(&username, "username", "", "username")
	cmd.AddCommand(add)

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List users",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withService(cmd, deps, func(ctx context.Context, svc *auth.Service) error {
				users, err := svc.Users(ctx)
				if err != nil {
					return err //nolint:wrapcheck // already coded by the service
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tEMAIL\tUSERNAME\tTOKEN VERSION\tCREATED")
				for _, u := range users {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n",
						u.ID, u.Email, u.Username, u.TokenVersion, u.CreatedAt.UTC().Format(time.RFC3339))
				}
				return tw.Flush() //nolint:wrapcheck // terminal write
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "revoke USER_ID",
		Short: "Invalidate every refresh token issued to a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, deps, func(ctx context.Context, svc *auth.Service) error {
				if _, err := svc.RevokeAllSessions(ctx, args[0]); err != nil {
					if errors.Is(err, auth.ErrNotFound) {
						return oops.Code("USER_NOT_FOUND").With("user_id", args[0]).Errorf("no user with id %s", args[0])
					}
					return err //nolint:wrapcheck // already coded by the service
				}
				cmd.Printf("revoked sessions for %s\n", args[0])
				return nil
			})
		},
	})

	return cmd
}

func withService(cmd *cobra.Command, deps *Deps, fn func(context.Context, *auth.Service) error) error {
	deps = deps.withDefaults()
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.Database.URL == "" {
		return oops.Code("CONFIG_INVALID").Errorf("database.url is required for user commands")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx := cmd.Context()
	logger := logging.Setup("jwtserver", version, "text", cfg.Log.Level, cmd.ErrOrStderr())

	users, err := openUserStore(ctx, cfg, deps, cfg.Database.AutoMigrate)
	if err != nil {
		return err
	}
	defer users.close()

	svc, _, err := newAuthService(cfg, users.users, logger)
	if err != nil {
		return err
	}
	return fn(ctx, svc)
}

// promptPassword reads the password without echo from a terminal, or as one
// line from a pipe.
func promptPassword(cmd *cobra.Command) (string, error) {
	if stdinIsTerminal() {
		cmd.Print("Password: ")
		pw, err := readPassword(int(os.Stdin.Fd())) //nolint:gosec // fd fits in int
		cmd.Println()
		if err != nil {
			return "", oops.Code("PASSWORD_READ_FAILED").Wrap(err)
		}
		return string(pw), nil
	}

	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", oops.Code("PASSWORD_READ_FAILED").Wrap(err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
