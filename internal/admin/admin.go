// Package admin implements fsadmin, the operator CLI: schema migrations,
// user provisioning with an explicit role, account (de)activation, lockout
// release, cleanup of expired auth state and a gRPC health probe.
package admin

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/go-extras/cobraflags"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/dmitrijs2005/fermentstation/internal/common"
	"github.com/dmitrijs2005/fermentstation/internal/logging"
	"github.com/dmitrijs2005/fermentstation/internal/server/config"
	"github.com/dmitrijs2005/fermentstation/internal/server/models"
	"github.com/dmitrijs2005/fermentstation/internal/server/services"
)

// readPassword is a test seam for term.ReadPassword.
var readPassword = term.ReadPassword

// probe is a test seam for probeHealth.
var probe = func(ctx context.Context, target, service string) (string, error) {
	return probeHealth(ctx, target, service)
}

const (
	dsnFlag    = "dsn"
	emailFlag  = "email"
	tenantFlag = "tenant"
	roleFlag   = "role"
	addrFlag   = "addr"
	svcFlag    = "service"
)

var (
	errPasswordMismatch = errors.New("passwords do not match")
	errNotServing       = errors.New("server is not serving")
)

type cli struct {
	open    Opener
	loadCfg func() *config.Config
}

// NewRootCommand builds the fsadmin command tree. open and loadCfg are
// injectable so the commands can run against fakes.
func NewRootCommand(open Opener, loadCfg func() *config.Config) *cobra.Command {
	c := &cli{
		open:    open,
		loadCfg: loadCfg,
	}

	root := &cobra.Command{
		Use:           "fsadmin",
		Short:         "Ferment Station back-office administration",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(c.migrateCommand(), c.createUserCommand(),
		c.activationCommand("activate", true), c.activationCommand("deactivate", false), c.unlockCommand(), c.cleanupCommand(), c.healthCommand())
	return root
}

// withDSN adds the --dsn flag every database command accepts.
func withDSN(flags map[string]cobraflags.Flag) map[string]cobraflags.Flag {
	if flags == nil {
		flags = map[string]cobraflags.Flag{}
	}
	flags[dsnFlag] = &cobraflags.StringFlag{
		Name:  dsnFlag,
		Value: "",
		Usage: "PostgreSQL DSN (defaults to DATABASE_DSN)",
	}
	return flags
}

// backend opens a Backend with --dsn applied over the loaded config.
func (c *cli) backend(cmd *cobra.Command, flags map[string]cobraflags.Flag) (Backend, error) {
	cfg := c.loadCfg()
	if dsn := flags[dsnFlag].GetString(); dsn != "" {
		cfg.DatabaseDSN = dsn
	}
	log := logging.NewTextLogger(cmd.ErrOrStderr(), slog.LevelWarn)
	return c.open(cmd.Context(), cfg, log)
}

func (c *cli) migrateCommand() *cobra.Command {
	flags := withDSN(nil)
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			b, err := c.backend(cmd, flags)
			if err != nil {
				return err
			}
			defer b.Close()

			if err := b.Migrate(cmd.Context()); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
	cobraflags.RegisterMap(cmd, flags)
	return cmd
}

func (c *cli) createUserCommand() *cobra.Command {
	flags := withDSN(map[string]cobraflags.Flag{
		emailFlag: &cobraflags.StringFlag{
			Name:  emailFlag,
			Value: "",
			Usage: "Email of the new user (required)",
		},
		tenantFlag: &cobraflags.StringFlag{
			Name:  tenantFlag,
			Value: "",
			Usage: "Tenant id or name (required)",
		},
		roleFlag: &cobraflags.StringFlag{
			Name:  roleFlag,
			Value: models.RoleUser,
			Usage: "Role: admin or user",
		},
	})

	cmd := &cobra.Command{
		Use:   "create-user",
		Short: "Create an active user with an explicit role",
		Long: `Create an active user. The password is read from the terminal without echo
and must be typed twice.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			in := services.RegisterInput{
				Email:  strings.TrimSpace(flags[emailFlag].GetString()),
				Tenant: strings.TrimSpace(flags[tenantFlag].GetString()),
				Role:   strings.TrimSpace(flags[roleFlag].GetString()),
			}
			if in.Email == "" || in.Tenant == "" {
				return fmt.Errorf("--%s and --%s are required", emailFlag, tenantFlag)
			}

			pw, err := promptNewPassword(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			in.Password = pw

			b, err := c.backend(cmd, flags)
			if err != nil {
				return err
			}
			defer b.Close()

			u, err := b.CreateUser(cmd.Context(), in)
			if err != nil {
				return fmt.Errorf("create user: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %s (%s) in tenant %s\n", u.Email, u.Role, u.TenantID)
			return nil
		},
	}
	cobraflags.RegisterMap(cmd, flags)
	return cmd
}

func (c *cli) unlockCommand() *cobra.Command {
	flags := withDSN(map[string]cobraflags.Flag{
		emailFlag: &cobraflags.StringFlag{
			Name:  emailFlag,
			Value: "",
			Usage: "Email whose failed logins are forgotten (required)",
		},
	})
	cmd := &cobra.Command{
		Use:   "unlock",
		Short: "Release a login lockout",
		RunE: func(cmd *cobra.Command, _ []string) error {
			addr := strings.TrimSpace(flags[emailFlag].GetString())
			if addr == "" {
				return fmt.Errorf("--%s is required", emailFlag)
			}
			b, err := c.backend(cmd, flags)
			if err != nil {
				return err
			}
			defer b.Close()

			if err := b.Unlock(cmd.Context(), addr); err != nil {
				return fmt.Errorf("unlock: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "unlocked %s\n", addr)
			return nil
		},
	}
	cobraflags.RegisterMap(cmd, flags)
	return cmd
}

// activationCommand builds activate and deactivate. Deactivation also
// signs the user out everywhere.
func (c *cli) activationCommand(use string, active bool) *cobra.Command {
	flags := withDSN(map[string]cobraflags.Flag{
		emailFlag: &cobraflags.StringFlag{
			Name:  emailFlag,
			Value: "",
			Usage: "Email of the account (required)",
		},
	})
	short := "Re-enable a disabled account"
	if !active {
		short = "Disable an account and revoke its sessions"
	}
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, _ []string) error {
			addr := strings.TrimSpace(flags[emailFlag].GetString())
			if addr == "" {
				return fmt.Errorf("--%s is required", emailFlag)
			}
			b, err := c.backend(cmd, flags)
			if err != nil {
				return err
			}
			defer b.Close()

			u, revoked, err := b.SetActive(cmd.Context(), addr, active)
			if err != nil {
				return fmt.Errorf("%s: %w", use, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%sd %s\n", use, u.Email)
			if !active {
				fmt.Fprintf(cmd.OutOrStdout(), "sessions revoked: %d\n", revoked)
			}
			return nil
		},
	}
	cobraflags.RegisterMap(cmd, flags)
	return cmd
}

func (c *cli) cleanupCommand() *cobra.Command {
	flags := withDSN(nil)
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete expired sessions, spent reset tokens and stale login failures",
		RunE: func(cmd *cobra.Command, _ []string) error {
			b, err := c.backend(cmd, flags)
			if err != nil {
				return err
			}
			defer b.Close()

			rep, err := b.Cleanup(cmd.Context())
			if err != nil {
				return fmt.Errorf("cleanup: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sessions: %d\nreset tokens: %d\nlogin failures: %d\n",
				rep.Sessions, rep.Resets, rep.LoginFailures)
			return nil
		},
	}
	cobraflags.RegisterMap(cmd, flags)
	return cmd
}

func (c *cli) healthCommand() *cobra.Command {
	flags := map[string]cobraflags.Flag{
		addrFlag: &cobraflags.StringFlag{
			Name:  addrFlag,
			Value: "",
			Usage: "gRPC health address (defaults to the configured one)",
		},
		svcFlag: &cobraflags.StringFlag{
			Name:  svcFlag,
			Value: "",
			Usage: "Service name to check; empty checks the whole server",
		},
	}
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Query the server's gRPC health endpoint",
		RunE: func(cmd *cobra.Command, _ []string) error {
			addr := flags[addrFlag].GetString()
			if addr == "" {
				addr = c.loadCfg().EndpointAddrGRPC
			}
			if strings.HasPrefix(addr, ":") {
				addr = "localhost" + addr
			}
			st, err := probe(cmd.Context(), addr, flags[svcFlag].GetString())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), st)
			if st != "SERVING" {
				return errNotServing
			}
			return nil
		},
	}
	cobraflags.RegisterMap(cmd, flags)
	return cmd
}

// promptNewPassword reads the password twice from the terminal. The raw
// buffers are zeroed before returning.
func promptNewPassword(w io.Writer) (string, error) {
	fmt.Fprint(w, "Password: ")
	first, err := readPassword(int(os.Stdin.Fd()))
	defer common.WipeByteArray(first)
	fmt.Fprintln(w)
	if err != nil {
		return "", err
	}
	fmt.Fprint(w, "Repeat password: ")
	second, err := readPassword(int(os.Stdin.Fd()))
	defer common.WipeByteArray(second)
	fmt.Fprintln(w)
	if err != nil {
		return "", err
	}
	if !bytes.Equal(first, second) {
		return "", errPasswordMismatch
	}
	return string(first), nil
}

// Execute runs the CLI with the production backend.
func Execute(ctx context.Context) error {
	return NewRootCommand(OpenDB, config.LoadConfig).ExecuteContext(ctx)
}
