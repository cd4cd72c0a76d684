package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/gofrs/uuid/v5"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/and161185/basejwt/internal/app"
	"github.com/and161185/basejwt/internal/config"
	"github.com/and161185/basejwt/internal/logger"
	"github.com/and161185/basejwt/internal/migrate"
	"github.com/and161185/basejwt/internal/service"
)

type env struct {
	cfgPath string
	out     io.Writer

	cfg      *config.Config
	log      *zap.Logger
	closeLog func() error
	app      *app.App
}

func (e *env) load() error {
	if e.cfg != nil {
		return nil
	}
	cfg, err := config.Load(e.cfgPath)
	if err != nil {
		return err
	}
	log, closeLog, err := logger.New(cfg.Log)
	if err != nil {
		return err
	}
	e.cfg, e.log, e.closeLog = cfg, log, closeLog
	return nil
}

func (e *env) services(ctx context.Context) (*service.Services, error) {
	if err := e.load(); err != nil {
		return nil, err
	}
	if e.app == nil {
		a, err := app.Build(ctx, e.cfg, e.log)
		if err != nil {
			return nil, err
		}
		e.app = a
	}
	return e.app.Services, nil
}

func (e *env) close() {
	if e.app != nil {
		e.app.Close()
	}
	if e.log != nil {
		_ = e.log.Sync()
		_ = e.closeLog()
	}
}

func (e *env) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(e.out, format, args...)
}

func newRootCmd(out io.Writer) *cobra.Command {
	e := &env{out: out}
	root := &cobra.Command{
		Use:           "authctl",
		Short:         "Administer users, roles and the schema of a basejwt store",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPostRun: func(*cobra.Command, []string) {
			e.close()
		},
	}
	root.PersistentFlags().StringVar(&e.cfgPath, "config", "", "path to YAML config (env BASEJWT_* overrides apply)")
	root.SetOut(out)

	root.AddCommand(migrateCmd(e), userCmd(e), roleCmd(e), privilegeCmd(e))
	return root
}

func migrateCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{Use: "migrate", Short: "Apply or inspect schema migrations"}
	step := func(use, short string, fn func(ctx context.Context, dsn string) error) *cobra.Command {
		return &cobra.Command{
			Use:   use,
			Short: short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				if err := e.load(); err != nil {
					return err
				}
				if e.cfg.Storage.Driver != "postgres" {
					return errors.New("migrations apply to the postgres driver only")
				}
				return fn(cmd.Context(), e.cfg.Storage.DSN)
			},
		}
	}
	cmd.AddCommand(
		step("up", "Apply all pending migrations", migrate.Up),
		step("down", "Roll back the latest migration", migrate.Down),
		step("status", "Print migration status", migrate.Status),
	)
	return cmd
}

func parseUserID(s string) (uuid.UUID, error) {
	id, err := uuid.FromString(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("bad user id %q: %w", s, err)
	}
	return id, nil
}

func parseIntID(kind, s string) (int, error) {
	id, err := strconv.Atoi(s)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("bad %s id %q", kind, s)
	}
	return id, nil
}

func userCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{Use: "user", Short: "Account administration"}

	unlock := &cobra.Command{
		Use:   "unlock USER_ID",
		Short: "Clear a lockout and the failed-login counter",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseUserID(args[0])
			if err != nil {
				return err
			}
			svc, err := e.services(cmd.Context())
			if err != nil {
				return err
			}
			if err := svc.Auth.Unlock(cmd.Context(), id); err != nil {
				return err
			}
			e.printf("unlocked %s\n", id)
			return nil
		},
	}

	revokeAll := &cobra.Command{
		Use:   "revoke-all USER_ID",
		Short: "Revoke every live refresh token of a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseUserID(args[0])
			if err != nil {
				return err
			}
			svc, err := e.services(cmd.Context())
			if err != nil {
				return err
			}
			n, err := svc.Refresh.RevokeAll(cmd.Context(), id)
			if err != nil {
				return err
			}
			e.printf("revoked %d\n", n)
			return nil
		},
	}

	sessions := &cobra.Command{
		Use:   "sessions USER_ID",
		Short: "List live refresh tokens of a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseUserID(args[0])
			if err != nil {
				return err
			}
			svc, err := e.services(cmd.Context())
			if err != nil {
				return err
			}
			list, err := svc.Refresh.ActiveSessions(cmd.Context(), id)
			if err != nil {
				return err
			}
			for _, t := range list {
				e.printf("%s\tcreated=%s\texpires=%s\n", t.ID, t.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"), t.ExpiresAt.UTC().Format("2006-01-02T15:04:05Z"))
			}
			return nil
		},
	}

	resetToken := &cobra.Command{
		Use:   "reset-token USER_ID",
		Short: "Issue a password reset token for out-of-band delivery",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseUserID(args[0])
			if err != nil {
				return err
			}
			svc, err := e.services(cmd.Context())
			if err != nil {
				return err
			}
			t, err := svc.Reset.Issue(cmd.Context(), id)
			if err != nil {
				return err
			}
			e.printf("%s\texpires=%s\n", t.Token, t.ExpiresAt.UTC().Format("2006-01-02T15:04:05Z"))
			return nil
		},
	}

	cmd.AddCommand(unlock, revokeAll, sessions, resetToken)
	return cmd
}

func roleCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{Use: "role", Short: "Role administration"}

	var code, description string
	var isDefault bool
	create := &cobra.Command{
		Use:   "create NAME",
		Short: "Create a role",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := e.services(cmd.Context())
			if err != nil {
				return err
			}
			r, err := svc.Access.CreateRole(cmd.Context(), args[0], code, description, isDefault)
			if err != nil {
				return err
			}
			e.printf("role %d %s (%s)\n", r.ID, r.Name, r.Code)
			return nil
		},
	}
	create.Flags().StringVar(&code, "code", "", "short role code carried in access tokens")
	create.Flags().StringVar(&description, "description", "", "free-form description")
	create.Flags().BoolVar(&isDefault, "default", false, "assign to self-registered users")
	_ = create.MarkFlagRequired("code")

	rename := &cobra.Command{
		Use:   "rename ROLE_ID NAME",
		Short: "Rename a role",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseIntID("role", args[0])
			if err != nil {
				return err
			}
			svc, err := e.services(cmd.Context())
			if err != nil {
				return err
			}
			return svc.Access.RenameRole(cmd.Context(), id, args[1])
		},
	}

	link := func(use, short string, grant bool) *cobra.Command {
		return &cobra.Command{
			Use:   use + " ROLE_ID PRIVILEGE_ID",
			Short: short,
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				roleID, err := parseIntID("role", args[0])
				if err != nil {
					return err
				}
				privID, err := parseIntID("privilege", args[1])
				if err != nil {
					return err
				}
				svc, err := e.services(cmd.Context())
				if err != nil {
					return err
				}
				if grant {
					return svc.Access.GrantPrivilege(cmd.Context(), roleID, privID)
				}
				return svc.Access.RevokePrivilege(cmd.Context(), roleID, privID)
			},
		}
	}

	cmd.AddCommand(create, rename,
		link("grant", "Attach a privilege to a role", true),
		link("revoke", "Detach a privilege from a role", false),
	)
	return cmd
}

func privilegeCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{Use: "privilege", Short: "Privilege administration"}

	create := &cobra.Command{
		Use:   "create NAME",
		Short: "Create a privilege",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := e.services(cmd.Context())
			if err != nil {
				return err
			}
			p, err := svc.Access.CreatePrivilege(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			e.printf("privilege %d %s\n", p.ID, p.Name)
			return nil
		},
	}

	rename := &cobra.Command{
		Use:   "rename PRIVILEGE_ID NAME",
		Short: "Rename a privilege",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseIntID("privilege", args[0])
			if err != nil {
				return err
			}
			svc, err := e.services(cmd.Context())
			if err != nil {
				return err
			}
			return svc.Access.RenamePrivilege(cmd.Context(), id, args[1])
		},
	}

	cmd.AddCommand(create, rename)
	return cmd
}
