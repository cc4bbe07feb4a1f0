package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dalemusser/liveplay/internal/app/system/identity"
	"github.com/spf13/cobra"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"
)

func yamlEncoder(w io.Writer) *yaml.Encoder {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	return enc
}

func (a *app) configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration with secrets masked",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.config()
			if err != nil {
				return err
			}
			return a.printYAML(cmd, cfg.redacted())
		},
	}
}

func (a *app) issueTokenCmd() *cobra.Command {
	var (
		hostID   string
		tenantID string
		admin    bool
		ttl      time.Duration
	)
	cmd := &cobra.Command{
		Use:   "issue-token",
		Short: "Sign a host bearer token with the IdP secret",
		Long: `issue-token signs a host bearer token the way the identity provider
does. It is meant for development and smoke tests.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.config()
			if err != nil {
				return err
			}
			if cfg.IDPJWTSecret == "" {
				return errors.New("idp_jwt_secret is not configured")
			}
			if strings.TrimSpace(hostID) == "" {
				return errors.New("--host is required")
			}
			if ttl <= 0 {
				return errors.New("--ttl must be positive")
			}
			actor := identity.Actor{HostID: hostID, TenantID: tenantID, IsAdmin: admin}
			tok, err := identity.SignBearer([]byte(cfg.IDPJWTSecret), actor, ttl, time.Now())
			if err != nil {
				return fmt.Errorf("sign token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&hostID, "host", "", "Host ID (token subject)")
	cmd.Flags().StringVar(&tenantID, "tenant", "", "Tenant ID")
	cmd.Flags().BoolVar(&admin, "admin", false, "Grant operator access")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "Token lifetime")
	return cmd
}

func (a *app) hashSecretCmd() *cobra.Command {
	var cost int
	cmd := &cobra.Command{
		Use:   "hash-secret <secret>",
		Short: "Print the bcrypt hash to use as cleanup_secret_hash",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args[0]) < 12 {
				return errors.New("secret must be at least 12 characters")
			}
			hash, err := bcrypt.GenerateFromPassword([]byte(args[0]), cost)
			if err != nil {
				return fmt.Errorf("hash secret: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(hash))
			return nil
		},
	}
	cmd.Flags().IntVar(&cost, "cost", bcrypt.DefaultCost, "bcrypt cost")
	return cmd
}

func (a *app) sweepCmd() *cobra.Command {
	var cleanupOnly bool
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run one maintenance pass and print what changed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.config()
			if err != nil {
				return err
			}
			svc, closeFn, err := a.runtime(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer closeFn()

			run := svc.Sweeper.RunOnce
			if cleanupOnly {
				run = svc.Sweeper.RunCleanup
			}
			report := run(cmd.Context())
			if err := a.printYAML(cmd, report); err != nil {
				return err
			}
			if len(report.Errors) > 0 {
				return fmt.Errorf("%d sweep steps failed", len(report.Errors))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&cleanupOnly, "cleanup", false, "Run only the cleanup steps: token expiry, archival and idle disconnect")
	return cmd
}

func (a *app) purgeCmd() *cobra.Command {
	var confirm bool
	cmd := &cobra.Command{
		Use:   "purge <session-id>",
		Short: "Permanently delete an archived session past its cooling-off period",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := primitive.ObjectIDFromHex(strings.TrimSpace(args[0]))
			if err != nil {
				return fmt.Errorf("invalid session id %q", args[0])
			}
			if !confirm {
				return errors.New("purge is permanent; pass --yes to confirm")
			}
			cfg, err := a.config()
			if err != nil {
				return err
			}
			svc, closeFn, err := a.runtime(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer closeFn()

			report, err := svc.Sweeper.Purge(cmd.Context(), identity.SystemActor(), id)
			if err != nil {
				return fmt.Errorf("purge %s: %w", id.Hex(), err)
			}
			return a.printYAML(cmd, report)
		},
	}
	cmd.Flags().BoolVar(&confirm, "yes", false, "Confirm permanent deletion")
	return cmd
}
