package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"suarawarga/backend/internal/app"
	"suarawarga/backend/internal/auth"
	"suarawarga/backend/internal/config"
	"suarawarga/backend/internal/logger"
	"suarawarga/backend/internal/models"
	"suarawarga/backend/internal/verification"

	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "admin",
		Short:        "SuaraWarga maintenance commands",
		SilenceUsage: true,
	}
	root.AddCommand(
		migrateCmd(),
		issueTokenCmd(),
		setRoleCmd(),
		fingerprintCmd(),
		anchorCmd(),
		verifyCmd(),
		retryFailedCmd(),
	)
	return root
}

// withApp loads the configuration, connects the stores and runs fn.
func withApp(fn func(ctx context.Context, cmd *cobra.Command, a *app.App, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		log, err := logger.New(logger.Config{Level: cfg.Log.Level, Development: cfg.Log.Development, OutputPaths: []string{"stderr"}})
		if err != nil {
			return err
		}
		defer log.Sync()

		ctx := cmd.Context()
		a, err := app.New(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer a.Close()
		return fn(ctx, cmd, a, args)
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		Args:  cobra.NoArgs,
		RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app.App, _ []string) error {
			if err := a.Store.Migrate(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations complete")
			return nil
		}),
	}
}

func issueTokenCmd() *cobra.Command {
	var role string
	cmd := &cobra.Command{
		Use:   "issue-token <actor_id>",
		Short: "Issue a bearer token for a reviewer or admin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if !validRole(role) {
				return fmt.Errorf("unknown role %q", role)
			}
			token, err := auth.NewTokens(cfg.JWTSecret, auth.DefaultTokenTTL).Issue(auth.Actor{ID: args[0], Role: role})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&role, "role", models.RoleReviewer, "citizen, reviewer or admin")
	return cmd
}

func setRoleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-role <user_id> <role>",
		Short: "Change the role of a registered user",
		Args:  cobra.ExactArgs(2),
		RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app.App, args []string) error {
			if !validRole(args[1]) {
				return fmt.Errorf("unknown role %q", args[1])
			}
			user, err := a.Store.GetUserByID(ctx, args[0])
			if err != nil {
				return err
			}
			user.Role = args[1]
			if err := a.Store.SaveUser(ctx, user); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "user %s is now %s\n", user.ID, user.Role)
			return nil
		}),
	}
}

func fingerprintCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fingerprint <complaint_id>",
		Short: "Recompute a complaint fingerprint and compare it with the anchored one",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app.App, args []string) error {
			c, err := a.Store.GetComplaint(ctx, args[0])
			if err != nil {
				return err
			}
			fp := verification.Fingerprint(verification.TupleOf(c))
			fmt.Fprintf(cmd.OutOrStdout(), "computed:     %s\n", fp)
			if c.Fingerprint == nil {
				fmt.Fprintf(cmd.OutOrStdout(), "anchored:     none (%s)\n", c.VerificationStatus)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "anchored:     %s\n", *c.Fingerprint)
			if *c.Fingerprint != fp {
				return fmt.Errorf("complaint %s does not match its anchored fingerprint", c.ID)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "match")
			return nil
		}),
	}
}

func anchorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "anchor <complaint_id>",
		Short: "Anchor a complaint and wait for the outcome",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app.App, args []string) error {
			if a.Anchorer == nil {
				return fmt.Errorf("ledger disabled, set SUARAWARGA_LEDGER_ENABLED")
			}
			rec, err := a.Anchorer.Anchor(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "record %s: %s ref=%s\n", rec.ID, rec.Status, rec.ExternalRef)
			return nil
		}),
	}
}

func verifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <ref>",
		Short: "Look up a ledger reference and check the complaint it anchors",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app.App, args []string) error {
			rec, err := a.Store.FindVerificationByRef(ctx, args[0])
			if err != nil {
				return err
			}
			c, err := a.Store.GetComplaint(ctx, rec.ComplaintID)
			if err != nil {
				return err
			}
			intact := verification.Fingerprint(verification.TupleOf(c)) == rec.Fingerprint
			fmt.Fprintf(cmd.OutOrStdout(), "complaint %s record %s (%s) intact=%t\n", c.ID, rec.ID, rec.Status, intact)

			if a.Anchorer != nil {
				proof, err := a.Anchorer.Lookup(ctx, args[0])
				if err != nil {
					return fmt.Errorf("ledger lookup: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "ledger found=%t block=%d at=%s cost=%s\n", proof.Found, proof.BlockNumber, proof.Timestamp, proof.Cost)
			}
			if !intact {
				return fmt.Errorf("complaint %s was modified after anchoring", c.ID)
			}
			return nil
		}),
	}
}

func retryFailedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retry-failed",
		Short: "Re-anchor complaints whose verification failed",
		Args:  cobra.NoArgs,
		RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app.App, _ []string) error {
			if a.Worker == nil {
				return fmt.Errorf("ledger disabled, set SUARAWARGA_LEDGER_ENABLED")
			}
			n, err := a.Worker.RetryFailed(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d complaints confirmed\n", n)
			return nil
		}),
	}
}

func validRole(role string) bool {
	switch role {
	case models.RoleCitizen, models.RoleReviewer, models.RoleAdmin:
		return true
	}
	return false
}
