package cmd

import (
	"context"
	"fmt"
	"time"

	"storefront-service/internal/app"
	"storefront-service/internal/domain/auth"
	"storefront-service/internal/metrics"
	"storefront-service/internal/service/reconcile"

	"github.com/spf13/cobra"
)

const accountTimeout = 30 * time.Second

var accountCmd = &cobra.Command{
	Use:   "account",
	Short: "Inspect and repair account entries",
	Long: `Inspect and repair the role and profile entries that back a storefront account.

Examples:
  storefrontctl account verify 6f1c...
  storefrontctl account repair 6f1c...
  storefrontctl account role 6f1c... --json`,
}

var accountVerifyCmd = &cobra.Command{
	Use:   "verify <user-id>",
	Short: "Ensure the account has a role and a profile",
	Args:  cobra.ExactArgs(1),
	RunE:  runAccountVerify,
}

var accountRepairCmd = &cobra.Command{
	Use:   "repair <user-id>",
	Short: "Run the full repair for the account",
	Args:  cobra.ExactArgs(1),
	RunE:  runAccountRepair,
}

var accountCheckCmd = &cobra.Command{
	Use:   "check <user-id>",
	Short: "Report whether a profile exists for the account",
	Args:  cobra.ExactArgs(1),
	RunE:  runAccountCheck,
}

var accountRoleCmd = &cobra.Command{
	Use:   "role <user-id>",
	Short: "Resolve the account role and its landing view",
	Args:  cobra.ExactArgs(1),
	RunE:  runAccountRole,
}

var destinationCmd = &cobra.Command{
	Use:   "destination <role>",
	Short: "Show the landing view for a role",
	Long: `Show the landing view a role is routed to. Unknown roles land on the
customer home.`,
	Args: cobra.ExactArgs(1),
	RunE: runDestination,
}

func init() {
	rootCmd.AddCommand(destinationCmd)

	accountCmd.AddCommand(accountVerifyCmd)
	accountCmd.AddCommand(accountRepairCmd)
	accountCmd.AddCommand(accountCheckCmd)
	accountCmd.AddCommand(accountRoleCmd)
	rootCmd.AddCommand(accountCmd)
}

// withBackend opens storage for the duration of fn.
func withBackend(fn func(ctx context.Context, b *app.Backend) error) error {
	cfg, err := loadConfig()
	if err != nil {
		printError(err)
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), accountTimeout)
	defer cancel()

	backend, err := app.NewBackend(ctx, cfg, newLogger(), metrics.Nop{})
	if err != nil {
		printError(err)
		return err
	}
	defer backend.Close()

	return fn(ctx, backend)
}

func runAccountVerify(cmd *cobra.Command, args []string) error {
	return withBackend(func(ctx context.Context, b *app.Backend) error {
		return reportConsistency(args[0], b.Repairer.VerifyConsistency(ctx, args[0]), "consistent", "inconsistent")
	})
}

func runAccountRepair(cmd *cobra.Command, args []string) error {
	return withBackend(func(ctx context.Context, b *app.Backend) error {
		return reportConsistency(args[0], b.Repairer.RepairEntries(ctx, args[0]), "repaired", "repair failed")
	})
}

func runAccountCheck(cmd *cobra.Command, args []string) error {
	return withBackend(func(ctx context.Context, b *app.Backend) error {
		return reportConsistency(args[0], b.Repairer.CheckExists(ctx, args[0]), "profile exists", "no profile")
	})
}

func runAccountRole(cmd *cobra.Command, args []string) error {
	return withBackend(func(ctx context.Context, b *app.Backend) error {
		role, err := b.Resolver.Resolve(ctx, args[0])
		if err != nil {
			printError(err)
			return err
		}

		view := reconcile.DestinationFor(string(role))
		if jsonOut {
			return printJSON(&auth.DestinationResponse{
				Role:        role,
				Destination: string(view),
				Path:        view.Path(),
			})
		}

		shown := string(role)
		if shown == "" {
			shown = "(none)"
		}
		w := newTable()
		printTableHeader(w, "USER", "ROLE", "DESTINATION", "PATH")
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", args[0], shown, view, view.Path())
		return w.Flush()
	})
}

func runDestination(cmd *cobra.Command, args []string) error {
	view := reconcile.DestinationFor(args[0])
	if jsonOut {
		return printJSON(&auth.DestinationResponse{
			Role:        auth.Role(args[0]),
			Destination: string(view),
			Path:        view.Path(),
		})
	}
	fmt.Fprintf(stdout, "%s -> %s (%s)\n", args[0], view, view.Path())
	return nil
}

func reportConsistency(userID string, ok bool, good, bad string) error {
	if jsonOut {
		if err := printJSON(&auth.ConsistencyResponse{UserID: userID, OK: ok}); err != nil {
			return err
		}
	} else if ok {
		fmt.Fprintf(stdout, "%s: %s\n", userID, good)
	} else {
		fmt.Fprintf(stdout, "%s: %s\n", userID, bad)
	}
	if !ok {
		return fmt.Errorf("%s: %s", userID, bad)
	}
	return nil
}
