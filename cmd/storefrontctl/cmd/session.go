package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"storefront-service/internal/app"
	"storefront-service/internal/db"
	"storefront-service/internal/domain/auth"
	"storefront-service/internal/identity"
	"storefront-service/internal/metrics"
	"storefront-service/internal/pkg/jwt"
	"storefront-service/internal/pkg/session"
	authUsecase "storefront-service/internal/service/auth"
	"storefront-service/internal/service/reconcile"

	"github.com/spf13/cobra"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Drive a storefront session from the command line",
}

var sessionWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Sign in and follow role resolution until a landing view is known",
	Long: `Sign in (or sign up with --signup) and print every reconciler state
until the role is resolved or resolution gives up. The session is signed out
afterwards unless --keep is set.

The password is read from --password or STOREFRONT_PASSWORD.

Examples:
  storefrontctl session watch --email jane@example.com
  storefrontctl session watch --email new@example.com --signup --role seller`,
	RunE: runSessionWatch,
}

func init() {
	sessionWatchCmd.Flags().String("email", "", "Account email (required)")
	sessionWatchCmd.Flags().String("password", "", "Account password")
	sessionWatchCmd.Flags().Bool("signup", false, "Create the account instead of signing in")
	sessionWatchCmd.Flags().String("name", "", "Full name for --signup")
	sessionWatchCmd.Flags().String("role", "", "Requested role for --signup")
	sessionWatchCmd.Flags().Bool("keep", false, "Leave the session signed in")
	sessionWatchCmd.Flags().Duration("timeout", time.Minute, "Give up after this long")
	_ = sessionWatchCmd.MarkFlagRequired("email")

	sessionCmd.AddCommand(sessionWatchCmd)
	rootCmd.AddCommand(sessionCmd)
}

func runSessionWatch(cmd *cobra.Command, args []string) error {
	email, _ := cmd.Flags().GetString("email")
	password, _ := cmd.Flags().GetString("password")
	signup, _ := cmd.Flags().GetBool("signup")
	name, _ := cmd.Flags().GetString("name")
	role, _ := cmd.Flags().GetString("role")
	keep, _ := cmd.Flags().GetBool("keep")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	if password == "" {
		password = os.Getenv("STOREFRONT_PASSWORD")
	}
	if password == "" {
		err := errors.New("a password is required (--password or STOREFRONT_PASSWORD)")
		printError(err)
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		printError(err)
		return err
	}
	logger := newLogger()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	backend, err := app.NewBackend(ctx, cfg, logger, metrics.Nop{})
	if err != nil {
		printError(err)
		return err
	}
	defer backend.Close()

	redisClient, err := db.NewRedisClient(db.RedisConfig{
		Address:  cfg.RedisAddr,
		Password: cfg.RedisPass,
		DB:       cfg.RedisDB,
		PoolSize: 2,
	})
	if err != nil {
		printError(err)
		return err
	}
	defer redisClient.Close()

	jwtManager, err := jwt.LoadAndBuild(cfg.JWT)
	if err != nil {
		printError(err)
		return err
	}

	eventBus := session.NewEventBus(redisClient, logger)
	authService := authUsecase.NewAuthService(
		backend.Credentials, backend.Roles, backend.Profiles,
		jwtManager,
		session.NewManager(redisClient, logger),
		session.NewRateLimiter(redisClient),
		eventBus,
		logger,
	)

	client := identity.NewClient(authService, eventBus, logger)
	defer client.Close()

	reconciler := reconcile.NewReconciler(client, backend.Resolver, cfg.RoleFetch, reconcile.SystemClock(), logger, metrics.Nop{})
	defer reconciler.Close()

	states, unsubscribe := reconciler.Subscribe()
	defer unsubscribe()

	if err := reconciler.Start(ctx); err != nil {
		printError(err)
		return err
	}

	if signup {
		_, err = client.SignUp(ctx, &auth.SignUpRequest{
			Email:       email,
			Password:    password,
			FullName:    name,
			RoleRequest: role,
			Device:      "storefrontctl",
		})
	} else {
		_, err = client.SignInWithPassword(ctx, &auth.LoginRequest{
			Email:    email,
			Password: password,
			Device:   "storefrontctl",
		})
	}
	if err != nil {
		printError(err)
		return err
	}

	final, err := followStates(ctx, states, func(s reconcile.State) bool {
		return s.AuthState == auth.StateError ||
			(s.AuthState == auth.StateAuthenticated && s.Role != "")
	})
	if err != nil {
		printError(err)
		return err
	}

	if !keep {
		if err := client.SignOut(ctx); err != nil {
			printError(err)
			return err
		}
		if _, err := followStates(ctx, states, func(s reconcile.State) bool {
			return s.AuthState == auth.StateUnauthenticated
		}); err != nil {
			printError(err)
			return err
		}
	}

	if final.AuthState == auth.StateError {
		return fmt.Errorf("role resolution failed: %s", final.LastError)
	}
	return nil
}

// followStates prints snapshots until done reports true.
func followStates(ctx context.Context, states <-chan reconcile.State, done func(reconcile.State) bool) (reconcile.State, error) {
	for {
		select {
		case <-ctx.Done():
			return reconcile.State{}, fmt.Errorf("gave up waiting: %w", ctx.Err())
		case s, ok := <-states:
			if !ok {
				return reconcile.State{}, errors.New("reconciler closed")
			}
			printState(s)
			if done(s) {
				return s, nil
			}
		}
	}
}

func printState(s reconcile.State) {
	if jsonOut {
		_ = printJSON(s)
		return
	}

	line := fmt.Sprintf("%-16s", s.AuthState)
	if s.Identity != nil {
		line += fmt.Sprintf(" %s <%s>", reconcile.DisplayName(s.Identity), s.Identity.Email)
	}
	if s.Role != "" {
		view := reconcile.DestinationFor(string(s.Role))
		line += fmt.Sprintf(" role=%s -> %s", s.Role, view.Path())
	}
	if s.RoleFetchAttempts > 0 {
		line += fmt.Sprintf(" attempts=%d", s.RoleFetchAttempts)
	}
	if s.LastError != "" {
		line += fmt.Sprintf(" error=%q", s.LastError)
	}
	fmt.Fprintln(stdout, line)
}
