package cmd

import (
	"errors"
	"fmt"

	"storefront-service/internal/config"
	"storefront-service/internal/db"

	"github.com/golang-migrate/migrate/v4"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the account schema",
	Long:  `Apply or roll back the embedded account migrations against DATABASE_URL.`,
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply pending migrations",
	RunE:  runMigrateUp,
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back migrations",
	Long: `Roll back the given number of migrations.

Example:
  storefrontctl migrate down --steps 1`,
	RunE: runMigrateDown,
}

var migrateVersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show the current schema version",
	RunE:  runMigrateVersion,
}

func init() {
	migrateDownCmd.Flags().Int("steps", 1, "Number of migrations to roll back")

	migrateCmd.AddCommand(migrateUpCmd)
	migrateCmd.AddCommand(migrateDownCmd)
	migrateCmd.AddCommand(migrateVersionCmd)
	rootCmd.AddCommand(migrateCmd)
}

func openMigrator() (*migrate.Migrate, error) {
	cfg := config.Load()
	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is not set")
	}
	return db.NewMigrator(cfg.DatabaseURL)
}

func runMigrateUp(cmd *cobra.Command, args []string) error {
	m, err := openMigrator()
	if err != nil {
		printError(err)
		return err
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		printError(err)
		return err
	}
	return reportVersion(m)
}

func runMigrateDown(cmd *cobra.Command, args []string) error {
	steps, _ := cmd.Flags().GetInt("steps")
	if steps < 1 {
		err := fmt.Errorf("--steps must be at least 1")
		printError(err)
		return err
	}

	m, err := openMigrator()
	if err != nil {
		printError(err)
		return err
	}
	defer m.Close()

	if err := m.Steps(-steps); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		printError(err)
		return err
	}
	return reportVersion(m)
}

func runMigrateVersion(cmd *cobra.Command, args []string) error {
	m, err := openMigrator()
	if err != nil {
		printError(err)
		return err
	}
	defer m.Close()
	return reportVersion(m)
}

func reportVersion(m *migrate.Migrate) error {
	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		version, dirty, err = 0, false, nil
	}
	if err != nil {
		printError(err)
		return err
	}

	if jsonOut {
		return printJSON(map[string]interface{}{
			"version": version,
			"dirty":   dirty,
		})
	}
	fmt.Fprintf(stdout, "Schema version: %d", version)
	if dirty {
		fmt.Fprint(stdout, " (dirty)")
	}
	fmt.Fprintln(stdout)
	return nil
}
