package main

import (
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/spf13/cobra"

	"github.com/ahutchings/warden/internal/config"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	RunE:  runMigrate,
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll the schema back to empty",
	RunE:  runMigrateDown,
}

func init() {
	migrateCmd.AddCommand(migrateDownCmd)
	rootCmd.AddCommand(migrateCmd)
}

func openMigrator() (*migrate.Migrate, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	m, err := migrate.New(cfg.MigrationsSource(), cfg.DatabaseURLForMigrate())
	if err != nil {
		return nil, fmt.Errorf("opening migrator: %w", err)
	}
	return m, nil
}

func runMigrate(cmd *cobra.Command, args []string) error {
	m, err := openMigrator()
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Up(); err != nil {
		if err == migrate.ErrNoChange {
			slog.Info("schema already up to date")
			return nil
		}
		return fmt.Errorf("applying migrations: %w", err)
	}

	slog.Info("schema migrated")
	return nil
}

func runMigrateDown(cmd *cobra.Command, args []string) error {
	m, err := openMigrator()
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Down(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("rolling back migrations: %w", err)
	}

	slog.Info("schema rolled back")
	return nil
}
