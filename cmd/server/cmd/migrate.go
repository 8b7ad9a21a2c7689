package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/eventhorizon/server/internal/config"
	"github.com/eventhorizon/server/internal/storage/postgres"
	"github.com/spf13/cobra"
)

var migrateDownSteps int

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply or roll back database migrations",
	Long: `Apply or roll back the embedded database migrations.

"up" also creates or upgrades the River job queue tables. "down" drops them
once the application schema has been rolled back completely.

Examples:
  # Apply all pending migrations
  server migrate up

  # Roll back the last migration
  server migrate down

  # Roll back three migrations
  server migrate down --steps 3`,
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("config error: %w", err)
		}
		logger := config.NewLogger(cfg.Logging)

		if err := postgres.MigrateUp(cfg.Database.URL); err != nil {
			return err
		}
		if err := migrateJobQueue(cmd.Context(), cfg, false); err != nil {
			return err
		}
		return reportMigrationVersion(cmd, cfg.Database.URL, func(version uint, dirty bool) {
			logger.Info().Uint("version", version).Bool("dirty", dirty).Msg("migrations applied")
		})
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if migrateDownSteps < 1 {
			return fmt.Errorf("--steps must be at least 1")
		}
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("config error: %w", err)
		}
		logger := config.NewLogger(cfg.Logging)

		if err := postgres.MigrateDown(cfg.Database.URL, migrateDownSteps); err != nil {
			return err
		}
		if err := reportMigrationVersion(cmd, cfg.Database.URL, func(version uint, dirty bool) {
			logger.Info().Uint("version", version).Int("steps", migrateDownSteps).Msg("migrations rolled back")
		}); err != nil {
			return err
		}
		// The job tables go once the application schema is fully rolled back.
		version, _, err := postgres.MigrationVersion(cfg.Database.URL)
		if err != nil || version > 0 {
			return err
		}
		return migrateJobQueue(cmd.Context(), cfg, true)
	},
}

func init() {
	migrateCmd.AddCommand(migrateUpCmd)
	migrateCmd.AddCommand(migrateDownCmd)

	migrateDownCmd.Flags().IntVar(&migrateDownSteps, "steps", 1, "number of migrations to roll back")
}

// migrateJobQueue applies or removes River's job tables.
func migrateJobQueue(ctx context.Context, cfg config.Config, remove bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	pool, _, err := openRepository(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	migrateCtx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	run, label := postgres.MigrateJobQueue, "job queue migrated"
	if remove {
		run, label = postgres.RemoveJobQueue, "job queue removed"
	}
	versions, err := run(migrateCtx, pool)
	if err != nil {
		return err
	}
	logger := config.NewLogger(cfg.Logging)
	logger.Info().Ints("river_versions", versions).Msg(label)
	return nil
}

func reportMigrationVersion(cmd *cobra.Command, databaseURL string, log func(version uint, dirty bool)) error {
	version, dirty, err := postgres.MigrationVersion(databaseURL)
	if err != nil {
		return fmt.Errorf("read migration version: %w", err)
	}
	log(version, dirty)
	fmt.Fprintf(cmd.OutOrStdout(), "Schema version: %d\n", version)
	return nil
}
