package cli

import (
	"context"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/bigdegenenergy/open-cloud-ops/custodian/internal/database"
	"github.com/bigdegenenergy/open-cloud-ops/custodian/pkg/config"
)

var migrateCommand = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending PostgreSQL schema migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.Store != config.StorePostgres {
			return errors.Errorf("migrate requires the %s store, got %s", config.StorePostgres, cfg.Store)
		}
		logger := newLogger(cfg, os.Stderr)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()

		pool, err := database.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer pool.Close()

		if err := database.Migrate(ctx, pool, logger); err != nil {
			return err
		}
		logger.Info().Msg("Migrations applied")
		return nil
	},
}

func init() {
	rootCommand.AddCommand(migrateCommand)
}
