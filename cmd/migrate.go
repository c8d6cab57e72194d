package cmd

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tgdrive/geonotify/internal/config"
	"github.com/tgdrive/geonotify/internal/database"
	"github.com/tgdrive/geonotify/internal/logging"
	"github.com/tgdrive/geonotify/internal/queue"
)

func NewMigrate() *cobra.Command {
	var cfg config.MigrateCmdConfig
	loader := config.NewConfigLoader()
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrations(cmd.Context(), &cfg)
		},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := loader.Load(cmd, &cfg); err != nil {
				return err
			}
			return loader.Validate()
		},
	}
	loader.RegisterFlags(cmd.Flags(), "", cfg, false)
	return cmd
}

func runMigrations(ctx context.Context, conf *config.MigrateCmdConfig) error {
	logging.SetConfig(&logging.Config{
		Level:    logging.ParseLevel(conf.Log.Level),
		FilePath: conf.Log.File,
	})
	lg := logging.DefaultLogger()
	defer lg.Sync()

	db, err := database.NewDatabase(&conf.DB, lg)
	if err != nil {
		return err
	}
	if err := database.MigrateDB(db); err != nil {
		return err
	}

	pool, err := database.NewPool(ctx, &conf.DB)
	if err != nil {
		return err
	}
	defer pool.Close()
	if err := queue.Migrate(ctx, pool, lg); err != nil {
		return errors.Wrap(err, "migrate queue")
	}

	lg.Info("migrate.done", zap.String("schema", database.Schema))
	return nil
}
