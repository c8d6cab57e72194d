package cmd

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/tgdrive/geonotify/internal/cache"
	"github.com/tgdrive/geonotify/internal/config"
	"github.com/tgdrive/geonotify/internal/database"
	"github.com/tgdrive/geonotify/internal/logging"
	"github.com/tgdrive/geonotify/internal/mailer"
	"github.com/tgdrive/geonotify/internal/reminder"
	"github.com/tgdrive/geonotify/pkg/services"
)

func NewRemind() *cobra.Command {
	var cfg config.RemindCmdConfig
	loader := config.NewConfigLoader()
	cmd := &cobra.Command{
		Use:   "remind",
		Short: "Send one round of reminder e-mails and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReminders(cmd.Context(), &cfg)
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

func runReminders(ctx context.Context, conf *config.RemindCmdConfig) error {
	logging.SetConfig(&logging.Config{
		Level:    logging.ParseLevel(conf.Log.Level),
		FilePath: conf.Log.File,
	})
	lg := logging.DefaultLogger()
	defer lg.Sync()
	ctx = logging.WithLogger(ctx, lg)

	db, err := database.NewDatabase(&conf.DB, lg)
	if err != nil {
		return err
	}

	redisClient := connectRedis(ctx, &conf.Redis, lg)
	if redisClient != nil {
		defer redisClient.Close()
	}
	cacher := cache.New(redisClient, conf.Cache.MaxSize)

	stats, err := newReminders(db, cacher, &conf.Cache, &conf.Reminders, &conf.SMTP, lg).Run(ctx)
	if err != nil {
		return err
	}
	lg.Info("remind.done",
		zap.Int("recipients", stats.Recipients),
		zap.Int("emails", stats.Emails),
		zap.Int("reminded", stats.Reminded),
		zap.Int("suppressed", stats.Suppressed),
		zap.Int("failed", stats.Failed))
	return nil
}

func newReminders(db *gorm.DB, cacher cache.Cacher, cacheConf *config.CacheConfig,
	conf *config.ReminderConfig, smtp *config.SMTPConfig, lg *zap.Logger) *reminder.Scheduler {
	return reminder.New(
		services.NewNotificationService(db),
		services.NewUserService(db, cacher, cacheConf.SettingsTTL),
		mailer.New(smtp, lg),
		reminder.Config{
			Delay:     conf.Delay,
			BatchSize: conf.BatchSize,
			Rate:      conf.Rate,
			SiteURL:   conf.SiteURL,
		},
		lg,
	)
}
