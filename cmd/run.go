package cmd

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tgdrive/geonotify/internal/api"
	"github.com/tgdrive/geonotify/internal/banner"
	"github.com/tgdrive/geonotify/internal/broker"
	"github.com/tgdrive/geonotify/internal/cache"
	"github.com/tgdrive/geonotify/internal/config"
	"github.com/tgdrive/geonotify/internal/cron"
	"github.com/tgdrive/geonotify/internal/database"
	"github.com/tgdrive/geonotify/internal/events"
	"github.com/tgdrive/geonotify/internal/logging"
	"github.com/tgdrive/geonotify/internal/notify"
	"github.com/tgdrive/geonotify/internal/queue"
	"github.com/tgdrive/geonotify/internal/realtime"
	"github.com/tgdrive/geonotify/internal/version"
	"github.com/tgdrive/geonotify/pkg/services"
)

func NewRun() *cobra.Command {
	var cfg config.ServerCmdConfig
	loader := config.NewConfigLoader()
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the notification server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApplication(cmd.Context(), &cfg)
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

// connectRedis returns nil when Redis is not configured or unreachable. Both
// the cache and the broker degrade to in-process behaviour in that case.
func connectRedis(ctx context.Context, conf *config.RedisConfig, lg *zap.Logger) *redis.Client {
	client, err := cache.NewRedisClient(ctx, conf)
	if err != nil {
		lg.Warn("redis.unavailable", zap.String("addr", conf.Addr), zap.Error(err))
		return nil
	}
	return client
}

func runApplication(ctx context.Context, conf *config.ServerCmdConfig) error {
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
	if err := database.MigrateDB(db); err != nil {
		return err
	}

	redisClient := connectRedis(ctx, &conf.Redis, lg)
	if redisClient != nil {
		defer redisClient.Close()
	}
	cacher := cache.New(redisClient, conf.Cache.MaxSize)

	brk := broker.New(cache.RedisOptions(&conf.Redis), conf.Events.Namespace, lg)
	defer brk.Close()
	if brk.Enabled() {
		if err := brk.Connect(ctx); err != nil {
			lg.Warn("broker.connect_deferred", zap.Error(err))
		}
	}

	hub := realtime.NewHub(brk, realtime.Config{}, lg)
	go func() {
		if err := hub.Run(ctx); err != nil && ctx.Err() == nil {
			lg.Error("realtime.stopped", zap.Error(err))
		}
	}()

	bus := events.NewBus(ctx, events.Config{
		Mode:       events.Mode(conf.Events.Dispatch),
		Workers:    conf.Events.Workers,
		BufferSize: conf.Events.BufferSize,
	}, brk, lg)

	notifications := services.NewNotificationService(db)
	connections := services.NewConnectionService(db, bus)
	users := services.NewUserService(db, cacher, conf.Cache.SettingsTTL)

	notify.New(notifications, connections, hub, conf.Events.FanoutConcurrency).Register(bus)

	var jobs *queue.Queue
	if bus.Mode() == events.ModeQueue {
		pool, err := database.NewPool(ctx, &conf.DB)
		if err != nil {
			return err
		}
		defer pool.Close()
		if err := queue.Migrate(ctx, pool, lg); err != nil {
			return err
		}
		jobs, err = queue.New(pool, queue.Config{Workers: conf.Events.QueueWorkers}, bus.Dispatch, lg)
		if err != nil {
			return err
		}
		bus.UseQueue(jobs)
		if err := jobs.Start(ctx); err != nil {
			return err
		}
	}

	scheduler := cron.New(ctx, redisClient, lg)
	if conf.Reminders.Enable {
		reminders := newReminders(db, cacher, &conf.Cache, &conf.Reminders, &conf.SMTP, lg)
		err := scheduler.Add(cron.Job{
			Name:    "reminders",
			Spec:    conf.Reminders.Schedule,
			LockKey: conf.Reminders.LockerKey,
			LockTTL: conf.Reminders.LockTTL,
			Run: func(ctx context.Context) error {
				_, err := reminders.Run(ctx)
				return err
			},
		})
		if err != nil {
			return errors.Wrap(err, "schedule reminders")
		}
	}
	scheduler.Start()

	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	handler := api.NewRouter(api.Deps{
		Notifications: notifications,
		Connections:   connections,
		Settings:      users,
		Events:        bus,
		Stream:        hub,
		Health:        sqlDB.PingContext,
	}, api.Config{
		JWTSecret:      conf.JWT.Secret,
		IngestToken:    conf.Events.IngestToken,
		AllowedOrigins: conf.Server.AllowedOrigins,
	}, lg)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", conf.Server.Port),
		Handler:           handler,
		ReadTimeout:       conf.Server.ReadTimeout,
		WriteTimeout:      conf.Server.WriteTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	banner.PrintBanner(os.Stdout, banner.StartupInfo{
		Version:  version.Version,
		Addr:     srv.Addr,
		LogLevel: conf.Log.Level,
		Dispatch: string(bus.Mode()),
		Broker:   brk.Enabled(),
	})

	go func() {
		lg.Info("server.started", zap.String("addr", srv.Addr), zap.String("dispatch", string(bus.Mode())))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			lg.Error("server.listen_failed", zap.Error(err))
		}
	}()

	<-ctx.Done()

	lg.Info("server.shutting_down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), conf.Server.GracefulShutdown)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		lg.Error("server.shutdown_failed", zap.Error(err))
	}
	scheduler.Stop()
	if jobs != nil {
		if err := jobs.Stop(shutdownCtx); err != nil {
			lg.Error("queue.shutdown_failed", zap.Error(err))
		}
	}
	bus.Shutdown()

	lg.Info("server.stopped")
	return nil
}
