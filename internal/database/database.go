package database

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"

	"github.com/tgdrive/geonotify/internal/config"
	"github.com/tgdrive/geonotify/internal/logging"
)

const Schema = "geonotify"

func gormConfig(level string) *gorm.Config {
	return &gorm.Config{
		Logger: NewLogger(time.Second, true, logging.ParseLevel(level)),
		NamingStrategy: schema.NamingStrategy{
			TablePrefix:   Schema + ".",
			SingularTable: false,
		},
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// NewDatabase opens the gorm handle, retrying while Postgres comes up.
func NewDatabase(cfg *config.DBConfig, lg *zap.Logger) (*gorm.DB, error) {
	var (
		db  *gorm.DB
		err error
	)
	for i := 0; i <= 5; i++ {
		db, err = gorm.Open(postgres.New(postgres.Config{
			DSN:                  cfg.DataSource,
			PreferSimpleProtocol: !cfg.PrepareStmt,
		}), gormConfig(cfg.LogLevel))
		if err == nil {
			break
		}
		lg.Warn("database.open_failed", zap.Int("attempt", i+1), zap.Error(err))
		time.Sleep(500 * time.Millisecond)
	}
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}

	if cfg.Pool.Enable {
		rawDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		rawDB.SetMaxOpenConns(cfg.Pool.MaxOpenConnections)
		rawDB.SetMaxIdleConns(cfg.Pool.MaxIdleConnections)
		rawDB.SetConnMaxLifetime(cfg.Pool.MaxLifetime)
	}
	return db, nil
}

// NewPool opens a pgx pool on the same data source. The job queue needs the
// native driver rather than database/sql.
func NewPool(ctx context.Context, cfg *config.DBConfig) (*pgxpool.Pool, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.DataSource)
	if err != nil {
		return nil, errors.Wrap(err, "parse data source")
	}
	if cfg.Pool.Enable {
		pcfg.MaxConns = int32(cfg.Pool.MaxOpenConnections)
		pcfg.MaxConnLifetime = cfg.Pool.MaxLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, errors.Wrap(err, "open pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "ping pool")
	}
	return pool, nil
}
