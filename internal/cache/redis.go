package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tgdrive/geonotify/internal/config"
)

// RedisOptions maps config onto client options. Returns nil when Redis is not
// configured.
func RedisOptions(conf *config.RedisConfig) *redis.Options {
	if conf.Addr == "" {
		return nil
	}
	return &redis.Options{
		Addr:            conf.Addr,
		Password:        conf.Password,
		DB:              conf.DB,
		DialTimeout:     5 * time.Second,
		ReadTimeout:     3 * time.Second,
		WriteTimeout:    3 * time.Second,
		PoolSize:        conf.PoolSize,
		MinIdleConns:    conf.MinIdleConns,
		ConnMaxIdleTime: conf.ConnMaxIdleTime,
		ConnMaxLifetime: conf.ConnMaxLifetime,
	}
}

// NewRedisClient creates a Redis client from config.
// Returns nil if Redis is not configured (Addr is empty).
func NewRedisClient(ctx context.Context, conf *config.RedisConfig) (*redis.Client, error) {
	if conf.Addr == "" {
		return nil, nil
	}
	client := redis.NewClient(RedisOptions(conf))

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}

	return client, nil
}
