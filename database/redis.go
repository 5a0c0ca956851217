package database

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"ClinicQueue/config"
)

// NewRedisClient creates a Redis client from the application configuration
// and verifies it with a ping.
func NewRedisClient(ctx context.Context, cfg *config.AppConfig, log *zap.Logger) (*redis.Client, error) {
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse Redis URL")
	}

	opt.PoolSize = cfg.RedisPoolSize
	opt.MinIdleConns = cfg.RedisMinIdleConns
	opt.DialTimeout = cfg.RedisDialTimeout
	opt.ReadTimeout = cfg.RedisReadTimeout
	opt.MaxRetries = cfg.RedisMaxRetries

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "failed to ping Redis server")
	}

	if log != nil {
		log.Info("redis client initialized",
			zap.Int("pool_size", opt.PoolSize),
			zap.Int("min_idle_conns", opt.MinIdleConns),
			zap.Duration("dial_timeout", opt.DialTimeout),
			zap.Duration("read_timeout", opt.ReadTimeout),
			zap.Int("max_retries", opt.MaxRetries),
		)
	}
	return client, nil
}

// LogPoolStats logs the connection pool statistics for monitoring.
func LogPoolStats(client *redis.Client, log *zap.Logger) {
	stats := client.PoolStats()
	log.Info("redis pool stats",
		zap.Uint32("total", stats.TotalConns),
		zap.Uint32("idle", stats.IdleConns),
		zap.Uint32("stale", stats.StaleConns),
	)
}
