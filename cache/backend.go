package cache

import (
	"github.com/go-redis/redis/v8"

	"ClinicQueue/config"
)

// NewBackend picks the cache backend named in cfg.
func NewBackend(cfg *config.AppConfig, client *redis.Client) (Backend, error) {
	if cfg.CacheBackend == "redis" {
		return NewRedisBackend(client)
	}
	return NewMemoryBackend(cfg.CacheMaxEntries, cfg.CacheSweepInterval), nil
}
