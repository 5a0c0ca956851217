package config

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"
)

// AppConfig holds the application configuration
type AppConfig struct {
	Port     string `envconfig:"PORT" default:"8930"`
	Env      string `envconfig:"ENV" default:"production"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	// Database
	DBDriver          string        `envconfig:"DB_DRIVER" default:"postgres"`
	DBURL             string        `envconfig:"DB_URL" required:"true"`
	DBMaxOpenConns    int           `envconfig:"DB_MAX_OPEN_CONNS" default:"40"`
	DBMaxIdleConns    int           `envconfig:"DB_MAX_IDLE_CONNS" default:"20"`
	DBConnMaxLifetime time.Duration `envconfig:"DB_CONN_MAX_LIFETIME" default:"10m"`

	// Redis
	RedisURL          string        `envconfig:"REDIS_URL"`
	RedisPoolSize     int           `envconfig:"REDIS_POOL_SIZE" default:"10"`
	RedisMinIdleConns int           `envconfig:"REDIS_MIN_IDLE_CONNS" default:"5"`
	RedisDialTimeout  time.Duration `envconfig:"REDIS_DIAL_TIMEOUT" default:"30s"`
	RedisReadTimeout  time.Duration `envconfig:"REDIS_READ_TIMEOUT" default:"10s"`
	RedisMaxRetries   int           `envconfig:"REDIS_MAX_RETRIES" default:"3"`

	// Cache
	CacheBackend       string        `envconfig:"CACHE_BACKEND" default:"memory"`
	CacheTTL           time.Duration `envconfig:"CACHE_TTL" default:"30s"`
	CacheMaxEntries    int           `envconfig:"CACHE_MAX_ENTRIES" default:"10000"`
	CacheSweepInterval time.Duration `envconfig:"CACHE_SWEEP_INTERVAL" default:"60s"`

	// Per-day locks
	LockBackend    string        `envconfig:"LOCK_BACKEND" default:"local"`
	LockTTL        time.Duration `envconfig:"LOCK_TTL" default:"10s"`
	LockRetries    int           `envconfig:"LOCK_RETRIES" default:"20"`
	LockRetryDelay time.Duration `envconfig:"LOCK_RETRY_DELAY" default:"50ms"`

	// Booking rules
	ClinicUTCOffsetHours  int `envconfig:"CLINIC_UTC_OFFSET_HOURS" default:"3"`
	DefaultCapacity       int `envconfig:"DEFAULT_CAPACITY" default:"20"`
	GoldenDefaultCapacity int `envconfig:"GOLDEN_DEFAULT_CAPACITY" default:"5"`
	AutoAssignMaxDays     int `envconfig:"AUTO_ASSIGN_MAX_DAYS" default:"30"`
	GoldenPaymentAmount   int `envconfig:"GOLDEN_PAYMENT_AMOUNT" default:"1500"`

	// Live streaming
	StreamPollInterval   time.Duration `envconfig:"STREAM_POLL_INTERVAL" default:"1s"`
	StreamMaxLifetime    time.Duration `envconfig:"STREAM_MAX_LIFETIME" default:"5m"`
	StreamHeartbeat      time.Duration `envconfig:"STREAM_HEARTBEAT" default:"15s"`
	StreamAdmissionRPS   float64       `envconfig:"STREAM_ADMISSION_RPS" default:"5"`
	StreamAdmissionBurst int           `envconfig:"STREAM_ADMISSION_BURST" default:"20"`

	// HTTP
	ProfileSecret  string   `envconfig:"PROFILE_SECRET" required:"true"`
	AllowedOrigins []string `envconfig:"ALLOWED_ORIGINS" default:"http://localhost:3000"`
}

// Load reads configuration from the environment, loading a .env file first
// when one is present in the working directory.
func Load() (*AppConfig, error) {
	_ = godotenv.Load()

	var c AppConfig
	if err := envconfig.Process("", &c); err != nil {
		return nil, errors.Wrap(err, "failed to load configuration")
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *AppConfig) validate() error {
	c.DBDriver = strings.ToLower(strings.TrimSpace(c.DBDriver))
	c.CacheBackend = strings.ToLower(strings.TrimSpace(c.CacheBackend))
	c.LockBackend = strings.ToLower(strings.TrimSpace(c.LockBackend))

	switch c.DBDriver {
	case "postgres", "sqlite":
	default:
		return errors.Errorf("unsupported DB_DRIVER %q", c.DBDriver)
	}
	switch c.CacheBackend {
	case "memory", "redis":
	default:
		return errors.Errorf("unsupported CACHE_BACKEND %q", c.CacheBackend)
	}
	switch c.LockBackend {
	case "local", "redis":
	default:
		return errors.Errorf("unsupported LOCK_BACKEND %q", c.LockBackend)
	}
	if c.NeedsRedis() && c.RedisURL == "" {
		return errors.New("missing REDIS_URL environment variable")
	}
	if c.DefaultCapacity <= 0 || c.GoldenDefaultCapacity <= 0 {
		return errors.New("default capacities must be positive")
	}
	if c.StreamPollInterval <= 0 || c.StreamMaxLifetime <= 0 {
		return errors.New("stream poll interval and max lifetime must be positive")
	}
	return nil
}

// NeedsRedis reports whether any configured backend requires a Redis client.
func (c *AppConfig) NeedsRedis() bool {
	return c.CacheBackend == "redis" || c.LockBackend == "redis"
}

// Location returns the clinic's fixed operating timezone.
func (c *AppConfig) Location() *time.Location {
	return time.FixedZone("clinic", c.ClinicUTCOffsetHours*3600)
}

// GetProfileSecret returns the shared secret required on API requests
func (c *AppConfig) GetProfileSecret() string {
	return c.ProfileSecret
}
