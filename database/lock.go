package database

import (
	"context"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"ClinicQueue/apperr"
	"ClinicQueue/config"
	"ClinicQueue/models"
)

// DayLocker serializes mutations of a single booking day. Lock blocks until
// the day is free or ctx is done; the returned func releases it.
type DayLocker interface {
	Lock(ctx context.Context, key models.DayKey) (unlock func(), err error)
}

// NewDayLocker picks the lock backend named in cfg.
func NewDayLocker(cfg *config.AppConfig, client *redis.Client, log *zap.Logger) DayLocker {
	if cfg.LockBackend == "redis" {
		return NewRedisLocker(client, cfg.LockTTL, cfg.LockRetries, cfg.LockRetryDelay, log)
	}
	return NewLocalLocker()
}

// LocalLocker is an in-process keyed mutex. Entries are dropped once no
// goroutine holds or waits on them.
type LocalLocker struct {
	mu    sync.Mutex
	locks map[models.DayKey]*dayLock
}

type dayLock struct {
	ch   chan struct{}
	refs int
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[models.DayKey]*dayLock)}
}

func (l *LocalLocker) Lock(ctx context.Context, key models.DayKey) (func(), error) {
	l.mu.Lock()
	dl, ok := l.locks[key]
	if !ok {
		dl = &dayLock{ch: make(chan struct{}, 1)}
		l.locks[key] = dl
	}
	dl.refs++
	l.mu.Unlock()

	select {
	case dl.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(key, dl, false)
		return nil, apperr.Wrap(apperr.StorageFailure, ctx.Err(), "timed out waiting for day %s", key)
	}

	var once sync.Once
	return func() {
		once.Do(func() { l.release(key, dl, true) })
	}, nil
}

func (l *LocalLocker) release(key models.DayKey, dl *dayLock, held bool) {
	if held {
		<-dl.ch
	}
	l.mu.Lock()
	dl.refs--
	if dl.refs == 0 {
		delete(l.locks, key)
	}
	l.mu.Unlock()
}

const releaseLockScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`

var releaseScript = redis.NewScript(releaseLockScript)

// RedisLocker is a cross-node lock built on SET NX with an owner token.
type RedisLocker struct {
	client     *redis.Client
	ttl        time.Duration
	maxRetries int
	retryDelay time.Duration
	log        *zap.Logger
}

func NewRedisLocker(client *redis.Client, ttl time.Duration, maxRetries int, retryDelay time.Duration, log *zap.Logger) *RedisLocker {
	if maxRetries < 1 {
		maxRetries = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisLocker{client: client, ttl: ttl, maxRetries: maxRetries, retryDelay: retryDelay, log: log}
}

func lockKey(key models.DayKey) string {
	return "booking_lock:" + key.String()
}

func (l *RedisLocker) Lock(ctx context.Context, key models.DayKey) (func(), error) {
	redisKey := lockKey(key)
	owner := uuid.New().String()

	var lastErr error
	for i := 0; i < l.maxRetries; i++ {
		locked, err := l.client.SetNX(ctx, redisKey, owner, l.ttl).Result()
		if err == nil && locked {
			return func() { l.unlock(redisKey, owner) }, nil
		}
		lastErr = err
		if i == l.maxRetries-1 {
			break
		}
		select {
		case <-time.After(l.retryDelay):
		case <-ctx.Done():
			return nil, apperr.Wrap(apperr.StorageFailure, ctx.Err(), "timed out waiting for day %s", key)
		}
	}
	if lastErr != nil {
		return nil, apperr.Storage(lastErr, "failed to acquire lock for day %s", key)
	}
	return nil, apperr.New(apperr.StorageFailure, "day %s is busy, retry shortly", key)
}

// unlock runs on a fresh context so a cancelled request still releases.
func (l *RedisLocker) unlock(redisKey, owner string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	res, err := releaseScript.Run(ctx, l.client, []string{redisKey}, owner).Int64()
	if err != nil {
		l.log.Warn("failed to release day lock", zap.String("key", redisKey), zap.Error(err))
		return
	}
	if res == 0 {
		l.log.Warn("day lock expired before release", zap.String("key", redisKey))
	}
}
