package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"ClinicQueue/metrics"
	"ClinicQueue/models"
)

// Coordinator wraps day, list, archive and ledger reads behind a TTL cache.
// Mutations call Invalidate before reporting success; the TTL only bounds
// staleness for paths that are not invalidated (other nodes, for example).
//
// Each invalidated prefix carries a generation. A read-through load that
// overlaps an invalidation of its key is returned but not written back, so a
// value loaded before a mutation cannot outlive that mutation's Invalidate.
type Coordinator struct {
	backend Backend
	ttl     time.Duration
	log     *zap.Logger
	metrics *metrics.Metrics

	mu   sync.RWMutex
	gens map[string]uint64
}

func NewCoordinator(backend Backend, ttl time.Duration, log *zap.Logger, m *metrics.Metrics) *Coordinator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Coordinator{backend: backend, ttl: ttl, log: log, metrics: m, gens: make(map[string]uint64)}
}

// Get decodes the cached value for key into dst. Backend or decode failures
// are logged and reported as a miss.
func (c *Coordinator) Get(ctx context.Context, key string, dst any) bool {
	raw, ok, err := c.backend.Get(ctx, key)
	if err != nil {
		c.log.Warn("cache get failed", zap.String("key", key), zap.Error(err))
		ok = false
	}
	if ok {
		if err := json.Unmarshal(raw, dst); err != nil {
			c.log.Warn("cache entry undecodable", zap.String("key", key), zap.Error(err))
			ok = false
		}
	}
	c.metrics.ObserveCacheLookup(ok)
	return ok
}

// Set stores v under key with the coordinator TTL.
func (c *Coordinator) Set(ctx context.Context, key string, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		c.log.Warn("cache entry unencodable", zap.String("key", key), zap.Error(err))
		return
	}
	if err := c.backend.Set(ctx, key, raw, c.ttl); err != nil {
		c.log.Warn("cache set failed", zap.String("key", key), zap.Error(err))
	}
}

// Invalidate removes every key sharing one of the prefixes. All prefixes are
// attempted; the first error is returned.
func (c *Coordinator) Invalidate(ctx context.Context, prefixes ...string) error {
	// Bump before deleting: a write-back that already passed its generation
	// check finishes first and is then removed below.
	c.mu.Lock()
	for _, p := range prefixes {
		c.gens[p]++
	}
	c.mu.Unlock()

	var first error
	for _, p := range prefixes {
		if err := c.backend.DeletePrefix(ctx, p); err != nil {
			c.log.Error("cache invalidation failed", zap.String("prefix", p), zap.Error(err))
			if first == nil {
				first = err
			}
		}
	}
	return first
}

// Close releases the backend.
func (c *Coordinator) Close() error {
	return c.backend.Close()
}

// Fetch returns the cached value for key, or calls load and caches its result.
// Load errors are returned as-is and never cached.
func Fetch[T any](ctx context.Context, c *Coordinator, key string, load func(context.Context) (T, error)) (T, error) {
	var v T
	if c.Get(ctx, key, &v) {
		return v, nil
	}
	gen := c.generation(key)
	v, err := load(ctx)
	if err != nil {
		return v, err
	}
	c.setIfCurrent(ctx, key, gen, v)
	return v, nil
}

// generation sums the generations of every invalidated prefix of key.
// It only grows, so any overlapping Invalidate changes it.
func (c *Coordinator) generation(key string) uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.generationLocked(key)
}

func (c *Coordinator) generationLocked(key string) uint64 {
	var sum uint64
	for p, g := range c.gens {
		if strings.HasPrefix(key, p) {
			sum += g
		}
	}
	return sum
}

// setIfCurrent writes v back only when no invalidation of key happened since
// gen was taken. The read lock is held across the write so an Invalidate
// cannot slip between the check and the Set.
func (c *Coordinator) setIfCurrent(ctx context.Context, key string, gen uint64, v any) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.generationLocked(key) != gen {
		c.log.Debug("cache write-back skipped after invalidation", zap.String("key", key))
		return
	}
	c.Set(ctx, key, v)
}

// DayPrefix covers a clinic's single-day entries and its list view.
func DayPrefix(clinicID int64, variant models.Variant) string {
	return fmt.Sprintf("booking:days:%s:clinic:%d:", variant, clinicID)
}

func DayKey(k models.DayKey) string {
	return DayPrefix(k.ClinicID, k.Variant) + "date:" + k.Date
}

func DayListKey(clinicID int64, variant models.Variant) string {
	return DayPrefix(clinicID, variant) + "list"
}

func ArchivePrefix(clinicID int64, variant models.Variant) string {
	return fmt.Sprintf("booking:archives:%s:clinic:%d:", variant, clinicID)
}

func ArchiveListKey(clinicID int64, variant models.Variant, from, to string, limit int) string {
	return fmt.Sprintf("%sfrom:%s:to:%s:limit:%d", ArchivePrefix(clinicID, variant), from, to, limit)
}

func PaymentsPrefix(clinicID int64) string {
	return fmt.Sprintf("golden:payments:clinic:%d:", clinicID)
}

func MonthlyReportKey(clinicID int64) string {
	return PaymentsPrefix(clinicID) + "monthly"
}

func AnnualReportKey(clinicID int64, year int) string {
	return fmt.Sprintf("%sannual:%d", PaymentsPrefix(clinicID), year)
}

const AllPaymentsKey = "golden:payments:all"
