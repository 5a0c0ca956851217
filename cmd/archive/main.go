// Command archive freezes every live booking day dated before today and
// exits. It is meant to be run by an external scheduler shortly after
// midnight in the clinic timezone.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"ClinicQueue/cache"
	"ClinicQueue/config"
	"ClinicQueue/database"
	"ClinicQueue/logger"
	"ClinicQueue/repositories"
	"ClinicQueue/services"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	log, err := logger.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	report, err := run(ctx, cfg, log)
	if err != nil {
		log.Error("archival run failed", zap.Error(err))
		os.Exit(1)
	}
	log.Info("archival run finished",
		zap.Int("archived", report.Archived),
		zap.Int("recovered", report.Recovered),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", report.Failed))
	if report.Failed > 0 {
		os.Exit(2)
	}
}

func run(ctx context.Context, cfg *config.AppConfig, log *zap.Logger) (services.ArchiveReport, error) {
	db, err := database.Open(ctx, cfg, log)
	if err != nil {
		return services.ArchiveReport{}, err
	}
	defer func() { _ = database.Close(db) }()

	var redisClient *redis.Client
	if cfg.NeedsRedis() {
		if redisClient, err = database.NewRedisClient(ctx, cfg, log); err != nil {
			return services.ArchiveReport{}, err
		}
		defer func() { _ = redisClient.Close() }()
	}

	// The memory backend is private to this process; the server's own TTL
	// bounds what it keeps serving. The redis backend is shared and its
	// entries are invalidated directly.
	backend, err := cache.NewBackend(cfg, redisClient)
	if err != nil {
		return services.ArchiveReport{}, err
	}
	coordinator := cache.NewCoordinator(backend, cfg.CacheTTL, log, nil)
	defer func() { _ = coordinator.Close() }()

	days := repositories.NewDayRepository(db, database.NewDayLocker(cfg, redisClient, log))
	archive := services.NewArchiveService(days, repositories.NewArchiveRepository(db), coordinator, cfg.Location(), log, nil)
	return archive.ArchivePastDays(ctx)
}
