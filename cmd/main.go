package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"ClinicQueue/cache"
	"ClinicQueue/config"
	"ClinicQueue/database"
	"ClinicQueue/logger"
	"ClinicQueue/metrics"
	"ClinicQueue/routes"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// No logger yet.
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatal("server failed", zap.Error(err))
	}
}

func run(cfg *config.AppConfig, log *zap.Logger) error {
	ctx := context.Background()

	db, err := database.Open(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() { _ = database.Close(db) }()

	var redisClient *redis.Client
	if cfg.NeedsRedis() {
		if redisClient, err = database.NewRedisClient(ctx, cfg, log); err != nil {
			return err
		}
		defer func() { _ = redisClient.Close() }()
	}

	backend, err := cache.NewBackend(cfg, redisClient)
	if err != nil {
		return err
	}
	m := metrics.New(prometheus.DefaultRegisterer)
	coordinator := cache.NewCoordinator(backend, cfg.CacheTTL, log, m)
	defer func() { _ = coordinator.Close() }()

	if cfg.Env != "development" {
		gin.SetMode(gin.ReleaseMode)
	}
	handler := routes.SetupRoutes(routes.Deps{
		Config:   cfg,
		DB:       db,
		Locker:   database.NewDayLocker(cfg, redisClient, log),
		Cache:    coordinator,
		Metrics:  m,
		Gatherer: prometheus.DefaultGatherer,
		Log:      log,
	})

	// Streams live up to StreamMaxLifetime, so writes get that plus slack.
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      cfg.StreamMaxLifetime + 30*time.Second,
		MaxHeaderBytes:    1 << 20,
		IdleTimeout:       60 * time.Second,
	}

	var wg sync.WaitGroup
	serveErr := make(chan error, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info("starting server", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	if redisClient != nil {
		stop := make(chan struct{})
		defer close(stop)
		go func() {
			ticker := time.NewTicker(5 * time.Minute)
			defer ticker.Stop()
			for {
				select {
				case <-stop:
					return
				case <-ticker.C:
					database.LogPoolStats(redisClient, log)
				}
			}
		}()
	}

	// Graceful shutdown handling
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sig:
	case err := <-serveErr:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	log.Info("shutting down server")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	wg.Wait()
	log.Info("server exited gracefully")
	return nil
}
