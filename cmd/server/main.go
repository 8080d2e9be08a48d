package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/ZanzyTHEbar/trendmeter/internal/cache"
	"github.com/ZanzyTHEbar/trendmeter/internal/config"
	"github.com/ZanzyTHEbar/trendmeter/internal/database"
	"github.com/ZanzyTHEbar/trendmeter/internal/errors"
	"github.com/ZanzyTHEbar/trendmeter/internal/leaderboard"
	"github.com/ZanzyTHEbar/trendmeter/internal/monitoring"
	"github.com/ZanzyTHEbar/trendmeter/internal/ratelimit"
)

const (
	version = "1.0.0"

	refreshTimeout  = 2 * time.Minute
	shutdownTimeout = 30 * time.Second
)

func main() {
	configPath := flag.String("config", os.Getenv("TRENDMETER_CONFIG"), "path to an optional YAML config file")
	flag.Parse()

	cfg, errs := config.Load(*configPath)
	if len(errs) > 0 {
		for _, err := range errs {
			slog.Error("Invalid configuration", "error", err)
		}
		os.Exit(1)
	}

	appLogger := monitoring.NewLogger()
	appLogger.SetLevel(monitoring.ParseLevel(cfg.LogLevel))
	slog.SetDefault(appLogger.Logger)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := run(cfg, appLogger); err != nil {
		slog.Error("Server stopped with error", "error", err)
		os.Exit(1)
	}
	slog.Info("Server exited")
}

func run(cfg *config.Config, appLogger *monitoring.Logger) error {
	slog.Info("Starting trendmeter", "version", version, "config", cfg.LogSummary())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	appMetrics := monitoring.NewMetrics()
	if err := appMetrics.Register(registry); err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	db, err := database.NewDB(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer errors.SafeClose(db, "database")

	repo := database.NewRepository(db)
	pageService := database.NewPageService(repo)

	if cfg.SeedFixtures {
		n, err := pageService.Seed(ctx)
		if err != nil {
			return fmt.Errorf("failed to seed sample pages: %w", err)
		}
		slog.Info("Seeded sample pages", "count", n)
	}

	// Redis is optional; the limiter degrades to in-memory buckets.
	redisClient, err := ratelimit.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		slog.Warn("Continuing without Redis", "error", err)
	}
	defer errors.SafeClose(redisClient, "redis")

	limiter := ratelimit.NewRateLimiter(redisClient, ratelimit.Config{
		IPLimitPerMin:   cfg.IPLimitPerMin,
		BurstMultiplier: 1,
		CleanupInterval: time.Hour,
	}, appMetrics)
	defer errors.SafeClose(limiter, "rate limiter")

	lbCache := leaderboard.NewLeaderboardCache(cfg.CacheTTL)
	defer errors.SafeClose(lbCache, "leaderboard cache")

	lbService := leaderboard.NewService(repo, cfg.Horizons, lbCache, appMetrics, appLogger)
	pageService.OnChange(func(pageID string) {
		lbService.InvalidateCache()
	})

	scheduler, err := leaderboard.NewScheduler(lbService, cfg.RefreshSchedule, refreshTimeout)
	if err != nil {
		return err
	}
	scheduler.Start()
	defer scheduler.Stop()

	responseCache := cache.NewCache(cfg.CacheTTL)
	defer responseCache.Stop()

	// Persist an initial ranking so snapshots are available before the first tick.
	go func() {
		refreshCtx, cancel := context.WithTimeout(ctx, refreshTimeout)
		defer cancel()
		if _, err := lbService.Refresh(refreshCtx, time.Now()); err != nil {
			slog.Error("Initial leaderboard refresh failed", "error", err)
		}
	}()

	r := setupRouter(&server{
		cfg:         cfg,
		db:          db,
		redis:       redisClient,
		pages:       pageService,
		leaderboard: lbService,
		limiter:     limiter,
		cache:       responseCache,
		metrics:     appMetrics,
		logger:      appLogger,
		registry:    registry,
		now:         time.Now,
	})

	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("Starting server", "port", cfg.Port, "next_refresh", scheduler.Next())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	slog.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	return nil
}
