package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/neexbeast/cityrank/internal/aggregator"
	"github.com/neexbeast/cityrank/internal/api"
	"github.com/neexbeast/cityrank/internal/cache"
	"github.com/neexbeast/cityrank/internal/city"
	"github.com/neexbeast/cityrank/internal/config"
	"github.com/neexbeast/cityrank/internal/logging"
	"github.com/neexbeast/cityrank/internal/metrics"
	"github.com/neexbeast/cityrank/internal/scheduler"
	"github.com/neexbeast/cityrank/internal/storage"
	"github.com/neexbeast/cityrank/internal/weather"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("loading configuration", "err", err)
		os.Exit(1)
	}

	log := logging.New(os.Stdout, cfg)

	if err := run(cfg, log); err != nil {
		log.Error("server exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, log *slog.Logger) error {
	ctx := context.Background()

	// City reference data: CSV file, or the cities table when a database is configured.
	var src city.Source = city.FileSource(cfg.CitiesCSV)
	if cfg.CitiesDatabaseURL != "" {
		pool, err := storage.Connect(ctx, cfg.CitiesDatabaseURL)
		if err != nil {
			return fmt.Errorf("connecting to database: %w", err)
		}
		defer pool.Close()

		applied, err := storage.RunMigrations(ctx, pool, cfg.MigrationsDir)
		if err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}
		log.Info("migrations applied", "new", applied)

		repo := storage.NewRepository(pool)
		if cfg.CitiesSeed {
			n, err := repo.Import(ctx, city.FileSource(cfg.CitiesCSV))
			if err != nil {
				return fmt.Errorf("seeding cities from %s: %w", cfg.CitiesCSV, err)
			}
			log.Info("cities seeded", "file", cfg.CitiesCSV, "cities", n)
		}
		src = repo
	}

	registry, err := city.NewRegistry(ctx, src)
	if err != nil {
		return fmt.Errorf("loading city registry: %w", err)
	}
	metrics.RegistryCities.Set(float64(registry.Len()))
	log.Info("city registry loaded", "cities", registry.Len())

	// Weather cache store: Redis when configured, in-process otherwise.
	var store cache.Store = cache.NewMemoryStore()
	if cfg.RedisURL != "" {
		redisClient, err := cache.Connect(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("connecting to redis: %w", err)
		}
		defer func() { _ = redisClient.Close() }()
		store = cache.NewRedisStore(redisClient, log)
		log.Info("weather cache backed by redis")
	}

	// Wire dependencies.
	provider := weather.NewClientWithURL(cfg.WeatherBaseURL, cfg.WeatherHTTPTimeout)
	weatherCache := cache.NewWeatherCache(provider, store, log)
	agg := aggregator.New(registry, weatherCache, log, aggregator.WithMaxConcurrency(cfg.MaxConcurrency))

	flusher := scheduler.New("weather-cache-flush", cfg.WeatherFlushInterval, 30*time.Second, agg.FlushWeatherCache, log)
	if err := flusher.Start(); err != nil {
		return fmt.Errorf("starting flush scheduler: %w", err)
	}
	defer flusher.Stop()

	handlers := api.NewHandlers(agg, src, cfg.MaxComparisonCities, log)
	router := api.NewRouter(handlers, agg, weatherCache, cfg.RateLimitPerMinute, log)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown on SIGINT / SIGTERM.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Error("server goroutine panicked", "recover", r)
				errCh <- fmt.Errorf("server panicked: %v", r)
			}
		}()
		log.Info("server starting", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("listening: %w", err)
		}
	}()

	select {
	case sig := <-quit:
		log.Info("shutdown signal received", "signal", sig)
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}

	log.Info("server shut down cleanly")
	return nil
}
