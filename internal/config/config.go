package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the process configuration, read once at startup.
type Config struct {
	AppEnv   string
	LogLevel slog.Level
	Port     string

	// CitiesCSV is the reference table read at startup and on reload when
	// CitiesDatabaseURL is empty.
	CitiesCSV string
	// CitiesDatabaseURL switches the registry source to the PostgreSQL cities table.
	CitiesDatabaseURL string
	// CitiesSeed imports CitiesCSV into the cities table before the first load.
	CitiesSeed    bool
	MigrationsDir string

	WeatherBaseURL       string
	WeatherHTTPTimeout   time.Duration
	WeatherFlushInterval time.Duration

	// RedisURL selects the Redis cache store; empty keeps the cache in memory.
	RedisURL string

	MaxConcurrency      int
	MaxComparisonCities int
	RateLimitPerMinute  int
}

// Load reads configuration from the environment. Values from a .env file in the
// working directory are applied first without overriding real variables.
func Load() (Config, error) {
	// A missing .env is the normal case outside local development.
	_ = godotenv.Load()

	appEnv := envString("APP_ENV", "dev")
	switch appEnv {
	case "dev", "prod":
	default:
		return Config{}, fmt.Errorf("invalid APP_ENV %q (allowed: dev, prod)", appEnv)
	}

	level, err := parseLogLevel(envString("LOG_LEVEL", "info"))
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		AppEnv:            appEnv,
		LogLevel:          level,
		Port:              envString("PORT", "8484"),
		CitiesCSV:         envString("CITIES_CSV", "data/european_cities.csv"),
		CitiesDatabaseURL: envString("CITIES_DATABASE_URL", ""),
		MigrationsDir:     envString("MIGRATIONS_DIR", "migrations"),
		WeatherBaseURL:    envString("WEATHER_BASE_URL", "https://www.metaweather.com/api"),
		RedisURL:          envString("REDIS_URL", ""),
	}

	if cfg.CitiesSeed, err = envBool("CITIES_SEED", false); err != nil {
		return Config{}, err
	}
	if cfg.WeatherHTTPTimeout, err = envDuration("WEATHER_HTTP_TIMEOUT", 10*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.WeatherFlushInterval, err = envDuration("WEATHER_FLUSH_INTERVAL", 24*time.Hour); err != nil {
		return Config{}, err
	}
	if cfg.MaxConcurrency, err = envInt("MAX_CONCURRENCY", 8); err != nil {
		return Config{}, err
	}
	if cfg.MaxComparisonCities, err = envInt("MAX_COMPARISON_CITIES", 50); err != nil {
		return Config{}, err
	}
	if cfg.RateLimitPerMinute, err = envInt("RATE_LIMIT_PER_MINUTE", 60); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func envString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

// envInt parses a positive integer.
func envInt(key string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("invalid %s %q: must be positive", key, v)
	}
	return n, nil
}

// envDuration parses a positive time.Duration.
func envDuration(key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s %q: must be positive", key, v)
	}
	return d, nil
}

func envBool(key string, def bool) (bool, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return b, nil
}

func parseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid LOG_LEVEL %q (allowed: debug, info, warn, error)", s)
	}
}
