package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/flylasse/windy-trip-weather/internal/weather/providers"
)

type AppConfig struct {
	// Forecast service. ForecastAPIKey is never logged.
	ForecastAPIKey   string
	ForecastEndpoint string
	ForecastModel    string

	Retry                   providers.RetryConfig
	BreakerFailureThreshold uint32
	HTTPTimeout             time.Duration

	// Batch limits.
	BatchMaxConcurrency int
	BatchTimeout        time.Duration
	BatchMaxPoints      int

	// In-memory batch store retention.
	StoreMaxHistory int           // max number of batches kept (0 = unlimited)
	StoreMaxAge     time.Duration // max age of batches (0 = unlimited)

	// WatchPointsFile, when set, is re-enriched every FetchInterval.
	WatchPointsFile string
	FetchInterval   time.Duration

	// Outcome stream; disabled when RedisAddr is empty.
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisStream   string

	Port     string
	LogLevel string
}

// Load reads configuration from environment with sensible defaults.
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		log.Debugf("no .env file loaded: %v", err)
	}
	cfg := &AppConfig{}

	cfg.ForecastAPIKey = os.Getenv("FORECAST_API_KEY")
	cfg.ForecastEndpoint = getenvDefault("FORECAST_ENDPOINT", providers.DefaultWindyEndpoint)
	cfg.ForecastModel = getenvDefault("FORECAST_MODEL", providers.DefaultWindyModel)

	policy, err := providers.ParseRetryPolicy(os.Getenv("RETRY_POLICY"))
	if err != nil {
		return nil, fmt.Errorf("invalid RETRY_POLICY: %w", err)
	}
	cfg.Retry.Policy = policy
	cfg.Retry.Retries = getenvInt("FORECAST_RETRIES", providers.DefaultRetryConfig.Retries)
	if cfg.Retry.Retries < 1 {
		return nil, fmt.Errorf("invalid FORECAST_RETRIES: must be >= 1, got %d", cfg.Retry.Retries)
	}
	if cfg.Retry.InitialDelay, err = getenvDuration("FORECAST_RETRY_DELAY", providers.DefaultRetryConfig.InitialDelay); err != nil {
		return nil, err
	}

	// 0 disables the circuit breaker.
	threshold := getenvInt("BREAKER_FAILURE_THRESHOLD", providers.DefaultBreakerThreshold)
	if threshold < 0 {
		return nil, fmt.Errorf("invalid BREAKER_FAILURE_THRESHOLD: must be >= 0, got %d", threshold)
	}
	cfg.BreakerFailureThreshold = uint32(threshold)

	if cfg.HTTPTimeout, err = getenvDuration("HTTP_TIMEOUT", 15*time.Second); err != nil {
		return nil, err
	}

	cfg.BatchMaxConcurrency = getenvInt("BATCH_MAX_CONCURRENCY", 8)
	if cfg.BatchTimeout, err = getenvDuration("BATCH_TIMEOUT", 2*time.Minute); err != nil {
		return nil, err
	}
	cfg.BatchMaxPoints = getenvInt("BATCH_MAX_POINTS", 500)

	cfg.StoreMaxHistory = getenvInt("STORE_MAX_HISTORY", 50)
	if cfg.StoreMaxAge, err = getenvDuration("STORE_MAX_AGE", 24*time.Hour); err != nil {
		return nil, err
	}

	cfg.WatchPointsFile = os.Getenv("WATCH_POINTS_FILE")
	if cfg.FetchInterval, err = getenvDuration("FETCH_INTERVAL", 30*time.Minute); err != nil {
		return nil, err
	}

	cfg.RedisAddr = os.Getenv("REDIS_ADDR")
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	cfg.RedisDB = getenvInt("REDIS_DB", 0)
	cfg.RedisStream = getenvDefault("REDIS_STREAM", "trip_weather_outcomes")

	cfg.Port = getenvDefault("PORT", "8080")
	cfg.LogLevel = getenvDefault("LOG_LEVEL", "info")

	return cfg, nil
}

// ConfigureLogging applies LogLevel to the standard logrus logger.
func (c *AppConfig) ConfigureLogging() error {
	level, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		return fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}
	log.SetLevel(level)
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	return nil
}

// WindyConfig returns the provider configuration derived from c.
func (c *AppConfig) WindyConfig() providers.WindyConfig {
	return providers.WindyConfig{
		Endpoint:                c.ForecastEndpoint,
		APIKey:                  c.ForecastAPIKey,
		Model:                   c.ForecastModel,
		Retry:                   c.Retry,
		BreakerFailureThreshold: c.BreakerFailureThreshold,
	}
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}

func getenvDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
