package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"

	"github.com/noah-isme/pos-settlement/internal/checkout"
	"github.com/noah-isme/pos-settlement/internal/obs"
	"github.com/noah-isme/pos-settlement/internal/resilience"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv string

	BackendURL          string
	BackendTimeout      time.Duration
	BackendMaxAttempts  int
	BreakerMinRequests  int
	BreakerFailureRatio float64
	BreakerOpenFor      time.Duration

	RedisURL        string
	RefDataCacheTTL time.Duration

	RegisterID    string
	WarehouseID   string
	AmountScale   int32
	SubmitLockTTL time.Duration

	LogFormat        string
	LogLevel         string
	MetricsNamespace string
	EnableTracing    bool
	OTLPEndpoint     string
	LatencyBuckets   []float64
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:              valueOrDefault(k.String("APP_ENV"), "development"),
		BackendURL:          strings.TrimSpace(k.String("BACKEND_URL")),
		BackendTimeout:      parseDuration(k.String("BACKEND_TIMEOUT"), "5s"),
		BackendMaxAttempts:  parseInt(k.String("BACKEND_MAX_ATTEMPTS"), 3),
		BreakerMinRequests:  parseInt(k.String("BACKEND_BREAKER_MIN_REQUESTS"), 5),
		BreakerFailureRatio: parseFloat(k.String("BACKEND_BREAKER_FAILURE_RATIO"), 0.5),
		BreakerOpenFor:      parseDuration(k.String("BACKEND_BREAKER_OPEN_FOR"), "30s"),
		RedisURL:            strings.TrimSpace(k.String("REDIS_URL")),
		RefDataCacheTTL:     parseDuration(k.String("REFDATA_CACHE_TTL"), "5m"),
		RegisterID:          valueOrDefault(k.String("REGISTER_ID"), "default"),
		WarehouseID:         strings.TrimSpace(k.String("WAREHOUSE_ID")),
		AmountScale:         int32(parseInt(k.String("AMOUNT_SCALE"), int(checkout.DefaultAmountScale))),
		SubmitLockTTL:       parseDuration(k.String("SUBMIT_LOCK_TTL"), "30s"),
		LogFormat:           valueOrDefault(k.String("OBS_LOG_FORMAT"), "json"),
		LogLevel:            valueOrDefault(k.String("OBS_LOG_LEVEL"), "info"),
		MetricsNamespace:    valueOrDefault(k.String("OBS_METRICS_NAMESPACE"), "pos"),
		EnableTracing:       parseBool(k.String("OBS_ENABLE_TRACING")),
		OTLPEndpoint:        strings.TrimSpace(k.String("OBS_OTLP_ENDPOINT")),
		LatencyBuckets:      obs.ParseBucketsCSV(k.String("OBS_LATENCY_BUCKETS_MS")),
	}

	if cfg.BackendURL == "" {
		return nil, errors.New("BACKEND_URL is required")
	}
	if u, err := url.Parse(cfg.BackendURL); err != nil || u.Host == "" {
		return nil, fmt.Errorf("BACKEND_URL %q is not an absolute url", cfg.BackendURL)
	}
	if cfg.WarehouseID == "" {
		return nil, errors.New("WAREHOUSE_ID is required")
	}
	if cfg.AmountScale < 0 || cfg.AmountScale > 8 {
		return nil, fmt.Errorf("AMOUNT_SCALE must be between 0 and 8, got %d", cfg.AmountScale)
	}
	if cfg.BackendMaxAttempts < 1 {
		cfg.BackendMaxAttempts = 1
	}
	if cfg.BreakerFailureRatio <= 0 || cfg.BreakerFailureRatio > 1 {
		cfg.BreakerFailureRatio = 0.5
	}

	return cfg, nil
}

// Settings returns the per-session checkout settings.
func (c *Config) Settings() checkout.Settings {
	return checkout.Settings{
		RegisterID:    c.RegisterID,
		WarehouseID:   c.WarehouseID,
		AmountScale:   c.AmountScale,
		SubmitLockTTL: c.SubmitLockTTL,
	}
}

// Breaker returns the circuit breaker tuning for backend calls.
func (c *Config) Breaker() resilience.BreakerConfig {
	return resilience.BreakerConfig{
		Target:       "backend",
		MinRequests:  c.BreakerMinRequests,
		FailureRatio: c.BreakerFailureRatio,
		OpenFor:      c.BreakerOpenFor,
	}
}

// Tracing returns the tracer provider settings.
func (c *Config) Tracing() obs.TracingConfig {
	return obs.TracingConfig{
		ServiceName:   "pos-settlement",
		Endpoint:      c.OTLPEndpoint,
		Exporter:      "otlp",
		SamplingRatio: 1,
		Environment:   c.AppEnv,
	}
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseInt(value string, fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func parseFloat(value string, fallback float64) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

func parseBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// MustLoad behaves like Load but panics on error. Useful for tests and command entrypoints.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
