package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the memory service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string

	AllowAnyOrigin bool

	SessionInactivityTimeout time.Duration
	JanitorInterval          time.Duration

	SummarizeAfterTurns   int
	ResummarizeEveryTurns int
	HistoryWindow         int
	RecentContextLimit    int
	RedactPII             bool

	ExtractMode        string
	ExtractHTTPURL     string
	ExtractTimeout     time.Duration
	ExtractRatePerSec  float64
	ExtractBurst       int
	BreakerMaxFailures int
	BreakerCooldown    time.Duration

	DatabaseURL string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:                 envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:         envOrDefault("APP_METRICS_NAMESPACE", "mnemo"),
		AllowAnyOrigin:           false,
		ShutdownTimeout:          15 * time.Second,
		SessionInactivityTimeout: 30 * time.Minute,
		JanitorInterval:          time.Minute,
		SummarizeAfterTurns:      4,
		ResummarizeEveryTurns:    4,
		HistoryWindow:            20,
		RecentContextLimit:       10,
		RedactPII:                false,
		ExtractMode:              envOrDefault("EXTRACT_MODE", "auto"),
		ExtractHTTPURL:           stringsTrimSpace("EXTRACT_HTTP_URL"),
		ExtractTimeout:           20 * time.Second,
		ExtractRatePerSec:        5,
		ExtractBurst:             2,
		BreakerMaxFailures:       3,
		BreakerCooldown:          30 * time.Second,
		DatabaseURL:              stringsTrimSpace("DATABASE_URL"),
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionInactivityTimeout, err = durationFromEnv("APP_SESSION_INACTIVITY_TIMEOUT", cfg.SessionInactivityTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.JanitorInterval, err = durationFromEnv("APP_JANITOR_INTERVAL", cfg.JanitorInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.SummarizeAfterTurns, err = intFromEnv("MEMORY_SUMMARIZE_AFTER_TURNS", cfg.SummarizeAfterTurns)
	if err != nil {
		return Config{}, err
	}
	cfg.ResummarizeEveryTurns, err = intFromEnv("MEMORY_RESUMMARIZE_EVERY_TURNS", cfg.ResummarizeEveryTurns)
	if err != nil {
		return Config{}, err
	}
	cfg.HistoryWindow, err = intFromEnv("MEMORY_HISTORY_WINDOW", cfg.HistoryWindow)
	if err != nil {
		return Config{}, err
	}
	cfg.RecentContextLimit, err = intFromEnv("MEMORY_RECENT_CONTEXT_LIMIT", cfg.RecentContextLimit)
	if err != nil {
		return Config{}, err
	}
	cfg.RedactPII, err = boolFromEnv("MEMORY_REDACT_PII", cfg.RedactPII)
	if err != nil {
		return Config{}, err
	}
	cfg.ExtractTimeout, err = durationFromEnv("EXTRACT_TIMEOUT", cfg.ExtractTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.ExtractRatePerSec, err = floatFromEnv("EXTRACT_RATE_PER_SEC", cfg.ExtractRatePerSec)
	if err != nil {
		return Config{}, err
	}
	cfg.ExtractBurst, err = intFromEnv("EXTRACT_BURST", cfg.ExtractBurst)
	if err != nil {
		return Config{}, err
	}
	cfg.BreakerMaxFailures, err = intFromEnv("EXTRACT_BREAKER_MAX_FAILURES", cfg.BreakerMaxFailures)
	if err != nil {
		return Config{}, err
	}
	cfg.BreakerCooldown, err = durationFromEnv("EXTRACT_BREAKER_COOLDOWN", cfg.BreakerCooldown)
	if err != nil {
		return Config{}, err
	}

	if cfg.SessionInactivityTimeout < 5*time.Second {
		return Config{}, fmt.Errorf("APP_SESSION_INACTIVITY_TIMEOUT must be at least 5s")
	}
	if cfg.SummarizeAfterTurns <= 0 {
		return Config{}, fmt.Errorf("MEMORY_SUMMARIZE_AFTER_TURNS must be positive")
	}
	if cfg.ResummarizeEveryTurns <= 0 {
		return Config{}, fmt.Errorf("MEMORY_RESUMMARIZE_EVERY_TURNS must be positive")
	}
	if cfg.HistoryWindow <= 0 {
		return Config{}, fmt.Errorf("MEMORY_HISTORY_WINDOW must be positive")
	}
	if cfg.ExtractTimeout <= 0 {
		return Config{}, fmt.Errorf("EXTRACT_TIMEOUT must be positive")
	}
	if cfg.ExtractRatePerSec <= 0 {
		return Config{}, fmt.Errorf("EXTRACT_RATE_PER_SEC must be positive")
	}
	if cfg.BreakerMaxFailures <= 0 {
		return Config{}, fmt.Errorf("EXTRACT_BREAKER_MAX_FAILURES must be positive")
	}
	switch strings.ToLower(strings.TrimSpace(cfg.ExtractMode)) {
	case "auto", "http", "mock":
	default:
		return Config{}, fmt.Errorf("EXTRACT_MODE must be one of auto, http, mock")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
