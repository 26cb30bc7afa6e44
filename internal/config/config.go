// Package config handles environment variable loading for the worker,
// database strings, and provider credentials.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration values for the application.
type Config struct {
	// Database connection string
	DatabaseURL string

	// Number of jobs claimed per processor pass
	BatchSize int

	// Interval between processor passes
	PollInterval time.Duration

	// Interval between scheduler passes
	ScheduleInterval time.Duration

	// Port for the /metrics endpoint
	MetricsPort int

	// OTLP collector endpoint for tracing; empty disables tracing
	OTELEndpoint string

	// Delivery provider credentials
	ProviderAccountSID string
	ProviderAuthToken  string
	ProviderFrom       string
	ProviderBaseURL    string

	// Embedding service
	EmbedderURL   string
	EmbedderModel string
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	batchSize := 10
	if v := os.Getenv("WORKER_BATCH_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid WORKER_BATCH_SIZE: %w", err)
		}
		batchSize = n
	}

	pollInterval := 1 * time.Second
	if v := os.Getenv("WORKER_POLL_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid WORKER_POLL_INTERVAL: %w", err)
		}
		pollInterval = d
	}

	scheduleInterval := 30 * time.Second
	if v := os.Getenv("SCHEDULE_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid SCHEDULE_INTERVAL: %w", err)
		}
		scheduleInterval = d
	}

	metricsPort := 6162
	if v := os.Getenv("METRICS_PORT"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid METRICS_PORT: %w", err)
		}
		metricsPort = p
	}

	embedderModel := os.Getenv("EMBEDDER_MODEL")
	if embedderModel == "" {
		embedderModel = "text-embedding-3-small"
	}

	providerBase := os.Getenv("PROVIDER_BASE_URL")
	if providerBase == "" {
		providerBase = "https://api.twilio.com"
	}

	return &Config{
		DatabaseURL:        dbURL,
		BatchSize:          batchSize,
		PollInterval:       pollInterval,
		ScheduleInterval:   scheduleInterval,
		MetricsPort:        metricsPort,
		OTELEndpoint:       os.Getenv("OTEL_ENDPOINT"),
		ProviderAccountSID: os.Getenv("PROVIDER_ACCOUNT_SID"),
		ProviderAuthToken:  os.Getenv("PROVIDER_AUTH_TOKEN"),
		ProviderFrom:       os.Getenv("PROVIDER_FROM"),
		ProviderBaseURL:    providerBase,
		EmbedderURL:        os.Getenv("EMBEDDER_URL"),
		EmbedderModel:      embedderModel,
	}, nil
}
