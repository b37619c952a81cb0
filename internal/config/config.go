// Package config loads and validates application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// Server settings.
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Archive settings. An empty DatabaseURL disables the archive entirely;
	// the server then runs memory-only.
	DatabaseURL         string
	ArchiveBufferSize   int
	ArchiveFlushTimeout time.Duration

	// Auth settings.
	APIKey string // Raw bootstrap key installed at startup (BEACON_API_KEY).

	// Rate limit settings.
	RateLimitEnabled bool
	IngestRate       float64 // Sustained ingest requests per second per key.
	IngestBurst      int
	QueryRate        float64 // Sustained query requests per second per client.
	QueryBurst       int

	// OTEL settings.
	OTELEndpoint string
	OTELInsecure bool
	ServiceName  string

	// Operational settings.
	LogLevel            string
	MaxRequestBodyBytes int64 // Maximum request body size in bytes.
	SSEKeepalive        time.Duration
	TrendInterval       time.Duration // Fleet trend sampling period.
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (Config, error) {
	cfg := Config{
		Port:                envInt("BEACON_PORT", 8080),
		ReadTimeout:         envDuration("BEACON_READ_TIMEOUT", 30*time.Second),
		WriteTimeout:        envDuration("BEACON_WRITE_TIMEOUT", 30*time.Second),
		DatabaseURL:         envStr("DATABASE_URL", ""),
		ArchiveBufferSize:   envInt("BEACON_ARCHIVE_BUFFER_SIZE", 1000),
		ArchiveFlushTimeout: envDuration("BEACON_ARCHIVE_FLUSH_TIMEOUT", 1*time.Second),
		APIKey:              envStr("BEACON_API_KEY", ""),
		RateLimitEnabled:    envBool("BEACON_RATE_LIMIT_ENABLED", true),
		IngestRate:          envFloat("BEACON_INGEST_RATE", 100),
		IngestBurst:         envInt("BEACON_INGEST_BURST", 200),
		QueryRate:           envFloat("BEACON_QUERY_RATE", 20),
		QueryBurst:          envInt("BEACON_QUERY_BURST", 40),
		OTELEndpoint:        envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTELInsecure:        envBool("OTEL_EXPORTER_OTLP_INSECURE", false),
		ServiceName:         envStr("OTEL_SERVICE_NAME", "beacon"),
		LogLevel:            envStr("BEACON_LOG_LEVEL", "info"),
		MaxRequestBodyBytes: int64(envInt("BEACON_MAX_REQUEST_BODY_BYTES", 1*1024*1024)), // 1 MB default
		SSEKeepalive:        envDuration("BEACON_SSE_KEEPALIVE", 15*time.Second),
		TrendInterval:       envDuration("BEACON_TREND_INTERVAL", 1*time.Second),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that required configuration is present.
func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: BEACON_PORT must be between 1 and 65535")
	}
	if c.MaxRequestBodyBytes <= 0 {
		return fmt.Errorf("config: BEACON_MAX_REQUEST_BODY_BYTES must be positive")
	}
	if c.ArchiveBufferSize <= 0 {
		return fmt.Errorf("config: BEACON_ARCHIVE_BUFFER_SIZE must be positive")
	}
	if c.TrendInterval <= 0 {
		return fmt.Errorf("config: BEACON_TREND_INTERVAL must be positive")
	}
	if c.RateLimitEnabled {
		if c.IngestRate <= 0 || c.IngestBurst <= 0 {
			return fmt.Errorf("config: ingest rate limit values must be positive")
		}
		if c.QueryRate <= 0 || c.QueryBurst <= 0 {
			return fmt.Errorf("config: query rate limit values must be positive")
		}
	}
	return nil
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func envFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func envBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
