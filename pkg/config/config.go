package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"inference-ops-service/pkg/models"
)

type Config struct {
	Port             string
	Environment      string
	ProviderAPIURL   string
	ProviderAPIKey   string
	PostgresEnabled  bool
	PostgresHost     string
	PostgresPort     string
	PostgresDatabase string
	PostgresUser     string
	PostgresPassword string
	RedisURL         string
	RabbitMQURL      string
	MinioEndpoint    string
	MinioAccessKey   string
	MinioSecretKey   string
	MinioUseSSL      bool
	SnapshotBucket   string

	MonitorInterval      time.Duration
	HistoryRetention     time.Duration
	HistorySweepInterval time.Duration
	MaxHistoryEntries    int

	Thresholds models.AlertThresholds

	RestartReadyAttempts int
	RestartReadyInterval time.Duration
}

func Load() (*Config, error) {
	p := &parser{}

	cfg := &Config{
		Port:             getEnv("PORT", "5120"),
		Environment:      getEnv("GO_ENV", "development"),
		ProviderAPIURL:   getEnv("PROVIDER_API_URL", "https://api.runpod.ai/v2"),
		ProviderAPIKey:   getEnv("PROVIDER_API_KEY", ""),
		PostgresEnabled:  getEnv("POSTGRES_ENABLED", "true") == "true",
		PostgresHost:     getEnv("POSTGRESQL_HOST", "postgres"),
		PostgresPort:     getEnv("POSTGRESQL_PORT", "5432"),
		PostgresDatabase: getEnv("POSTGRESQL_DATABASE", "inference_ops"),
		PostgresUser:     getEnv("POSTGRESQL_USER", "ops"),
		PostgresPassword: getEnv("POSTGRESQL_PASSWORD", ""),
		RedisURL:         getEnv("REDIS_URL", "redis://redis:6379"),
		RabbitMQURL:      getEnv("RABBITMQ_URL", ""),
		MinioEndpoint:    getEnv("MINIO_ENDPOINT", "minio:9000"),
		MinioAccessKey:   getEnv("MINIO_ACCESS_KEY", "minioadmin"),
		MinioSecretKey:   getEnv("MINIO_SECRET_KEY", "minioadmin"),
		MinioUseSSL:      getEnv("MINIO_USE_SSL", "false") == "true",
		SnapshotBucket:   getEnv("SNAPSHOT_BUCKET", "deployment-snapshots"),

		MonitorInterval:      p.duration("MONITOR_INTERVAL", 30*time.Second),
		HistoryRetention:     p.duration("HISTORY_RETENTION", 24*time.Hour),
		HistorySweepInterval: p.duration("HISTORY_SWEEP_INTERVAL", time.Hour),
		MaxHistoryEntries:    p.int("MAX_HISTORY_ENTRIES", 2880),

		Thresholds: models.AlertThresholds{
			ErrorRate:         p.float("ALERT_ERROR_RATE", 5),
			ResponseTime:      p.float("ALERT_RESPONSE_TIME_MS", 5000),
			GPUUtilization:    p.float("ALERT_GPU_UTILIZATION", 95),
			MemoryUtilization: p.float("ALERT_MEMORY_UTILIZATION", 90),
		},

		RestartReadyAttempts: p.int("RESTART_READY_ATTEMPTS", 30),
		RestartReadyInterval: p.duration("RESTART_READY_INTERVAL", 10*time.Second),
	}

	if len(p.invalid) > 0 {
		return nil, fmt.Errorf("invalid environment variables: %v", p.invalid)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	var missingVars []string

	if c.Port == "" {
		missingVars = append(missingVars, "PORT")
	}
	if c.ProviderAPIURL == "" {
		missingVars = append(missingVars, "PROVIDER_API_URL")
	}
	if c.ProviderAPIKey == "" {
		missingVars = append(missingVars, "PROVIDER_API_KEY")
	}
	if c.PostgresEnabled {
		if c.PostgresHost == "" {
			missingVars = append(missingVars, "POSTGRESQL_HOST")
		}
		if c.PostgresDatabase == "" {
			missingVars = append(missingVars, "POSTGRESQL_DATABASE")
		}
		if c.PostgresUser == "" {
			missingVars = append(missingVars, "POSTGRESQL_USER")
		}
		if c.PostgresPassword == "" {
			missingVars = append(missingVars, "POSTGRESQL_PASSWORD")
		}
	}
	if c.RedisURL == "" {
		missingVars = append(missingVars, "REDIS_URL")
	}
	if c.MinioEndpoint == "" {
		missingVars = append(missingVars, "MINIO_ENDPOINT")
	}
	if c.SnapshotBucket == "" {
		missingVars = append(missingVars, "SNAPSHOT_BUCKET")
	}

	if len(missingVars) > 0 {
		return fmt.Errorf("missing required environment variables: %v", missingVars)
	}

	if _, err := url.Parse(c.RedisURL); err != nil {
		return fmt.Errorf("invalid REDIS_URL format: %w", err)
	}
	if _, err := url.ParseRequestURI(c.ProviderAPIURL); err != nil {
		return fmt.Errorf("invalid PROVIDER_API_URL format: %w", err)
	}

	if c.MonitorInterval <= 0 {
		return fmt.Errorf("MONITOR_INTERVAL must be positive, got %s", c.MonitorInterval)
	}
	if c.HistoryRetention <= 0 || c.HistorySweepInterval <= 0 {
		return fmt.Errorf("history retention and sweep interval must be positive")
	}
	if c.MaxHistoryEntries <= 0 {
		return fmt.Errorf("MAX_HISTORY_ENTRIES must be positive, got %d", c.MaxHistoryEntries)
	}
	if c.RestartReadyAttempts <= 0 || c.RestartReadyInterval <= 0 {
		return fmt.Errorf("restart readiness attempts and interval must be positive")
	}
	if err := c.Thresholds.Validate(); err != nil {
		return err
	}

	return nil
}

func (c *Config) GetPostgresConnString() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		c.PostgresHost, c.PostgresPort, c.PostgresUser, c.PostgresPassword, c.PostgresDatabase,
	)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parser collects malformed values so Load can report all of them at once.
type parser struct {
	invalid []string
}

func (p *parser) duration(key string, def time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		p.invalid = append(p.invalid, key)
		return def
	}
	return d
}

func (p *parser) int(key string, def int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		p.invalid = append(p.invalid, key)
		return def
	}
	return v
}

func (p *parser) float(key string, def float64) float64 {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		p.invalid = append(p.invalid, key)
		return def
	}
	return v
}
