package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
type Config struct {
	Database     DatabaseConfig
	API          APIConfig
	Worker       WorkerConfig
	Queue        QueueConfig
	Backend      BackendConfig
	Hosts        HostsConfig
	Polling      PollingConfig
	Entitlements EntitlementsConfig
	Retry        RetryConfig
	Auth         AuthConfig
	Admin        AdminConfig
	Frontend     FrontendConfig
	Logging      LoggingConfig
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// APIConfig holds gateway server settings
type APIConfig struct {
	Port string
	Host string
}

// WorkerConfig holds worker settings
type WorkerConfig struct {
	PollInterval time.Duration
	Concurrency  int
}

// QueueConfig holds queue settings
type QueueConfig struct {
	Type string // only "database" is supported
}

// BackendConfig holds settings for the EarnSigma backend API
type BackendConfig struct {
	URL            string
	ServiceToken   string
	Timeout        time.Duration
	DeploymentHost string
}

// HostsConfig controls canonical host routing in the gateway
type HostsConfig struct {
	EnforceCanonical bool
}

// PollingConfig holds upload status polling settings
type PollingConfig struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Timeout         time.Duration
}

// EntitlementsConfig holds cache lifetimes for billing lookups
type EntitlementsConfig struct {
	CacheTTL           time.Duration
	CheckoutAttemptTTL time.Duration
	AdminWhoAmITTL     time.Duration
}

// RetryConfig holds retry logic settings for tracking jobs
type RetryConfig struct {
	MaxAttempts int
	BackoffBase time.Duration
}

// AuthConfig holds session verification settings
type AuthConfig struct {
	Enabled   bool
	JWTSecret string
	Issuer    string
}

// AdminConfig holds the admin allowlist
type AdminConfig struct {
	Emails []string
}

// FrontendConfig holds the origin page requests are proxied to
type FrontendConfig struct {
	URL string
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level  string
	Format string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5433"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "earnsigma_gateway"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		API: APIConfig{
			Port: getEnv("API_PORT", "8080"),
			Host: getEnv("API_HOST", "0.0.0.0"),
		},
		Worker: WorkerConfig{
			PollInterval: parseDuration(getEnv("WORKER_POLL_INTERVAL", "5s"), 5*time.Second),
			Concurrency:  parseInt(getEnv("WORKER_CONCURRENCY", "5"), 5),
		},
		Queue: QueueConfig{
			Type: getEnv("QUEUE_TYPE", "database"),
		},
		Backend: BackendConfig{
			URL:            getEnv("EARNSIGMA_API_BASE_URL", ""),
			ServiceToken:   getEnv("EARNSIGMA_SERVICE_TOKEN", ""),
			Timeout:        parseDuration(getEnv("EARNSIGMA_API_TIMEOUT", "30s"), 30*time.Second),
			DeploymentHost: getEnv("VERCEL_URL", ""),
		},
		Hosts: HostsConfig{
			EnforceCanonical: parseBool(getEnv("ENFORCE_CANONICAL_HOSTS", "true")),
		},
		Polling: PollingConfig{
			InitialInterval: parseDuration(getEnv("UPLOAD_POLL_INITIAL_INTERVAL", "1s"), time.Second),
			MaxInterval:     parseDuration(getEnv("UPLOAD_POLL_MAX_INTERVAL", "2s"), 2*time.Second),
			Timeout:         parseDuration(getEnv("UPLOAD_POLL_TIMEOUT", "180s"), 180*time.Second),
		},
		Entitlements: EntitlementsConfig{
			CacheTTL:           parseDuration(getEnv("ENTITLEMENTS_CACHE_TTL", "60s"), 60*time.Second),
			CheckoutAttemptTTL: parseDuration(getEnv("CHECKOUT_ATTEMPT_TTL", "20s"), 20*time.Second),
			AdminWhoAmITTL:     parseDuration(getEnv("ADMIN_WHOAMI_TTL", "5m"), 5*time.Minute),
		},
		Retry: RetryConfig{
			MaxAttempts: parseInt(getEnv("MAX_RETRY_ATTEMPTS", "5"), 5),
			BackoffBase: parseDuration(getEnv("RETRY_BACKOFF_BASE", "30s"), 30*time.Second),
		},
		Auth: AuthConfig{
			Enabled:   parseBool(getEnv("ENABLE_AUTH", "true")),
			JWTSecret: getEnv("SUPABASE_JWT_SECRET", ""),
			Issuer:    getEnv("SUPABASE_JWT_ISSUER", ""),
		},
		Admin: AdminConfig{
			Emails: parseList(getEnv("ADMIN_EMAILS", "")),
		},
		Frontend: FrontendConfig{
			URL: getEnv("FRONTEND_URL", ""),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that required configuration fields are set and consistent
func (c *Config) Validate() error {
	if c.Auth.Enabled && c.Auth.JWTSecret == "" {
		return fmt.Errorf("SUPABASE_JWT_SECRET is required when ENABLE_AUTH is true")
	}
	if c.Queue.Type != "database" {
		return fmt.Errorf("unsupported QUEUE_TYPE %q", c.Queue.Type)
	}
	if c.Polling.InitialInterval <= 0 || c.Polling.MaxInterval <= 0 {
		return fmt.Errorf("upload poll intervals must be positive")
	}
	if c.Polling.MaxInterval < c.Polling.InitialInterval {
		return fmt.Errorf("UPLOAD_POLL_MAX_INTERVAL must not be shorter than UPLOAD_POLL_INITIAL_INTERVAL")
	}
	if c.Polling.Timeout < 0 {
		return fmt.Errorf("UPLOAD_POLL_TIMEOUT must not be negative")
	}
	if c.Worker.Concurrency < 1 {
		return fmt.Errorf("WORKER_CONCURRENCY must be at least 1")
	}
	return nil
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseDuration(value string, defaultValue time.Duration) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return d
}

func parseInt(value string, defaultValue int) int {
	var result int
	_, err := fmt.Sscanf(value, "%d", &result)
	if err != nil {
		return defaultValue
	}
	return result
}

func parseBool(value string) bool {
	return value == "true" || value == "1" || value == "yes"
}

// parseList splits a comma separated value, dropping empty items
func parseList(value string) []string {
	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}
