package config

import (
	"testing"
	"time"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("SUPABASE_JWT_SECRET", "test_secret")
}

func TestLoad_FromEnvironmentVariables(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("DB_HOST", "testhost")
	t.Setenv("DB_NAME", "testdb")
	t.Setenv("API_PORT", "9090")
	t.Setenv("EARNSIGMA_API_BASE_URL", "https://api.earnsigma.com/")
	t.Setenv("EARNSIGMA_SERVICE_TOKEN", "svc")
	t.Setenv("WORKER_POLL_INTERVAL", "10s")
	t.Setenv("MAX_RETRY_ATTEMPTS", "3")
	t.Setenv("UPLOAD_POLL_TIMEOUT", "90s")
	t.Setenv("ADMIN_EMAILS", "ops@earnsigma.com, founder@earnsigma.com ,")
	t.Setenv("FRONTEND_URL", "http://localhost:3000")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Database.Host != "testhost" {
		t.Errorf("Expected DB_HOST 'testhost', got '%s'", cfg.Database.Host)
	}
	if cfg.Database.DBName != "testdb" {
		t.Errorf("Expected DB_NAME 'testdb', got '%s'", cfg.Database.DBName)
	}
	if cfg.API.Port != "9090" {
		t.Errorf("Expected API_PORT '9090', got '%s'", cfg.API.Port)
	}
	if cfg.Backend.URL != "https://api.earnsigma.com/" {
		t.Errorf("Unexpected backend URL '%s'", cfg.Backend.URL)
	}
	if cfg.Backend.ServiceToken != "svc" {
		t.Errorf("Expected service token 'svc', got '%s'", cfg.Backend.ServiceToken)
	}
	if cfg.Worker.PollInterval != 10*time.Second {
		t.Errorf("Expected WORKER_POLL_INTERVAL 10s, got %v", cfg.Worker.PollInterval)
	}
	if cfg.Retry.MaxAttempts != 3 {
		t.Errorf("Expected MAX_RETRY_ATTEMPTS 3, got %d", cfg.Retry.MaxAttempts)
	}
	if cfg.Polling.Timeout != 90*time.Second {
		t.Errorf("Expected poll timeout 90s, got %v", cfg.Polling.Timeout)
	}
	if len(cfg.Admin.Emails) != 2 || cfg.Admin.Emails[1] != "founder@earnsigma.com" {
		t.Errorf("Unexpected admin emails %v", cfg.Admin.Emails)
	}
	if cfg.Frontend.URL != "http://localhost:3000" {
		t.Errorf("Unexpected frontend URL '%s'", cfg.Frontend.URL)
	}
}

func TestLoad_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Polling.InitialInterval != time.Second {
		t.Errorf("Expected initial interval 1s, got %v", cfg.Polling.InitialInterval)
	}
	if cfg.Polling.MaxInterval != 2*time.Second {
		t.Errorf("Expected max interval 2s, got %v", cfg.Polling.MaxInterval)
	}
	if cfg.Polling.Timeout != 180*time.Second {
		t.Errorf("Expected timeout 180s, got %v", cfg.Polling.Timeout)
	}
	if cfg.Entitlements.CacheTTL != 60*time.Second {
		t.Errorf("Expected entitlements TTL 60s, got %v", cfg.Entitlements.CacheTTL)
	}
	if cfg.Entitlements.CheckoutAttemptTTL != 20*time.Second {
		t.Errorf("Expected checkout attempt TTL 20s, got %v", cfg.Entitlements.CheckoutAttemptTTL)
	}
	if !cfg.Auth.Enabled {
		t.Error("Expected auth to be enabled by default")
	}
	if !cfg.Hosts.EnforceCanonical {
		t.Error("Expected canonical hosts to be enforced by default")
	}
	if cfg.Queue.Type != "database" {
		t.Errorf("Expected database queue, got %s", cfg.Queue.Type)
	}
}

func TestLoad_AuthWithoutSecret(t *testing.T) {
	t.Setenv("SUPABASE_JWT_SECRET", "")
	t.Setenv("ENABLE_AUTH", "true")

	if _, err := Load(); err == nil {
		t.Error("Expected error when auth is enabled without a secret")
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Worker:  WorkerConfig{Concurrency: 1},
			Queue:   QueueConfig{Type: "database"},
			Polling: PollingConfig{InitialInterval: time.Second, MaxInterval: 2 * time.Second, Timeout: time.Minute},
		}
	}

	testCases := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"zero timeout allowed", func(c *Config) { c.Polling.Timeout = 0 }, false},
		{"negative timeout", func(c *Config) { c.Polling.Timeout = -time.Second }, true},
		{"zero interval", func(c *Config) { c.Polling.InitialInterval = 0 }, true},
		{"max below initial", func(c *Config) { c.Polling.MaxInterval = 500 * time.Millisecond }, true},
		{"redis queue", func(c *Config) { c.Queue.Type = "redis" }, true},
		{"auth without secret", func(c *Config) { c.Auth.Enabled = true }, true},
		{"auth with secret", func(c *Config) { c.Auth.Enabled = true; c.Auth.JWTSecret = "s" }, false},
		{"no workers", func(c *Config) { c.Worker.Concurrency = 0 }, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid()
			tc.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tc.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestParseList(t *testing.T) {
	if got := parseList(""); len(got) != 0 {
		t.Errorf("Expected empty list, got %v", got)
	}
	got := parseList("a, b,,c ")
	if len(got) != 3 || got[0] != "a" || got[2] != "c" {
		t.Errorf("Unexpected list %v", got)
	}
}
