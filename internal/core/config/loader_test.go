package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/vietddude/relay/internal/core/domain"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Client.Timeout != 30*time.Second {
		t.Errorf("Client.Timeout = %v, want 30s", cfg.Client.Timeout)
	}
	if cfg.Client.MaxAttempts != 5 {
		t.Errorf("Client.MaxAttempts = %d, want 5", cfg.Client.MaxAttempts)
	}
	if cfg.Limiter.Mode != "file" || cfg.Limiter.Rate != 2.0 || cfg.Limiter.Burst != 10 {
		t.Errorf("Limiter defaults = %+v", cfg.Limiter)
	}
	if cfg.Plans.TTL != 30*time.Minute {
		t.Errorf("Plans.TTL = %v, want 30m", cfg.Plans.TTL)
	}
	if cfg.Idempotency.TTL != 24*time.Hour {
		t.Errorf("Idempotency.TTL = %v, want 24h", cfg.Idempotency.TTL)
	}
	if cfg.Worker.Sleep != 3*time.Second || cfg.Worker.MaxRetries != 5 {
		t.Errorf("Worker defaults = %+v", cfg.Worker)
	}
	if cfg.Worker.DLQPath != ".runtime/dlq.jsonl" {
		t.Errorf("Worker.DLQPath = %q", cfg.Worker.DLQPath)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "text" {
		t.Errorf("Logging defaults = %+v", cfg.Logging)
	}
}

func TestLoadOverridesAndKeepsDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9100
client:
  timeout: 10s
limiter:
  mode: redis
  rate: 0.5
worker:
  max_retries: 3
  application_token: tok
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Server.Port != 9100 {
		t.Errorf("Server.Port = %d, want 9100", cfg.Server.Port)
	}
	if cfg.Client.Timeout != 10*time.Second {
		t.Errorf("Client.Timeout = %v, want 10s", cfg.Client.Timeout)
	}
	if cfg.Limiter.Mode != "redis" || cfg.Limiter.Rate != 0.5 {
		t.Errorf("Limiter = %+v", cfg.Limiter)
	}
	if cfg.Limiter.Burst != 10 {
		t.Errorf("Limiter.Burst = %d, want default 10", cfg.Limiter.Burst)
	}
	if cfg.Worker.MaxRetries != 3 || cfg.Worker.ApplicationToken != "tok" {
		t.Errorf("Worker = %+v", cfg.Worker)
	}
	if cfg.Client.MaxAttempts != 5 {
		t.Errorf("Client.MaxAttempts = %d, want default 5", cfg.Client.MaxAttempts)
	}
}

func TestLoadExpandsEnvironment(t *testing.T) {
	t.Setenv("RELAY_TEST_REDIS_URL", "redis://localhost:6379/2")
	t.Setenv("RELAY_TEST_APP_TOKEN", "secret-token")

	path := writeConfig(t, `
redis:
  url: ${RELAY_TEST_REDIS_URL}
worker:
  application_token: ${RELAY_TEST_APP_TOKEN}
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Redis.URL != "redis://localhost:6379/2" {
		t.Errorf("Redis.URL = %q", cfg.Redis.URL)
	}
	if cfg.Worker.ApplicationToken != "secret-token" {
		t.Errorf("Worker.ApplicationToken = %q", cfg.Worker.ApplicationToken)
	}
}

func TestLoadMalformedYAML(t *testing.T) {
	path := writeConfig(t, "server: [not: a: mapping")
	if _, err := Load(path); err == nil {
		t.Error("Load should fail on malformed YAML")
	}
}

func TestTenantFromEnvWebhook(t *testing.T) {
	t.Setenv("B24_DOMAIN", "acme.bitrix24.com")
	t.Setenv("B24_AUTH_MODE", "")
	t.Setenv("B24_WEBHOOK_USER_ID", "1")
	t.Setenv("B24_WEBHOOK_CODE", "abc123")

	tenant, _, err := TenantFromEnv()
	if err != nil {
		t.Fatalf("TenantFromEnv error: %v", err)
	}
	if tenant.AuthMode != domain.AuthWebhook {
		t.Errorf("AuthMode = %q, want webhook", tenant.AuthMode)
	}
	if tenant.Domain != "acme.bitrix24.com" || tenant.WebhookUserID != "1" || tenant.WebhookCode != "abc123" {
		t.Errorf("tenant = %+v", tenant)
	}
}

func TestTenantFromEnvWebhookMissingCode(t *testing.T) {
	t.Setenv("B24_DOMAIN", "acme.bitrix24.com")
	t.Setenv("B24_AUTH_MODE", "webhook")
	t.Setenv("B24_WEBHOOK_USER_ID", "1")
	t.Setenv("B24_WEBHOOK_CODE", "")

	if _, _, err := TenantFromEnv(); err == nil {
		t.Error("webhook mode without B24_WEBHOOK_CODE should fail")
	}
}

func TestTenantFromEnvOAuth(t *testing.T) {
	t.Setenv("B24_DOMAIN", "acme.bitrix24.com")
	t.Setenv("B24_AUTH_MODE", "oauth")
	t.Setenv("B24_ACCESS_TOKEN", "at-1")
	t.Setenv("B24_REFRESH_TOKEN", "rt-1")

	tenant, tokens, err := TenantFromEnv()
	if err != nil {
		t.Fatalf("TenantFromEnv error: %v", err)
	}
	if tenant.AuthMode != domain.AuthOAuth {
		t.Errorf("AuthMode = %q, want oauth", tenant.AuthMode)
	}
	access, refresh := tokens.Tokens()
	if access != "at-1" || refresh != "rt-1" {
		t.Errorf("tokens = %q, %q", access, refresh)
	}
}

func TestTenantFromEnvErrors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "missing domain", env: map[string]string{"B24_DOMAIN": ""}},
		{
			name: "oauth without access token",
			env:  map[string]string{"B24_DOMAIN": "x.bitrix24.com", "B24_AUTH_MODE": "oauth", "B24_ACCESS_TOKEN": ""},
		},
		{
			name: "unknown auth mode",
			env:  map[string]string{"B24_DOMAIN": "x.bitrix24.com", "B24_AUTH_MODE": "saml"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, _, err := TenantFromEnv(); err == nil {
				t.Error("TenantFromEnv should fail")
			}
		})
	}
}
