// Package config loads and validates application configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/vietddude/relay/internal/core/domain"
	redisclient "github.com/vietddude/relay/internal/infra/redis"
	"github.com/vietddude/relay/internal/infra/storage/postgres"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server      ServerConfig       `yaml:"server"`
	Client      ClientConfig       `yaml:"client"`
	Limiter     LimiterConfig      `yaml:"limiter"`
	Plans       PlansConfig        `yaml:"plans"`
	Idempotency IdempotencyConfig  `yaml:"idempotency"`
	Worker      WorkerConfig       `yaml:"worker"`
	Audit       AuditConfig        `yaml:"audit"`
	Redis       redisclient.Config `yaml:"redis"`
	Database    postgres.Config    `yaml:"database"`
	Logging     LoggingConfig      `yaml:"logging"`
}

// ServerConfig holds HTTP server settings for health and metrics.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// ClientConfig holds call executor settings.
type ClientConfig struct {
	Timeout     time.Duration `yaml:"timeout"`
	MaxAttempts int           `yaml:"max_attempts"`
}

// LimiterConfig holds per-tenant rate limiter settings.
type LimiterConfig struct {
	Mode      string        `yaml:"mode"` // off, file, redis
	Rate      float64       `yaml:"rate"` // tokens per second
	Burst     int           `yaml:"burst"`
	TTL       time.Duration `yaml:"ttl"`
	StatePath string        `yaml:"state_path"`
}

// PlansConfig holds plan-then-execute workflow settings.
type PlansConfig struct {
	Path string        `yaml:"path"`
	TTL  time.Duration `yaml:"ttl"`
}

// IdempotencyConfig holds replay-storage settings.
type IdempotencyConfig struct {
	Path string        `yaml:"path"`
	TTL  time.Duration `yaml:"ttl"`
}

// WorkerConfig holds offline queue worker settings.
type WorkerConfig struct {
	Sleep            time.Duration `yaml:"sleep"`
	MaxRetries       int           `yaml:"max_retries"`
	BudgetPath       string        `yaml:"budget_path"`
	DLQPath          string        `yaml:"dlq_path"`
	ApplicationToken string        `yaml:"application_token"`
}

// AuditConfig holds audit log settings.
type AuditConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// TenantFromEnv builds tenant identity and credentials from the environment.
// Webhook mode needs B24_WEBHOOK_USER_ID and B24_WEBHOOK_CODE; oauth mode
// needs B24_ACCESS_TOKEN (B24_REFRESH_TOKEN enables auto-refresh).
func TenantFromEnv() (*domain.Tenant, *domain.TokenStore, error) {
	d := os.Getenv("B24_DOMAIN")
	if d == "" {
		return nil, nil, fmt.Errorf("B24_DOMAIN is not set")
	}

	mode := domain.AuthMode(os.Getenv("B24_AUTH_MODE"))
	if mode == "" {
		mode = domain.AuthWebhook
	}

	tenant := &domain.Tenant{Domain: d, AuthMode: mode}
	tokens := &domain.TokenStore{}

	switch mode {
	case domain.AuthWebhook:
		tenant.WebhookUserID = os.Getenv("B24_WEBHOOK_USER_ID")
		tenant.WebhookCode = os.Getenv("B24_WEBHOOK_CODE")
		if tenant.WebhookUserID == "" || tenant.WebhookCode == "" {
			return nil, nil, fmt.Errorf("webhook auth requires B24_WEBHOOK_USER_ID and B24_WEBHOOK_CODE")
		}
	case domain.AuthOAuth:
		access := os.Getenv("B24_ACCESS_TOKEN")
		if access == "" {
			return nil, nil, fmt.Errorf("oauth auth requires B24_ACCESS_TOKEN")
		}
		tokens.SetTokens(access, os.Getenv("B24_REFRESH_TOKEN"))
	default:
		return nil, nil, fmt.Errorf("unknown B24_AUTH_MODE %q (want webhook or oauth)", mode)
	}

	return tenant, tokens, nil
}

// OAuthClientFromEnv returns the OAuth application credentials, or empty
// strings when not configured.
func OAuthClientFromEnv() (clientID, clientSecret string) {
	return os.Getenv("B24_CLIENT_ID"), os.Getenv("B24_CLIENT_SECRET")
}
