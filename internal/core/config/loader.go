package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Load reads configuration from a YAML file. A missing path yields a config
// with defaults only, so the CLI works without a config file.
func Load(path string) (*AppConfig, error) {
	var cfg AppConfig

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		// Expand environment variables in the YAML content
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	case os.IsNotExist(err):
		// fall through to defaults
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Client.Timeout == 0 {
		cfg.Client.Timeout = 30 * time.Second
	}
	if cfg.Client.MaxAttempts == 0 {
		cfg.Client.MaxAttempts = 5
	}
	if cfg.Limiter.Mode == "" {
		cfg.Limiter.Mode = "file"
	}
	if cfg.Limiter.Rate == 0 {
		cfg.Limiter.Rate = 2.0
	}
	if cfg.Limiter.Burst == 0 {
		cfg.Limiter.Burst = 10
	}
	if cfg.Limiter.TTL == 0 {
		cfg.Limiter.TTL = time.Hour
	}
	if cfg.Limiter.StatePath == "" {
		cfg.Limiter.StatePath = ".runtime/limiter.json"
	}
	if cfg.Plans.Path == "" {
		cfg.Plans.Path = ".runtime/plans.json"
	}
	if cfg.Plans.TTL == 0 {
		cfg.Plans.TTL = 30 * time.Minute
	}
	if cfg.Idempotency.Path == "" {
		cfg.Idempotency.Path = ".runtime/idempotency.json"
	}
	if cfg.Idempotency.TTL == 0 {
		cfg.Idempotency.TTL = 24 * time.Hour
	}
	if cfg.Worker.Sleep == 0 {
		cfg.Worker.Sleep = 3 * time.Second
	}
	if cfg.Worker.MaxRetries == 0 {
		cfg.Worker.MaxRetries = 5
	}
	if cfg.Worker.BudgetPath == "" {
		cfg.Worker.BudgetPath = ".runtime/retry_budget.json"
	}
	if cfg.Worker.DLQPath == "" {
		cfg.Worker.DLQPath = ".runtime/dlq.jsonl"
	}
	if cfg.Audit.Path == "" {
		cfg.Audit.Path = ".runtime/audit.jsonl"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
}
