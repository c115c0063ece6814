package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/pressly/goose/v3"

	"github.com/vietddude/relay/internal/core/config"
	"github.com/vietddude/relay/internal/infra/bitrix"
	"github.com/vietddude/relay/internal/infra/limiter"
	"github.com/vietddude/relay/internal/infra/redis"
	"github.com/vietddude/relay/internal/infra/storage"
	filestore "github.com/vietddude/relay/internal/infra/storage/file"
	"github.com/vietddude/relay/internal/infra/storage/postgres"
	"github.com/vietddude/relay/internal/worker"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	once := flag.Bool("once", false, "Run one polling iteration and exit")
	isDebug := flag.Bool("debug", false, "Enable debug logging")
	sleep := flag.Duration("sleep", 0, "Sleep between polling cycles (overrides config)")
	maxRetries := flag.Int("max-retries", 0, "Retry budget per dedup event key (overrides config)")
	applicationToken := flag.String("application-token", "", "Expected application_token for event validation (overrides config)")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	slogLevel := slog.LevelInfo
	if *isDebug || cfg.Logging.Level == "debug" {
		slogLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      slogLevel,
		TimeFormat: time.RFC3339,
	})))
	slog.Info("Logger initialized", "level", slogLevel.String())

	// CLI flags win over file config.
	if *sleep > 0 {
		cfg.Worker.Sleep = *sleep
	}
	if *maxRetries > 0 {
		cfg.Worker.MaxRetries = *maxRetries
	}
	if *applicationToken != "" {
		cfg.Worker.ApplicationToken = *applicationToken
	}

	tenant, tokens, err := config.TenantFromEnv()
	if err != nil {
		slog.Error("Failed to load tenant from environment", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var redisClient *redis.Client
	if cfg.Redis.URL != "" {
		redisClient, err = redis.NewClient(cfg.Redis)
		if err != nil {
			slog.Error("Failed to connect to redis", "error", err)
			os.Exit(1)
		}
		defer redisClient.Close()
	}

	client := bitrix.NewClient(*tenant, tokens, clientOptions(cfg, redisClient)...)

	budget := buildBudget(cfg, redisClient)
	dlq, closeDLQ, err := buildDLQ(ctx, cfg)
	if err != nil {
		slog.Error("Failed to set up dead letter queue", "error", err)
		os.Exit(1)
	}
	defer closeDLQ()

	w := worker.New(client, budget, dlq, nil, worker.Config{
		TenantKey:        tenant.Key(),
		ApplicationToken: cfg.Worker.ApplicationToken,
		IdleSleep:        cfg.Worker.Sleep,
	}, slog.Default())

	if *once {
		count, err := w.RunOnce(ctx)
		if err != nil {
			slog.Error("Polling cycle failed", "error", err)
			os.Exit(1)
		}
		fmt.Printf("Processed batch size: %d\n", count)
		return
	}

	health := worker.NewHealthServer(w, cfg.Server.Port)
	go func() {
		slog.Info("Health server listening", "port", cfg.Server.Port)
		if err := health.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("Health server failed", "error", err)
		}
	}()

	runErr := w.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := health.Stop(shutdownCtx); err != nil {
		slog.Error("Error stopping health server", "error", err)
	}

	if runErr != nil {
		slog.Error("Worker terminated", "error", runErr)
		os.Exit(1)
	}
	slog.Info("Worker stopped gracefully")
}

func clientOptions(cfg *config.AppConfig, redisClient *redis.Client) []bitrix.Option {
	opts := []bitrix.Option{
		bitrix.WithTimeout(cfg.Client.Timeout),
		bitrix.WithMaxAttempts(cfg.Client.MaxAttempts),
	}

	switch cfg.Limiter.Mode {
	case "off", "none", "noop":
		opts = append(opts, bitrix.WithLimiter(limiter.Noop{}))
	case "redis":
		if redisClient != nil {
			opts = append(opts, bitrix.WithLimiter(limiter.NewRedisTokenBucket(
				redisClient.Raw(), "relay:limiter", cfg.Limiter.Rate, float64(cfg.Limiter.Burst), cfg.Limiter.TTL)))
			break
		}
		slog.Warn("Limiter mode is redis but no redis url is configured; using file limiter")
		fallthrough
	default:
		opts = append(opts, bitrix.WithLimiter(limiter.NewFileTokenBucket(
			cfg.Limiter.StatePath, cfg.Limiter.Rate, float64(cfg.Limiter.Burst), cfg.Limiter.TTL)))
	}

	if clientID, clientSecret := config.OAuthClientFromEnv(); clientID != "" && clientSecret != "" {
		refresher := bitrix.NewOAuthRefresher(bitrix.DefaultTokenURL, clientID, clientSecret)
		opts = append(opts, bitrix.WithRefresh(refresher.Refresh))
	}
	return opts
}

func buildBudget(cfg *config.AppConfig, redisClient *redis.Client) storage.RetryBudget {
	if redisClient != nil {
		return redis.NewRetryBudget(redisClient, "relay:retry_budget", cfg.Worker.MaxRetries)
	}
	return filestore.NewRetryBudget(cfg.Worker.BudgetPath, cfg.Worker.MaxRetries)
}

// buildDLQ prefers the postgres sink when a database is configured and runs
// pending migrations on startup; otherwise dead letters land in a local
// JSONL file.
func buildDLQ(ctx context.Context, cfg *config.AppConfig) (storage.DeadLetterQueue, func(), error) {
	if cfg.Database.URL == "" {
		return filestore.NewDLQ(cfg.Worker.DLQPath), func() {}, nil
	}

	db, err := postgres.NewDB(ctx, cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	if err := goose.SetDialect("postgres"); err != nil {
		db.Close()
		return nil, nil, err
	}
	if err := goose.Up(db.DB, "migrations"); err != nil {
		db.Close()
		return nil, nil, err
	}
	return postgres.NewDLQRepo(db), func() { _ = db.Close() }, nil
}
