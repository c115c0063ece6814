// Package cli implements the relay command: a guarded, audited one-shot REST
// call with plan-then-execute and idempotency workflows.
package cli

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"
)

var (
	paramsJSON     string
	restV3         bool
	autoRefresh    bool
	maskSecrets    bool
	methodPatterns string
	packNames      string
	listPacks      bool
	allowUnlisted  bool

	planOnly    bool
	executePlan string
	planFile    string
	planTTLSec  int
	requirePlan bool

	confirmWrite       bool
	confirmDestructive bool

	auditFile string
	noAudit   bool

	idempotencyKey    string
	idempotencyFile   string
	idempotencyTTLSec int
	noIdempotency     bool

	isDebug bool
)

var rootCmd = &cobra.Command{
	Use:   "relay [method]",
	Short: "Guarded Bitrix24 REST call helper",
	Long: `relay executes a single REST method against the tenant configured in the
environment, with rate limiting, retries, risk gating, plans and idempotency.`,
	Args: cobra.MaximumNArgs(1),
	Run:  runCall,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(2)
	}
}

func init() {
	f := rootCmd.Flags()
	f.StringVar(&paramsJSON, "params", "{}", "JSON object with method params")
	f.BoolVar(&restV3, "rest-v3", false, "use /rest/api/ path (OAuth mode only)")
	f.BoolVar(&autoRefresh, "auto-refresh", false, "enable token refresh via the OAuth server (OAuth mode only)")
	f.BoolVar(&maskSecrets, "mask-secrets", true, "mask sensitive values in output")
	f.StringVar(&methodPatterns, "method-allowlist", os.Getenv("B24_METHOD_ALLOWLIST"), "comma-separated method allowlist patterns, e.g. 'user.*,crm.*,batch'")
	f.StringVar(&packNames, "packs", envOr("B24_PACKS", ""), "comma-separated capability packs; 'none' disables packs")
	f.BoolVar(&listPacks, "list-packs", false, "print available packs and exit")
	f.BoolVar(&allowUnlisted, "allow-unlisted", false, "allow methods outside allowlist for this call")

	f.BoolVar(&planOnly, "plan-only", false, "create and persist an execution plan, print it, do not call")
	f.StringVar(&executePlan, "execute-plan", "", "execute a previously created plan id")
	f.StringVar(&planFile, "plan-file", envOr("B24_PLAN_FILE", ".runtime/plans.json"), "path to persisted plan store JSON")
	f.IntVar(&planTTLSec, "plan-ttl-sec", envInt("B24_PLAN_TTL_SEC", 1800), "plan expiration time in seconds")
	f.BoolVar(&requirePlan, "require-plan", envBool("B24_REQUIRE_PLAN"), "require plan->execute for write/destructive operations")

	f.BoolVar(&confirmWrite, "confirm-write", false, "required for write methods and write batch commands")
	f.BoolVar(&confirmDestructive, "confirm-destructive", false, "required for destructive methods")

	f.StringVar(&auditFile, "audit-file", envOr("B24_AUDIT_FILE", ".runtime/audit.jsonl"), "path to JSONL audit file")
	f.BoolVar(&noAudit, "no-audit", false, "disable audit logging for this call")

	f.StringVar(&idempotencyKey, "idempotency-key", "", "explicit idempotency key for write/destructive operations")
	f.StringVar(&idempotencyFile, "idempotency-file", envOr("B24_IDEMPOTENCY_FILE", ".runtime/idempotency.json"), "path to idempotency store JSON")
	f.IntVar(&idempotencyTTLSec, "idempotency-ttl-sec", envInt("B24_IDEMPOTENCY_TTL_SEC", 86400), "TTL for idempotency records in seconds")
	f.BoolVar(&noIdempotency, "no-idempotency", false, "disable idempotency layer for write/destructive operations")

	f.BoolVar(&isDebug, "debug", false, "enable debug logging")
}

func initLogger() {
	_ = godotenv.Load()

	level := slog.LevelInfo
	if isDebug {
		level = slog.LevelDebug
	}
	// The command prints its result on stdout; logs go to stderr.
	slog.SetDefault(slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.RFC3339,
	})))
}

func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

func envInt(name string, fallback int) int {
	if v := os.Getenv(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(name string, fallback float64) float64 {
	if v := os.Getenv(name); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(name string) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(name))) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
