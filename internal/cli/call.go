package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/vietddude/relay/internal/core/config"
	"github.com/vietddude/relay/internal/core/redact"
	"github.com/vietddude/relay/internal/core/risk"
	"github.com/vietddude/relay/internal/core/schema"
	"github.com/vietddude/relay/internal/infra/bitrix"
	"github.com/vietddude/relay/internal/infra/limiter"
	redisclient "github.com/vietddude/relay/internal/infra/redis"
	"github.com/vietddude/relay/internal/infra/storage"
	filestore "github.com/vietddude/relay/internal/infra/storage/file"
)

const (
	exitUsage = 2
	exitAPI   = 1
)

func failf(code int, format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(code)
}

func runCall(cmd *cobra.Command, args []string) {
	initLogger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	packs, err := risk.ParsePacks(packNames)
	if err != nil {
		failf(exitUsage, "%v", err)
	}

	if listPacks {
		printJSON(map[string]any{
			"default_packs":   risk.DefaultPacks,
			"available_packs": risk.PackPatterns(),
			"selected_packs":  packs,
		})
		return
	}

	var params map[string]any
	if err := json.Unmarshal([]byte(paramsJSON), &params); err != nil {
		failf(exitAPI, "invalid JSON in --params: %v", err)
	}
	if params == nil {
		params = map[string]any{}
	}

	tenant, tokens, err := config.TenantFromEnv()
	if err != nil {
		failf(exitUsage, "%v", err)
	}

	var method string
	if len(args) > 0 {
		method = strings.ToLower(strings.TrimSpace(args[0]))
	}

	// Executing a stored plan replaces method and params with the approved
	// ones; every gate below still applies to them.
	plans := filestore.NewPlanStore(planFile, time.Duration(planTTLSec)*time.Second)
	planID := strings.TrimSpace(executePlan)
	if planID != "" {
		plan, err := plans.Consume(ctx, planID, tenant.Domain)
		switch {
		case errors.Is(err, storage.ErrPlanNotFound):
			failf(exitUsage, "plan '%s' not found or expired", planID)
		case errors.Is(err, storage.ErrPlanTenantMismatch):
			failf(exitUsage, "plan '%s' belongs to another tenant", planID)
		case errors.Is(err, storage.ErrPlanExecuted):
			failf(exitUsage, "plan '%s' was already executed", planID)
		case err != nil:
			failf(exitUsage, "%v", err)
		}
		if method != "" && method != plan.Method {
			failf(exitUsage, "method '%s' does not match planned method '%s'", method, plan.Method)
		}
		method = plan.Method
		params = plan.Params
	}

	if method == "" {
		failf(exitUsage, "method is required (or use --execute-plan)")
	}
	if err := schema.ValidateMethod(method); err != nil {
		failf(exitUsage, "schema validation failed: %v", err)
	}
	if err := schema.ValidateParams(method, params); err != nil {
		failf(exitUsage, "schema validation failed: %v", err)
	}

	patterns := risk.ExpandAllowlist(risk.ParseAllowlist(methodPatterns), packs)
	allowed := risk.IsAllowed(method, patterns)
	if !allowed && !allowUnlisted {
		failf(exitUsage, "method '%s' is outside allowlist. Use --allow-unlisted to bypass or extend --method-allowlist/--packs.", method)
	}
	if method == "batch" && !allowUnlisted {
		checkBatchAllowlist(params, patterns)
	}

	level := risk.Classify(method, params)

	if planOnly {
		plan, err := plans.Create(ctx, tenant.Domain, method, params, string(level), allowed, packs)
		if err != nil {
			failf(exitUsage, "creating plan: %v", err)
		}
		printJSON(map[string]any{
			"plan": plan,
			"next": map[string]string{
				"execute_command": "relay --execute-plan " + plan.ID,
			},
		})
		return
	}

	if requirePlan && level != risk.Read && planID == "" {
		failf(exitUsage, "plan is required for write/destructive operation. Run with --plan-only, then execute with --execute-plan <plan_id>.")
	}
	if level == risk.Write && !confirmWrite {
		failf(exitUsage, "write method detected. Add --confirm-write to execute.")
	}
	if level == risk.Destructive && !confirmDestructive {
		failf(exitUsage, "destructive method detected. Add --confirm-destructive to execute.")
	}

	opts := []bitrix.Option{bitrix.WithLimiter(limiterFromEnv())}
	if autoRefresh {
		clientID, clientSecret := config.OAuthClientFromEnv()
		refresher := bitrix.NewOAuthRefresher(bitrix.DefaultTokenURL, clientID, clientSecret)
		opts = append(opts, bitrix.WithRefresh(refresher.Refresh))
	}
	client := bitrix.NewClient(*tenant, tokens, opts...)

	requestID := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	started := time.Now()

	var audit *filestore.AuditLog
	if !noAudit {
		audit = filestore.NewAuditLog(auditFile)
	}
	row := filestore.AuditRow{
		RequestID:   requestID,
		Tenant:      tenant.Domain,
		Method:      method,
		Risk:        string(level),
		Allowlisted: allowed,
		Packs:       packs,
		RestV3:      restV3,
		ParamKeys:   sortedKeys(params),
		PlanID:      planID,
	}
	writeAudit := func(status string) {
		row.TS = time.Now().Unix()
		row.Status = status
		row.DurationMS = time.Since(started).Milliseconds()
		if err := audit.Write(ctx, row); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: audit write failed: %v\n", err)
		}
	}

	// The idempotency layer guards writes only; reads are naturally safe to
	// repeat.
	var idem storage.IdempotencyStore
	var idemKey string
	if level != risk.Read && !noIdempotency {
		idem = idempotencyStore()
		idemKey = storage.IdempotencyKeyFor(tenant.Domain, method, params, idempotencyKey)
		row.IdempotencyKey = idemKey

		cached, ok, err := idem.CheckReplay(ctx, idemKey)
		if err != nil {
			failf(exitUsage, "idempotency store: %v", err)
		}
		if ok {
			row.IdempotentReplay = true
			writeAudit("idempotent_replay")
			printResponse(cached)
			return
		}
		if err := idem.Start(ctx, idemKey); err != nil {
			failf(exitUsage, "idempotency store: %v", err)
		}
	}

	call := client.Call
	if restV3 {
		call = client.CallV3
	}
	response, err := call(ctx, method, params)
	if err != nil {
		if idem != nil {
			if clearErr := idem.Clear(ctx, idemKey); clearErr != nil {
				fmt.Fprintf(os.Stderr, "Warning: idempotency clear failed: %v\n", clearErr)
			}
		}
		var apiErr *bitrix.APIError
		if errors.As(err, &apiErr) {
			row.ErrorCode = apiErr.Code
			row.ErrorMessage = apiErr.Message
			writeAudit("error")
			failf(exitAPI, "api error: code=%s status=%d msg=%s", apiErr.Code, apiErr.Status, apiErr.Message)
		}
		row.ErrorMessage = err.Error()
		writeAudit("error")
		failf(exitAPI, "%v", err)
	}

	if idem != nil {
		if err := idem.Done(ctx, idemKey, response); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: idempotency record failed: %v\n", err)
		}
	}
	writeAudit("ok")
	printResponse(response)
}

func checkBatchAllowlist(params map[string]any, patterns []string) {
	commands, _ := params["cmd"].(map[string]any)
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		command, ok := commands[name].(string)
		if !ok {
			continue
		}
		m := risk.BatchCommandMethod(command)
		if !risk.IsAllowed(m, patterns) {
			failf(exitUsage, "batch command '%s' uses non-allowlisted method '%s'. Use --allow-unlisted to bypass.", name, m)
		}
	}
}

// idempotencyStore picks Redis when B24_REDIS_URL is set, so multiple hosts
// sharing one tenant deduplicate against the same records. It falls back to
// the state file on connection failure rather than dropping the guard.
func idempotencyStore() storage.IdempotencyStore {
	ttl := time.Duration(idempotencyTTLSec) * time.Second
	if url := strings.TrimSpace(os.Getenv("B24_REDIS_URL")); url != "" {
		rc, err := redisclient.NewClient(redisclient.Config{URL: url, Password: os.Getenv("B24_REDIS_PASSWORD")})
		if err == nil {
			return redisclient.NewIdempotencyStore(rc, "relay:idempotency", ttl)
		}
		fmt.Fprintf(os.Stderr, "Warning: redis unavailable, using file idempotency store: %v\n", err)
	}
	return filestore.NewIdempotencyStore(idempotencyFile, ttl)
}

func limiterFromEnv() limiter.Limiter {
	mode := strings.ToLower(strings.TrimSpace(os.Getenv("B24_RATE_LIMITER")))
	switch mode {
	case "off", "none", "noop":
		return limiter.Noop{}
	}
	path := envOr("B24_RATE_LIMITER_FILE", ".runtime/limiter.json")
	rate := envFloat("B24_RATE_LIMITER_RATE", 2.0)
	burst := envFloat("B24_RATE_LIMITER_BURST", 10.0)
	ttl := time.Duration(envInt("B24_RATE_LIMITER_TTL_SEC", 3600)) * time.Second
	return limiter.NewFileTokenBucket(path, rate, burst, ttl)
}

func printResponse(response map[string]any) {
	out, err := json.MarshalIndent(response, "", "  ")
	if err != nil {
		failf(exitAPI, "encoding response: %v", err)
	}
	text := string(out)
	if maskSecrets {
		text = redact.Mask(text)
	}
	fmt.Println(text)
}

func printJSON(v any) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		failf(exitUsage, "encoding output: %v", err)
	}
	fmt.Println(string(out))
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
