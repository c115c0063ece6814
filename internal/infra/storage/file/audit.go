package file

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/vietddude/relay/internal/infra/statefile"
)

// AuditRow is one append-only audit record written around every execution
// path of a call: replayed, failed or succeeded.
type AuditRow struct {
	TS               int64    `json:"ts"`
	RequestID        string   `json:"request_id"`
	Tenant           string   `json:"tenant"`
	Method           string   `json:"method"`
	Risk             string   `json:"risk"`
	Status           string   `json:"status"`
	ErrorCode        string   `json:"error_code,omitempty"`
	ErrorMessage     string   `json:"error_message,omitempty"`
	DurationMS       int64    `json:"duration_ms"`
	Allowlisted      bool     `json:"allowlisted"`
	Packs            []string `json:"packs"`
	RestV3           bool     `json:"rest_v3"`
	ParamKeys        []string `json:"param_keys"`
	PlanID           string   `json:"plan_id"`
	IdempotencyKey   string   `json:"idempotency_key"`
	IdempotentReplay bool     `json:"idempotent_replay"`
}

// AuditLog appends rows to a JSONL file. A nil *AuditLog discards rows, so
// callers can disable auditing without branching.
type AuditLog struct {
	path string
}

// NewAuditLog creates an audit log at path.
func NewAuditLog(path string) *AuditLog {
	return &AuditLog{path: path}
}

// Write appends one row.
func (a *AuditLog) Write(ctx context.Context, row AuditRow) error {
	if a == nil {
		return nil
	}
	line, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("encode audit row: %w", err)
	}
	return statefile.AppendLine(ctx, a.path, line)
}
