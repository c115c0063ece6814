package domain

// Plan is a durable, pre-approved, single-use description of a risky call.
// It transitions pending -> executed exactly once and is garbage-collected
// once ExpiresAt passes.
type Plan struct {
	ID          string         `json:"plan_id"`
	Tenant      string         `json:"tenant"`
	Method      string         `json:"method"`
	Params      map[string]any `json:"params"`
	Risk        string         `json:"risk"`
	Allowlisted bool           `json:"allowlisted"`
	Packs       []string       `json:"packs"`
	CreatedAt   int64          `json:"created_at"`
	ExpiresAt   int64          `json:"expires_at"`
	Executed    bool           `json:"executed"`
	ExecutedAt  int64          `json:"executed_at,omitempty"`
}

// Expired reports whether the plan is past its TTL at the given unix time.
func (p *Plan) Expired(now int64) bool {
	return p.ExpiresAt != 0 && p.ExpiresAt < now
}
