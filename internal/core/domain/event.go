package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strconv"
)

// OfflineEvent is one item returned by the offline event queue. The upstream
// mixes lower- and upper-case field names, so access goes through the
// case-tolerant helpers below.
type OfflineEvent map[string]any

func (e OfflineEvent) field(keys ...string) any {
	for _, k := range keys {
		if v, ok := e[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

// Name returns the event name, or "unknown" when absent.
func (e OfflineEvent) Name() string {
	if s, ok := e.field("event", "EVENT").(string); ok && s != "" {
		return s
	}
	return "unknown"
}

// Data returns the event payload object, or nil when absent or malformed.
func (e OfflineEvent) Data() map[string]any {
	m, _ := e.field("data", "DATA").(map[string]any)
	return m
}

// Auth returns the event auth block, or nil when absent or malformed.
func (e OfflineEvent) Auth() map[string]any {
	m, _ := e.field("auth", "AUTH").(map[string]any)
	return m
}

// MessageID returns the transport-assigned message id as a string, or ""
// when the event carries none.
func (e OfflineEvent) MessageID() string {
	switch id := e.field("message_id", "MESSAGE_ID", "id", "ID").(type) {
	case nil:
		return ""
	case string:
		return id
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64)
	case int:
		return strconv.Itoa(id)
	default:
		return ""
	}
}

// DedupKey derives a content-based identity for the event, independent of
// its message id, so a redelivery under a new id collapses to the same
// retry-budget slot.
func (e OfflineEvent) DedupKey() string {
	payload := e.Data()
	if payload == nil {
		payload = map[string]any{}
	}
	stable, err := json.Marshal(payload)
	if err != nil {
		stable = []byte("{}")
	}
	sum := sha256.Sum256(stable)
	return e.Name() + ":" + hex.EncodeToString(sum[:])[:16]
}

// DLQRecord is one append-only dead-letter row. Records are never mutated or
// deleted by this system; operators consume them externally.
type DLQRecord struct {
	Tenant     string       `json:"tenant"`
	Event      string       `json:"event"`
	MessageID  string       `json:"message_id"`
	RetryCount int          `json:"retry_count"`
	Error      string       `json:"error"`
	Payload    OfflineEvent `json:"payload"`
	TS         int64        `json:"ts"`
}
