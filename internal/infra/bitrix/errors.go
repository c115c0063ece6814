package bitrix

// Error codes produced locally by the client, alongside the codes the
// upstream API returns.
const (
	CodeNetworkError       = "NETWORK_ERROR"
	CodeInvalidJSON        = "INVALID_JSON"
	CodeRetriesExhausted   = "RETRIES_EXHAUSTED"
	CodeExpiredToken       = "expired_token"
	CodeQueryLimitExceeded = "QUERY_LIMIT_EXCEEDED"
)

// fatalCodes abort a call immediately; retrying them cannot succeed.
var fatalCodes = map[string]struct{}{
	"WRONG_AUTH_TYPE":        {},
	"insufficient_scope":     {},
	"INVALID_CREDENTIALS":    {},
	"NO_AUTH_FOUND":          {},
	"METHOD_NOT_FOUND":       {},
	"ERROR_METHOD_NOT_FOUND": {},
	"INVALID_REQUEST":        {},
	"ACCESS_DENIED":          {},
	"PAYMENT_REQUIRED":       {},
}

// APIError is the upstream error taxonomy as a value. Callers branch on
// Fatal/Retryable rather than on distinct error types.
type APIError struct {
	Message string
	Status  int
	Code    string
	Payload map[string]any
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Code
}

// Fatal reports whether the error code is in the fixed fatal set. Fatal
// errors are never retryable.
func (e *APIError) Fatal() bool {
	_, ok := fatalCodes[e.Code]
	return ok
}

// Retryable reports whether the error is transient: a rate-limit code or a
// server-side 5xx, and not fatal.
func (e *APIError) Retryable() bool {
	if e.Fatal() {
		return false
	}
	return e.Code == CodeQueryLimitExceeded || e.Status >= 500
}
