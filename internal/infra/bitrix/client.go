// Package bitrix implements the resilient call pipeline against the Bitrix24
// REST API: rate limiting, auth injection, retry with backoff, fatal-error
// circuit breaking and coordinated token refresh.
package bitrix

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/vietddude/relay/internal/core/domain"
	"github.com/vietddude/relay/internal/core/metrics"
	"github.com/vietddude/relay/internal/infra/limiter"
)

const (
	defaultTimeout     = 30 * time.Second
	defaultMaxAttempts = 5
	defaultBackoffBase = 500 * time.Millisecond
	defaultBackoffMax  = 30 * time.Second
	backoffJitter      = 250 * time.Millisecond
)

// RefreshFunc fetches a new access/refresh token pair from the identity
// provider using the refresh token held in the store.
type RefreshFunc func(ctx context.Context, tenant domain.Tenant, tokens *domain.TokenStore) (access, refresh string, err error)

// Client executes method calls against one tenant. It is safe for concurrent
// use; the only shared mutable state is the token store and the limiter.
type Client struct {
	tenant      domain.Tenant
	tokens      *domain.TokenStore
	httpClient  *http.Client
	limiter     limiter.Limiter
	refresh     RefreshFunc
	maxAttempts int
	backoffBase time.Duration
	backoffMax  time.Duration
	log         *slog.Logger

	// refreshMu is the singleflight rendezvous: at most one refresh is in
	// flight per tenant, everyone else waits on it.
	refreshMu sync.Mutex
}

// Option configures a Client.
type Option func(*Client)

// WithLimiter sets the rate limiter consulted before every attempt.
func WithLimiter(l limiter.Limiter) Option {
	return func(c *Client) {
		if l != nil {
			c.limiter = l
		}
	}
}

// WithRefresh enables coordinated token refresh on credential expiry.
func WithRefresh(fn RefreshFunc) Option {
	return func(c *Client) { c.refresh = fn }
}

// WithTimeout sets the per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithMaxAttempts sets the retry budget per call.
func WithMaxAttempts(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

// WithBackoff overrides the backoff window, mainly for tests.
func WithBackoff(base, max time.Duration) Option {
	return func(c *Client) {
		if base > 0 {
			c.backoffBase = base
		}
		if max > 0 {
			c.backoffMax = max
		}
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(c *Client) {
		if log != nil {
			c.log = log
		}
	}
}

// NewClient creates a client for one tenant.
func NewClient(tenant domain.Tenant, tokens *domain.TokenStore, opts ...Option) *Client {
	if tokens == nil {
		tokens = domain.NewTokenStore("", "")
	}
	c := &Client{
		tenant: tenant,
		tokens: tokens,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter:     limiter.Noop{},
		maxAttempts: defaultMaxAttempts,
		backoffBase: defaultBackoffBase,
		backoffMax:  defaultBackoffMax,
		log:         slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Tenant returns the tenant this client calls.
func (c *Client) Tenant() domain.Tenant {
	return c.tenant
}

// Call executes one method against the REST v2 path.
func (c *Client) Call(ctx context.Context, method string, params map[string]any) (map[string]any, error) {
	return c.call(ctx, method, params, false)
}

// CallV3 executes one method against the prefixed REST v3 path (token-based
// auth mode only).
func (c *Client) CallV3(ctx context.Context, method string, params map[string]any) (map[string]any, error) {
	return c.call(ctx, method, params, true)
}

func (c *Client) call(ctx context.Context, method string, params map[string]any, restV3 bool) (map[string]any, error) {
	if method == "" {
		return nil, &APIError{Message: "method name is required", Code: "INVALID_REQUEST"}
	}

	url, err := c.buildURL(method, restV3)
	if err != nil {
		return nil, err
	}

	payload := make(map[string]any, len(params)+1)
	for k, v := range params {
		payload[k] = v
	}

	start := time.Now()
	result, err := c.attemptLoop(ctx, url, method, payload)

	metrics.APICallLatency.WithLabelValues(c.tenant.Key(), method).Observe(time.Since(start).Seconds())
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.APICallsTotal.WithLabelValues(c.tenant.Key(), method, status).Inc()
	return result, err
}

func (c *Client) attemptLoop(ctx context.Context, url, method string, payload map[string]any) (map[string]any, error) {
	refreshed := false

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if err := c.limiter.Acquire(ctx, c.tenant.Key()); err != nil {
			return nil, err
		}

		if c.tenant.AuthMode == domain.AuthOAuth {
			access, _ := c.tokens.Tokens()
			payload["auth"] = access
		}

		body, status, netErr := c.postJSON(ctx, url, payload)
		if netErr != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			c.log.Warn("transport failure", "method", method, "attempt", attempt, "error", netErr)
			if attempt == c.maxAttempts {
				return nil, &APIError{
					Message: fmt.Sprintf("network error: %v", netErr),
					Code:    CodeNetworkError,
				}
			}
			metrics.APIRetriesTotal.WithLabelValues(c.tenant.Key(), method).Inc()
			if err := c.backoff(ctx, attempt); err != nil {
				return nil, err
			}
			continue
		}

		parsed, ok := parseBody(body)
		var apiErr *APIError
		if !ok {
			apiErr = &APIError{Message: "invalid JSON response", Status: status, Code: CodeInvalidJSON}
		} else {
			apiErr = toAPIError(status, parsed)
			if apiErr == nil {
				return parsed, nil
			}
		}

		// One coordinated refresh per call; on success the same attempt
		// slot is retried without a backoff delay.
		if apiErr.Code == CodeExpiredToken && !refreshed && c.tenant.AuthMode == domain.AuthOAuth && c.refresh != nil {
			refreshed = true
			if c.refreshTokens(ctx) {
				attempt--
				continue
			}
		}

		if apiErr.Fatal() {
			return nil, apiErr
		}
		if !apiErr.Retryable() || attempt == c.maxAttempts {
			return nil, apiErr
		}

		metrics.APIRetriesTotal.WithLabelValues(c.tenant.Key(), method).Inc()
		if err := c.backoff(ctx, attempt); err != nil {
			return nil, err
		}
	}

	return nil, &APIError{Message: "retries exhausted", Code: CodeRetriesExhausted}
}

// refreshTokens guarantees at most one upstream refresh per concurrent burst
// of expiry failures. The holder refreshes and writes both tokens back;
// losers block until it releases, then proceed assuming fresh credentials.
func (c *Client) refreshTokens(ctx context.Context) bool {
	if !c.refreshMu.TryLock() {
		c.refreshMu.Lock()
		c.refreshMu.Unlock()
		return true
	}
	defer c.refreshMu.Unlock()

	access, refresh, err := c.refresh(ctx, c.tenant, c.tokens)
	if err != nil {
		c.log.Warn("token refresh failed", "tenant", c.tenant.Key(), "error", err)
		metrics.TokenRefreshTotal.WithLabelValues("error").Inc()
		return false
	}
	c.tokens.SetTokens(access, refresh)
	metrics.TokenRefreshTotal.WithLabelValues("ok").Inc()
	return true
}

func (c *Client) buildURL(method string, restV3 bool) (string, error) {
	d := strings.TrimRight(strings.TrimSpace(c.tenant.Domain), "/")
	if !strings.HasPrefix(d, "http://") && !strings.HasPrefix(d, "https://") {
		d = "https://" + d
	}

	if c.tenant.AuthMode == domain.AuthWebhook {
		if c.tenant.WebhookUserID == "" || c.tenant.WebhookCode == "" {
			return "", &APIError{
				Message: "webhook user id and code are required for webhook mode",
				Code:    "INVALID_REQUEST",
			}
		}
		// Webhook paths embed the credentials; the /rest/api/ prefix
		// exists only for the token-based mode.
		return fmt.Sprintf("%s/rest/%s/%s/%s", d, c.tenant.WebhookUserID, c.tenant.WebhookCode, method), nil
	}

	if restV3 {
		return fmt.Sprintf("%s/rest/api/%s", d, method), nil
	}
	return fmt.Sprintf("%s/rest/%s", d, method), nil
}

func (c *Client) postJSON(ctx context.Context, url string, payload map[string]any) ([]byte, int, error) {
	buf, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buf))
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return body, resp.StatusCode, nil
}

// parseBody decodes the response body. Valid JSON that is not an object is
// wrapped as {"result": value}; invalid JSON reports false.
func parseBody(body []byte) (map[string]any, bool) {
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return nil, false
	}
	if m, ok := v.(map[string]any); ok {
		return m, true
	}
	return map[string]any{"result": v}, true
}

// toAPIError maps the two recognized error shapes into an APIError, or nil
// when the body carries no error and the transport status is a success.
func toAPIError(status int, body map[string]any) *APIError {
	switch errField := body["error"].(type) {
	case string:
		// flat v2 shape: {"error": "CODE", "error_description": "..."}
		msg, _ := body["error_description"].(string)
		if msg == "" {
			msg = errField
		}
		return &APIError{Message: msg, Status: status, Code: errField, Payload: body}
	case map[string]any:
		// nested v3 shape: {"error": {"code": "...", "message": "..."}}
		code, _ := errField["code"].(string)
		msg, _ := errField["message"].(string)
		if msg == "" {
			msg = code
		}
		return &APIError{Message: msg, Status: status, Code: code, Payload: body}
	}

	if status >= 400 {
		return &APIError{Message: fmt.Sprintf("http %d", status), Status: status, Payload: body}
	}
	return nil
}

// backoff sleeps for min(base * 2^(attempt-1), max) plus uniform jitter,
// honoring context cancellation.
func (c *Client) backoff(ctx context.Context, attempt int) error {
	delay := c.backoffBase << (attempt - 1)
	if delay > c.backoffMax || delay <= 0 {
		delay = c.backoffMax
	}
	delay += time.Duration(rand.Int63n(int64(backoffJitter)))

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
