package domain

import "sync"

// AuthMode selects how requests to the upstream API are authenticated.
type AuthMode string

const (
	AuthWebhook AuthMode = "webhook"
	AuthOAuth   AuthMode = "oauth"
)

// Tenant is the immutable identity of one upstream account. It is created
// once at startup and never mutated; mutable credentials live in TokenStore.
type Tenant struct {
	Domain        string
	AuthMode      AuthMode
	WebhookUserID string
	WebhookCode   string
}

// Key returns the identifier used to key per-tenant state such as rate
// limiter buckets and retry budgets.
func (t Tenant) Key() string {
	return t.Domain
}

// TokenStore holds the mutable OAuth credential pair shared by all concurrent
// calls for one tenant. Reads and writes are atomic pairs under the mutex;
// only the refresh routine writes.
type TokenStore struct {
	mu           sync.Mutex
	accessToken  string
	refreshToken string
}

// NewTokenStore creates a token store seeded with the initial credential pair.
func NewTokenStore(accessToken, refreshToken string) *TokenStore {
	return &TokenStore{accessToken: accessToken, refreshToken: refreshToken}
}

// Tokens returns the current access/refresh pair.
func (s *TokenStore) Tokens() (access, refresh string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accessToken, s.refreshToken
}

// SetTokens replaces the access token and, when non-empty, the refresh token.
func (s *TokenStore) SetTokens(access, refresh string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accessToken = access
	if refresh != "" {
		s.refreshToken = refresh
	}
}
