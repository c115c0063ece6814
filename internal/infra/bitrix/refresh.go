package bitrix

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/vietddude/relay/internal/core/domain"
)

// DefaultTokenURL is the OAuth token endpoint of the vendor identity
// provider.
const DefaultTokenURL = "https://oauth.bitrix24.tech/oauth/token/"

// OAuthRefresher exchanges the stored refresh token for a fresh access/
// refresh pair using the refresh_token grant.
type OAuthRefresher struct {
	TokenURL     string
	ClientID     string
	ClientSecret string

	httpClient *http.Client
}

// NewOAuthRefresher creates a refresher with the given client credentials.
func NewOAuthRefresher(tokenURL, clientID, clientSecret string) *OAuthRefresher {
	if tokenURL == "" {
		tokenURL = DefaultTokenURL
	}
	return &OAuthRefresher{
		TokenURL:     tokenURL,
		ClientID:     clientID,
		ClientSecret: clientSecret,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
	}
}

// Refresh implements RefreshFunc.
func (r *OAuthRefresher) Refresh(ctx context.Context, tenant domain.Tenant, tokens *domain.TokenStore) (string, string, error) {
	_, refreshToken := tokens.Tokens()
	if refreshToken == "" {
		return "", "", &APIError{Message: "refresh token missing", Code: "MISSING_REFRESH_TOKEN"}
	}
	if r.ClientID == "" || r.ClientSecret == "" {
		return "", "", &APIError{
			Message: "client id and secret are required for refresh",
			Code:    "MISSING_CLIENT_CREDENTIALS",
		}
	}

	query := url.Values{
		"grant_type":    {"refresh_token"},
		"client_id":     {r.ClientID},
		"client_secret": {r.ClientSecret},
		"refresh_token": {refreshToken},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.TokenURL+"?"+query.Encode(), nil)
	if err != nil {
		return "", "", fmt.Errorf("create refresh request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("refresh request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", "", fmt.Errorf("read refresh response: %w", err)
	}

	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		return "", "", &APIError{Message: "invalid refresh response", Status: resp.StatusCode, Code: CodeInvalidJSON}
	}

	if errCode, ok := body["error"].(string); ok && errCode != "" {
		msg, _ := body["error_description"].(string)
		if msg == "" {
			msg = errCode
		}
		return "", "", &APIError{Message: msg, Status: resp.StatusCode, Code: errCode, Payload: body}
	}

	access, _ := body["access_token"].(string)
	if access == "" {
		return "", "", &APIError{
			Message: "refresh returned no access token",
			Status:  resp.StatusCode,
			Code:    "INVALID_REFRESH_RESPONSE",
			Payload: body,
		}
	}
	refresh, _ := body["refresh_token"].(string)
	return access, refresh, nil
}
