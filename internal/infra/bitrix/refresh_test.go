package bitrix

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/vietddude/relay/internal/core/domain"
)

func TestOAuthRefresherSuccess(t *testing.T) {
	var gotQuery map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		gotQuery = map[string]string{
			"grant_type":    q.Get("grant_type"),
			"client_id":     q.Get("client_id"),
			"client_secret": q.Get("client_secret"),
			"refresh_token": q.Get("refresh_token"),
		}
		fmt.Fprint(w, `{"access_token": "new-access", "refresh_token": "new-refresh"}`)
	}))
	defer srv.Close()

	r := NewOAuthRefresher(srv.URL, "app.id", "app.secret")
	tokens := domain.NewTokenStore("old-access", "old-refresh")

	access, refresh, err := r.Refresh(context.Background(), domain.Tenant{Domain: "acme"}, tokens)
	if err != nil {
		t.Fatalf("Refresh error: %v", err)
	}
	if access != "new-access" || refresh != "new-refresh" {
		t.Errorf("got (%q, %q), want (new-access, new-refresh)", access, refresh)
	}
	want := map[string]string{
		"grant_type":    "refresh_token",
		"client_id":     "app.id",
		"client_secret": "app.secret",
		"refresh_token": "old-refresh",
	}
	for k, v := range want {
		if gotQuery[k] != v {
			t.Errorf("query %s = %q, want %q", k, gotQuery[k], v)
		}
	}
}

func TestOAuthRefresherMissingRefreshToken(t *testing.T) {
	r := NewOAuthRefresher("http://example.invalid", "id", "secret")
	_, _, err := r.Refresh(context.Background(), domain.Tenant{}, domain.NewTokenStore("access", ""))

	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Code != "MISSING_REFRESH_TOKEN" {
		t.Errorf("want MISSING_REFRESH_TOKEN, got %v", err)
	}
}

func TestOAuthRefresherMissingClientCredentials(t *testing.T) {
	r := NewOAuthRefresher("http://example.invalid", "", "")
	_, _, err := r.Refresh(context.Background(), domain.Tenant{}, domain.NewTokenStore("a", "r"))

	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Code != "MISSING_CLIENT_CREDENTIALS" {
		t.Errorf("want MISSING_CLIENT_CREDENTIALS, got %v", err)
	}
}

func TestOAuthRefresherUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error": "invalid_grant", "error_description": "refresh token expired"}`)
	}))
	defer srv.Close()

	r := NewOAuthRefresher(srv.URL, "id", "secret")
	_, _, err := r.Refresh(context.Background(), domain.Tenant{}, domain.NewTokenStore("a", "r"))

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("want APIError, got %v", err)
	}
	if apiErr.Code != "invalid_grant" || apiErr.Message != "refresh token expired" {
		t.Errorf("got code=%q msg=%q", apiErr.Code, apiErr.Message)
	}
}

func TestOAuthRefresherNoAccessToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"scope": "crm"}`)
	}))
	defer srv.Close()

	r := NewOAuthRefresher(srv.URL, "id", "secret")
	_, _, err := r.Refresh(context.Background(), domain.Tenant{}, domain.NewTokenStore("a", "r"))

	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Code != "INVALID_REFRESH_RESPONSE" {
		t.Errorf("want INVALID_REFRESH_RESPONSE, got %v", err)
	}
}
