package identity

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"coopauth/signin"
)

func newDiscoveryServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"issuer":                 srv.URL,
			"authorization_endpoint": srv.URL + "/authorize",
			"token_endpoint":         srv.URL + "/token",
			"jwks_uri":               srv.URL + "/keys",
		})
	})
	mux.HandleFunc("/keys", func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"keys": []any{}})
	})
	return srv
}

func TestRedirectFlowStart(t *testing.T) {
	srv := newDiscoveryServer(t)
	opener := &fakeOpener{win: &fakeWindow{}}

	flow, err := NewRedirectFlow(context.Background(), RedirectConfig{
		Issuer:      srv.URL,
		ClientID:    "client-1",
		RedirectURL: "https://orders.example.com/callback",
	}, opener, nil)
	if err != nil {
		t.Fatalf("new flow: %v", err)
	}

	err = flow.Start(context.Background(), signin.Provider{
		ID:           "google.com",
		CustomParams: map[string]string{"prompt": "select_account"},
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	u, err := url.Parse(opener.lastURL)
	if err != nil {
		t.Fatalf("parse auth url: %v", err)
	}
	q := u.Query()
	if u.Path != "/authorize" {
		t.Fatalf("wrong endpoint: %s", opener.lastURL)
	}
	if q.Get("client_id") != "client-1" || q.Get("redirect_uri") != "https://orders.example.com/callback" {
		t.Fatalf("oauth parameters missing: %s", opener.lastURL)
	}
	if q.Get("state") == "" || q.Get("nonce") == "" {
		t.Fatalf("state and nonce are required: %s", opener.lastURL)
	}
	if q.Get("prompt") != "select_account" {
		t.Fatalf("custom params must pass through: %s", opener.lastURL)
	}
}

func TestRedirectFlowStartOpenFailure(t *testing.T) {
	srv := newDiscoveryServer(t)
	opener := &fakeOpener{err: errors.New("no browser")}

	flow, err := NewRedirectFlow(context.Background(), RedirectConfig{
		Issuer:   srv.URL,
		ClientID: "client-1",
	}, opener, nil)
	if err != nil {
		t.Fatalf("new flow: %v", err)
	}

	err = flow.Start(context.Background(), signin.Provider{ID: "google.com"})
	authErr := signin.AsAuthError(err)
	if authErr == nil || authErr.Code != signin.CodePopupBlocked {
		t.Fatalf("expected %s, got %v", signin.CodePopupBlocked, err)
	}
	if len(flow.pending) != 0 {
		t.Fatalf("failed start must not leave a pending attempt")
	}
}

func TestRedirectFlowCompleteUnknownState(t *testing.T) {
	srv := newDiscoveryServer(t)
	flow, err := NewRedirectFlow(context.Background(), RedirectConfig{
		Issuer:   srv.URL,
		ClientID: "client-1",
	}, &fakeOpener{win: &fakeWindow{}}, nil)
	if err != nil {
		t.Fatalf("new flow: %v", err)
	}

	if _, err := flow.Complete(context.Background(), "never-issued", "code"); err == nil {
		t.Fatalf("unknown state must be rejected")
	}
}

func TestNewRedirectFlowValidation(t *testing.T) {
	if _, err := NewRedirectFlow(context.Background(), RedirectConfig{ClientID: "c"}, nil, nil); err == nil {
		t.Fatalf("missing issuer must fail")
	}
	if _, err := NewRedirectFlow(context.Background(), RedirectConfig{Issuer: "https://x"}, nil, nil); err == nil {
		t.Fatalf("missing client id must fail")
	}
}
