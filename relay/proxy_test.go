package relay

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestGenerateProxyInjectsKey(t *testing.T) {
	var gotAuth, gotForwardedFor string
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotForwardedFor = r.Header.Get("X-Forwarded-For")
		w.Write([]byte(`{"reply":"ok"}`))
	}))
	defer backend.Close()

	t.Setenv("TEST_GENERATE_KEY", "sekrit")
	proxy, err := NewGenerateProxy(GenerateConfig{
		Target:    backend.URL,
		APIKeyEnv: "TEST_GENERATE_KEY",
	}, discardLogger())
	if err != nil {
		t.Fatalf("new proxy: %v", err)
	}

	front := httptest.NewServer(proxy)
	defer front.Close()

	resp, err := http.Post(front.URL+"/api/generate", "application/json", strings.NewReader(`{"prompt":"hi"}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "ok") {
		t.Fatalf("unexpected response %d: %s", resp.StatusCode, body)
	}
	if gotAuth != "Bearer sekrit" {
		t.Fatalf("api key not injected, got %q", gotAuth)
	}
	if gotForwardedFor == "" {
		t.Fatalf("X-Forwarded-For missing")
	}
}

func TestGenerateProxyBadGateway(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	backend.Close() // unreachable

	proxy, err := NewGenerateProxy(GenerateConfig{Target: backend.URL}, discardLogger())
	if err != nil {
		t.Fatalf("new proxy: %v", err)
	}

	front := httptest.NewServer(proxy)
	defer front.Close()

	resp, err := http.Post(front.URL+"/api/generate", "application/json", strings.NewReader(`{}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", resp.StatusCode)
	}
}

func TestGenerateProxyRejectsBadTarget(t *testing.T) {
	if _, err := NewGenerateProxy(GenerateConfig{Target: "://bad"}, discardLogger()); err == nil {
		t.Fatalf("invalid target must fail")
	}
}
