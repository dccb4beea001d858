package identity

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v3"
	"github.com/golang-jwt/jwt/v5"
)

func newSigningKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return key
}

func jwksFor(key *rsa.PrivateKey, kid string) jose.JSONWebKeySet {
	return jose.JSONWebKeySet{Keys: []jose.JSONWebKey{{
		Key:       &key.PublicKey,
		KeyID:     kid,
		Algorithm: "RS256",
		Use:       "sig",
	}}}
}

func serveJWKS(t *testing.T, set jose.JSONWebKeySet) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if err := json.NewEncoder(w).Encode(set); err != nil {
			t.Errorf("encode jwks: %v", err)
		}
	}))
}

func signToken(t *testing.T, key *rsa.PrivateKey, kid string, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = kid
	signed, err := tok.SignedString(key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func baseClaims() jwt.MapClaims {
	now := time.Now()
	return jwt.MapClaims{
		"iss":   "https://identity.example.com",
		"sub":   "uid-42",
		"aud":   "project-1",
		"email": "buyer@example.com",
		"name":  "Buyer",
		"iat":   now.Unix(),
		"exp":   now.Add(time.Hour).Unix(),
	}
}

func TestVerifierValidatesToken(t *testing.T) {
	key := newSigningKey(t)
	srv := serveJWKS(t, jwksFor(key, "kid-1"))
	defer srv.Close()

	v := NewVerifier(VerifierConfig{
		Issuer:   "https://identity.example.com",
		JWKSURL:  srv.URL,
		Audience: "project-1",
	})

	claims, err := v.Verify(context.Background(), signToken(t, key, "kid-1", baseClaims()))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.Subject != "uid-42" || claims.Email != "buyer@example.com" || claims.Name != "Buyer" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if claims.ExpiresAt.IsZero() || claims.IssuedAt.IsZero() {
		t.Fatalf("timestamps missing: %+v", claims)
	}
}

func TestVerifierRejectsBadTokens(t *testing.T) {
	key := newSigningKey(t)
	srv := serveJWKS(t, jwksFor(key, "kid-1"))
	defer srv.Close()

	v := NewVerifier(VerifierConfig{
		Issuer:   "https://identity.example.com",
		JWKSURL:  srv.URL,
		Audience: "project-1",
	})

	expired := baseClaims()
	expired["exp"] = time.Now().Add(-time.Hour).Unix()
	if _, err := v.Verify(context.Background(), signToken(t, key, "kid-1", expired)); err == nil {
		t.Fatalf("expired token must be rejected")
	}

	wrongIssuer := baseClaims()
	wrongIssuer["iss"] = "https://evil.example.net"
	if _, err := v.Verify(context.Background(), signToken(t, key, "kid-1", wrongIssuer)); err == nil {
		t.Fatalf("wrong issuer must be rejected")
	}

	wrongAudience := baseClaims()
	wrongAudience["aud"] = "other-project"
	if _, err := v.Verify(context.Background(), signToken(t, key, "kid-1", wrongAudience)); err == nil {
		t.Fatalf("wrong audience must be rejected")
	}

	otherKey := newSigningKey(t)
	if _, err := v.Verify(context.Background(), signToken(t, otherKey, "kid-1", baseClaims())); err == nil {
		t.Fatalf("token signed with an unknown key must be rejected")
	}

	if _, err := v.Verify(context.Background(), ""); err == nil {
		t.Fatalf("empty token must be rejected")
	}
}

func TestVerifierRefreshesOnUnknownKid(t *testing.T) {
	oldKey := newSigningKey(t)
	newKey := newSigningKey(t)

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		set := jwksFor(oldKey, "kid-old")
		if calls.Add(1) > 1 {
			set = jwksFor(newKey, "kid-new")
		}
		json.NewEncoder(w).Encode(set)
	}))
	defer srv.Close()

	v := NewVerifier(VerifierConfig{
		Issuer:   "https://identity.example.com",
		JWKSURL:  srv.URL,
		Audience: "project-1",
		CacheTTL: time.Hour,
	})

	// First fetch caches the old key set; a token signed with the rotated
	// key forces a refetch on the kid miss.
	claims, err := v.Verify(context.Background(), signToken(t, newKey, "kid-new", baseClaims()))
	if err != nil {
		t.Fatalf("verify after rotation: %v", err)
	}
	if claims.Subject != "uid-42" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if calls.Load() < 2 {
		t.Fatalf("kid miss should have forced a second jwks fetch, saw %d", calls.Load())
	}
}
