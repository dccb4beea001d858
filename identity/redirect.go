package identity

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"coopauth/signin"
)

// RedirectConfig configures the full-page redirect flow against one
// upstream OIDC provider.
type RedirectConfig struct {
	Issuer       string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
}

// RedirectFlow drives the full-page sign-in flow: Start opens the
// provider's authorization page, Complete finishes the attempt when the
// provider redirects back with a code.
type RedirectFlow struct {
	oauthConfig *oauth2.Config
	verifier    *oidc.IDTokenVerifier
	opener      signin.WindowOpener
	logger      *slog.Logger

	mu      sync.Mutex
	pending map[string]string // state -> nonce
}

// NewRedirectFlow initializes the flow via OIDC discovery.
func NewRedirectFlow(ctx context.Context, cfg RedirectConfig, opener signin.WindowOpener, logger *slog.Logger) (*RedirectFlow, error) {
	if cfg.Issuer == "" {
		return nil, fmt.Errorf("identity: issuer is required")
	}
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("identity: client id is required")
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opener == nil {
		opener = signin.SystemWindowOpener{}
	}

	op, err := oidc.NewProvider(ctx, cfg.Issuer)
	if err != nil {
		return nil, fmt.Errorf("discover provider: %w", err)
	}

	endpoint := op.Endpoint()
	if cfg.ClientSecret == "" {
		endpoint.AuthStyle = oauth2.AuthStyleInParams
	}

	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{oidc.ScopeOpenID, "profile", "email"}
	}

	return &RedirectFlow{
		oauthConfig: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     endpoint,
			Scopes:       scopes,
		},
		verifier: op.Verifier(&oidc.Config{ClientID: cfg.ClientID}),
		opener:   opener,
		logger:   logger,
		pending:  make(map[string]string),
	}, nil
}

// Start opens the provider's authorization page as a full-page navigation.
// The attempt is recorded so Complete can validate the returning state.
func (f *RedirectFlow) Start(_ context.Context, provider signin.Provider) error {
	state := uuid.NewString()
	nonce := uuid.NewString()

	opts := []oauth2.AuthCodeOption{oauth2.SetAuthURLParam("nonce", nonce)}
	for k, v := range provider.CustomParams {
		opts = append(opts, oauth2.SetAuthURLParam(k, v))
	}
	authURL := f.oauthConfig.AuthCodeURL(state, opts...)

	f.mu.Lock()
	f.pending[state] = nonce
	f.mu.Unlock()

	if _, err := f.opener.Open(authURL, signin.WindowFeatures{}); err != nil {
		f.mu.Lock()
		delete(f.pending, state)
		f.mu.Unlock()
		return signin.NewAuthError(signin.CodePopupBlocked, err.Error())
	}

	f.logger.Info("redirect sign-in started", "state", state)
	return nil
}

// Complete exchanges the authorization code when the provider redirects
// back, verifies the ID token and returns the resulting credential.
func (f *RedirectFlow) Complete(ctx context.Context, state, code string) (*signin.Credential, error) {
	f.mu.Lock()
	nonce, ok := f.pending[state]
	if ok {
		delete(f.pending, state)
	}
	f.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unknown or replayed state")
	}

	tok, err := f.oauthConfig.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchange code: %w", err)
	}

	rawIDToken, ok := tok.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return nil, fmt.Errorf("id_token missing in response")
	}

	idToken, err := f.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("verify id_token: %w", err)
	}

	var claims map[string]any
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("parse claims: %w", err)
	}
	if got, _ := claims["nonce"].(string); got != nonce {
		return nil, fmt.Errorf("nonce mismatch")
	}

	cred := &signin.Credential{
		UserID:      idToken.Subject,
		IDToken:     rawIDToken,
		AccessToken: tok.AccessToken,
		ExpiresAt:   idToken.Expiry,
		Claims:      claims,
	}
	if email, ok := claims["email"].(string); ok {
		cred.Email = email
	}
	if name, ok := claims["name"].(string); ok {
		cred.DisplayName = name
	} else if preferred, ok := claims["preferred_username"].(string); ok {
		cred.DisplayName = preferred
	}

	f.logger.Info("redirect sign-in completed", "user", cred.UserID)
	return cred, nil
}
