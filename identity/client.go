// Package identity implements the identity-service primitives the sign-in
// flows consume: the native popup flow, the full-page redirect flow, and the
// credential exchange against the service's REST API.
package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"coopauth/signin"
)

// Config configures a Client.
type Config struct {
	// BaseURL is the identity service REST endpoint, for example
	// https://identitytoolkit.example.com.
	BaseURL string
	// AuthDomain hosts the /auth/handler page the popup navigates to.
	AuthDomain string
	APIKey     string

	HTTPClient *http.Client
	Logger     *slog.Logger

	// Verifier, when set, validates ID tokens returned by the exchange.
	Verifier *Verifier
	// Redirect, when set, backs SignInWithRedirect.
	Redirect *RedirectFlow
}

// Client implements signin.Authenticator against an identity service.
type Client struct {
	cfg      Config
	http     *http.Client
	logger   *slog.Logger
	windows  signin.WindowOpener
	messages signin.MessageSource
	env      signin.Environment
}

// NewClient validates the configuration and builds a client bound to the
// given capability ports.
func NewClient(cfg Config, windows signin.WindowOpener, messages signin.MessageSource, env signin.Environment) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("identity: base url is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("identity: api key is required")
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Client{
		cfg:      cfg,
		http:     cfg.HTTPClient,
		logger:   cfg.Logger,
		windows:  windows,
		messages: messages,
		env:      env,
	}, nil
}

// SignIn is the native popup primitive. It opens the handler page and waits
// for a single message: the first popup-closing notification fails the
// attempt immediately, which is exactly the behaviour COOP environments
// break and signin.SignInWithPopupCOOPSafe exists to replace.
func (c *Client) SignIn(ctx context.Context, provider signin.Provider) (*signin.Credential, error) {
	if c.windows == nil || c.messages == nil {
		return nil, signin.NewAuthError(signin.CodeInvalidConfig, "client has no window opener or message source")
	}

	attemptID := uuid.NewString()
	handlerURL, err := signin.BuildHandlerURL(c.cfg.AuthDomain, c.cfg.APIKey, provider, signin.AuthTypePopup, attemptID)
	if err != nil {
		return nil, signin.NewAuthError(signin.CodeInvalidConfig, err.Error())
	}

	win, err := c.windows.Open(handlerURL, signin.WindowFeatures{})
	if err != nil || win == nil {
		return nil, signin.NewAuthError(signin.CodePopupBlocked, "popup window could not be created")
	}
	defer win.Close()

	msgs, unsubscribe := c.messages.Subscribe(attemptID)
	defer unsubscribe()

	origin := ""
	if c.env != nil {
		origin = c.env.Origin()
	}

	for {
		select {
		case env, ok := <-msgs:
			if !ok {
				return nil, signin.NewAuthError(signin.CodeCancelled, "message source closed")
			}
			if env.Origin != origin {
				continue
			}
			switch env.Message.Type {
			case signin.MessageAuthSuccess:
				return c.ExchangeCredential(ctx, provider, signin.RawTokens{
					IDToken:     env.Message.Payload.IDToken,
					AccessToken: env.Message.Payload.AccessToken,
				})
			case signin.MessageAuthError:
				code := env.Message.Payload.ErrorCode
				if code == "" {
					code = signin.CodePopupError
				}
				return nil, signin.NewAuthError(code, env.Message.Payload.Error)
			case signin.MessagePopupClosing:
				return nil, signin.NewAuthError(signin.CodePopupClosedByUser, "popup closed before completing sign-in")
			}
		case <-ctx.Done():
			return nil, signin.NewAuthError(signin.CodeCancelled, "sign-in cancelled")
		}
	}
}

// SignInWithRedirect initiates the full-page flow through the configured
// RedirectFlow. Success means the navigation was started; the credential is
// completed out of band via RedirectFlow.Complete.
func (c *Client) SignInWithRedirect(ctx context.Context, provider signin.Provider) error {
	if c.cfg.Redirect == nil {
		return signin.NewAuthError(signin.CodeInvalidConfig, "redirect flow not configured")
	}
	return c.cfg.Redirect.Start(ctx, provider)
}

// signInWithIdpRequest mirrors the identity service's signInWithIdp body.
type signInWithIdpRequest struct {
	PostBody            string `json:"postBody"`
	RequestURI          string `json:"requestUri"`
	ReturnSecureToken   bool   `json:"returnSecureToken"`
	ReturnIdpCredential bool   `json:"returnIdpCredential"`
}

type signInWithIdpResponse struct {
	LocalID          string `json:"localId"`
	Email            string `json:"email"`
	DisplayName      string `json:"displayName"`
	IDToken          string `json:"idToken"`
	RefreshToken     string `json:"refreshToken"`
	ExpiresIn        string `json:"expiresIn"`
	ProviderID       string `json:"providerId"`
	OauthAccessToken string `json:"oauthAccessToken"`
}

type serviceError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// ExchangeCredential completes sign-in from the raw provider tokens the
// popup delivered. Service failures come back as AuthErrors with the
// service's code translated to the auth/ namespace.
func (c *Client) ExchangeCredential(ctx context.Context, provider signin.Provider, tokens signin.RawTokens) (*signin.Credential, error) {
	if tokens.IDToken == "" && tokens.AccessToken == "" {
		return nil, signin.NewAuthError(signin.CodeNoCredential, "no tokens to exchange")
	}

	post := url.Values{}
	post.Set("providerId", provider.ID)
	if tokens.IDToken != "" {
		post.Set("id_token", tokens.IDToken)
	}
	if tokens.AccessToken != "" {
		post.Set("access_token", tokens.AccessToken)
	}

	requestURI := "http://localhost"
	if c.env != nil && c.env.Origin() != "" {
		requestURI = c.env.Origin()
	}

	payload, err := json.Marshal(signInWithIdpRequest{
		PostBody:            post.Encode(),
		RequestURI:          requestURI,
		ReturnSecureToken:   true,
		ReturnIdpCredential: true,
	})
	if err != nil {
		return nil, signin.NewAuthError(signin.CodeInternal, err.Error())
	}

	endpoint := strings.TrimSuffix(c.cfg.BaseURL, "/") + "/v1/accounts:signInWithIdp?key=" + url.QueryEscape(c.cfg.APIKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, signin.NewAuthError(signin.CodeInternal, err.Error())
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, signin.NewAuthError(signin.CodeNetworkFailure, err.Error())
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, signin.NewAuthError(signin.CodeNetworkFailure, err.Error())
	}

	if resp.StatusCode != http.StatusOK {
		var svcErr serviceError
		if json.Unmarshal(body, &svcErr) == nil && svcErr.Error.Message != "" {
			c.logger.Warn("credential exchange rejected",
				"status", resp.StatusCode, "service_code", svcErr.Error.Message)
			return nil, signin.NewAuthError(translateServiceCode(svcErr.Error.Message), svcErr.Error.Message)
		}
		return nil, signin.NewAuthError(signin.CodeInternal,
			fmt.Sprintf("credential exchange failed with status %d", resp.StatusCode))
	}

	var out signInWithIdpResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, signin.NewAuthError(signin.CodeInternal, "malformed exchange response")
	}

	cred := &signin.Credential{
		UserID:       out.LocalID,
		Email:        out.Email,
		DisplayName:  out.DisplayName,
		ProviderID:   out.ProviderID,
		IDToken:      out.IDToken,
		AccessToken:  out.OauthAccessToken,
		RefreshToken: out.RefreshToken,
	}
	if cred.ProviderID == "" {
		cred.ProviderID = provider.ID
	}
	if secs, err := strconv.Atoi(out.ExpiresIn); err == nil && secs > 0 {
		cred.ExpiresAt = time.Now().Add(time.Duration(secs) * time.Second)
	}

	if c.cfg.Verifier != nil && cred.IDToken != "" {
		claims, err := c.cfg.Verifier.Verify(ctx, cred.IDToken)
		if err != nil {
			return nil, signin.NewAuthError(signin.CodeInternal, fmt.Sprintf("verify id token: %v", err))
		}
		cred.Claims = claims.Raw
		if cred.UserID == "" {
			cred.UserID = claims.Subject
		}
		if cred.Email == "" {
			cred.Email = claims.Email
		}
	}

	c.logger.Info("credential exchange succeeded", "provider", cred.ProviderID, "user", cred.UserID)
	return cred, nil
}

// translateServiceCode maps identity-service error strings onto the auth/
// code namespace surfaced to callers.
func translateServiceCode(msg string) string {
	// Service messages sometimes carry a trailing detail after " : ".
	code := msg
	if idx := strings.Index(code, " :"); idx > 0 {
		code = code[:idx]
	}
	switch code {
	case "INVALID_IDP_RESPONSE", "INVALID_CREDENTIAL_OR_PROVIDER_ID":
		return "auth/invalid-credential"
	case "USER_DISABLED":
		return "auth/user-disabled"
	case "EMAIL_EXISTS", "FEDERATED_USER_ID_ALREADY_LINKED":
		return "auth/account-exists-with-different-credential"
	case "OPERATION_NOT_ALLOWED":
		return "auth/operation-not-allowed"
	case "TOKEN_EXPIRED", "INVALID_ID_TOKEN":
		return "auth/user-token-expired"
	default:
		return signin.CodeInternal
	}
}
