package signin

import (
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"
)

// Auth types embedded in the handler URL so the handler page knows which
// flow it is completing.
const (
	AuthTypePopup    = "signInViaPopup"
	AuthTypeRedirect = "signInViaRedirect"
)

const (
	popupWidth  = 500
	popupHeight = 600

	// Nominal screen used to center the popup when the opener honours
	// placement. Real browsers read window.screen; openers without that
	// information still get a sane request.
	nominalScreenWidth  = 1536
	nominalScreenHeight = 864
)

// Provider identifies which federated identity provider to authenticate
// against, plus any provider-specific parameters. Custom params that
// collide with the handler's reserved query keys are ignored.
type Provider struct {
	ID           string
	Scopes       []string
	CustomParams map[string]string
}

// Session is the auth-session handle both public sign-in operations act on.
// AuthDomain and APIKey come from the identity service's project
// configuration; the remaining fields are the capability ports the flows
// run against.
type Session struct {
	AuthDomain string
	APIKey     string

	Authenticator Authenticator
	Windows       WindowOpener
	Messages      MessageSource
	Env           Environment

	Logger   *slog.Logger
	ErrorLog *ErrorLog
}

// HandlerURL builds the identity-provider handler URL for this session.
// eventID ties the popup back to one attempt and may be empty for flows
// that do not track attempts.
func (s *Session) HandlerURL(provider Provider, authType, eventID string) (string, error) {
	return BuildHandlerURL(s.AuthDomain, s.APIKey, provider, authType, eventID)
}

// BuildHandlerURL constructs the handler-page URL on the identity service
// origin. It fails when the provider configuration needed to address the
// handler is missing.
func BuildHandlerURL(authDomain, apiKey string, provider Provider, authType, eventID string) (string, error) {
	if authDomain == "" || apiKey == "" {
		return "", fmt.Errorf("auth domain and api key are required")
	}
	if provider.ID == "" {
		return "", fmt.Errorf("provider id is required")
	}

	base := authDomain
	if !strings.Contains(base, "://") {
		base = "https://" + base
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse auth domain: %w", err)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/auth/handler"

	q := url.Values{}
	q.Set("apiKey", apiKey)
	q.Set("providerId", provider.ID)
	q.Set("authType", authType)
	if eventID != "" {
		q.Set("eventId", eventID)
	}
	if len(provider.Scopes) > 0 {
		q.Set("scopes", strings.Join(provider.Scopes, ","))
	}
	for k, v := range provider.CustomParams {
		// Reserved keys cannot be overridden by provider params.
		switch k {
		case "apiKey", "providerId", "authType", "eventId", "scopes":
			continue
		}
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()

	return u.String(), nil
}

func (s *Session) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func (s *Session) errorLog() *ErrorLog {
	if s.ErrorLog != nil {
		return s.ErrorLog
	}
	return defaultErrorLog
}

func (s *Session) origin() string {
	if s.Env == nil {
		return ""
	}
	return s.Env.Origin()
}

// popupFeatures centers the standard popup geometry on the nominal screen.
func popupFeatures() WindowFeatures {
	return WindowFeatures{
		Width:  popupWidth,
		Height: popupHeight,
		Left:   (nominalScreenWidth - popupWidth) / 2,
		Top:    (nominalScreenHeight - popupHeight) / 2,
	}
}

func invoke(fn func()) {
	if fn != nil {
		fn()
	}
}
