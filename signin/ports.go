package signin

import "context"

// WindowFeatures describes the requested geometry for a popup window.
// Openers that cannot control placement are free to ignore it.
type WindowFeatures struct {
	Width  int
	Height int
	Left   int
	Top    int
}

// WindowHandle is an opaque reference to an opened window. It is owned
// exclusively by one in-flight sign-in attempt and is closed best-effort on
// every terminal path.
type WindowHandle interface {
	Focus()
	Close()
}

// WindowOpener opens a window at the given URL. A nil handle or an error
// means the window could not be created (popup blocked).
type WindowOpener interface {
	Open(url string, features WindowFeatures) (WindowHandle, error)
}

// MessageSource delivers origin-tagged envelopes posted for one attempt.
// Subscribe returns the delivery channel and an unsubscribe function; the
// unsubscribe function must be safe to call more than once.
type MessageSource interface {
	Subscribe(attemptID string) (<-chan Envelope, func())
}

// Environment exposes the ambient signals the strategy heuristic and origin
// validation read. Implementations are pure value carriers.
type Environment interface {
	Hostname() string
	UserAgent() string
	Origin() string
}

// RawTokens holds the identity tokens received from the popup before the
// credential exchange.
type RawTokens struct {
	IDToken     string
	AccessToken string
}

// Authenticator is the consumed identity sign-in primitive. SignIn is the
// platform's native popup flow, SignInWithRedirect initiates a full-page
// navigation flow, and ExchangeCredential completes sign-in from raw tokens.
// Their internals are opaque to this package.
type Authenticator interface {
	SignIn(ctx context.Context, provider Provider) (*Credential, error)
	SignInWithRedirect(ctx context.Context, provider Provider) error
	ExchangeCredential(ctx context.Context, provider Provider, tokens RawTokens) (*Credential, error)
}
