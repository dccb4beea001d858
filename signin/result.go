package signin

import (
	"errors"
	"time"
)

// Error codes surfaced through AuthError.Code. Codes coming back from the
// identity service are passed through unmodified; this set covers the
// failures produced locally by the sign-in flows.
const (
	CodeInvalidConfig     = "auth/invalid-config"
	CodePopupBlocked      = "auth/popup-blocked"
	CodePopupClosedByUser = "auth/popup-closed-by-user"
	CodeNoCredential      = "auth/no-credential"
	CodePopupError        = "auth/popup-error"
	CodeTimeout           = "auth/timeout"
	CodeCancelled         = "auth/cancelled"
	CodeInternal          = "auth/internal-error"
	CodeNetworkFailure    = "auth/network-request-failed"
)

// AuthError describes a terminal sign-in failure. It is constructed once at
// the failure site and propagated unmodified to the caller.
type AuthError struct {
	Code    string
	Message string
}

func (e *AuthError) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return e.Code + ": " + e.Message
}

// NewAuthError builds an AuthError with the given code and message.
func NewAuthError(code, message string) *AuthError {
	return &AuthError{Code: code, Message: message}
}

// AsAuthError coerces any error into an AuthError. Errors that already carry
// a code pass through untouched; everything else is wrapped with
// CodeInternal so the original message stays available for classification.
func AsAuthError(err error) *AuthError {
	if err == nil {
		return nil
	}
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return authErr
	}
	return &AuthError{Code: CodeInternal, Message: err.Error()}
}

// Credential is an identity-service-issued proof of successful
// authentication. Callers treat it as opaque; the fields exist so
// applications can bootstrap their own sessions from it.
type Credential struct {
	UserID       string
	Email        string
	DisplayName  string
	ProviderID   string
	IDToken      string
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	Claims       map[string]any
}

// AuthResult is the uniform terminal value of both public sign-in
// operations. Success is true iff Credential is set and Error is nil;
// UsedRedirectFallback is true only when the redirect path actually ran.
type AuthResult struct {
	Success              bool
	Credential           *Credential
	Error                *AuthError
	UsedRedirectFallback bool
}

func failure(code, message string) AuthResult {
	return AuthResult{Error: NewAuthError(code, message)}
}

func failureFrom(err *AuthError) AuthResult {
	return AuthResult{Error: err}
}
