package signin

import (
	"context"
	"strings"
)

// Error-message substrings taken to indicate a Cross-Origin-Opener-Policy
// violation. Matched case-insensitively; the list is a heuristic and may
// grow as browsers reword their diagnostics.
var coopErrorFragments = []string{
	"cross-origin-opener-policy",
	"window.closed",
	"opener policy",
}

// SafeOptions configures SafeSignInWithPopup. The zero value enables the
// redirect fallback, matching the common case.
type SafeOptions struct {
	DisableRedirectFallback bool
	SuppressCOOPErrors      bool
	OnPopupStart            func()
	OnFallbackToRedirect    func()
}

// SafeSignInWithPopup runs the platform's native popup sign-in primitive
// and, on the known set of popup failures, retries via a full-page redirect.
// Redirect success means the navigation was initiated; the credential is
// completed by the platform on the next page load.
//
// Like SignInWithPopupCOOPSafe, the call always returns an AuthResult and
// never a Go error.
func SafeSignInWithPopup(ctx context.Context, sess *Session, provider Provider, opts SafeOptions) AuthResult {
	if sess.Authenticator == nil {
		return failure(CodeInvalidConfig, "session is missing an authenticator")
	}

	invoke(opts.OnPopupStart)

	cred, err := sess.guardedSignIn(ctx, provider, opts.SuppressCOOPErrors)
	if err == nil {
		return AuthResult{Success: true, Credential: cred}
	}

	authErr := AsAuthError(err)
	if opts.DisableRedirectFallback || !eligibleForRedirectFallback(authErr) {
		return failureFrom(authErr)
	}

	invoke(opts.OnFallbackToRedirect)
	sess.logger().Info("popup sign-in failed, falling back to redirect",
		"provider", provider.ID, "code", authErr.Code)

	if redirectErr := sess.Authenticator.SignInWithRedirect(ctx, provider); redirectErr != nil {
		return AuthResult{Error: AsAuthError(redirectErr), UsedRedirectFallback: true}
	}
	return AuthResult{Success: true, UsedRedirectFallback: true}
}

// guardedSignIn runs the native popup primitive, optionally silencing COOP
// console noise for exactly its duration. The sink is restored on every
// exit path, panics included.
func (s *Session) guardedSignIn(ctx context.Context, provider Provider, suppress bool) (*Credential, error) {
	if suppress {
		restore := s.errorLog().Silence(coopErrorFragments)
		defer restore()
	}
	return s.Authenticator.SignIn(ctx, provider)
}

func eligibleForRedirectFallback(err *AuthError) bool {
	switch err.Code {
	case CodePopupClosedByUser, CodePopupBlocked:
		return true
	}
	msg := strings.ToLower(err.Message)
	for _, fragment := range coopErrorFragments {
		if strings.Contains(msg, fragment) {
			return true
		}
	}
	return false
}
