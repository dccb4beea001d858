package signin

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"
)

// Defaults for the COOP-safe popup flow.
const (
	DefaultPopupTimeout     = 2 * time.Minute
	DefaultCloseGracePeriod = 1500 * time.Millisecond
)

// PopupOptions configures SignInWithPopupCOOPSafe. Zero durations take the
// package defaults; callbacks are optional and invoked synchronously at the
// corresponding transition.
type PopupOptions struct {
	Timeout          time.Duration
	CloseGracePeriod time.Duration
	OnPopupOpen      func()
	OnPopupClose     func()
	OnAuthSuccess    func()
}

// SignInWithPopupCOOPSafe signs a user in through a popup window without
// ever reading the popup's closed state, which Cross-Origin-Opener-Policy
// can make unobservable. The popup instead announces itself through posted
// messages: a terminal auth-success or auth-error resolves the attempt, and
// a popup-closing notification only arms a grace timer so a success that
// races the close is never lost.
//
// The call never returns a Go error; every outcome, including context
// cancellation, is folded into the AuthResult.
func SignInWithPopupCOOPSafe(ctx context.Context, sess *Session, provider Provider, opts PopupOptions) AuthResult {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultPopupTimeout
	}
	if opts.CloseGracePeriod <= 0 {
		opts.CloseGracePeriod = DefaultCloseGracePeriod
	}

	logger := sess.logger()

	if sess.Messages == nil || sess.Authenticator == nil {
		return failure(CodeInvalidConfig, "session is missing message source or authenticator")
	}

	attemptID := newAttemptID()
	handlerURL, err := sess.HandlerURL(provider, AuthTypePopup, attemptID)
	if err != nil {
		return failure(CodeInvalidConfig, err.Error())
	}

	opener := sess.Windows
	if opener == nil {
		opener = SystemWindowOpener{}
	}
	win, err := opener.Open(handlerURL, popupFeatures())
	if err != nil || win == nil {
		logger.Warn("popup window could not be created", "attempt", attemptID, "error", err)
		return failure(CodePopupBlocked, "popup window could not be created")
	}

	invoke(opts.OnPopupOpen)
	win.Focus()

	// Everything acquired past this point is released through one cleanup
	// path, exactly once, on the single terminal transition.
	msgs, unsubscribe := sess.Messages.Subscribe(attemptID)
	overall := time.NewTimer(opts.Timeout)
	grace := newStoppedTimer()
	defer func() {
		unsubscribe()
		overall.Stop()
		stopTimer(grace)
		win.Close()
	}()

	origin := sess.origin()

	for {
		select {
		case env, ok := <-msgs:
			if !ok {
				return failure(CodeCancelled, "message source closed")
			}
			if env.Origin != origin {
				logger.Debug("ignoring message from unexpected origin",
					"attempt", attemptID, "origin", env.Origin)
				continue
			}
			switch env.Message.Type {
			case MessageAuthSuccess:
				tokens := RawTokens{
					IDToken:     env.Message.Payload.IDToken,
					AccessToken: env.Message.Payload.AccessToken,
				}
				if tokens.IDToken == "" && tokens.AccessToken == "" {
					return failure(CodeNoCredential, "success message carried no usable token")
				}
				cred, exchErr := sess.Authenticator.ExchangeCredential(ctx, provider, tokens)
				if exchErr != nil {
					logger.Warn("credential exchange failed", "attempt", attemptID, "error", exchErr)
					return failureFrom(AsAuthError(exchErr))
				}
				invoke(opts.OnAuthSuccess)
				logger.Info("popup sign-in succeeded", "attempt", attemptID, "provider", provider.ID)
				return AuthResult{Success: true, Credential: cred}
			case MessageAuthError:
				code := env.Message.Payload.ErrorCode
				if code == "" {
					code = CodePopupError
				}
				return failure(code, env.Message.Payload.Error)
			case MessagePopupClosing:
				invoke(opts.OnPopupClose)
				stopTimer(grace)
				grace.Reset(opts.CloseGracePeriod)
			}
		case <-grace.C:
			return failure(CodePopupClosedByUser, "popup closed before completing sign-in")
		case <-overall.C:
			return failure(CodeTimeout, "timed out waiting for sign-in response")
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return failure(CodeTimeout, "timed out waiting for sign-in response")
			}
			return failure(CodeCancelled, "sign-in attempt cancelled")
		}
	}
}

// newStoppedTimer returns a timer that will not fire until Reset.
func newStoppedTimer() *time.Timer {
	t := time.NewTimer(time.Hour)
	stopTimer(t)
	return t
}

func stopTimer(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
}

func newAttemptID() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "00000000"
	}
	return hex.EncodeToString(buf)
}
