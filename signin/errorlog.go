package signin

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// ErrorLog is the shared error-logging sink the sign-in flows report
// through. It exists as an explicit object so SuppressCOOPErrors can
// intercept it for the duration of one guarded operation and restore it
// unconditionally afterwards.
type ErrorLog struct {
	mu     sync.Mutex
	logger *slog.Logger
}

var defaultErrorLog = NewErrorLog(slog.New(slog.NewTextHandler(os.Stderr, nil)))

// NewErrorLog wraps a logger as an interceptable sink.
func NewErrorLog(logger *slog.Logger) *ErrorLog {
	return &ErrorLog{logger: logger}
}

// Logger returns the currently installed logger.
func (e *ErrorLog) Logger() *slog.Logger {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.logger
}

// Set installs a new logger as the sink.
func (e *ErrorLog) Set(logger *slog.Logger) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.logger = logger
}

// Silence swaps in a logger that drops error records whose message matches
// any of the given case-insensitive substrings, forwarding everything else.
// The returned restore function reinstalls the exact previous logger and
// must run on every exit path of the guarded operation.
func (e *ErrorLog) Silence(patterns []string) (restore func()) {
	e.mu.Lock()
	previous := e.logger
	e.logger = slog.New(&suppressHandler{next: previous.Handler(), patterns: patterns})
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		e.logger = previous
		e.mu.Unlock()
	}
}

// Error logs through the current sink.
func (e *ErrorLog) Error(msg string, args ...any) {
	e.Logger().Error(msg, args...)
}

type suppressHandler struct {
	next     slog.Handler
	patterns []string
}

func (h *suppressHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *suppressHandler) Handle(ctx context.Context, record slog.Record) error {
	if record.Level >= slog.LevelError {
		msg := strings.ToLower(record.Message)
		for _, p := range h.patterns {
			if strings.Contains(msg, strings.ToLower(p)) {
				return nil
			}
		}
	}
	return h.next.Handle(ctx, record)
}

func (h *suppressHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &suppressHandler{next: h.next.WithAttrs(attrs), patterns: h.patterns}
}

func (h *suppressHandler) WithGroup(name string) slog.Handler {
	return &suppressHandler{next: h.next.WithGroup(name), patterns: h.patterns}
}
