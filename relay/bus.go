package relay

import (
	"io"
	"log/slog"
	"sync"

	"coopauth/signin"
)

// MessageBus routes relayed popup messages to the in-process subscriber for
// each attempt. It implements signin.MessageSource. Messages posted before
// the subscriber arrives are parked in the AttemptStore and replayed on
// Subscribe, so an early popup never outruns its opener.
type MessageBus struct {
	store  *AttemptStore
	logger *slog.Logger
	buffer int

	mu   sync.Mutex
	subs map[string]chan signin.Envelope
}

// NewMessageBus builds a bus backed by the given attempt store.
func NewMessageBus(store *AttemptStore, buffer int, logger *slog.Logger) *MessageBus {
	if buffer <= 0 {
		buffer = DefaultBufferSize
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &MessageBus{
		store:  store,
		logger: logger,
		buffer: buffer,
		subs:   make(map[string]chan signin.Envelope),
	}
}

// Subscribe registers the single consumer for an attempt, replaying any
// messages queued before it arrived. The returned cancel is idempotent.
func (b *MessageBus) Subscribe(attemptID string) (<-chan signin.Envelope, func()) {
	ch := make(chan signin.Envelope, b.buffer)

	b.mu.Lock()
	if old, ok := b.subs[attemptID]; ok {
		// A second subscriber replaces the first; the stale channel is
		// closed so its consumer unblocks.
		close(old)
	}
	b.subs[attemptID] = ch
	b.mu.Unlock()

	for _, env := range b.store.Drain(attemptID) {
		select {
		case ch <- env:
		default:
			b.logger.Warn("dropping queued relay message", "attempt", attemptID)
		}
	}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			if cur, ok := b.subs[attemptID]; ok && cur == ch {
				delete(b.subs, attemptID)
			}
			b.mu.Unlock()
			b.store.Delete(attemptID)
		})
	}
	return ch, cancel
}

// Publish delivers a message to the attempt's subscriber, or parks it in
// the store when nobody is listening yet. A full subscriber buffer drops
// the message rather than blocking the relay handler.
func (b *MessageBus) Publish(attemptID string, env signin.Envelope) {
	b.mu.Lock()
	ch, ok := b.subs[attemptID]
	b.mu.Unlock()

	if !ok {
		b.store.Enqueue(attemptID, env)
		return
	}

	select {
	case ch <- env:
	default:
		b.logger.Warn("subscriber buffer full, dropping relay message",
			"attempt", attemptID, "type", env.Message.Type)
	}
}
