package relay

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"coopauth/signin"
)

// Attempt tracks one outstanding sign-in attempt between the opener and the
// handler page. Queued holds messages posted before the opener subscribed.
type Attempt struct {
	ID        string
	AuthType  string
	Provider  string
	CreatedAt time.Time
	Queued    []signin.Envelope
}

// AttemptStore keeps ephemeral attempt state in memory. Attempts expire
// after the configured TTL whether or not they were resolved.
type AttemptStore struct {
	mu       sync.RWMutex
	attempts map[string]Attempt
	ttl      time.Duration
	done     chan struct{}
	once     sync.Once
}

// NewAttemptStore constructs the store and starts the expiry sweeper.
func NewAttemptStore(ttl time.Duration) *AttemptStore {
	if ttl <= 0 {
		ttl = DefaultAttemptTTL
	}
	s := &AttemptStore{
		attempts: make(map[string]Attempt),
		ttl:      ttl,
		done:     make(chan struct{}),
	}
	go s.sweep()
	return s
}

// NewID generates a random attempt identifier.
func (s *AttemptStore) NewID() string {
	return uuid.NewString()
}

// Save stores or replaces an attempt.
func (s *AttemptStore) Save(a Attempt) {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts[a.ID] = a
}

// Get retrieves an attempt by ID.
func (s *AttemptStore) Get(id string) (Attempt, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.attempts[id]
	if ok && s.expired(a) {
		return Attempt{}, false
	}
	return a, ok
}

// Enqueue appends a message for an attempt whose opener has not subscribed
// yet, creating the attempt record on first contact.
func (s *AttemptStore) Enqueue(id string, env signin.Envelope) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.attempts[id]
	if !ok || s.expired(a) {
		a = Attempt{ID: id, CreatedAt: time.Now()}
	}
	a.Queued = append(a.Queued, env)
	s.attempts[id] = a
}

// Drain removes and returns any messages queued for the attempt.
func (s *AttemptStore) Drain(id string) []signin.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.attempts[id]
	if !ok || len(a.Queued) == 0 {
		return nil
	}
	queued := a.Queued
	a.Queued = nil
	s.attempts[id] = a
	return queued
}

// Delete removes an attempt.
func (s *AttemptStore) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.attempts, id)
}

// Len reports the number of live attempts.
func (s *AttemptStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.attempts)
}

// Close stops the expiry sweeper.
func (s *AttemptStore) Close() {
	s.once.Do(func() { close(s.done) })
}

func (s *AttemptStore) expired(a Attempt) bool {
	return time.Since(a.CreatedAt) > s.ttl
}

func (s *AttemptStore) sweep() {
	ticker := time.NewTicker(s.ttl / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.mu.Lock()
			for id, a := range s.attempts {
				if s.expired(a) {
					delete(s.attempts, id)
				}
			}
			s.mu.Unlock()
		case <-s.done:
			return
		}
	}
}
