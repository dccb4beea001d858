package relay

import (
	"testing"
	"time"

	"coopauth/signin"
)

func TestAttemptStoreSaveGetDelete(t *testing.T) {
	s := NewAttemptStore(time.Minute)
	defer s.Close()

	id := s.NewID()
	if id == "" || id == s.NewID() {
		t.Fatalf("ids must be unique and non-empty")
	}

	s.Save(Attempt{ID: id, AuthType: signin.AuthTypePopup, Provider: "google.com"})
	got, ok := s.Get(id)
	if !ok || got.Provider != "google.com" {
		t.Fatalf("unexpected attempt: %+v ok=%v", got, ok)
	}
	if got.CreatedAt.IsZero() {
		t.Fatalf("save must stamp creation time")
	}

	s.Delete(id)
	if _, ok := s.Get(id); ok {
		t.Fatalf("deleted attempt still present")
	}
}

func TestAttemptStoreEnqueueDrain(t *testing.T) {
	s := NewAttemptStore(time.Minute)
	defer s.Close()

	env := signin.Envelope{Origin: "https://orders.example.com", Message: signin.Message{Type: signin.MessagePopupClosing}}
	s.Enqueue("a-1", env)
	s.Enqueue("a-1", signin.Envelope{Message: signin.Message{Type: signin.MessageAuthError}})

	queued := s.Drain("a-1")
	if len(queued) != 2 || queued[0].Message.Type != signin.MessagePopupClosing {
		t.Fatalf("unexpected queue: %+v", queued)
	}
	if again := s.Drain("a-1"); again != nil {
		t.Fatalf("drain must empty the queue, got %+v", again)
	}
}

func TestAttemptStoreExpiry(t *testing.T) {
	s := NewAttemptStore(20 * time.Millisecond)
	defer s.Close()

	s.Save(Attempt{ID: "a-1"})
	if _, ok := s.Get("a-1"); !ok {
		t.Fatalf("fresh attempt should be visible")
	}

	time.Sleep(50 * time.Millisecond)
	if _, ok := s.Get("a-1"); ok {
		t.Fatalf("expired attempt must not be returned")
	}
}
