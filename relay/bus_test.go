package relay

import (
	"testing"
	"time"

	"coopauth/signin"
)

func newTestBus(t *testing.T, buffer int) (*MessageBus, *AttemptStore) {
	t.Helper()
	store := NewAttemptStore(time.Minute)
	t.Cleanup(store.Close)
	return NewMessageBus(store, buffer, nil), store
}

func TestBusDeliversToSubscriber(t *testing.T) {
	bus, _ := newTestBus(t, 4)

	ch, cancel := bus.Subscribe("a-1")
	defer cancel()

	want := signin.Envelope{
		Origin:  "https://orders.example.com",
		Message: signin.Message{Type: signin.MessageAuthSuccess, Payload: signin.MessagePayload{IDToken: "tok"}},
	}
	bus.Publish("a-1", want)

	select {
	case got := <-ch:
		if got.Origin != want.Origin || got.Message.Payload.IDToken != "tok" {
			t.Fatalf("unexpected envelope: %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatalf("message not delivered")
	}
}

func TestBusReplaysEarlyMessages(t *testing.T) {
	bus, _ := newTestBus(t, 4)

	// Popup posts before the opener subscribes.
	bus.Publish("a-1", signin.Envelope{Message: signin.Message{Type: signin.MessagePopupClosing}})
	bus.Publish("a-1", signin.Envelope{Message: signin.Message{Type: signin.MessageAuthSuccess}})

	ch, cancel := bus.Subscribe("a-1")
	defer cancel()

	first := <-ch
	second := <-ch
	if first.Message.Type != signin.MessagePopupClosing || second.Message.Type != signin.MessageAuthSuccess {
		t.Fatalf("replay out of order: %s then %s", first.Message.Type, second.Message.Type)
	}
}

func TestBusPublishToUnknownAttemptQueues(t *testing.T) {
	bus, store := newTestBus(t, 4)

	bus.Publish("a-2", signin.Envelope{Message: signin.Message{Type: signin.MessageAuthError}})
	if queued := store.Drain("a-2"); len(queued) != 1 {
		t.Fatalf("message should be parked in the store, got %d", len(queued))
	}
}

func TestBusCancelIsIdempotent(t *testing.T) {
	bus, store := newTestBus(t, 4)

	store.Save(Attempt{ID: "a-3"})
	_, cancel := bus.Subscribe("a-3")
	cancel()
	cancel()

	if _, ok := store.Get("a-3"); ok {
		t.Fatalf("cancel should remove the attempt record")
	}

	// Publishing after cancel parks the message instead of panicking.
	bus.Publish("a-3", signin.Envelope{Message: signin.Message{Type: signin.MessageAuthError}})
}

func TestBusDropsOnFullBuffer(t *testing.T) {
	bus, _ := newTestBus(t, 1)

	ch, cancel := bus.Subscribe("a-4")
	defer cancel()

	bus.Publish("a-4", signin.Envelope{Message: signin.Message{Type: signin.MessagePopupClosing}})
	bus.Publish("a-4", signin.Envelope{Message: signin.Message{Type: signin.MessageAuthError}})

	// The first message is retained, the overflow is dropped.
	got := <-ch
	if got.Message.Type != signin.MessagePopupClosing {
		t.Fatalf("unexpected first message: %s", got.Message.Type)
	}
	select {
	case extra := <-ch:
		t.Fatalf("overflow should have been dropped, got %s", extra.Message.Type)
	default:
	}
}

func TestBusResubscribeReplacesChannel(t *testing.T) {
	bus, _ := newTestBus(t, 4)

	old, _ := bus.Subscribe("a-5")
	fresh, cancel := bus.Subscribe("a-5")
	defer cancel()

	if _, ok := <-old; ok {
		t.Fatalf("stale channel should be closed on resubscribe")
	}

	bus.Publish("a-5", signin.Envelope{Message: signin.Message{Type: signin.MessageAuthSuccess}})
	select {
	case got := <-fresh:
		if got.Message.Type != signin.MessageAuthSuccess {
			t.Fatalf("unexpected message: %s", got.Message.Type)
		}
	case <-time.After(time.Second):
		t.Fatalf("message not delivered to fresh subscriber")
	}
}
