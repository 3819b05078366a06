package eventbus

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	t.Parallel()

	bus := New()
	ch, unsub := bus.Subscribe(4)
	defer unsub()

	bus.Publish(Event{Type: TypeDisplayWrite})

	select {
	case ev := <-ch:
		if ev.Type != TypeDisplayWrite {
			t.Fatalf("type = %q, want %q", ev.Type, TypeDisplayWrite)
		}
		if ev.Time.IsZero() {
			t.Fatal("publish did not stamp time")
		}
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestPublishNeverBlocks(t *testing.T) {
	t.Parallel()

	bus := New()
	_, unsub := bus.Subscribe(1)
	defer unsub()

	// Far more events than buffer; Publish must drop, not block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			bus.Publish(Event{Type: TypeRefreshCompleted})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	t.Parallel()

	bus := New()
	ch, unsub := bus.Subscribe(1)
	unsub()
	unsub() // idempotent

	if _, ok := <-ch; ok {
		t.Fatal("channel not closed after unsubscribe")
	}

	// Publishing after unsubscribe must not panic.
	bus.Publish(Event{Type: TypeRefreshFailed})
}

func TestSubscribersAreIndependent(t *testing.T) {
	t.Parallel()

	bus := New()
	a, unsubA := bus.Subscribe(2)
	b, unsubB := bus.Subscribe(2)
	defer unsubA()
	defer unsubB()

	bus.Publish(Event{Type: TypeConfigPublished})

	for name, ch := range map[string]<-chan Event{"a": a, "b": b} {
		select {
		case ev := <-ch:
			if ev.Type != TypeConfigPublished {
				t.Fatalf("subscriber %s got %q", name, ev.Type)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %s missed the event", name)
		}
	}
}
