package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event is a lightweight, in-memory signal used to decouple components.
//
// Contract:
//   - Publish MUST be non-blocking.
//   - Subscribers MUST use buffered channels.
//   - Slow subscribers may drop events (bounded backpressure).
//
// Data should be small and ideally JSON-serializable.
type Event struct {
	Type string
	Time time.Time
	Data any
}

// Event types published by the refresh pipeline.
const (
	TypeRefreshCompleted = "refresh.completed"
	TypeRefreshFailed    = "refresh.failed"
	// TypeRefreshIdle marks a scheduler tick that found nothing to show.
	// It is deliberately not a refresh result: dedup and cache skips travel
	// inside TypeRefreshCompleted.
	TypeRefreshIdle     = "refresh.idle"
	TypeDisplayWrite    = "display.write"
	TypeConfigPublished = "config.published"
)

// RefreshEvent is the payload for refresh.* events.
type RefreshEvent struct {
	RefreshType  string        `json:"refresh_type"`
	PluginID     string        `json:"plugin_id,omitempty"`
	Playlist     string        `json:"playlist,omitempty"`
	Instance     string        `json:"instance,omitempty"`
	Cached       bool          `json:"cached,omitempty"`
	WriteSkipped bool          `json:"write_skipped,omitempty"`
	Took         time.Duration `json:"took_ms,omitempty"`
	Err          string        `json:"err,omitempty"`
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns a simple in-memory fanout bus.
//
// It intentionally does not own any background goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

type memBus struct {
	mu   sync.RWMutex
	subs map[uint64]chan Event
	seq  atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	// Snapshot subscribers so Publish doesn't hold locks while attempting sends.
	b.mu.RLock()
	chs := make([]chan Event, 0, len(b.subs))
	for _, ch := range b.subs {
		chs = append(chs, ch)
	}
	b.mu.RUnlock()

	for _, ch := range chs {
		// Non-blocking delivery. If subscriber is slow, we drop.
		// If a subscriber unsubscribes concurrently and the channel closes,
		// recover from a possible panic (send on closed channel).
		func() {
			defer func() { _ = recover() }()
			select {
			case ch <- e:
			default:
			}
		}()
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			// Closing is safe because Publish recovers from send panics.
			close(ch)
		})
	}
	return ch, unsub
}
