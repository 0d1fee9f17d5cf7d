package event

import "sync"

// listener pairs a callback with the id used to remove it.
type listener struct {
	id int
	fn func(Event)
}

// Bus is a synchronous fan-out to registered listeners. Publish delivers
// events in subscribe order; listeners that need to do slow work must hand
// off to their own goroutine. The session exclusively owns its bus.
type Bus struct {
	mu        sync.Mutex
	seq       int
	listeners []listener
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers a callback and returns an unsubscribe func.
// Unsubscribing twice is a no-op.
func (b *Bus) Subscribe(fn func(Event)) func() {
	b.mu.Lock()
	b.seq++
	id := b.seq
	b.listeners = append(b.listeners, listener{id: id, fn: fn})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, l := range b.listeners {
			if l.id == id {
				b.listeners = append(b.listeners[:i], b.listeners[i+1:]...)
				return
			}
		}
	}
}

// Publish delivers the event to every listener, synchronously, in subscribe
// order. The listener snapshot is taken under the lock so callbacks may
// subscribe or unsubscribe without deadlocking.
func (b *Bus) Publish(e Event) {
	b.mu.Lock()
	snapshot := make([]listener, len(b.listeners))
	copy(snapshot, b.listeners)
	b.mu.Unlock()

	for _, l := range snapshot {
		l.fn(e)
	}
}
