package pipeline

import "sync"

// Broadcaster is a plain fan-out bus: no broadcast-channel library appears
// anywhere in the retrieval pack, so a mutex-protected subscriber map over
// buffered channels is the grounded stdlib-adjacent choice for the
// recorder's TargetSample publication (spec.md §4.3/§4.5).
//
// A slow subscriber never blocks Publish: if its buffer is full the sample
// is dropped for that subscriber only, mirroring the "Lagged broadcast
// errors are ignored" tolerance spec.md §4.5 asks of the bridge.
type Broadcaster[T any] struct {
	mu   sync.Mutex
	subs map[int]chan T
	next int
}

// NewBroadcaster creates an empty Broadcaster.
func NewBroadcaster[T any]() *Broadcaster[T] {
	return &Broadcaster[T]{subs: make(map[int]chan T)}
}

// Subscribe registers a new buffered receiver and returns it along with an
// unsubscribe function that must be called when the subscriber is done.
func (b *Broadcaster[T]) Subscribe(bufSize int) (<-chan T, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.next
	b.next++
	ch := make(chan T, bufSize)
	b.subs[id] = ch

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if existing, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(existing)
		}
	}
	return ch, unsubscribe
}

// Publish delivers v to every current subscriber without blocking.
func (b *Broadcaster[T]) Publish(v T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- v:
		default:
			// Lagged: drop for this subscriber rather than block the
			// publisher (the recorder's own event loop).
		}
	}
}
