// Package eventbus is the in-process publish/subscribe hub fanning out
// state-store and agent events to any number of observers (§2, §9): a
// per-subscriber buffered channel trimmed by a soft cap, with back-pressure
// never applied to producers — agent output must not stall the control
// loop. Subscribers that fall behind by more than the cap are dropped and
// must resnapshot via the `state` event, generalizing the teacher's
// per-client SSE channel map (internal/web/sse.go) to a typed multi-producer
// bus.
package eventbus

import "sync"

// softCap is the per-subscriber queue depth past which the subscriber is
// dropped rather than blocking the producer.
const softCap = 256

// Bus fans out events of any shape to subscribers.
type Bus struct {
	mu   sync.Mutex
	subs map[*Subscription]struct{}
}

// Subscription is a live subscriber's channel handle.
type Subscription struct {
	ch      chan any
	bus     *Bus
	dropped bool
}

// New returns an empty Bus.
func New() *Bus {
	return &Bus{subs: make(map[*Subscription]struct{})}
}

// Subscribe registers a new observer and returns its Subscription. Callers
// read from C() until Dropped() becomes true or they call Unsubscribe.
func (b *Bus) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &Subscription{ch: make(chan any, softCap), bus: b}
	b.subs[sub] = struct{}{}
	return sub
}

// Unsubscribe removes sub from the bus and closes its channel.
func (b *Bus) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[sub]; ok {
		delete(b.subs, sub)
		close(sub.ch)
	}
}

// Publish fans event out to every live subscriber. A subscriber whose queue
// is already full is marked dropped and removed — it must resnapshot via
// the next `state` event rather than stall the publisher.
func (b *Bus) Publish(event any) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for sub := range b.subs {
		select {
		case sub.ch <- event:
		default:
			sub.dropped = true
			delete(b.subs, sub)
			close(sub.ch)
		}
	}
}

// C returns the channel to receive events on.
func (s *Subscription) C() <-chan any {
	return s.ch
}

// Dropped reports whether the bus dropped this subscriber for falling behind.
func (s *Subscription) Dropped() bool {
	return s.dropped
}
