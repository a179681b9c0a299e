package signal

import "sync"

// -----------------------------------------------------------------------------
// Single-consumer waker
// -----------------------------------------------------------------------------

// Waker is an edge-triggered, single-consumer notifier. Any number of raises
// between two consumer polls coalesce into exactly one delivery.
type Waker struct {
	c chan struct{}
}

func NewWaker() *Waker {
	return &Waker{c: make(chan struct{}, 1)}
}

// Wake raises the waker. Never blocks.
func (w *Waker) Wake() {
	if w == nil {
		return
	}
	select {
	case w.c <- struct{}{}:
	default:
	}
}

// C is the consumer stream: one ready receive per burst of raises.
func (w *Waker) C() <-chan struct{} {
	if w == nil {
		return nil
	}
	return w.c
}

// Remote returns a raise-only handle, cheap to copy across the exchanger.
// The consumer stream stays on the owning side.
func (w *Waker) Remote() Remote {
	if w == nil {
		return Remote{}
	}
	return Remote{c: w.c}
}

// Remote raises a Waker without exposing its consumer side.
// The zero Remote is a no-op.
type Remote struct {
	c chan<- struct{}
}

func (r Remote) Wake() {
	select {
	case r.c <- struct{}{}:
	default:
	}
}

// -----------------------------------------------------------------------------
// Multi-consumer broadcast waker
// -----------------------------------------------------------------------------

// Broadcast is the many-consumer flavour: every subscriber gets its own
// coalescing stream.
type Broadcast struct {
	mu   sync.Mutex
	subs map[*BroadcastSub]struct{}
}

func NewBroadcast() *Broadcast {
	return &Broadcast{subs: map[*BroadcastSub]struct{}{}}
}

// Wake raises every live subscription. Raising with no subscribers is a no-op.
func (b *Broadcast) Wake() {
	if b == nil {
		return
	}
	b.mu.Lock()
	for s := range b.subs {
		select {
		case s.c <- struct{}{}:
		default:
		}
	}
	b.mu.Unlock()
}

func (b *Broadcast) Subscribe() *BroadcastSub {
	s := &BroadcastSub{b: b, c: make(chan struct{}, 1)}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()
	return s
}

// BroadcastSub is one subscriber's coalescing stream.
type BroadcastSub struct {
	b *Broadcast
	c chan struct{}
}

func (s *BroadcastSub) C() <-chan struct{} { return s.c }

// Unsubscribe detaches the stream; further raises no longer reach it.
func (s *BroadcastSub) Unsubscribe() {
	s.b.mu.Lock()
	delete(s.b.subs, s)
	s.b.mu.Unlock()
}
