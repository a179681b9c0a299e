package signal

import (
	"reflect"
	"sync"
)

// -----------------------------------------------------------------------------
// State source
// -----------------------------------------------------------------------------

// StateSource produces a stream of last values of type T. It carries a
// current value and a one-deep pending slot recording that the target side
// has not yet observed it. Reads are non-destructive.
type StateSource[T comparable] struct {
	mu      sync.Mutex
	value   T
	present bool
	pending bool
}

// NewStateSource creates the endpoint with an always-present initial value.
func NewStateSource[T comparable](initial T) *StateSource[T] {
	return &StateSource[T]{value: initial, present: true}
}

// Set stores v as the current value. It reports whether the value changed,
// in which case the pending flag was set and the owning device should raise
// its sources-changed waker.
func (s *StateSource[T]) Set(v T) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.present && s.value == v {
		return false
	}
	s.value = v
	s.present = true
	s.pending = true
	return true
}

// Clear drops the current value to absent (device error states).
func (s *StateSource[T]) Clear() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.present {
		return false
	}
	var zero T
	s.value = zero
	s.present = false
	s.pending = true
	return true
}

// Peek returns the current value without touching the pending flag.
func (s *StateSource[T]) Peek() (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value, s.present
}

// PeekLast implements StateSourceOps.
func (s *StateSource[T]) PeekLast() Opt {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.present {
		return None()
	}
	return Some(s.value)
}

// TakePending implements StateSourceOps.
func (s *StateSource[T]) TakePending() (Opt, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.pending {
		return Opt{}, false
	}
	s.pending = false
	if !s.present {
		return None(), true
	}
	return Some(s.value), true
}

func (s *StateSource[T]) Base() Base {
	t := reflect.TypeFor[T]()
	return Base{
		Kind:        KindStateSource,
		Type:        t,
		TypeName:    t.String(),
		StateSource: s,
	}
}

// -----------------------------------------------------------------------------
// State target
// -----------------------------------------------------------------------------

// StateTarget consumes values of type T with set-semantics: only the last
// value of a batch is retained, and duplicate writes do not mark it pending.
// The construction default is the absent value.
type StateTarget[T comparable] struct {
	mu      sync.Mutex
	value   T
	present bool
	pending bool
}

func NewStateTarget[T comparable]() *StateTarget[T] {
	return &StateTarget[T]{}
}

// Set implements StateTargetOps.
func (t *StateTarget[T]) Set(batch []Opt) bool {
	var nv T
	var np bool
	if len(batch) > 0 {
		if last := batch[len(batch)-1]; last.Present {
			nv = last.Value.(T)
			np = true
		}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if np == t.present && (!np || nv == t.value) {
		return false
	}
	t.value = nv
	t.present = np
	t.pending = true
	return true
}

// TakeLast pops the pending-for-consumer flag, returning the stored value.
func (t *StateTarget[T]) TakeLast() (v T, present bool, pending bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, present, pending = t.value, t.present, t.pending
	t.pending = false
	return
}

// PeekLast returns the stored value without clearing the pending flag.
func (t *StateTarget[T]) PeekLast() (v T, present bool, pending bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.value, t.present, t.pending
}

// Reset reverts the endpoint to its construction default.
func (t *StateTarget[T]) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	var zero T
	t.value = zero
	t.present = false
	t.pending = false
}

func (t *StateTarget[T]) Base() Base {
	rt := reflect.TypeFor[T]()
	return Base{
		Kind:        KindStateTarget,
		Type:        rt,
		TypeName:    rt.String(),
		StateTarget: t,
	}
}
