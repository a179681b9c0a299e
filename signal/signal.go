// Package signal implements the typed endpoint kinds of the signal fabric
// and the wakers that announce change on each side.
//
// A device owns its endpoints. Sources are filled by the device and drained
// by the exchanger; targets are filled by the exchanger and drained by the
// device. All endpoint operations are short critical sections; none blocks.
package signal

import "reflect"

// Unit is the value type of pure trigger events.
type Unit = struct{}

// Kind discriminates the four endpoint kinds.
type Kind uint8

const (
	KindStateSource Kind = iota
	KindStateTarget
	KindEventSource
	KindEventTarget
)

func (k Kind) String() string {
	switch k {
	case KindStateSource:
		return "state-source"
	case KindStateTarget:
		return "state-target"
	case KindEventSource:
		return "event-source"
	case KindEventTarget:
		return "event-target"
	default:
		return "unknown"
	}
}

// IsSource reports whether the kind produces values.
func (k Kind) IsSource() bool { return k == KindStateSource || k == KindEventSource }

// IsState reports whether the kind carries state (vs. event) semantics.
func (k Kind) IsState() bool { return k == KindStateSource || k == KindStateTarget }

// Opt is an erased optional state value. State signals flow as Opts so an
// absent value ("no source connected", "device in error") stays representable
// across the generic boundary.
type Opt struct {
	Value   any
	Present bool
}

func Some(v any) Opt { return Opt{Value: v, Present: true} }
func None() Opt      { return Opt{} }

// -----------------------------------------------------------------------------
// Erased endpoint surface
// -----------------------------------------------------------------------------

// StateSourceOps is the exchanger-facing surface of a state source.
type StateSourceOps interface {
	// PeekLast returns the current value without clearing the pending flag.
	PeekLast() Opt
	// TakePending clears the pending flag, returning the current value and
	// whether anything was pending.
	TakePending() (Opt, bool)
}

// StateTargetOps is the exchanger-facing surface of a state target.
type StateTargetOps interface {
	// Set applies a batch; only the last element is retained (an empty batch
	// stores the absent value). Reports whether the stored value changed.
	Set(batch []Opt) bool
}

// EventSourceOps is the exchanger-facing surface of an event source.
type EventSourceOps interface {
	// TakePending drains the queue atomically, in push order.
	TakePending() []any
}

// EventTargetOps is the exchanger-facing surface of an event target.
type EventTargetOps interface {
	// Push appends a batch in order. Reports whether the batch was non-empty.
	Push(batch []any) bool
}

// Base is the erased endpoint record used for graph construction: the kind,
// the value type identity used to validate connections, a diagnostic type
// name, and exactly one non-nil operations surface matching the kind.
// Erased values may only travel between endpoints whose Type is identical;
// the exchanger enforces this at build time, never at forward time.
type Base struct {
	Kind     Kind
	Type     reflect.Type
	TypeName string

	StateSource StateSourceOps
	StateTarget StateTargetOps
	EventSource EventSourceOps
	EventTarget EventTargetOps
}

// Handle is implemented by every endpoint.
type Handle interface {
	Base() Base
}
