package signal

import "testing"

func TestStateSourceSetAndTake(t *testing.T) {
	s := NewStateSource(false)

	if got, ok := s.Peek(); !ok || got != false {
		t.Fatalf("expected initial false, got %v/%v", got, ok)
	}

	if !s.Set(true) {
		t.Fatal("expected change on new value")
	}
	if s.Set(true) {
		t.Fatal("expected no change on duplicate value")
	}

	v, pending := s.TakePending()
	if !pending || !v.Present || v.Value.(bool) != true {
		t.Fatalf("expected pending Some(true), got %v pending=%v", v, pending)
	}
	if _, pending := s.TakePending(); pending {
		t.Fatal("pending flag must clear after take")
	}

	// Peek never clears pending.
	s.Set(false)
	if got := s.PeekLast(); !got.Present || got.Value.(bool) != false {
		t.Fatalf("peek mismatch: %v", got)
	}
	if _, pending := s.TakePending(); !pending {
		t.Fatal("peek must not clear pending")
	}
}

func TestStateSourceClear(t *testing.T) {
	s := NewStateSource(7)
	if !s.Clear() {
		t.Fatal("expected change on clear")
	}
	if s.Clear() {
		t.Fatal("expected no change on double clear")
	}
	v, pending := s.TakePending()
	if !pending || v.Present {
		t.Fatalf("expected pending None, got %v pending=%v", v, pending)
	}
}

func TestStateTargetLastOfBatchWins(t *testing.T) {
	tg := NewStateTarget[int]()

	if !tg.Set([]Opt{Some(1), Some(2), Some(3)}) {
		t.Fatal("expected change")
	}
	v, present, pending := tg.TakeLast()
	if v != 3 || !present || !pending {
		t.Fatalf("expected pending 3, got %v/%v/%v", v, present, pending)
	}
}

func TestStateTargetIdempotentSet(t *testing.T) {
	tg := NewStateTarget[bool]()

	if !tg.Set([]Opt{Some(true)}) {
		t.Fatal("first set must change")
	}
	tg.TakeLast()
	if tg.Set([]Opt{Some(true)}) {
		t.Fatal("duplicate set must not change")
	}
	if _, _, pending := tg.PeekLast(); pending {
		t.Fatal("duplicate set must not mark pending")
	}
}

func TestStateTargetEmptyBatchWritesAbsent(t *testing.T) {
	tg := NewStateTarget[int]()

	// Construction default is already absent: no change.
	if tg.Set(nil) {
		t.Fatal("absent over absent must not change")
	}

	tg.Set([]Opt{Some(5)})
	tg.TakeLast()
	if !tg.Set(nil) {
		t.Fatal("absent over present must change")
	}
	if _, present, pending := tg.TakeLast(); present || !pending {
		t.Fatal("expected pending absent value")
	}
}

func TestStateTargetReset(t *testing.T) {
	tg := NewStateTarget[int]()
	tg.Set([]Opt{Some(9)})
	tg.Reset()
	if v, present, pending := tg.PeekLast(); v != 0 || present || pending {
		t.Fatalf("reset must revert to construction default, got %v/%v/%v", v, present, pending)
	}
}

func TestStateBaseCarriesIdentity(t *testing.T) {
	s := NewStateSource(false)
	tg := NewStateTarget[bool]()
	other := NewStateTarget[int]()

	if s.Base().Type != tg.Base().Type {
		t.Fatal("bool endpoints must share type identity")
	}
	if s.Base().Type == other.Base().Type {
		t.Fatal("bool and int endpoints must not share type identity")
	}
	if s.Base().Kind != KindStateSource || tg.Base().Kind != KindStateTarget {
		t.Fatal("kind mismatch")
	}
	if s.Base().StateSource == nil || s.Base().StateTarget != nil {
		t.Fatal("base must carry exactly the matching ops surface")
	}
}
