package signal

import "testing"

func TestEventSourceOrderPreserved(t *testing.T) {
	s := NewEventSource[uint8]()

	if !s.Push(1) {
		t.Fatal("queue was empty, push must report it")
	}
	if s.Push(2) || s.Push(3) {
		t.Fatal("queue was non-empty, push must report it")
	}

	got := s.TakePending()
	if len(got) != 3 {
		t.Fatalf("expected 3 values, got %d", len(got))
	}
	for i, want := range []uint8{1, 2, 3} {
		if got[i].(uint8) != want {
			t.Fatalf("order broken at %d: got %v", i, got[i])
		}
	}
	if s.TakePending() != nil {
		t.Fatal("drain must be atomic and complete")
	}
}

func TestEventSourceOverflowDropsNewest(t *testing.T) {
	s := NewEventSourceLimit[int](2)
	s.Push(1)
	s.Push(2)
	s.Push(3) // over the bound: dropped
	s.Push(4)

	if got := s.Dropped(); got != 2 {
		t.Fatalf("expected 2 dropped, got %d", got)
	}
	got := s.TakePending()
	if len(got) != 2 || got[0].(int) != 1 || got[1].(int) != 2 {
		t.Fatalf("expected oldest values retained, got %v", got)
	}
}

func TestEventTargetPushBatch(t *testing.T) {
	tg := NewEventTarget[int]()

	if tg.Push(nil) {
		t.Fatal("empty batch must report false")
	}
	if !tg.Push([]any{1, 2, 3}) {
		t.Fatal("non-empty batch must report true")
	}
	got := tg.TakePending()
	if len(got) != 3 || got[0] != 1 || got[1] != 2 || got[2] != 3 {
		t.Fatalf("order broken: %v", got)
	}
}

func TestEventTargetOverflowDropsNewest(t *testing.T) {
	tg := NewEventTargetLimit[int](3)
	tg.Push([]any{1, 2, 3, 4, 5})
	if got := tg.Dropped(); got != 2 {
		t.Fatalf("expected 2 dropped, got %d", got)
	}
	got := tg.TakePending()
	if len(got) != 3 || got[0] != 1 || got[2] != 3 {
		t.Fatalf("expected first 3 retained in order, got %v", got)
	}
}

func TestEventTargetReset(t *testing.T) {
	tg := NewEventTarget[int]()
	tg.Push([]any{1})
	tg.Reset()
	if got := tg.TakePending(); got != nil {
		t.Fatalf("reset must clear queue, got %v", got)
	}
}
