package flipflop

import (
	"context"
	"testing"
	"time"

	"homectl-go/signal"
)

func startDevice(t *testing.T, d *Device) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = d.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Error("device did not stop")
		}
	})
}

func expectWake(t *testing.T, c <-chan struct{}) {
	t.Helper()
	select {
	case <-c:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for wake")
	}
}

func TestToggleFlipsOutput(t *testing.T) {
	d := New(Params{})
	startDevice(t, d)

	d.toggle.Push([]any{signal.Unit{}})
	d.targets.Wake()

	expectWake(t, d.sources.C())
	if v, _ := d.out.Peek(); v != true {
		t.Fatal("toggle from false must yield true")
	}
	if !d.Value() {
		t.Fatal("latch state must follow")
	}
}

func TestSetResetOrdering(t *testing.T) {
	d := New(Params{Initial: false})
	startDevice(t, d)

	// Set then reset within one wake: reset is applied after set.
	d.set.Push([]any{signal.Unit{}})
	d.reset.Push([]any{signal.Unit{}})
	d.targets.Wake()

	// No observable change from false: no sources wake.
	select {
	case <-d.sources.C():
		t.Fatal("no net change expected")
	case <-time.After(50 * time.Millisecond):
	}
	if d.Value() {
		t.Fatal("latch must remain false")
	}
}

func TestDoubleToggleIsNoNetChange(t *testing.T) {
	d := New(Params{Initial: true})
	startDevice(t, d)

	d.toggle.Push([]any{signal.Unit{}, signal.Unit{}})
	d.targets.Wake()

	select {
	case <-d.sources.C():
		t.Fatal("double toggle must not publish")
	case <-time.After(50 * time.Millisecond):
	}
	if !d.Value() {
		t.Fatal("latch must remain true")
	}
}

func TestResetClearsQueues(t *testing.T) {
	d := New(Params{})
	d.toggle.Push([]any{signal.Unit{}})
	d.Reset()
	if got := d.toggle.TakePending(); len(got) != 0 {
		t.Fatalf("reset must clear queues, got %v", got)
	}
}
