// Package flipflop is a soft boolean latch: set/reset/toggle event inputs
// driving a boolean state output.
package flipflop

import (
	"context"
	"sync"

	"homectl-go/device"
	"homectl-go/devices"
	"homectl-go/signal"
)

// Signal identifiers.
const (
	SignalSet    device.SignalID = 0
	SignalReset  device.SignalID = 1
	SignalToggle device.SignalID = 2
	SignalOutput device.SignalID = 3
)

type Params struct {
	Initial bool `yaml:"initial"`
}

type Device struct {
	set    *signal.EventTarget[signal.Unit]
	reset  *signal.EventTarget[signal.Unit]
	toggle *signal.EventTarget[signal.Unit]
	out    *signal.StateSource[bool]

	signals device.Signals
	sources *signal.Waker
	targets *signal.Waker
	gui     *signal.Broadcast

	mu    sync.Mutex
	value bool
}

func New(p Params) *Device {
	d := &Device{
		set:     signal.NewEventTarget[signal.Unit](),
		reset:   signal.NewEventTarget[signal.Unit](),
		toggle:  signal.NewEventTarget[signal.Unit](),
		out:     signal.NewStateSource(p.Initial),
		sources: signal.NewWaker(),
		targets: signal.NewWaker(),
		gui:     signal.NewBroadcast(),
		value:   p.Initial,
	}
	d.signals = device.Signals{
		SignalSet:    d.set,
		SignalReset:  d.reset,
		SignalToggle: d.toggle,
		SignalOutput: d.out,
	}
	return d
}

func init() {
	devices.Register("soft/boolean/flip_flop_a", func(in devices.BuildInput) (device.Device, error) {
		var p Params
		if err := in.DecodeParams(&p); err != nil {
			return nil, err
		}
		return New(p), nil
	})
}

func (d *Device) TypeName() string                   { return "soft/boolean/flip_flop_a" }
func (d *Device) Signals() device.Signals            { return d.signals }
func (d *Device) SourcesChangedWaker() *signal.Waker { return d.sources }
func (d *Device) TargetsChangedWaker() *signal.Waker { return d.targets }
func (d *Device) GUISummaryWaker() *signal.Broadcast { return d.gui }

// Value returns the latch state.
func (d *Device) Value() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.value
}

// Reset drops the input queues before a supervised restart.
func (d *Device) Reset() {
	d.set.Reset()
	d.reset.Reset()
	d.toggle.Reset()
}

func (d *Device) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-d.targets.C():
			d.apply()
		}
	}
}

// apply drains the input queues and publishes the new latch state.
// The inputs are applied in a fixed order: set, then reset, then toggle;
// within one input the batch order is preserved.
func (d *Device) apply() {
	d.mu.Lock()
	v := d.value
	for range d.set.TakePending() {
		v = true
	}
	for range d.reset.TakePending() {
		v = false
	}
	for range d.toggle.TakePending() {
		v = !v
	}
	changed := v != d.value
	d.value = v
	d.mu.Unlock()

	if changed {
		if d.out.Set(v) {
			d.sources.Wake()
		}
		d.gui.Wake()
	}
}
