// Package ticker emits unit events at a fixed interval.
package ticker

import (
	"context"
	"time"

	"homectl-go/device"
	"homectl-go/devices"
	"homectl-go/signal"
)

// SignalTick is the event-source output.
const SignalTick device.SignalID = 0

const defaultInterval = time.Second

type Params struct {
	IntervalMS int `yaml:"interval_ms"`
}

type Device struct {
	tick     *signal.EventSource[signal.Unit]
	signals  device.Signals
	sources  *signal.Waker
	interval time.Duration
}

func New(p Params) *Device {
	interval := time.Duration(p.IntervalMS) * time.Millisecond
	if interval <= 0 {
		interval = defaultInterval
	}
	d := &Device{
		tick:     signal.NewEventSource[signal.Unit](),
		sources:  signal.NewWaker(),
		interval: interval,
	}
	d.signals = device.Signals{SignalTick: d.tick}
	return d
}

func init() {
	devices.Register("soft/time/ticker_a", func(in devices.BuildInput) (device.Device, error) {
		var p Params
		if err := in.DecodeParams(&p); err != nil {
			return nil, err
		}
		return New(p), nil
	})
}

func (d *Device) TypeName() string                   { return "soft/time/ticker_a" }
func (d *Device) Signals() device.Signals            { return d.signals }
func (d *Device) SourcesChangedWaker() *signal.Waker { return d.sources }
func (d *Device) TargetsChangedWaker() *signal.Waker { return nil }
func (d *Device) GUISummaryWaker() *signal.Broadcast { return nil }

// Reset clears the queued ticks before a supervised restart.
func (d *Device) Reset() {
	d.tick.Reset()
}

func (d *Device) Run(ctx context.Context) error {
	t := time.NewTicker(d.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			d.tick.Push(signal.Unit{})
			d.sources.Wake()
		}
	}
}
