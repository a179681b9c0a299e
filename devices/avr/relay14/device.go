// Package relay14 drives a 14-channel relay board slave over the RS-485 bus.
// Relay states arrive as boolean state targets; every poll either carries the
// pending output image or acts as a keepalive, and the slave answers with an
// empty payload.
package relay14

import (
	"context"
	"fmt"
	"sync"
	"time"

	"homectl-go/device"
	"homectl-go/devices"
	"homectl-go/errcode"
	"homectl-go/internal/timex"
	"homectl-go/rs485"
	"homectl-go/signal"
)

// OutputCount is the number of relay channels; signal ids 0..13 are the
// boolean state targets for them.
const OutputCount = 14

const (
	defaultPollInterval = 500 * time.Millisecond
	responseTimeout     = 250 * time.Millisecond
)

type Params struct {
	Master         string `yaml:"master"`
	DeviceType     string `yaml:"device_type"`
	Serial         string `yaml:"serial"`
	PollIntervalMS int    `yaml:"poll_interval_ms"`
}

type Device struct {
	addr rs485.Address
	bus  rs485.Retrier

	outputs [OutputCount]*signal.StateTarget[bool]
	signals device.Signals
	targets *signal.Waker
	gui     *signal.Broadcast

	pollInterval time.Duration

	mu      sync.Mutex
	values  [OutputCount]bool
	healthy bool
}

func New(master *rs485.Master, addr rs485.Address, pollInterval time.Duration) *Device {
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	d := &Device{
		addr:         addr,
		bus:          rs485.Retrier{Master: master, Attempts: 3, Delay: 50 * time.Millisecond},
		targets:      signal.NewWaker(),
		gui:          signal.NewBroadcast(),
		pollInterval: pollInterval,
	}
	d.signals = device.Signals{}
	for i := 0; i < OutputCount; i++ {
		d.outputs[i] = signal.NewStateTarget[bool]()
		d.signals[device.SignalID(i)] = d.outputs[i]
	}
	return d
}

func init() {
	devices.Register("avr/relay14_a", func(in devices.BuildInput) (device.Device, error) {
		var p Params
		if err := in.DecodeParams(&p); err != nil {
			return nil, err
		}
		if in.Masters == nil {
			return nil, fmt.Errorf("%w: no bus masters configured", errcode.InvalidConfig)
		}
		master, ok := in.Masters.Master(p.Master)
		if !ok {
			return nil, fmt.Errorf("%w: unknown master %q", errcode.InvalidConfig, p.Master)
		}
		addr, err := rs485.NewAddress(p.DeviceType, p.Serial)
		if err != nil {
			return nil, err
		}
		return New(master, addr, time.Duration(p.PollIntervalMS)*time.Millisecond), nil
	})
}

func (d *Device) TypeName() string                   { return "avr/relay14_a" }
func (d *Device) Signals() device.Signals            { return d.signals }
func (d *Device) SourcesChangedWaker() *signal.Waker { return nil }
func (d *Device) TargetsChangedWaker() *signal.Waker { return d.targets }
func (d *Device) GUISummaryWaker() *signal.Broadcast { return d.gui }

// Healthy reports whether the last poll reached the slave.
func (d *Device) Healthy() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.healthy
}

// Reset drops the endpoints to their documented reset before a restart.
func (d *Device) Reset() {
	for _, out := range d.outputs {
		out.Reset()
	}
	d.mu.Lock()
	d.values = [OutputCount]bool{}
	d.healthy = false
	d.mu.Unlock()
}

func (d *Device) Run(ctx context.Context) error {
	// Push the full image once on start so a restarted slave is consistent.
	if err := d.poll(ctx, true); err != nil {
		d.setHealthy(false)
		return err
	}
	d.setHealthy(true)

	// Any poll counts as a keepalive: re-arm the timer after each one.
	keepalive := time.NewTimer(d.pollInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-d.targets.C():
		case <-keepalive.C:
		}
		if err := d.poll(ctx, false); err != nil {
			d.setHealthy(false)
			return err
		}
		d.setHealthy(true)
		timex.ResetTimer(keepalive, d.pollInterval)
	}
}

// poll sends the pending output image, or an empty keepalive when nothing
// changed, and expects an empty response.
func (d *Device) poll(ctx context.Context, force bool) error {
	d.mu.Lock()
	dirty := force
	for i, out := range d.outputs {
		v, present, pending := out.TakeLast()
		if !pending {
			continue
		}
		dirty = true
		// An absent value (no source connected) de-energises the relay.
		d.values[i] = present && v
	}
	var payload rs485.Payload
	if dirty {
		var mask uint16
		for i, v := range d.values {
			if v {
				mask |= 1 << i
			}
		}
		payload = rs485.Payload(fmt.Sprintf("H%04X", mask))
	}
	d.mu.Unlock()

	response, err := d.bus.TransactionOutIn(ctx, false, d.addr, payload, responseTimeout)
	if err != nil {
		return fmt.Errorf("poll %s: %w", d.addr, err)
	}
	if len(response) != 0 {
		return fmt.Errorf("poll %s: %w: unexpected response %q", d.addr, errcode.FrameBadPayload, response)
	}
	return nil
}

func (d *Device) setHealthy(healthy bool) {
	d.mu.Lock()
	changed := d.healthy != healthy
	d.healthy = healthy
	d.mu.Unlock()
	if changed {
		d.gui.Wake()
	}
}
