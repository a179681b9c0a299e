// Package runner supervises the device loops and the exchanger: one task per
// device with restart-on-error, orderly finalization (devices first, then the
// exchanger), and the gui-summary aggregation tree used by the web surface.
package runner

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"homectl-go/device"
	"homectl-go/errcode"
	"homectl-go/exchange"
	"homectl-go/metrics"
	"homectl-go/sse"
)

// DefaultRestartBackoff delays a failed device's restart unless the device
// overrides it through device.RestartBackoffer.
const DefaultRestartBackoff = 5 * time.Second

// Runner owns the devices, the exchanger built from them, and the
// gui-summary tree.
type Runner struct {
	log       *logrus.Entry
	devices   map[device.ID]device.Device
	exchanger *exchange.Exchanger
	gui       *sse.Aggregated
}

// New builds the runtime: the exchanger graph (fatal on build errors) and
// the gui-summary tree keyed by device id.
func New(devices map[device.ID]device.Device, connections []exchange.ConnectionRequested) (*Runner, error) {
	ex, err := exchange.New(devices, connections)
	if err != nil {
		return nil, err
	}

	root := &sse.Node{Children: map[sse.Token]*sse.Node{}}
	for id, dev := range devices {
		if w := dev.GUISummaryWaker(); w != nil {
			root.Children[int(id)] = &sse.Node{Waker: w}
		}
	}

	return &Runner{
		log:       logrus.WithField("component", "runner"),
		devices:   devices,
		exchanger: ex,
		gui:       sse.NewAggregated(root),
	}, nil
}

// GUISummary exposes the frozen aggregation tree for the web surface.
func (r *Runner) GUISummary() *sse.Aggregated { return r.gui }

// DeviceIDs returns the configured device ids, sorted.
func (r *Runner) DeviceIDs() []device.ID {
	ids := make([]device.ID, 0, len(r.devices))
	for id := range r.devices {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Run drives every device loop and the exchanger until ctx is cancelled,
// then finalizes in strict reverse order: device loops first, then the
// exchanger.
func (r *Runner) Run(ctx context.Context) error {
	exCtx, exCancel := context.WithCancel(context.Background())
	defer exCancel()
	exDone := make(chan struct{})
	go func() {
		defer close(exDone)
		_ = r.exchanger.Run(exCtx)
	}()

	devCtx, devCancel := context.WithCancel(context.Background())
	defer devCancel()
	g := new(errgroup.Group)
	for id, dev := range r.devices {
		g.Go(func() error {
			r.supervise(devCtx, id, dev)
			return nil
		})
	}

	<-ctx.Done()

	devCancel()
	_ = g.Wait()
	exCancel()
	<-exDone
	return nil
}

// supervise runs one device loop, restarting it on error after its backoff.
// Panics are contained to the device's task.
func (r *Runner) supervise(ctx context.Context, id device.ID, dev device.Device) {
	log := r.log.WithFields(logrus.Fields{"device": id, "type": dev.TypeName()})

	backoff := DefaultRestartBackoff
	if b, ok := dev.(device.RestartBackoffer); ok {
		backoff = b.RestartBackoff()
	}

	for {
		err := runContained(ctx, dev)
		switch {
		case err == nil:
			log.Debug("device exited")
			return
		case ctx.Err() != nil:
			log.WithError(err).Warn("device failed during shutdown")
			return
		case errors.Is(err, errcode.DeviceFatal):
			log.WithError(err).Error("device failed permanently")
			return
		}

		log.WithError(err).Warn("device failed, restarting")
		metrics.DeviceRestarts.WithLabelValues(strconv.FormatUint(uint64(id), 10), dev.TypeName()).Inc()

		if res, ok := dev.(device.Resetter); ok {
			res.Reset()
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
	}
}

func runContained(ctx context.Context, dev device.Device) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%w: %v", errcode.DevicePanic, rec)
		}
	}()
	return dev.Run(ctx)
}
