// Package device defines the uniform contract the exchanger, the supervised
// runner and the web surface consume. A device owns its endpoints for its
// entire lifetime; the contract makes no statement about the goroutine it
// runs on.
package device

import (
	"context"
	"time"

	"homectl-go/signal"
)

// ID identifies a device within a runtime. Assigned at configuration time.
type ID uint32

// SignalID identifies an endpoint within its owning device.
type SignalID uint16

// Signals maps a device's advertised endpoints.
type Signals map[SignalID]signal.Handle

// Device is the uniform device contract.
type Device interface {
	// TypeName is a stable, human-readable device class string.
	TypeName() string

	// Signals returns the advertised endpoints. The map and the endpoints
	// behind it must stay valid for the device's lifetime.
	Signals() Signals

	// SourcesChangedWaker is raised by the device whenever one of its source
	// endpoints gained content. nil iff the device exposes no sources.
	SourcesChangedWaker() *signal.Waker

	// TargetsChangedWaker is raised by the exchanger after it delivered into
	// at least one of the device's targets. nil iff the device exposes no
	// targets.
	TargetsChangedWaker() *signal.Waker

	// GUISummaryWaker announces gui-summary changes to the SSE bus. May be
	// nil for devices without a GUI representation.
	GUISummaryWaker() *signal.Broadcast

	// Run is the device loop. It returns nil on graceful shutdown (ctx
	// cancelled); any other return is a fault handled by the runner.
	Run(ctx context.Context) error
}

// Resetter is implemented by devices whose endpoints must drop to their
// documented reset (state targets to construction default, event queues
// cleared) before a supervised restart.
type Resetter interface {
	Reset()
}

// RestartBackoffer overrides the runner's default restart delay.
type RestartBackoffer interface {
	RestartBackoff() time.Duration
}
