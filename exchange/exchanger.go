// Package exchange resolves a requested signal graph against a device table
// and runs the forwarding loop between source and target endpoints.
package exchange

import (
	"context"
	"fmt"
	"slices"

	"github.com/sirupsen/logrus"

	"homectl-go/device"
	"homectl-go/errcode"
	"homectl-go/metrics"
	"homectl-go/signal"
)

// DeviceSignal fully qualifies an endpoint.
type DeviceSignal struct {
	Device device.ID
	Signal device.SignalID
}

func (ds DeviceSignal) String() string {
	return fmt.Sprintf("%d.%d", ds.Device, ds.Signal)
}

// ConnectionRequested is a directed source→target edge request.
type ConnectionRequested struct {
	Source DeviceSignal
	Target DeviceSignal
}

// -----------------------------------------------------------------------------
// Runtime graph
// -----------------------------------------------------------------------------

type stateTargetRef struct {
	id  DeviceSignal
	ops signal.StateTargetOps
}

type eventTargetRef struct {
	id  DeviceSignal
	ops signal.EventTargetOps
}

// sourceEdges groups one source endpoint with its downstream targets.
// Exactly one of state/event is non-nil, matching the endpoint kind.
type sourceEdges struct {
	id    DeviceSignal
	state signal.StateSourceOps
	event signal.EventSourceOps

	stateTargets []stateTargetRef
	eventTargets []eventTargetRef
}

// Exchanger is the frozen runtime graph plus the forwarding loop state.
// Build errors are fatal; once built, forwarding is infallible.
type Exchanger struct {
	log *logrus.Entry

	// indexed by source device so the loop touches only raised devices
	sourcesByDevice map[device.ID][]*sourceEdges

	// state targets with no inbound edge: noned once in the initial pass
	disconnected []stateTargetRef

	targetWakers  map[device.ID]signal.Remote
	sourceStreams map[device.ID]<-chan struct{}
}

// New walks the device table, validates every requested connection and
// freezes the runtime graph. Offending connections are logged and dropped;
// a device advertising sources or targets without the matching waker is a
// fatal build error.
func New(devices map[device.ID]device.Device, requested []ConnectionRequested) (*Exchanger, error) {
	e := &Exchanger{
		log:             logrus.WithField("component", "exchanger"),
		sourcesByDevice: map[device.ID][]*sourceEdges{},
		targetWakers:    map[device.ID]signal.Remote{},
		sourceStreams:   map[device.ID]<-chan struct{}{},
	}

	endpoints := map[DeviceSignal]signal.Base{}

	deviceIDs := make([]device.ID, 0, len(devices))
	for id := range devices {
		deviceIDs = append(deviceIDs, id)
	}
	slices.Sort(deviceIDs)

	for _, devID := range deviceIDs {
		dev := devices[devID]
		var hasSources, hasTargets bool

		signalIDs := make([]device.SignalID, 0, len(dev.Signals()))
		for sigID := range dev.Signals() {
			signalIDs = append(signalIDs, sigID)
		}
		slices.Sort(signalIDs)

		for _, sigID := range signalIDs {
			base := dev.Signals()[sigID].Base()
			endpoints[DeviceSignal{devID, sigID}] = base
			if base.Kind.IsSource() {
				hasSources = true
			} else {
				hasTargets = true
			}
			if base.Kind == signal.KindStateTarget {
				e.disconnected = append(e.disconnected, stateTargetRef{
					id:  DeviceSignal{devID, sigID},
					ops: base.StateTarget,
				})
			}
		}

		if hasSources {
			w := dev.SourcesChangedWaker()
			if w == nil {
				return nil, fmt.Errorf("%w: device %d (%s) advertises sources but no sources-changed waker",
					errcode.BuildError, devID, dev.TypeName())
			}
			e.sourceStreams[devID] = w.C()
		}
		if hasTargets {
			w := dev.TargetsChangedWaker()
			if w == nil {
				return nil, fmt.Errorf("%w: device %d (%s) advertises targets but no targets-changed waker",
					errcode.BuildError, devID, dev.TypeName())
			}
			e.targetWakers[devID] = w.Remote()
		}
	}

	sources := map[DeviceSignal]*sourceEdges{}
	boundStateTargets := map[DeviceSignal]DeviceSignal{} // target -> its single source
	eventEdges := map[ConnectionRequested]struct{}{}

	for _, conn := range requested {
		src, ok := endpoints[conn.Source]
		if !ok {
			e.dropConnection(conn, "missing source endpoint")
			continue
		}
		tgt, ok := endpoints[conn.Target]
		if !ok {
			e.dropConnection(conn, "missing target endpoint")
			continue
		}
		if !src.Kind.IsSource() {
			e.dropConnection(conn, fmt.Sprintf("source side is a %s", src.Kind))
			continue
		}
		if tgt.Kind.IsSource() {
			e.dropConnection(conn, fmt.Sprintf("target side is a %s", tgt.Kind))
			continue
		}
		if src.Kind.IsState() != tgt.Kind.IsState() {
			e.dropConnection(conn, fmt.Sprintf("kind mismatch: %s -> %s", src.Kind, tgt.Kind))
			continue
		}
		if src.Type != tgt.Type {
			e.dropConnection(conn, fmt.Sprintf("type mismatch: %s -> %s", src.TypeName, tgt.TypeName))
			continue
		}

		if src.Kind == signal.KindStateSource {
			if prev, bound := boundStateTargets[conn.Target]; bound {
				e.dropConnection(conn, fmt.Sprintf("state target already bound to %s", prev))
				continue
			}
			boundStateTargets[conn.Target] = conn.Source
			se := e.edgesFor(sources, conn.Source, src)
			se.stateTargets = append(se.stateTargets, stateTargetRef{id: conn.Target, ops: tgt.StateTarget})
			e.disconnected = slices.DeleteFunc(e.disconnected, func(r stateTargetRef) bool {
				return r.id == conn.Target
			})
		} else {
			if _, dup := eventEdges[conn]; dup {
				e.dropConnection(conn, "duplicate event edge")
				continue
			}
			eventEdges[conn] = struct{}{}
			se := e.edgesFor(sources, conn.Source, src)
			se.eventTargets = append(se.eventTargets, eventTargetRef{id: conn.Target, ops: tgt.EventTarget})
		}
	}

	return e, nil
}

func (e *Exchanger) edgesFor(sources map[DeviceSignal]*sourceEdges, id DeviceSignal, base signal.Base) *sourceEdges {
	if se, ok := sources[id]; ok {
		return se
	}
	se := &sourceEdges{id: id, state: base.StateSource, event: base.EventSource}
	sources[id] = se
	e.sourcesByDevice[id.Device] = append(e.sourcesByDevice[id.Device], se)
	return se
}

func (e *Exchanger) dropConnection(conn ConnectionRequested, reason string) {
	metrics.ConnectionsDropped.Inc()
	e.log.WithFields(logrus.Fields{
		"source": conn.Source.String(),
		"target": conn.Target.String(),
	}).Warnf("dropping connection: %s", reason)
}

// -----------------------------------------------------------------------------
// Forwarding
// -----------------------------------------------------------------------------

// Run performs the initial pass, then forwards pending values until ctx is
// cancelled. Cancellation takes effect at an iteration boundary, never
// mid-batch.
func (e *Exchanger) Run(ctx context.Context) error {
	e.initialPass()

	notify := make(chan device.ID, len(e.sourceStreams)+1)
	for id, c := range e.sourceStreams {
		go func(id device.ID, c <-chan struct{}) {
			for {
				select {
				case <-ctx.Done():
					return
				case <-c:
				}
				select {
				case <-ctx.Done():
					return
				case notify <- id:
				}
			}
		}(id, c)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case first := <-notify:
			raised := map[device.ID]struct{}{first: {}}
		drain:
			for {
				select {
				case id := <-notify:
					raised[id] = struct{}{}
				default:
					break drain
				}
			}
			e.forward(raised)
			metrics.ExchangerIterations.Inc()
		}
	}
}

// initialPass settles every state target once before any waker is serviced:
// disconnected targets receive the absent value, connected targets their
// source's current value. Event queues are not drained initially.
func (e *Exchanger) initialPass() {
	affected := map[device.ID]struct{}{}

	for _, tr := range e.disconnected {
		tr.ops.Set(nil)
		affected[tr.id.Device] = struct{}{}
	}

	for _, edges := range e.sourcesByDevice {
		for _, se := range edges {
			if se.state == nil {
				continue
			}
			last := se.state.PeekLast()
			for _, tr := range se.stateTargets {
				if tr.ops.Set([]signal.Opt{last}) {
					affected[tr.id.Device] = struct{}{}
				}
			}
		}
	}

	e.wakeTargets(affected)
}

// forward services one coalesced batch of raised source devices.
func (e *Exchanger) forward(raised map[device.ID]struct{}) {
	affected := map[device.ID]struct{}{}

	for devID := range raised {
		for _, se := range e.sourcesByDevice[devID] {
			switch {
			case se.state != nil:
				v, pending := se.state.TakePending()
				if !pending {
					continue
				}
				batch := []signal.Opt{v}
				for _, tr := range se.stateTargets {
					if tr.ops.Set(batch) {
						affected[tr.id.Device] = struct{}{}
					}
				}
			case se.event != nil:
				batch := se.event.TakePending()
				if len(batch) == 0 {
					continue
				}
				for _, tr := range se.eventTargets {
					if tr.ops.Push(batch) {
						affected[tr.id.Device] = struct{}{}
					}
				}
			}
		}
	}

	e.wakeTargets(affected)
}

// wakeTargets raises each affected device's targets-changed waker exactly
// once per iteration.
func (e *Exchanger) wakeTargets(affected map[device.ID]struct{}) {
	for devID := range affected {
		e.targetWakers[devID].Wake()
	}
}
