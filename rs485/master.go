package rs485

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"runtime"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"homectl-go/errcode"
	"homectl-go/metrics"
)

// frameBufferLimit bounds the receive buffer; exceeding it means line noise.
const frameBufferLimit = 1024

type txKind uint8

const (
	txFrameOut txKind = iota
	txFrameOutIn
	txDiscovery
)

func (k txKind) String() string {
	switch k {
	case txFrameOut:
		return "out"
	case txFrameOutIn:
		return "out-in"
	default:
		return "discovery"
	}
}

type request struct {
	kind        txKind
	serviceMode bool
	addr        Address
	payload     Payload
	timeout     time.Duration
	reply       chan response
}

type response struct {
	payload Payload
	addr    Address
	err     error
}

// Master owns one serial link and serialises all transactions on a dedicated
// OS thread. Transactions are submitted over a request channel and answered
// over per-request reply channels; the worker never retries internally.
type Master struct {
	log  *logrus.Entry
	port Port

	reqs      chan request
	closing   chan struct{}
	closeOnce sync.Once
	done      chan struct{}
}

// NewMaster starts the worker thread over an open port. The caller owns the
// master and must Close it; Close also closes the port.
func NewMaster(name string, port Port) *Master {
	m := &Master{
		log:     logrus.WithFields(logrus.Fields{"component": "rs485-master", "master": name}),
		port:    port,
		reqs:    make(chan request),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
	}
	go m.worker()
	return m
}

// Close stops the worker and closes the port. Transactions not yet picked up
// fail with master_closed.
func (m *Master) Close() error {
	m.closeOnce.Do(func() { close(m.closing) })
	<-m.done
	return m.port.Close()
}

// -----------------------------------------------------------------------------
// Public transaction surface (asynchronous calls)
// -----------------------------------------------------------------------------

// TransactionOut writes one frame and returns once it left the driver.
func (m *Master) TransactionOut(ctx context.Context, serviceMode bool, addr Address, payload Payload) error {
	resp, err := m.transact(ctx, request{kind: txFrameOut, serviceMode: serviceMode, addr: addr, payload: payload})
	if err != nil {
		return err
	}
	return resp.err
}

// TransactionOutIn writes one frame and waits up to timeout for the slave's
// response frame, returning its payload.
func (m *Master) TransactionOutIn(ctx context.Context, serviceMode bool, addr Address, payload Payload, timeout time.Duration) (Payload, error) {
	resp, err := m.transact(ctx, request{
		kind: txFrameOutIn, serviceMode: serviceMode, addr: addr, payload: payload, timeout: timeout,
	})
	if err != nil {
		return nil, err
	}
	return resp.payload, resp.err
}

// TransactionDiscovery broadcasts the discovery byte and returns the single
// responding slave's address.
func (m *Master) TransactionDiscovery(ctx context.Context, timeout time.Duration) (Address, error) {
	resp, err := m.transact(ctx, request{kind: txDiscovery, timeout: timeout})
	if err != nil {
		return Address{}, err
	}
	return resp.addr, resp.err
}

func (m *Master) transact(ctx context.Context, req request) (response, error) {
	req.reply = make(chan response, 1)
	select {
	case m.reqs <- req:
	case <-m.closing:
		return response{}, errcode.MasterClosed
	case <-ctx.Done():
		return response{}, ctx.Err()
	}
	select {
	case resp := <-req.reply:
		result := "ok"
		if resp.err != nil {
			result = string(errcode.Of(resp.err))
		}
		metrics.BusTransactions.WithLabelValues(req.kind.String(), result).Inc()
		return resp, nil
	case <-m.closing:
		return response{}, errcode.MasterClosed
	case <-ctx.Done():
		return response{}, ctx.Err()
	}
}

// -----------------------------------------------------------------------------
// Worker
// -----------------------------------------------------------------------------

func (m *Master) worker() {
	// The FTDI driver wants all I/O from one thread.
	runtime.LockOSThread()
	defer close(m.done)

	for {
		select {
		case <-m.closing:
			return
		case req := <-m.reqs:
			var resp response
			switch req.kind {
			case txFrameOut:
				resp.err = m.frameOut(req.serviceMode, req.addr, req.payload)
			case txFrameOutIn:
				if resp.err = m.frameOut(req.serviceMode, req.addr, req.payload); resp.err == nil {
					resp.payload, resp.err = m.frameIn(req.serviceMode, req.addr, req.timeout)
				}
			case txDiscovery:
				resp.addr, resp.err = m.discovery(req.timeout)
			}
			req.reply <- resp
		}
	}
}

// frameOut writes the outbound frame in a single write call.
func (m *Master) frameOut(serviceMode bool, addr Address, payload Payload) error {
	frame := BuildOut(serviceMode, addr, payload)
	n, err := m.port.Write(frame)
	if err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	if n != len(frame) {
		return fmt.Errorf("write frame: %w", io.ErrShortWrite)
	}
	return nil
}

// frameIn accumulates reads until a complete frame is present, deducting the
// FTDI latency from the remaining timeout for every empty read. Stray bytes
// outside the frame are logged and discarded.
func (m *Master) frameIn(serviceMode bool, addr Address, timeout time.Duration) (Payload, error) {
	buf := make([]byte, 0, 128)
	chunk := make([]byte, 128)
	remaining := timeout

	for {
		n, err := m.port.Read(chunk)
		if err != nil {
			return nil, fmt.Errorf("read frame: %w", err)
		}
		if n == 0 {
			if remaining < ftdiLatency {
				return nil, &errcode.E{C: errcode.Timeout, Msg: "timeout expired waiting for frame"}
			}
			remaining -= ftdiLatency
			continue
		}

		buf = append(buf, chunk[:n]...)
		if len(buf) > frameBufferLimit {
			return nil, &errcode.E{C: errcode.FrameTooLong, Msg: fmt.Sprintf("%d bytes buffered", len(buf))}
		}

		begin := bytes.IndexByte(buf, charBegin)
		if begin < 0 {
			continue
		}
		if begin > 0 {
			m.log.Warnf("discarding %d stray bytes before frame begin", begin)
		}
		end := bytes.IndexByte(buf[begin:], charEnd)
		if end < 0 {
			continue
		}
		end += begin
		if end != len(buf)-1 {
			m.log.Warnf("discarding %d stray bytes after frame end", len(buf)-1-end)
		}

		raddr, payload, err := ParseIn(buf[begin:end+1], serviceMode)
		if err != nil {
			return nil, err
		}
		if raddr != addr {
			return nil, &errcode.E{
				C:   errcode.FrameBadAddress,
				Msg: fmt.Sprintf("response from %s, expected %s", raddr, addr),
			}
		}
		return payload, nil
	}
}

// discovery purges the receive buffer, broadcasts the discovery byte and
// reads the bare 12-byte address response.
func (m *Master) discovery(timeout time.Duration) (Address, error) {
	if err := m.port.ResetInputBuffer(); err != nil {
		return Address{}, fmt.Errorf("purge read buffer: %w", err)
	}
	if _, err := m.port.Write([]byte{DiscoveryRequest}); err != nil {
		return Address{}, fmt.Errorf("write discovery: %w", err)
	}

	buf := make([]byte, 0, DiscoveryResponseLength)
	chunk := make([]byte, 32)
	remaining := timeout

	for {
		n, err := m.port.Read(chunk)
		if err != nil {
			return Address{}, fmt.Errorf("read discovery: %w", err)
		}
		if n == 0 {
			if remaining < ftdiLatency {
				return Address{}, &errcode.E{C: errcode.Timeout, Msg: "timeout expired waiting for discovery"}
			}
			remaining -= ftdiLatency
			continue
		}
		buf = append(buf, chunk[:n]...)
		if len(buf) > DiscoveryResponseLength {
			return Address{}, &errcode.E{C: errcode.FrameTooLong, Msg: fmt.Sprintf("discovery response: %d bytes", len(buf))}
		}
		if len(buf) == DiscoveryResponseLength {
			return ParseDiscoveryResponse(buf)
		}
	}
}
