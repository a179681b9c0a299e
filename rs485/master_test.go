package rs485

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"homectl-go/errcode"
)

// fakePort scripts the slave side: every Write may enqueue response bytes,
// Read hands them back in configurable chunks and simulates the FTDI
// timeout (0, nil) when nothing is pending.
type fakePort struct {
	mu        sync.Mutex
	written   []byte
	pending   []byte
	chunkSize int
	resets    int
	closed    bool
	onWrite   func(p []byte) []byte
}

func (f *fakePort) Read(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.pending) == 0 {
		return 0, nil // read timeout, no data
	}
	n := len(f.pending)
	if f.chunkSize > 0 && n > f.chunkSize {
		n = f.chunkSize
	}
	if n > len(p) {
		n = len(p)
	}
	copy(p, f.pending[:n])
	f.pending = f.pending[n:]
	return n, nil
}

func (f *fakePort) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written = append(f.written, p...)
	if f.onWrite != nil {
		f.pending = append(f.pending, f.onWrite(p)...)
	}
	return len(p), nil
}

func (f *fakePort) ResetInputBuffer() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets++
	f.pending = nil
	return nil
}

func (f *fakePort) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func newTestMaster(t *testing.T, port *fakePort) *Master {
	t.Helper()
	m := NewMaster("test", port)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func TestTransactionOutWritesFrame(t *testing.T) {
	port := &fakePort{}
	m := newTestMaster(t, port)

	addr := mustAddress(t, "0001", "98765432")
	err := m.TransactionOut(context.Background(), false, addr, mustPayload(t, "ChujDupaKamieniKupa"))
	require.NoError(t, err)

	port.mu.Lock()
	defer port.mu.Unlock()
	assert.Equal(t, []byte("\n>000198765432BF20ChujDupaKamieniKupa\r"), port.written)
}

func TestTransactionOutInRoundTrip(t *testing.T) {
	addr := mustAddress(t, "0001", "98765432")
	reply := mustPayload(t, "OK")

	port := &fakePort{
		chunkSize: 3, // split the response across several reads
		onWrite: func([]byte) []byte {
			return buildIn(false, addr, reply)
		},
	}
	m := newTestMaster(t, port)

	got, err := m.TransactionOutIn(context.Background(), false, addr, mustPayload(t, "?"), time.Second)
	require.NoError(t, err)
	assert.Equal(t, reply, got)
}

func TestTransactionOutInDiscardsNoise(t *testing.T) {
	addr := mustAddress(t, "0001", "98765432")

	port := &fakePort{
		onWrite: func([]byte) []byte {
			frame := buildIn(false, addr, mustPayload(t, "R"))
			return append([]byte("XY"), frame...) // stray bytes before begin
		},
	}
	m := newTestMaster(t, port)

	got, err := m.TransactionOutIn(context.Background(), false, addr, mustPayload(t, "?"), time.Second)
	require.NoError(t, err)
	assert.Equal(t, "R", got.String())
}

func TestTransactionOutInRejectsWrongResponder(t *testing.T) {
	addr := mustAddress(t, "0001", "98765432")
	other := mustAddress(t, "0002", "11111111")

	port := &fakePort{
		onWrite: func([]byte) []byte { return buildIn(false, other, nil) },
	}
	m := newTestMaster(t, port)

	_, err := m.TransactionOutIn(context.Background(), false, addr, nil, time.Second)
	assert.ErrorIs(t, err, errcode.FrameBadAddress)
}

func TestTransactionOutInFrameTooLong(t *testing.T) {
	addr := mustAddress(t, "0001", "98765432")

	noise := make([]byte, 2048)
	for i := range noise {
		noise[i] = 'A'
	}
	port := &fakePort{onWrite: func([]byte) []byte { return noise }}
	m := newTestMaster(t, port)

	_, err := m.TransactionOutIn(context.Background(), false, addr, nil, time.Second)
	assert.ErrorIs(t, err, errcode.FrameTooLong)
}

func TestDiscovery(t *testing.T) {
	port := &fakePort{
		chunkSize: 5,
		onWrite: func(p []byte) []byte {
			if len(p) == 1 && p[0] == DiscoveryRequest {
				return []byte("000698765432")
			}
			return nil
		},
	}
	m := newTestMaster(t, port)

	addr, err := m.TransactionDiscovery(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, "0006/98765432", addr.String())

	port.mu.Lock()
	defer port.mu.Unlock()
	assert.Equal(t, 1, port.resets, "discovery must purge the read buffer first")
}

// Discovery with a silent bus times out; the master stays alive and serves
// subsequent transactions.
func TestDiscoveryTimeoutKeepsMasterAlive(t *testing.T) {
	addr := mustAddress(t, "0001", "98765432")
	port := &fakePort{}
	m := newTestMaster(t, port)

	_, err := m.TransactionDiscovery(context.Background(), 100*time.Millisecond)
	assert.ErrorIs(t, err, errcode.Timeout)

	port.mu.Lock()
	port.onWrite = func([]byte) []byte { return buildIn(false, addr, mustPayload(t, "UP")) }
	port.mu.Unlock()

	got, err := m.TransactionOutIn(context.Background(), false, addr, nil, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "UP", got.String())
}

func TestMasterClose(t *testing.T) {
	port := &fakePort{}
	m := NewMaster("test", port)
	require.NoError(t, m.Close())
	assert.True(t, port.closed)

	err := m.TransactionOut(context.Background(), false, mustAddress(t, "0001", "00000001"), nil)
	assert.ErrorIs(t, err, errcode.MasterClosed)
}

func TestRetrierRecoversAfterTimeout(t *testing.T) {
	addr := mustAddress(t, "0001", "98765432")

	var calls int
	port := &fakePort{
		onWrite: func([]byte) []byte {
			calls++
			if calls == 1 {
				return nil // first poll: slave silent
			}
			return buildIn(false, addr, mustPayload(t, "PONG"))
		},
	}
	m := newTestMaster(t, port)

	r := Retrier{Master: m, Attempts: 3, Delay: time.Millisecond}
	got, err := r.TransactionOutIn(context.Background(), false, addr, mustPayload(t, "PING"), 50*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "PONG", got.String())
	assert.Equal(t, 2, calls)
}
