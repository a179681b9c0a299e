package relay14

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sigurn/crc16"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"homectl-go/signal"

	"homectl-go/rs485"
)

// fakeSlave acks every well-formed request with an empty-payload frame.
type fakeSlave struct {
	mu      sync.Mutex
	written []byte
	pending []byte
	addr    rs485.Address
}

func (f *fakeSlave) Read(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.pending) == 0 {
		return 0, nil
	}
	n := copy(p, f.pending)
	f.pending = f.pending[n:]
	return n, nil
}

func (f *fakeSlave) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written = append(f.written, p...)
	f.pending = append(f.pending, ackFrame(f.addr)...)
	return len(p), nil
}

func (f *fakeSlave) ResetInputBuffer() error { return nil }
func (f *fakeSlave) Close() error            { return nil }

func (f *fakeSlave) writtenString() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return string(f.written)
}

// ackFrame renders the slave's empty-payload response.
func ackFrame(addr rs485.Address) []byte {
	table := crc16.MakeTable(crc16.CRC16_MODBUS)
	body := append([]byte{'<'}, addr.Type[:]...)
	body = append(body, addr.Serial[:]...)
	sum := crc16.Checksum(body, table)
	frame := append([]byte{0x0A}, body...)
	frame = append(frame, fmt.Sprintf("%04X", sum)...)
	frame = append(frame, 0x0D)
	return frame
}

func startRelay(t *testing.T) (*Device, *fakeSlave) {
	t.Helper()
	addr, err := rs485.NewAddress("0007", "00000123")
	require.NoError(t, err)

	port := &fakeSlave{addr: addr}
	master := rs485.NewMaster("test", port)
	t.Cleanup(func() { _ = master.Close() })

	d := New(master, addr, 50*time.Millisecond)
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
			t.Error("relay device did not stop")
		}
	})
	return d, port
}

func TestInitialPollPushesFullImage(t *testing.T) {
	d, port := startRelay(t)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if strings.Contains(port.writtenString(), "H0000") {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	assert.Contains(t, port.writtenString(), "H0000")

	deadline = time.Now().Add(time.Second)
	for time.Now().Before(deadline) && !d.Healthy() {
		time.Sleep(5 * time.Millisecond)
	}
	assert.True(t, d.Healthy())
}

func TestOutputChangeIsForwardedAsMask(t *testing.T) {
	d, port := startRelay(t)

	// Relay 0 and relay 3 on, delivered the way the exchanger would.
	d.outputs[0].Set([]signal.Opt{signal.Some(true)})
	d.outputs[3].Set([]signal.Opt{signal.Some(true)})
	d.targets.Wake()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if strings.Contains(port.writtenString(), "H0009") {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected mask H0009 on the wire, got %q", port.writtenString())
}

func TestAbsentValueDeenergises(t *testing.T) {
	d, port := startRelay(t)

	d.outputs[1].Set([]signal.Opt{signal.Some(true)})
	d.targets.Wake()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && !strings.Contains(port.writtenString(), "H0002") {
		time.Sleep(5 * time.Millisecond)
	}
	require.Contains(t, port.writtenString(), "H0002")

	// Source disappears: absent value must drop the relay.
	after := strings.Index(port.writtenString(), "H0002") + len("H0002")
	d.outputs[1].Set(nil)
	d.targets.Wake()
	deadline = time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if strings.Contains(port.writtenString()[after:], "H0000") {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected mask H0000 after absent value, got %q", port.writtenString())
}

func TestResetDropsEndpoints(t *testing.T) {
	addr, err := rs485.NewAddress("0007", "00000123")
	require.NoError(t, err)
	port := &fakeSlave{addr: addr}
	master := rs485.NewMaster("test", port)
	defer master.Close()

	d := New(master, addr, time.Second)
	d.outputs[2].Set([]signal.Opt{signal.Some(true)})
	d.Reset()

	if _, present, pending := d.outputs[2].PeekLast(); present || pending {
		t.Fatal("reset must revert targets to construction default")
	}
	assert.False(t, d.Healthy())
}
