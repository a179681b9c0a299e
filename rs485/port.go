package rs485

import (
	"io"
	"time"

	"go.bug.st/serial"
)

// ftdiLatency is the FTDI latency-timer quantum: a read that returns no
// bytes consumed this much of the transaction timeout.
const ftdiLatency = 10 * time.Millisecond

// Port is the blocking serial link the master drives. Read must return
// (0, nil) when the read timeout elapses with no data, matching the FTDI
// driver behaviour.
type Port interface {
	io.ReadWriteCloser
	ResetInputBuffer() error
}

// Open opens a serial device configured for the bus (115200 baud, 7 data
// bits, even parity, 1 stop bit) with the read timeout pinned to the FTDI
// latency quantum.
func Open(path string) (Port, error) {
	mode := &serial.Mode{
		BaudRate: 115_200,
		DataBits: 7,
		Parity:   serial.EvenParity,
		StopBits: serial.OneStopBit,
	}
	p, err := serial.Open(path, mode)
	if err != nil {
		return nil, err
	}
	if err := p.SetReadTimeout(ftdiLatency); err != nil {
		_ = p.Close()
		return nil, err
	}
	return p, nil
}
