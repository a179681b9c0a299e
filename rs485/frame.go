// Package rs485 implements the controller's custom RS-485 bus protocol: the
// ASCII frame envelope with CRC-16/MODBUS, device discovery, and the master
// runtime that serialises transactions on a dedicated OS thread.
package rs485

import (
	"fmt"
	"strconv"

	"github.com/sigurn/crc16"

	"homectl-go/errcode"
)

const (
	charBegin byte = 0x0A
	charEnd   byte = 0x0D

	dirNormalOut  byte = '>'
	dirNormalIn   byte = '<'
	dirServiceOut byte = '}'
	dirServiceIn  byte = '{'

	// DiscoveryRequest is the single broadcast byte; the response is the bare
	// 12-byte address, no envelope.
	DiscoveryRequest        byte = 0x07
	DiscoveryResponseLength      = DeviceTypeLength + SerialLength
)

var crcTable = crc16.MakeTable(crc16.CRC16_MODBUS)

// -----------------------------------------------------------------------------
// Addresses
// -----------------------------------------------------------------------------

const (
	DeviceTypeLength = 4
	SerialLength     = 8
)

// DeviceType is the 4-digit device-type code, 0001–9999.
type DeviceType [DeviceTypeLength]byte

func NewDeviceType(s string) (DeviceType, error) {
	var dt DeviceType
	if err := fillDigits(dt[:], s, "device type"); err != nil {
		return DeviceType{}, err
	}
	copy(dt[:], s)
	return dt, nil
}

// DeviceTypeFromOrdinal renders an integer 1–9999 as a zero-padded code.
func DeviceTypeFromOrdinal(n int) (DeviceType, error) {
	if n < 1 || n > 9999 {
		return DeviceType{}, &errcode.E{C: errcode.FrameBadAddress, Msg: fmt.Sprintf("device type %d out of range", n)}
	}
	return NewDeviceType(fmt.Sprintf("%04d", n))
}

func (dt DeviceType) String() string { return string(dt[:]) }

// Serial is the 8-digit serial number, 00000001–99999999.
type Serial [SerialLength]byte

func NewSerial(s string) (Serial, error) {
	var sn Serial
	if err := fillDigits(sn[:], s, "serial"); err != nil {
		return Serial{}, err
	}
	copy(sn[:], s)
	return sn, nil
}

// SerialFromOrdinal renders an integer 1–99999999 as a zero-padded serial.
func SerialFromOrdinal(n int) (Serial, error) {
	if n < 1 || n > 99_999_999 {
		return Serial{}, &errcode.E{C: errcode.FrameBadAddress, Msg: fmt.Sprintf("serial %d out of range", n)}
	}
	return NewSerial(fmt.Sprintf("%08d", n))
}

func (s Serial) String() string { return string(s[:]) }

func fillDigits(dst []byte, s string, what string) error {
	if len(s) != len(dst) {
		return &errcode.E{C: errcode.FrameBadAddress, Msg: fmt.Sprintf("%s %q: want %d digits", what, s, len(dst))}
	}
	allZero := true
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return &errcode.E{C: errcode.FrameBadAddress, Msg: fmt.Sprintf("%s %q: non-digit character", what, s)}
		}
		if s[i] != '0' {
			allZero = false
		}
	}
	if allZero {
		return &errcode.E{C: errcode.FrameBadAddress, Msg: fmt.Sprintf("%s must not be all zeros", what)}
	}
	return nil
}

// Address names one bus slave: device type plus serial.
type Address struct {
	Type   DeviceType
	Serial Serial
}

func NewAddress(deviceType, serial string) (Address, error) {
	dt, err := NewDeviceType(deviceType)
	if err != nil {
		return Address{}, err
	}
	sn, err := NewSerial(serial)
	if err != nil {
		return Address{}, err
	}
	return Address{Type: dt, Serial: sn}, nil
}

func (a Address) String() string { return a.Type.String() + "/" + a.Serial.String() }

// -----------------------------------------------------------------------------
// Payload
// -----------------------------------------------------------------------------

// Payload is a device-specific sequence of ASCII-graphic bytes (0x21–0x7E).
type Payload []byte

func NewPayload(data []byte) (Payload, error) {
	for _, b := range data {
		if b < 0x21 || b > 0x7E {
			return nil, &errcode.E{C: errcode.FrameBadPayload, Msg: fmt.Sprintf("non-graphic byte 0x%02X", b)}
		}
	}
	return Payload(data), nil
}

func (p Payload) String() string { return string(p) }

// -----------------------------------------------------------------------------
// Frame build / parse
// -----------------------------------------------------------------------------

const frameMinLength = 1 + 1 + DeviceTypeLength + SerialLength + 4 + 1

// BuildOut renders an outgoing frame:
// <BEGIN> <DIR> <DEV4> <SER8> <CRC4> <PAYLOAD*> <END>
// with the CRC-16/MODBUS of DIR‖DEV4‖SER8‖PAYLOAD as 4 uppercase hex chars.
func BuildOut(serviceMode bool, addr Address, payload Payload) []byte {
	dir := dirNormalOut
	if serviceMode {
		dir = dirServiceOut
	}

	frame := make([]byte, 0, frameMinLength+len(payload))
	frame = append(frame, charBegin, dir)
	frame = append(frame, addr.Type[:]...)
	frame = append(frame, addr.Serial[:]...)

	sum := crc16.Init(crcTable)
	sum = crc16.Update(sum, frame[1:], crcTable)
	sum = crc16.Update(sum, payload, crcTable)
	sum = crc16.Complete(sum, crcTable)
	frame = append(frame, fmt.Sprintf("%04X", sum)...)

	frame = append(frame, payload...)
	frame = append(frame, charEnd)
	return frame
}

// ParseIn validates and decomposes an incoming frame against the channel
// mode. Any mismatch yields a single frame-rejected error classified by the
// first failing rule.
func ParseIn(frame []byte, serviceMode bool) (Address, Payload, error) {
	if len(frame) < frameMinLength {
		return Address{}, nil, &errcode.E{C: errcode.FrameTooShort, Msg: fmt.Sprintf("%d bytes", len(frame))}
	}
	if frame[0] != charBegin {
		return Address{}, nil, &errcode.E{C: errcode.FrameBadBegin, Msg: fmt.Sprintf("0x%02X", frame[0])}
	}
	if frame[len(frame)-1] != charEnd {
		return Address{}, nil, &errcode.E{C: errcode.FrameBadEnd, Msg: fmt.Sprintf("0x%02X", frame[len(frame)-1])}
	}

	wantDir := dirNormalIn
	if serviceMode {
		wantDir = dirServiceIn
	}
	if frame[1] != wantDir {
		return Address{}, nil, &errcode.E{C: errcode.FrameBadDirection, Msg: fmt.Sprintf("got %q, want %q", frame[1], wantDir)}
	}

	addr, err := NewAddress(
		string(frame[2:2+DeviceTypeLength]),
		string(frame[2+DeviceTypeLength:2+DeviceTypeLength+SerialLength]),
	)
	if err != nil {
		return Address{}, nil, err
	}

	crcOffset := 2 + DeviceTypeLength + SerialLength
	crcHex := frame[crcOffset : crcOffset+4]
	for _, b := range crcHex {
		if !(b >= '0' && b <= '9' || b >= 'A' && b <= 'F') {
			return Address{}, nil, &errcode.E{C: errcode.FrameBadCRCChars, Msg: fmt.Sprintf("%q", crcHex)}
		}
	}
	received, err := strconv.ParseUint(string(crcHex), 16, 16)
	if err != nil {
		return Address{}, nil, &errcode.E{C: errcode.FrameBadCRCChars, Msg: err.Error()}
	}

	payload, err := NewPayload(frame[crcOffset+4 : len(frame)-1])
	if err != nil {
		return Address{}, nil, err
	}

	sum := crc16.Init(crcTable)
	sum = crc16.Update(sum, frame[1:crcOffset], crcTable)
	sum = crc16.Update(sum, payload, crcTable)
	sum = crc16.Complete(sum, crcTable)
	if uint16(received) != sum {
		return Address{}, nil, &errcode.E{
			C:   errcode.FrameCRCMismatch,
			Msg: fmt.Sprintf("expected %04X, received %04X", sum, received),
		}
	}

	return addr, payload, nil
}

// ParseDiscoveryResponse decomposes the bare 12-byte <DEV4><SER8> response.
func ParseDiscoveryResponse(data []byte) (Address, error) {
	if len(data) != DiscoveryResponseLength {
		return Address{}, &errcode.E{C: errcode.FrameTooShort, Msg: fmt.Sprintf("discovery response: %d bytes", len(data))}
	}
	return NewAddress(string(data[:DeviceTypeLength]), string(data[DeviceTypeLength:]))
}
