// Package rfphy decouples a link-layer protocol stack from the radio that
// carries its frames.
//
// A radio implementation satisfies the Driver interface. Protocol code talks to
// a Radio, which keeps the desired configuration, forwards every call to the
// registered driver and buffers at most one received frame between polls.
// Without a registered driver a Radio runs on a built-in loopback stub, so
// protocol code can be exercised without hardware.
package rfphy

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrPkg          = errors.New("rfphy")
	ErrEmptyFrame   = errors.New("empty frame")
	ErrFrameTooLong = errors.New("frame exceeds driver payload limit")
	ErrHeaderIndex  = errors.New("header index out of range")
)

const (
	// MaxPacketLength is the largest payload exchanged between the MAC and the PHY.
	MaxPacketLength = 64
	// HeaderLength is the number of header bytes a radio matches on receive.
	HeaderLength = 4
)

// Mode is the operating mode requested from a driver.
type Mode uint8

const (
	// ModeStandby idles the radio with the oscillator running.
	ModeStandby Mode = iota
	// ModeReceive listens for frames.
	ModeReceive
	// ModeTransmit prepares the radio to send.
	ModeTransmit
)

func (m Mode) String() string {
	switch m {
	case ModeStandby:
		return "standby"
	case ModeReceive:
		return "receive"
	case ModeTransmit:
		return "transmit"
	default:
		return "unknown"
	}
}

// Frame is a payload moving through the PHY together with its signal metadata.
// RSSI and AFC are filled in on receive; on transmit they carry the last known
// status and drivers are free to ignore them.
type Frame struct {
	Payload []byte
	RSSI    int8
	AFC     int16
}

// Len returns the payload length.
func (f Frame) Len() int {
	return len(f.Payload)
}

// clone returns a frame with its own copy of the payload.
func (f Frame) clone() Frame {
	out := f
	out.Payload = append([]byte(nil), f.Payload...)
	return out
}

// Status is the driver's latest view of the channel.
type Status struct {
	// RSSI is the received signal strength.
	RSSI int8
	// AFC is the automatic frequency control offset.
	AFC int16
	// GPIO1 is the level of the radio's general purpose input pin.
	GPIO1 uint8
}

// RegValue is a single modem register assignment.
type RegValue struct {
	Addr  byte
	Value byte
}

// ModemRegs is a modem parameter block. The facade treats it as an opaque
// reference; drivers interpret whatever part of it applies to their chip.
type ModemRegs struct {
	// BitRate is the air data rate in bits per second.
	BitRate uint32
	// Registers are chip specific register writes applied after the generic parameters.
	Registers []RegValue
}

// Config holds the radio's desired operating parameters.
type Config struct {
	// Frequency is the base carrier frequency in Hz.
	Frequency uint32
	// Channel is the channel index added to the base frequency.
	Channel uint8
	// Power is the transmit power level, 0 being the lowest.
	Power uint8
	// StepSize is the channel spacing in units of 10 kHz.
	StepSize uint8
	// Headers are the header bytes sent with and matched on every frame.
	Headers [HeaderLength]byte
	// DirectOutput enables raw, unframed output on the radio.
	DirectOutput bool
	// Modem references the modem parameter block, nil for driver defaults.
	Modem *ModemRegs
}

func (c Config) String() string {
	return fmt.Sprintf("Config(Frequency=%d, Channel=%d, Power=%d, StepSize=%d, Headers=% X, DirectOutput=%v)",
		c.Frequency, c.Channel, c.Power, c.StepSize, c.Headers[:], c.DirectOutput)
}

// Driver is the capability set every radio implementation provides.
// All methods are synchronous. Timeouts and cancellation inside a driver are
// its own business; the only knob exposed is the receive timeout.
type Driver interface {
	// Init prepares the radio. bind selects the binding profile.
	Init(bind bool)
	// ApplyConfig programs the complete configuration into the radio.
	ApplyConfig(c Config)
	// SetMode switches the operating mode. Drivers ignore modes they cannot honour.
	SetMode(m Mode)
	// Transmit sends one frame. A nil error means the frame left the radio.
	Transmit(f Frame) error
	// Receive returns a pending frame, waiting up to timeout. A zero timeout
	// polls without blocking. The bool reports whether a frame was returned.
	Receive(timeout time.Duration) (Frame, bool)
	// Status reports the current signal readings.
	Status() Status
}
