// Package uart forwards PHY frames over a serial line to a radio modem or a
// host tool.
//
// Every frame travels as the three byte marker "PKT", one length byte and the
// payload. The receiver resynchronises on the marker, so line noise costs at
// most the frames it overlaps.
package uart

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/michcald/rfphy"
)

var (
	ErrNoDevice = errors.New("serial device not configured")
)

var marker = []byte("PKT")

const headerSize = 4 // marker + length byte

// DefaultBaudRate is used when Config.BaudRate is zero.
const DefaultBaudRate = 115200

// Port is the part of a serial port the driver needs.
// go.bug.st/serial ports satisfy it.
type Port interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
	ResetInputBuffer() error
}

// Config holds the serial forwarding configuration.
type Config struct {
	// Device is the serial device path, e.g. "/dev/ttyUSB0". Required by New.
	Device string
	// BaudRate is the line speed.
	// Defaults to DefaultBaudRate if not provided.
	BaudRate int
	// MaxFrame is the largest payload accepted in either direction, at most 255.
	// Defaults to rfphy.MaxPacketLength if not provided.
	MaxFrame int
	// Logger receives driver events.
	// Defaults to rfphy.DefaultLogger() if not provided.
	Logger rfphy.Logger
}

func (c Config) withDefaults() Config {
	if c.BaudRate == 0 {
		c.BaudRate = DefaultBaudRate
	}
	if c.MaxFrame <= 0 {
		c.MaxFrame = rfphy.MaxPacketLength
	}
	if c.MaxFrame > 255 {
		c.MaxFrame = 255
	}
	if c.Logger == nil {
		c.Logger = rfphy.DefaultLogger()
	}
	return c
}

// Driver is an rfphy.Driver speaking the PKT framing over a serial port.
type Driver struct {
	mu      sync.Mutex
	port    Port
	cfg     Config
	config  rfphy.Config
	mode    rfphy.Mode
	status  rfphy.Status
	pending []byte
	chunk   []byte
	err     error
	dropped int
}

// New opens c.Device and returns a driver on top of it.
func New(c Config) (*Driver, error) {
	if c.Device == "" {
		return nil, ErrNoDevice
	}
	c = c.withDefaults()

	p, err := serial.Open(c.Device, &serial.Mode{BaudRate: c.BaudRate})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", c.Device, err)
	}
	c.Logger.Info(fmt.Sprintf("serial port %s opened at %d baud", c.Device, c.BaudRate))
	return NewWithPort(p, c), nil
}

// NewWithPort returns a driver on an already opened port.
func NewWithPort(p Port, c Config) *Driver {
	c = c.withDefaults()
	return &Driver{
		port:   p,
		cfg:    c,
		status: rfphy.Status{GPIO1: 1},
		chunk:  make([]byte, 256),
	}
}

func (d *Driver) String() string {
	return fmt.Sprintf("UART(device=%s, baud=%d, maxFrame=%d)", d.cfg.Device, d.cfg.BaudRate, d.cfg.MaxFrame)
}

// recordErr keeps the latest fault for the registering code. Call with lock held.
func (d *Driver) recordErr(err error) {
	d.err = err
	d.cfg.Logger.Error(err.Error())
}

// Init discards buffered input on both sides of the line.
func (d *Driver) Init(bind bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.pending = d.pending[:0]
	if err := d.port.ResetInputBuffer(); err != nil {
		d.recordErr(fmt.Errorf("failed to reset serial input: %w", err))
	}
	d.cfg.Logger.Debug(fmt.Sprintf("serial driver initialized (bind=%v)", bind))
}

// ApplyConfig records c.
func (d *Driver) ApplyConfig(c rfphy.Config) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.config = c
}

// SetMode records m.
func (d *Driver) SetMode(m rfphy.Mode) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.mode = m
}

// Transmit writes one framed payload.
func (d *Driver) Transmit(f rfphy.Frame) error {
	n := f.Len()
	if n == 0 {
		return fmt.Errorf("%w: %w", rfphy.ErrPkg, rfphy.ErrEmptyFrame)
	}
	if n > d.cfg.MaxFrame {
		return fmt.Errorf("%w: %w (%d bytes, limit is %d)", rfphy.ErrPkg, rfphy.ErrFrameTooLong, n, d.cfg.MaxFrame)
	}

	buf := make([]byte, 0, headerSize+n)
	buf = append(buf, marker...)
	buf = append(buf, byte(n))
	buf = append(buf, f.Payload...)

	d.mu.Lock()
	defer d.mu.Unlock()

	written, err := d.port.Write(buf)
	if err == nil && written < len(buf) {
		err = io.ErrShortWrite
	}
	if err != nil {
		err = fmt.Errorf("failed to write frame: %w", err)
		d.recordErr(err)
		return err
	}
	d.status.RSSI = f.RSSI
	d.status.AFC = f.AFC
	return nil
}

// Receive returns the next complete frame, reading from the port until one
// is decoded or timeout expires.
func (d *Driver) Receive(timeout time.Duration) (rfphy.Frame, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	deadline := time.Now().Add(timeout)
	for {
		if payload, ok := d.nextFrame(); ok {
			d.status.RSSI = 0
			d.status.AFC = 0
			return rfphy.Frame{Payload: payload}, true
		}

		wait := max(time.Until(deadline), 0)
		if err := d.port.SetReadTimeout(wait); err != nil {
			d.recordErr(fmt.Errorf("failed to set read timeout: %w", err))
			return rfphy.Frame{}, false
		}
		n, err := d.port.Read(d.chunk)
		if err != nil && !errors.Is(err, io.EOF) {
			d.recordErr(fmt.Errorf("failed to read serial port: %w", err))
			return rfphy.Frame{}, false
		}
		d.pending = append(d.pending, d.chunk[:n]...)

		if n == 0 && !time.Now().Before(deadline) {
			return rfphy.Frame{}, false
		}
	}
}

// nextFrame extracts one frame from the pending bytes. Garbage before a
// marker and frames with an invalid length are discarded.
func (d *Driver) nextFrame() ([]byte, bool) {
	for {
		i := bytes.Index(d.pending, marker)
		if i < 0 {
			// Keep a possible partial marker at the tail.
			if keep := len(marker) - 1; len(d.pending) > keep {
				d.discard(len(d.pending) - keep)
			}
			return nil, false
		}
		if i > 0 {
			d.discard(i)
		}
		if len(d.pending) < headerSize {
			return nil, false
		}

		size := int(d.pending[len(marker)])
		if size == 0 || size > d.cfg.MaxFrame {
			d.cfg.Logger.Warn(fmt.Sprintf("dropping frame with invalid length %d", size))
			d.discard(len(marker))
			continue
		}
		if len(d.pending) < headerSize+size {
			return nil, false
		}

		payload := append([]byte(nil), d.pending[headerSize:headerSize+size]...)
		d.pending = d.pending[headerSize+size:]
		return payload, true
	}
}

func (d *Driver) discard(n int) {
	d.dropped += n
	d.pending = d.pending[n:]
}

// Status returns the metadata of the last frame that crossed the line.
func (d *Driver) Status() rfphy.Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status
}

// Config returns the last configuration applied.
func (d *Driver) Config() rfphy.Config {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.config
}

// Dropped returns the number of bytes discarded while resynchronising.
func (d *Driver) Dropped() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dropped
}

// Err returns the most recent port fault, or nil.
func (d *Driver) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.err
}

// Close closes the serial port.
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.port.Close()
}
