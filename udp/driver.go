package udp

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/michcald/rfphy"
)

// pollInterval is the pause between socket polls while Receive waits.
const pollInterval = time.Millisecond

// Driver is an rfphy.Driver that hands every frame to an external process
// instead of a transceiver. The process owns modulation, so configuration and
// mode changes are only recorded.
//
// The datagrams carry no metadata: received frames report RSSI and AFC 0, and
// Status mirrors the last frame that crossed the socket.
type Driver struct {
	mu     sync.Mutex
	sock   *Socket
	cfg    Config
	config rfphy.Config
	mode   rfphy.Mode
	status rfphy.Status
	rxBuf  []byte
	err    error
}

// New opens the forwarding socket and returns a driver ready to be registered.
func New(c Config) (*Driver, error) {
	c = c.withDefaults()
	sock := NewSocket(c)
	if err := sock.Init(); err != nil {
		return nil, fmt.Errorf("failed to open forwarding driver: %w", err)
	}
	return &Driver{
		sock:   sock,
		cfg:    c,
		status: rfphy.Status{GPIO1: 1},
		rxBuf:  make([]byte, c.MaxFrame),
	}, nil
}

func (d *Driver) String() string {
	return fmt.Sprintf("UDP(local=%s, host=%s:%d, maxFrame=%d)",
		d.sock.LocalAddr(), d.cfg.Host, d.cfg.Port, d.cfg.MaxFrame)
}

// recordErr keeps the latest fault for the registering code. Call with lock held.
func (d *Driver) recordErr(err error) {
	d.err = err
	d.cfg.Logger.Error(err.Error())
}

// Init reopens a shut down socket and discards datagrams queued before the call.
func (d *Driver) Init(bind bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.sock.LocalAddr() == nil {
		if err := d.sock.Init(); err != nil {
			d.recordErr(err)
			return
		}
	}

	dropped := 0
	for {
		n, err := d.sock.PollFrame(d.rxBuf)
		if err != nil && !errors.Is(err, ErrFrameSize) {
			d.recordErr(err)
			break
		}
		if n == 0 && err == nil {
			break
		}
		dropped++
	}
	d.cfg.Logger.Debug(fmt.Sprintf("forwarding driver initialized (bind=%v, dropped=%d)", bind, dropped))
}

// ApplyConfig records c. The external process is expected to follow the
// frames, not the configuration.
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

// Transmit forwards the frame payload as one datagram.
func (d *Driver) Transmit(f rfphy.Frame) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, err := d.sock.SendFrame(f.Payload, d.cfg.Blocking); err != nil {
		if !errors.Is(err, ErrWouldBlock) {
			d.recordErr(err)
		}
		return fmt.Errorf("%w: %w", rfphy.ErrPkg, err)
	}
	d.status.RSSI = f.RSSI
	d.status.AFC = f.AFC
	return nil
}

// Receive polls the socket until a frame arrives or timeout expires.
// Oversize datagrams and socket faults are recorded and end the wait.
func (d *Driver) Receive(timeout time.Duration) (rfphy.Frame, bool) {
	deadline := time.Now().Add(timeout)
	for {
		d.mu.Lock()
		n, err := d.sock.PollFrame(d.rxBuf)
		if err != nil {
			d.recordErr(err)
			d.mu.Unlock()
			return rfphy.Frame{}, false
		}
		if n > 0 {
			f := rfphy.Frame{Payload: append([]byte(nil), d.rxBuf[:n]...)}
			d.status.RSSI = 0
			d.status.AFC = 0
			d.mu.Unlock()
			return f, true
		}
		d.mu.Unlock()

		if timeout <= 0 || time.Now().After(deadline) {
			return rfphy.Frame{}, false
		}
		time.Sleep(pollInterval)
	}
}

// Status returns the metadata of the last forwarded or received frame.
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

// Err returns the most recent socket fault, or nil.
func (d *Driver) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.err
}

// LocalAddr returns the address the external process should send frames to.
func (d *Driver) LocalAddr() *net.UDPAddr {
	return d.sock.LocalAddr()
}

// Close shuts the socket down. Init reopens it.
func (d *Driver) Close() error {
	d.sock.Shutdown()
	return nil
}
