// Package udp forwards PHY frames as raw UDP datagrams to an external process
// such as an SDR flow graph or a radio simulator.
//
// Each datagram carries exactly one frame payload with no envelope. Frames
// larger than the configured maximum are rejected on send and reported as size
// errors on receive.
package udp

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/michcald/rfphy"
)

var (
	ErrFrameSize       = errors.New("frame size out of range")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNotOpen         = errors.New("socket not open")
	ErrWouldBlock      = errors.New("operation would block")
)

const (
	// DefaultPort is the host port frames are forwarded to.
	DefaultPort = 46000
	// DefaultMaxFrame is the largest frame forwarded by default.
	DefaultMaxFrame = 21
)

// Config holds the forwarding socket configuration.
type Config struct {
	// Host is the address of the external process.
	// Defaults to "127.0.0.1" if not provided.
	Host string
	// Port is the UDP port of the external process.
	// Defaults to DefaultPort if not provided.
	Port int
	// LocalAddr is the address the socket binds to.
	// Defaults to "127.0.0.1" if not provided.
	LocalAddr string
	// LocalPort is the port the socket binds to. 0 picks an ephemeral port.
	LocalPort int
	// MaxFrame is the largest frame in bytes accepted in either direction.
	// Defaults to DefaultMaxFrame if not provided.
	MaxFrame int
	// Blocking makes the driver wait for the kernel to accept each frame.
	// Defaults to false: a frame the kernel cannot take immediately is dropped.
	Blocking bool
	// Logger receives socket and driver events.
	// Defaults to rfphy.DefaultLogger() if not provided.
	Logger rfphy.Logger
}

func (c Config) withDefaults() Config {
	if c.Host == "" {
		c.Host = "127.0.0.1"
	}
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.LocalAddr == "" {
		c.LocalAddr = "127.0.0.1"
	}
	if c.MaxFrame <= 0 {
		c.MaxFrame = DefaultMaxFrame
	}
	if c.Logger == nil {
		c.Logger = rfphy.DefaultLogger()
	}
	return c
}

// Socket is the non-blocking datagram endpoint behind the forwarding driver.
type Socket struct {
	mu   sync.Mutex
	cfg  Config
	conn *net.UDPConn
	host *net.UDPAddr
	// rbuf is one byte larger than MaxFrame so oversize datagrams are detectable.
	rbuf []byte
}

// NewSocket returns a closed socket. Call Init before use.
func NewSocket(c Config) *Socket {
	c = c.withDefaults()
	return &Socket{
		cfg:  c,
		rbuf: make([]byte, c.MaxFrame+1),
	}
}

// Init opens the socket, closing a previously opened one first.
func (s *Socket) Init() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closeLocked()

	host, err := net.ResolveUDPAddr("udp4", net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port)))
	if err != nil {
		return fmt.Errorf("failed to resolve host %s: %w", s.cfg.Host, err)
	}

	local := &net.UDPAddr{IP: net.ParseIP(s.cfg.LocalAddr), Port: s.cfg.LocalPort}
	if local.IP == nil {
		return fmt.Errorf("%w: local address %q", ErrInvalidArgument, s.cfg.LocalAddr)
	}

	conn, err := net.ListenUDP("udp4", local)
	if err != nil {
		return fmt.Errorf("failed to bind forwarding socket: %w", err)
	}

	s.conn = conn
	s.host = host
	s.cfg.Logger.Info(fmt.Sprintf("forwarding socket bound to %s, host %s", conn.LocalAddr(), host))
	return nil
}

// SendFrame sends frame to the host. Without blocking it never waits and
// returns ErrWouldBlock when the kernel cannot take the datagram right away.
// It returns the number of bytes sent.
func (s *Socket) SendFrame(frame []byte, blocking bool) (int, error) {
	if len(frame) == 0 || len(frame) > s.cfg.MaxFrame {
		return 0, fmt.Errorf("%w: %d bytes, limit is %d", ErrFrameSize, len(frame), s.cfg.MaxFrame)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return 0, ErrNotOpen
	}

	if blocking {
		n, err := s.conn.WriteToUDP(frame, s.host)
		if err != nil {
			return n, fmt.Errorf("failed to send frame: %w", err)
		}
		return n, nil
	}

	n, err := sendNonBlocking(s.conn, frame, s.host)
	if err != nil {
		if errors.Is(err, ErrWouldBlock) {
			return 0, err
		}
		return 0, fmt.Errorf("failed to send frame: %w", err)
	}
	return n, nil
}

// PollFrame copies one pending datagram into buf without blocking.
// It returns 0 and a nil error when nothing is available, so "no data" is
// never confused with an I/O fault. A datagram larger than MaxFrame is
// consumed and reported as ErrFrameSize.
func (s *Socket) PollFrame(buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, fmt.Errorf("%w: empty buffer", ErrInvalidArgument)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return 0, ErrNotOpen
	}

	n, err := recvNonBlocking(s.conn, s.rbuf)
	if err != nil {
		if errors.Is(err, ErrWouldBlock) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to poll frame: %w", err)
	}
	if n > s.cfg.MaxFrame {
		return 0, fmt.Errorf("%w: datagram exceeds %d bytes", ErrFrameSize, s.cfg.MaxFrame)
	}

	return copy(buf, s.rbuf[:n]), nil
}

// Shutdown closes the socket. It is safe to call more than once.
func (s *Socket) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()
}

func (s *Socket) closeLocked() {
	if s.conn == nil {
		return
	}
	if err := s.conn.Close(); err != nil {
		s.cfg.Logger.Warn("failed to close forwarding socket: " + err.Error())
	}
	s.conn = nil
	s.cfg.Logger.Info("forwarding socket closed")
}

// LocalAddr returns the bound address, or nil when the socket is closed.
func (s *Socket) LocalAddr() *net.UDPAddr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr().(*net.UDPAddr)
}

// MaxFrame returns the frame size limit in bytes.
func (s *Socket) MaxFrame() int {
	return s.cfg.MaxFrame
}
