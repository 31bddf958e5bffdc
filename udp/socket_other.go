//go:build !unix

package udp

import (
	"errors"
	"net"
	"os"
	"time"
)

// pollWindow bounds how long a non-blocking call may wait on platforms
// without MSG_DONTWAIT. A deadline already in the past fails before the
// socket is even read, so the window must be positive.
const pollWindow = 100 * time.Microsecond

func recvNonBlocking(c *net.UDPConn, p []byte) (int, error) {
	if err := c.SetReadDeadline(time.Now().Add(pollWindow)); err != nil {
		return 0, err
	}
	n, _, err := c.ReadFromUDP(p)
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return 0, ErrWouldBlock
	}
	return n, err
}

func sendNonBlocking(c *net.UDPConn, p []byte, to *net.UDPAddr) (int, error) {
	if err := c.SetWriteDeadline(time.Now().Add(pollWindow)); err != nil {
		return 0, err
	}
	defer c.SetWriteDeadline(time.Time{})

	n, err := c.WriteToUDP(p, to)
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return 0, ErrWouldBlock
	}
	return n, err
}
