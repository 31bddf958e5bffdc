//go:build unix

package udp

import (
	"errors"
	"fmt"
	"net"
	"os"

	"golang.org/x/sys/unix"
)

// recvNonBlocking reads one datagram with MSG_DONTWAIT so an empty queue
// returns immediately instead of parking the caller in the netpoller.
func recvNonBlocking(c *net.UDPConn, p []byte) (int, error) {
	rc, err := c.SyscallConn()
	if err != nil {
		return 0, err
	}

	var (
		n     int
		opErr error
	)
	err = rc.Read(func(fd uintptr) bool {
		n, _, opErr = unix.Recvfrom(int(fd), p, unix.MSG_DONTWAIT)
		return true
	})
	if err != nil {
		return 0, err
	}
	if errors.Is(opErr, unix.EAGAIN) || errors.Is(opErr, unix.EWOULDBLOCK) {
		return 0, ErrWouldBlock
	}
	if opErr != nil {
		return 0, os.NewSyscallError("recvfrom", opErr)
	}
	return n, nil
}

func sendNonBlocking(c *net.UDPConn, p []byte, to *net.UDPAddr) (int, error) {
	ip4 := to.IP.To4()
	if ip4 == nil {
		return 0, fmt.Errorf("%w: %s is not an IPv4 address", ErrInvalidArgument, to)
	}
	sa := &unix.SockaddrInet4{Port: to.Port}
	copy(sa.Addr[:], ip4)

	rc, err := c.SyscallConn()
	if err != nil {
		return 0, err
	}

	var opErr error
	err = rc.Write(func(fd uintptr) bool {
		opErr = unix.Sendto(int(fd), p, unix.MSG_DONTWAIT, sa)
		return true
	})
	if err != nil {
		return 0, err
	}
	if errors.Is(opErr, unix.EAGAIN) || errors.Is(opErr, unix.EWOULDBLOCK) {
		return 0, ErrWouldBlock
	}
	if opErr != nil {
		return 0, os.NewSyscallError("sendto", opErr)
	}
	return len(p), nil
}
