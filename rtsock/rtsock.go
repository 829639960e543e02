//go:build darwin || freebsd || netbsd || openbsd || dragonfly

// Package rtsock owns the raw AF_ROUTE socket that every other component in
// this module shares: the event receiver reads from it, the broker sends
// GET requests on it, and the route programmer sends ADD/DELETE on it.
// Grounded on the teacher's netlink
// package (which plays the analogous role for a NETLINK_INET_DIAG socket)
// and collector/socket-monitor.go's open/send/receive sequence.
package rtsock

import (
	"golang.org/x/sys/unix"
)

// Socket is the seam every socket-using component depends on, so tests can
// substitute kerneltest.FakeSocket instead of opening a real kernel socket.
type Socket interface {
	// Send writes a whole routing message. Returns the number of bytes
	// written.
	Send(msg []byte) (int, error)
	// Recv reads one message into buf, returning the number of bytes read.
	Recv(buf []byte) (int, error)
	// Pid returns the process id the kernel will echo back in replies to
	// our requests.
	Pid() int
	// Close releases the underlying file descriptor. A blocked Recv
	// returns an error once Close runs concurrently with it.
	Close() error
}

// rawSocket is the real AF_ROUTE/SOCK_RAW implementation.
type rawSocket struct {
	fd  int
	pid int
}

// Open creates a new raw routing socket.
func Open() (Socket, error) {
	fd, err := unix.Socket(unix.AF_ROUTE, unix.SOCK_RAW, unix.AF_UNSPEC)
	if err != nil {
		return nil, err
	}
	return &rawSocket{fd: fd, pid: unix.Getpid()}, nil
}

func (s *rawSocket) Send(msg []byte) (int, error) {
	return unix.Write(s.fd, msg)
}

func (s *rawSocket) Recv(buf []byte) (int, error) {
	return unix.Read(s.fd, buf)
}

func (s *rawSocket) Pid() int { return s.pid }

func (s *rawSocket) Close() error {
	return unix.Close(s.fd)
}
