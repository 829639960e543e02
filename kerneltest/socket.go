// Package kerneltest provides in-memory test doubles for the kernel
// collaborators this module depends on: the raw routing socket
// (rtsock.Socket) and the tunnel-device driver (vip.TunnelDriver). Both
// stand in for the real, OS-specific implementations the way
// collector_darwin.go stands in for collector_linux.go on a platform
// without the real mechanism -- except here the substitution is test-time
// only rather than build-tag-gated, since every test must run on any
// host regardless of which BSD variant it targets.
package kerneltest

import (
	"errors"
	"sync"
)

// ErrClosed is returned by Send/Recv once the socket has been closed.
var ErrClosed = errors.New("kerneltest: socket closed")

// FakeSocket is an in-memory rtsock.Socket: Send appends to a captured
// log, Recv delivers messages pushed via Inject in order, and Close
// unblocks any pending Recv.
type FakeSocket struct {
	pid int

	mu     sync.Mutex
	sent   [][]byte
	closed bool
	inbox  chan []byte
}

// NewFakeSocket returns a FakeSocket that reports pid to callers of Pid.
func NewFakeSocket(pid int) *FakeSocket {
	return &FakeSocket{pid: pid, inbox: make(chan []byte, 64)}
}

// Send records msg and reports the whole message as written.
func (f *FakeSocket) Send(msg []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return 0, ErrClosed
	}
	cp := append([]byte(nil), msg...)
	f.sent = append(f.sent, cp)
	return len(msg), nil
}

// Recv blocks until a message is injected or the socket is closed.
func (f *FakeSocket) Recv(buf []byte) (int, error) {
	msg, ok := <-f.inbox
	if !ok {
		return 0, ErrClosed
	}
	return copy(buf, msg), nil
}

// Pid returns the pid this socket was constructed with.
func (f *FakeSocket) Pid() int { return f.pid }

// Close unblocks any pending Recv and fails subsequent Sends.
func (f *FakeSocket) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	close(f.inbox)
	return nil
}

// Inject queues msg for a future Recv to deliver, as if it had just
// arrived from the kernel.
func (f *FakeSocket) Inject(msg []byte) { f.inbox <- msg }

// Sent returns a snapshot of every message Send has recorded so far.
func (f *FakeSocket) Sent() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.sent))
	copy(out, f.sent)
	return out
}
