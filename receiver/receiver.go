//go:build darwin || freebsd || netbsd || openbsd || dragonfly

// Package receiver runs the dedicated background goroutine that reads
// the raw routing socket, dispatches each message to the interface
// cache or the route-request broker, and arms roaming notifications.
// The read-dispatch-backoff loop shape is grounded on collector.Run's
// ticker loop, generalized from a fixed-interval poll to a blocking read
// with its own error-driven backoff, and the per-message validate step
// is grounded on inetdiag/socket-monitor.go's processSingleMessage.
package receiver

import (
	"errors"
	"net/netip"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/hostnetstate/kernelnet/broker"
	"github.com/hostnetstate/kernelnet/ifcache"
	"github.com/hostnetstate/kernelnet/klog"
	"github.com/hostnetstate/kernelnet/metrics"
	"github.com/hostnetstate/kernelnet/roam"
	"github.com/hostnetstate/kernelnet/rtmsg"
	"github.com/hostnetstate/kernelnet/rtsock"

	"github.com/prometheus/client_golang/prometheus"
)

// bufSize is sized generously for a fixed header plus RTAX_MAX maximum
// sockaddr_in6-sized entries.
const bufSize = 2048

// backoff is how long the loop sleeps after an unexpected read error
// before retrying.
const backoff = 1 * time.Second

// Receiver reads rtsock.Socket in a dedicated goroutine until Stop is
// called.
type Receiver struct {
	sock   rtsock.Socket
	cache  *ifcache.Cache
	broker *broker.Broker
	roamer *roam.Debouncer
	log    klog.Logger

	usable       func(name string) bool
	addrsForName func(name string) []netip.Addr
	resolveName  func(index int) (string, bool)

	stopping atomic.Bool
	done     chan struct{}
}

// New returns a Receiver. usable decides interface usability by name;
// addrsForName performs a fresh OS address enumeration for one
// interface (used on link-state repopulation); resolveName resolves an
// unknown interface index to a name (used when IFINFO names an
// interface the cache has not seen yet).
func New(sock rtsock.Socket, cache *ifcache.Cache, br *broker.Broker, roamer *roam.Debouncer, log klog.Logger,
	usable func(string) bool, addrsForName func(string) []netip.Addr, resolveName func(int) (string, bool)) *Receiver {
	return &Receiver{
		sock: sock, cache: cache, broker: br, roamer: roamer, log: log,
		usable: usable, addrsForName: addrsForName, resolveName: resolveName,
		done: make(chan struct{}),
	}
}

// Start launches the background read loop.
func (r *Receiver) Start() { go r.run() }

// Stop unblocks the background read -- Go has no POSIX cancellation-point
// model for a blocking read, so Stop closes the shared socket instead,
// after first raising the stopping flag so the resulting read error is
// treated as a clean shutdown rather than the transient-I/O backoff path.
func (r *Receiver) Stop() {
	r.stopping.Store(true)
	r.sock.Close()
	<-r.done
}

func (r *Receiver) run() {
	defer close(r.done)
	buf := make([]byte, bufSize)
	for {
		n, err := r.sock.Recv(buf)
		if err != nil {
			if r.stopping.Load() {
				return
			}
			if errors.Is(err, unix.EINTR) || errors.Is(err, unix.EAGAIN) {
				continue
			}
			r.log.Log(klog.Warn, "receiver", "read error: %v", err)
			time.Sleep(backoff)
			continue
		}
		r.handle(buf[:n])
	}
}

func (r *Receiver) handle(msg []byte) {
	if len(msg) < rtmsg.SizeofAnyHeader {
		return
	}
	any, err := rtmsg.RawAnyHeader(msg[:rtmsg.SizeofAnyHeader]).Parse()
	if err != nil || int(any.Msglen) > len(msg) {
		metrics.CodecDropCount.With(prometheus.Labels{"reason": "malformed_header"}).Inc()
		r.log.Log(klog.Debug, "receiver", "dropping malformed message (len %d)", len(msg))
		return
	}
	if any.Version != rtmsg.Version {
		metrics.CodecDropCount.With(prometheus.Labels{"reason": "version_mismatch"}).Inc()
		r.log.Log(klog.Warn, "receiver", "dropping message with wrong version %d", any.Version)
		return
	}
	hdrLen := rtmsg.SizeofAnyHeader
	switch rtmsg.Type(any.Type) {
	case rtmsg.TypeNewAddr, rtmsg.TypeDelAddr:
		hdrLen = rtmsg.SizeofIfaHeader
	case rtmsg.TypeIfInfo:
		hdrLen = rtmsg.SizeofIfHeader
	case rtmsg.TypeAdd, rtmsg.TypeDelete, rtmsg.TypeGet:
		hdrLen = rtmsg.SizeofRouteHeader
	}
	if int(any.Msglen) < hdrLen {
		metrics.CodecDropCount.With(prometheus.Labels{"reason": "short_msglen"}).Inc()
		r.log.Log(klog.Debug, "receiver", "dropping message type %d: %v", any.Type, rtmsg.ErrBadLength)
		return
	}

	switch rtmsg.Type(any.Type) {
	case rtmsg.TypeNewAddr:
		r.handleAddrChange(msg, false)
		r.broker.Broadcast()
	case rtmsg.TypeDelAddr:
		r.handleAddrChange(msg, true)
		r.broker.Broadcast()
	case rtmsg.TypeIfInfo:
		r.handleLinkChange(msg)
		r.broker.Broadcast()
	case rtmsg.TypeAdd, rtmsg.TypeDelete, rtmsg.TypeGet:
		r.forwardToBroker(msg)
	}

	ifaces, addrs := r.cache.Stats()
	metrics.CacheInterfaceGauge.Set(float64(ifaces))
	metrics.CacheAddressGauge.Set(float64(addrs))
}

// forwardToBroker parses msg as a route message (the only kind carrying
// pid/seq) and hands it to the broker, regardless of whether it turns
// out to match the currently in-flight request -- the broker itself
// decides relevance under its own lock.
func (r *Receiver) forwardToBroker(msg []byte) {
	if len(msg) < rtmsg.SizeofRouteHeader {
		return
	}
	hdr, err := rtmsg.RawRouteHeader(msg[:rtmsg.SizeofRouteHeader]).Parse()
	if err != nil {
		return
	}
	r.broker.Deliver(hdr.Pid, hdr.Seq, rtmsg.Flags(hdr.Flags), hdr.Addrs, msg[rtmsg.SizeofRouteHeader:])
}

func (r *Receiver) handleAddrChange(msg []byte, isDelete bool) {
	if len(msg) < rtmsg.SizeofIfaHeader {
		return
	}
	hdr, err := rtmsg.RawIfaHeader(msg[:rtmsg.SizeofIfaHeader]).Parse()
	if err != nil {
		return
	}
	var ifa netip.Addr
	found := false
	for role, sa := range rtmsg.Decode(hdr.Addrs, msg[rtmsg.SizeofIfaHeader:]) {
		if role == rtmsg.RoleIfa {
			if addr, ok := sa.Addr(); ok {
				ifa, found = addr, true
			}
			break
		}
	}
	if !found {
		return
	}
	res := r.cache.ApplyAddrEvent(int(hdr.Index), ifa, isDelete)
	if res.Found && res.Changed && res.UsableAndUp {
		r.roamer.Fire(true)
	}
}

func (r *Receiver) handleLinkChange(msg []byte) {
	if len(msg) < rtmsg.SizeofIfHeader {
		return
	}
	hdr, err := rtmsg.RawIfHeader(msg[:rtmsg.SizeofIfHeader]).Parse()
	if err != nil {
		return
	}
	index := int(hdr.Index)
	res := r.cache.ApplyLinkEvent(index, uint32(hdr.Flags),
		func() (string, bool) { return r.resolveName(index) },
		r.usable,
		r.addrsForName,
	)
	if res.WasFound && res.Iface.Usable && (res.TransitionedUp || res.TransitionedDown) {
		r.roamer.Fire(false)
	}
}
