//go:build darwin || freebsd || netbsd || openbsd || dragonfly

// Package broker serializes synchronous route lookups over the one
// shared routing socket, correlating requests and kernel replies by
// sequence number, and doubles as the monitor the virtual-IP manager
// waits on for cache-visibility events -- the distilled spec's "broker
// mutex" is one lock guarding waiting_seq/reply and backing the single
// condition variable broadcast by the receiver on every processed
// message, whether it is a route reply or not.
//
// The sequence/pid correlation loop is grounded on
// inetdiag/socket-monitor.go's processSingleMessage, generalized from
// netlink's seq/pid-per-dump-request model to a single-slot, one-query-
// at-a-time gate matching a routing socket's fundamentally serial nature.
package broker

import (
	"context"
	"net/netip"
	"sync"
	"time"

	"github.com/hostnetstate/kernelnet/klog"
	"github.com/hostnetstate/kernelnet/metrics"
	"github.com/hostnetstate/kernelnet/rtmsg"
	"github.com/hostnetstate/kernelnet/rtsock"
)

// DefaultTimeout is the per-attempt timed-wait budget used both while
// waiting for a route reply and while the virtual-IP manager waits on a
// cache-visibility predicate. Go's sync.Cond has no timed wait, so a
// time.AfterFunc registered before each Wait plays that role, exactly as
// DESIGN.md's "Open Question" resolution records.
const DefaultTimeout = 1 * time.Second

// Broker owns the single in-flight sequence-number slot and the
// condition variable used both for route-reply correlation and for
// signalling cache-visibility waiters (the virtual-IP manager).
type Broker struct {
	sock    rtsock.Socket
	log     klog.Logger
	timeout time.Duration

	mu         sync.Mutex
	cond       *sync.Cond
	seq        int32
	waitingSeq int32
	haveReply  bool
	replySeq   int32
	replyFlags rtmsg.Flags
	replyAddrs int32
	replyTail  []byte
}

// New returns a Broker issuing requests on sock, using DefaultTimeout as
// its per-attempt wait budget.
func New(sock rtsock.Socket, log klog.Logger) *Broker {
	return NewWithTimeout(sock, log, DefaultTimeout)
}

// NewWithTimeout returns a Broker using a caller-supplied wait budget
// instead of DefaultTimeout, for callers that expose it as configuration
// (kernelnet.Config.BrokerTimeout).
func NewWithTimeout(sock rtsock.Socket, log klog.Logger, timeout time.Duration) *Broker {
	b := &Broker{sock: sock, log: log, timeout: timeout}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Await blocks, releasing no resource but the caller's stack, until
// predicate reports true, ctx is done, or one per-attempt wait of the
// broker's timeout elapses without a wake that satisfies predicate,
// re-checking predicate on every wake. It returns false when ctx is done
// or the per-attempt timer fires first. It is exported so
// vip.Manager can wait on cache-visibility predicates using the same
// mutex/condition-variable pair the receiver broadcasts on, per the
// distilled spec's single shared monitor.
func (b *Broker) Await(ctx context.Context, predicate func() bool) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if done := ctx.Done(); done != nil {
		stop := make(chan struct{})
		defer close(stop)
		go func() {
			select {
			case <-done:
				b.mu.Lock()
				b.cond.Broadcast()
				b.mu.Unlock()
			case <-stop:
			}
		}()
	}

	for !predicate() {
		if ctx.Err() != nil {
			return false
		}
		timedOut := false
		timer := time.AfterFunc(b.timeout, func() {
			b.mu.Lock()
			timedOut = true
			b.cond.Broadcast()
			b.mu.Unlock()
		})
		b.cond.Wait()
		timer.Stop()
		if timedOut && !predicate() {
			return false
		}
	}
	return true
}

// Deliver is called by the receiver for every route message
// (RTM_ADD/RTM_DELETE/RTM_GET) read off the socket, the only kind that
// carries a pid and sequence number. If the message's
// originator pid and sequence number match the single in-flight request,
// the message is copied into the reply slot; either way the condition
// variable is broadcast unconditionally so every waiter -- route-reply or
// cache-visibility -- re-evaluates its predicate.
func (b *Broker) Deliver(pid, seq int32, flags rtmsg.Flags, addrs int32, tail []byte) {
	b.mu.Lock()
	if b.waitingSeq != 0 && pid == int32(b.sock.Pid()) && seq == b.waitingSeq {
		cp := make([]byte, len(tail))
		copy(cp, tail)
		b.haveReply = true
		b.replySeq = seq
		b.replyFlags = flags
		b.replyAddrs = addrs
		b.replyTail = cp
	}
	b.cond.Broadcast()
	b.mu.Unlock()
}

// Broadcast wakes every waiter without touching the reply slot. The
// receiver calls this for every processed message that isn't a route
// reply (address/link events), so cache-visibility waiters such as
// vip.Manager re-check their predicate as soon as the cache is updated
// instead of idling out the per-attempt timer.
func (b *Broker) Broadcast() {
	b.mu.Lock()
	b.cond.Broadcast()
	b.mu.Unlock()
}

func (b *Broker) acquire() int32 {
	b.mu.Lock()
	for b.waitingSeq != 0 {
		b.cond.Wait()
	}
	b.seq++
	if b.seq == 0 {
		b.seq = 1
	}
	b.waitingSeq = b.seq
	seq := b.waitingSeq
	b.mu.Unlock()
	return seq
}

func (b *Broker) release() {
	b.mu.Lock()
	b.waitingSeq = 0
	b.haveReply = false
	b.replyTail = nil
	b.cond.Broadcast()
	b.mu.Unlock()
}

// GetSourceAddr asks the kernel which local address it would use to
// reach dest. hint, when valid, is attached as the request's RTAX_IFA
// sockaddr to steer the kernel's interface choice on a multi-homed
// host; an invalid (zero) hint falls back to an empty link sockaddr,
// which still forces the kernel to report the outgoing interface.
func (b *Broker) GetSourceAddr(ctx context.Context, dest, hint netip.Addr) (netip.Addr, bool) {
	return b.get(ctx, dest, hint, true)
}

// GetNexthop asks the kernel for the gateway it would route dest
// through. hint, when valid, narrows the lookup the same way it does
// for GetSourceAddr.
func (b *Broker) GetNexthop(ctx context.Context, dest, hint netip.Addr) (netip.Addr, bool) {
	return b.get(ctx, dest, hint, false)
}

func (b *Broker) get(ctx context.Context, dest, hint netip.Addr, wantSource bool) (netip.Addr, bool) {
	seq := b.acquire()
	defer b.release()

	msg := rtmsg.NewMessage(rtmsg.TypeGet, seq, int32(b.sock.Pid()))
	if err := msg.AppendAddr(rtmsg.RoleDst, dest); err != nil {
		b.log.Log(klog.Warn, "broker", "building GET for %v: %v", dest, err)
		return netip.Addr{}, false
	}
	switch {
	case hint.IsValid():
		if err := msg.AppendAddr(rtmsg.RoleIfa, hint); err != nil {
			b.log.Log(klog.Warn, "broker", "appending hint sockaddr: %v", err)
			return netip.Addr{}, false
		}
	case wantSource:
		if err := msg.AppendLink(""); err != nil {
			b.log.Log(klog.Warn, "broker", "appending link sockaddr: %v", err)
			return netip.Addr{}, false
		}
	}

	out := msg.Bytes()
	n, err := b.sock.Send(out)
	if err != nil || n < len(out) {
		b.log.Log(klog.Warn, "broker", "short send requesting route to %v: %v", dest, err)
		return netip.Addr{}, false
	}

	start := time.Now()
	ok := b.Await(ctx, func() bool { return b.haveReply && b.replySeq == seq })
	if !ok {
		metrics.BrokerTimeoutCount.Inc()
		b.log.Log(klog.Warn, "broker", "timed out waiting for a reply to seq %d", seq)
		return netip.Addr{}, false
	}
	metrics.BrokerLatencyHistogram.Observe(time.Since(start).Seconds())
	return b.decodeReply(wantSource)
}

// decodeReply reads back the fields Deliver last wrote, after Await has
// confirmed haveReply && replySeq == seq and released the lock.
func (b *Broker) decodeReply(wantSource bool) (netip.Addr, bool) {
	b.mu.Lock()
	flags, addrs, tail := b.replyFlags, b.replyAddrs, b.replyTail
	b.mu.Unlock()

	host := flags.Has(rtmsg.FlagHost)
	for role, sa := range rtmsg.Decode(addrs, tail) {
		switch {
		case wantSource && role == rtmsg.RoleIfa:
			if addr, ok := sa.Addr(); ok {
				return addr, true
			}
		case !wantSource && host && role == rtmsg.RoleDst:
			if addr, ok := sa.Addr(); ok {
				return addr, true
			}
		case !wantSource && !host && role == rtmsg.RoleGateway:
			if addr, ok := sa.Addr(); ok {
				return addr, true
			}
		}
	}
	return netip.Addr{}, false
}
