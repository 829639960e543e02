//go:build darwin || freebsd || netbsd || openbsd || dragonfly

// Package kernelnet wires the message codec, cache, receiver, broker,
// virtual-IP manager, and route programmer together behind one Tracker
// type -- the only package a daemon importing this module needs to
// touch. New performs the initial OS enumeration, opens the shared
// routing socket, and starts the background receiver, mirroring how the
// teacher's main.go wired collector+saver+netlink into one running
// process, generalized into a library constructor instead of a
// standalone binary's init sequence.
package kernelnet

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"time"

	"github.com/hostnetstate/kernelnet/broker"
	"github.com/hostnetstate/kernelnet/ifcache"
	"github.com/hostnetstate/kernelnet/klog"
	"github.com/hostnetstate/kernelnet/receiver"
	"github.com/hostnetstate/kernelnet/roam"
	"github.com/hostnetstate/kernelnet/routeprog"
	"github.com/hostnetstate/kernelnet/rtsock"
	"github.com/hostnetstate/kernelnet/vip"
)

// FeatureSet reports capability flags the daemon checks before driving
// this tracker.
type FeatureSet struct {
	// RequireExcludeRoute signals that the caller must install its own
	// traffic-exclusion routes -- this tracker only ever answers queries
	// against and mutates the live kernel routing table, it never filters
	// packets.
	RequireExcludeRoute bool
}

// OSQuerier is the downward-API seam over package net, so tests can
// substitute a fixed interface/address list instead of the live host's.
type OSQuerier interface {
	Interfaces() ([]net.Interface, error)
	Addrs(iface net.Interface) ([]net.Addr, error)
	ByIndex(index int) (net.Interface, error)
}

// osQuerier is the real, net-package-backed OSQuerier.
type osQuerier struct{}

func (osQuerier) Interfaces() ([]net.Interface, error) { return net.Interfaces() }

func (osQuerier) Addrs(iface net.Interface) ([]net.Addr, error) { return iface.Addrs() }

func (osQuerier) ByIndex(index int) (net.Interface, error) {
	ni, err := net.InterfaceByIndex(index)
	if err != nil {
		return net.Interface{}, err
	}
	return *ni, nil
}

// Config holds every downward-API collaborator plus the tunables the
// distilled spec calls out as configuration, not library-internal
// constants. There is no flag/env parsing here -- that is
// cmd/netstatectl's job.
type Config struct {
	Logger klog.Logger

	// IsInterfaceUsable decides whether an interface participates in
	// InterfaceName answers, enumeration without the Ignored bit, and
	// roam notifications. A nil
	// value defaults to "every interface is usable".
	IsInterfaceUsable func(name string) bool

	// RoamListener is called, debounced, whenever the topology changes.
	// A nil value is a no-op listener.
	RoamListener roam.Listener

	// TunnelDriver and Facade back the virtual-IP manager. Both are
	// required if AddIP/DelIP will ever be called.
	TunnelDriver vip.TunnelDriver
	Facade       vip.Facade

	// OSQuerier overrides the live net-package enumeration, for tests.
	OSQuerier OSQuerier

	// Socket overrides the live AF_ROUTE socket rtsock.Open would return,
	// so tests can substitute kerneltest.FakeSocket.
	Socket rtsock.Socket

	// Features is reported verbatim from Tracker.Features.
	Features FeatureSet

	// RoamDelay overrides roam.RoamDelay; zero keeps the default.
	RoamDelay time.Duration
	// BrokerTimeout overrides broker.DefaultTimeout; zero keeps the
	// default.
	BrokerTimeout time.Duration

	// NoBackgroundReceiver skips opening the receiver goroutine,
	// matching the distilled spec's "starter-like hosts without a thread
	// pool" mode: the cache is populated once from OSQuerier and never
	// updated again.
	NoBackgroundReceiver bool
}

// Tracker is the Upward API: the façade a daemon drives instead of
// touching rtsock/ifcache/broker/vip/routeprog directly.
type Tracker struct {
	sock      rtsock.Socket
	cache     *ifcache.Cache
	broker    *broker.Broker
	roamer    *roam.Debouncer
	vipMgr    *vip.Manager
	routeProg *routeprog.Programmer
	recv      *receiver.Receiver
	log       klog.Logger
	osq       OSQuerier
	usable    func(name string) bool
	features  FeatureSet
}

// New builds and starts a Tracker per cfg.
func New(cfg Config) (*Tracker, error) {
	log := cfg.Logger
	if log == nil {
		log = klog.Standard{}
	}
	usable := cfg.IsInterfaceUsable
	if usable == nil {
		usable = func(string) bool { return true }
	}
	osq := cfg.OSQuerier
	if osq == nil {
		osq = osQuerier{}
	}
	roamListener := cfg.RoamListener
	if roamListener == nil {
		roamListener = func(bool) {}
	}
	roamDelay := cfg.RoamDelay
	if roamDelay <= 0 {
		roamDelay = roam.RoamDelay
	}
	brokerTimeout := cfg.BrokerTimeout
	if brokerTimeout <= 0 {
		brokerTimeout = broker.DefaultTimeout
	}

	sock := cfg.Socket
	if sock == nil {
		var err error
		sock, err = rtsock.Open()
		if err != nil {
			return nil, fmt.Errorf("kernelnet: opening routing socket: %w", err)
		}
	}

	cache := ifcache.New()
	br := broker.NewWithTimeout(sock, log, brokerTimeout)
	roamer := roam.NewWithDelay(roamListener, roamDelay)
	rp := routeprog.New(sock, log)

	t := &Tracker{
		sock: sock, cache: cache, broker: br, roamer: roamer,
		routeProg: rp, log: log, osq: osq, usable: usable, features: cfg.Features,
	}
	t.vipMgr = vip.New(cache, br, cfg.TunnelDriver, cfg.Facade, log)

	if err := t.enumerateInitial(); err != nil {
		sock.Close()
		return nil, fmt.Errorf("kernelnet: initial enumeration: %w", err)
	}

	if !cfg.NoBackgroundReceiver {
		t.recv = receiver.New(sock, cache, br, roamer, log, usable, t.addrsForName, t.resolveName)
		t.recv.Start()
	}
	return t, nil
}

func (t *Tracker) enumerateInitial() error {
	ifaces, err := t.osq.Interfaces()
	if err != nil {
		return err
	}
	for _, ni := range ifaces {
		ifc := t.cache.AddOrFindInterface(ni.Name, ni.Index, toKernelFlags(ni.Flags), t.usable(ni.Name))
		addrs, err := t.osq.Addrs(ni)
		if err != nil {
			t.log.Log(klog.Warn, "kernelnet", "enumerating addresses for %s: %v", ni.Name, err)
			continue
		}
		for _, a := range addrs {
			if ip, ok := addrFromNetAddr(a); ok {
				t.cache.AddAddr(ifc, ip)
			}
		}
	}
	return nil
}

func (t *Tracker) addrsForName(name string) []netip.Addr {
	ifaces, err := t.osq.Interfaces()
	if err != nil {
		return nil
	}
	for _, ni := range ifaces {
		if ni.Name != name {
			continue
		}
		addrs, err := t.osq.Addrs(ni)
		if err != nil {
			return nil
		}
		out := make([]netip.Addr, 0, len(addrs))
		for _, a := range addrs {
			if ip, ok := addrFromNetAddr(a); ok {
				out = append(out, ip)
			}
		}
		return out
	}
	return nil
}

func (t *Tracker) resolveName(index int) (string, bool) {
	ni, err := t.osq.ByIndex(index)
	if err != nil {
		return "", false
	}
	return ni.Name, true
}

// toKernelFlags maps the two bits ifcache ever inspects (IFF_UP,
// IFF_LOOPBACK) from package net's own Flags bit positions, which do not
// match the real kernel ifnet flag word's bit positions beyond IFF_UP.
// Only the initial, net-package-backed enumeration goes through this
// conversion; RTM_IFINFO events carry the kernel's true flag word
// directly and never pass through it.
func toKernelFlags(f net.Flags) uint32 {
	var out uint32
	if f&net.FlagUp != 0 {
		out |= ifcache.FlagUp
	}
	if f&net.FlagLoopback != 0 {
		out |= ifcache.FlagLoopback
	}
	return out
}

func addrFromNetAddr(a net.Addr) (netip.Addr, bool) {
	ipnet, ok := a.(*net.IPNet)
	if !ok {
		return netip.Addr{}, false
	}
	ip, ok := netip.AddrFromSlice(ipnet.IP)
	if !ok {
		return netip.Addr{}, false
	}
	return ip.Unmap(), true
}

// Features reports this tracker's capability flags.
func (t *Tracker) Features() FeatureSet { return t.features }

// InterfaceName resolves ip to the name of an up, usable interface that
// carries it.
func (t *Tracker) InterfaceName(ip netip.Addr) (string, bool) {
	return t.cache.LookupName(ip, ifcache.UpAndUsable)
}

// Enumerate returns a filtered snapshot of cached addresses; callers
// must Close it.
func (t *Tracker) Enumerate(mask ifcache.EnumMask) *ifcache.Enumerator {
	return t.cache.Enumerate(mask)
}

// SourceAddr asks the kernel which local address it would use to reach
// dest.
func (t *Tracker) SourceAddr(ctx context.Context, dest, hint netip.Addr) (netip.Addr, bool) {
	return t.broker.GetSourceAddr(ctx, dest, hint)
}

// Nexthop asks the kernel for the gateway it would route dest through.
func (t *Tracker) Nexthop(ctx context.Context, dest, hint netip.Addr) (netip.Addr, bool) {
	return t.broker.GetNexthop(ctx, dest, hint)
}

// AddIP installs a virtual-IP tunnel.
func (t *Tracker) AddIP(ctx context.Context, vipAddr netip.Addr, prefix int, ifnameHint string) error {
	return t.vipMgr.AddIP(ctx, vipAddr, prefix, ifnameHint)
}

// DelIP removes a virtual-IP tunnel.
func (t *Tracker) DelIP(ctx context.Context, vipAddr netip.Addr, prefix int, wait bool) error {
	return t.vipMgr.DelIP(ctx, vipAddr, prefix, wait)
}

// AddRoute programs a static route.
func (t *Tracker) AddRoute(dst netip.Prefix, gw, src *netip.Addr, ifname *string) error {
	return t.routeProg.AddRoute(dst, gw, src, ifname)
}

// DelRoute removes a static route.
func (t *Tracker) DelRoute(dst netip.Prefix, gw, src *netip.Addr, ifname *string) error {
	return t.routeProg.DelRoute(dst, gw, src, ifname)
}

// Close stops the background receiver, if running, and closes the
// shared routing socket.
func (t *Tracker) Close() error {
	if t.recv != nil {
		t.recv.Stop()
	}
	return t.sock.Close()
}
