//go:build darwin || freebsd || netbsd || openbsd || dragonfly

// Package vip creates and destroys tunnel devices for virtual IPs
// assigned to this host on behalf of a remote peer, synchronizing
// creation against the asynchronous arrival of the tunnel's address
// event on the shared cache. New package: the lifecycle itself has no
// teacher analogue, but its wait-for-visibility loop is grounded on
// broker.Broker.Await, the same monitor the receiver broadcasts on.
package vip

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"sync"

	"github.com/hostnetstate/kernelnet/broker"
	"github.com/hostnetstate/kernelnet/ifcache"
	"github.com/hostnetstate/kernelnet/klog"
	"github.com/hostnetstate/kernelnet/metrics"

	"github.com/prometheus/client_golang/prometheus"
)

// TunnelDevice is the opaque tunnel-device handle this module treats as
// a downward-API collaborator: up, set_address, get_name, get_address,
// destroy.
type TunnelDevice interface {
	Up() error
	SetAddress(addr netip.Addr, prefix int) error
	Name() string
	Address() netip.Addr
	Destroy() error
}

// TunnelDriver constructs new tunnel devices.
type TunnelDriver interface {
	NewTunnel() (TunnelDevice, error)
}

// Facade is the external kernel-interface façade notified of tunnel
// lifecycle events. Implementations are required to be quick and
// non-blocking, since OnTunnelUp runs while the cache write lock is held.
type Facade interface {
	OnTunnelUp(dev TunnelDevice)
	OnTunnelDown(dev TunnelDevice)
}

// Errors returned by AddIP/DelIP.
var (
	ErrVIPNotObserved  = errors.New("vip: tunnel address never observed by the receiver")
	ErrVIPNotFound     = errors.New("vip: no tunnel holds that address")
	ErrVIPStillVisible = errors.New("vip: address still visible after removal")
)

type tunnelEntry struct {
	dev TunnelDevice
	vip netip.Addr
}

// Manager creates and destroys virtual-IP tunnels.
type Manager struct {
	cache  *ifcache.Cache
	broker *broker.Broker
	driver TunnelDriver
	facade Facade
	log    klog.Logger

	mu      sync.Mutex
	tunnels []tunnelEntry
}

// New returns a Manager backed by cache, broker, driver and facade.
func New(cache *ifcache.Cache, br *broker.Broker, driver TunnelDriver, facade Facade, log klog.Logger) *Manager {
	return &Manager{cache: cache, broker: br, driver: driver, facade: facade, log: log}
}

// AddIP creates a tunnel device carrying vip/prefix. A negative prefix
// means a host route (32 for IPv4, 128 for IPv6). ifnameHint is accepted
// for API symmetry with the upward interface but unused: the tunnel
// driver names its own device.
func (m *Manager) AddIP(ctx context.Context, vip netip.Addr, prefix int, ifnameHint string) error {
	dev, err := m.driver.NewTunnel()
	if err != nil {
		metrics.VIPOutcomeCount.With(prometheus.Labels{"op": "add", "outcome": "error"}).Inc()
		return fmt.Errorf("vip: creating tunnel: %w", err)
	}
	if prefix < 0 {
		prefix = vip.BitLen()
	}
	if err := dev.Up(); err != nil {
		dev.Destroy()
		metrics.VIPOutcomeCount.With(prometheus.Labels{"op": "add", "outcome": "error"}).Inc()
		return fmt.Errorf("vip: bringing tunnel up: %w", err)
	}
	if err := dev.SetAddress(vip, prefix); err != nil {
		dev.Destroy()
		metrics.VIPOutcomeCount.With(prometheus.Labels{"op": "add", "outcome": "error"}).Inc()
		return fmt.Errorf("vip: assigning %v/%d: %w", vip, prefix, err)
	}

	seen := m.broker.Await(ctx, func() bool {
		_, ok := m.cache.LookupName(vip, ifcache.UpAny)
		return ok
	})
	if !seen {
		m.log.Log(klog.Warn, "vip", "tunnel address %v never observed", vip)
		dev.Destroy()
		metrics.VIPOutcomeCount.With(prometheus.Labels{"op": "add", "outcome": "timeout"}).Inc()
		return ErrVIPNotObserved
	}

	m.mu.Lock()
	m.tunnels = append(m.tunnels, tunnelEntry{dev: dev, vip: vip})
	m.mu.Unlock()

	m.cache.MarkVirtualAndNotify(dev.Name(), vip, func(*ifcache.Interface) {
		m.facade.OnTunnelUp(dev)
	})
	metrics.VIPOutcomeCount.With(prometheus.Labels{"op": "add", "outcome": "ok"}).Inc()
	return nil
}

// DelIP destroys the tunnel carrying vip. When wait is true, it blocks
// (up to the broker's per-attempt timeout budget) until the cache no
// longer resolves vip, surfacing ErrVIPStillVisible on timeout.
func (m *Manager) DelIP(ctx context.Context, vip netip.Addr, prefix int, wait bool) error {
	m.mu.Lock()
	idx := -1
	for i, t := range m.tunnels {
		if t.vip == vip {
			idx = i
			break
		}
	}
	if idx < 0 {
		m.mu.Unlock()
		metrics.VIPOutcomeCount.With(prometheus.Labels{"op": "del", "outcome": "not_found"}).Inc()
		return ErrVIPNotFound
	}
	dev := m.tunnels[idx].dev
	m.tunnels = append(m.tunnels[:idx], m.tunnels[idx+1:]...)
	m.facade.OnTunnelDown(dev)
	dev.Destroy()
	m.mu.Unlock()

	if !wait {
		metrics.VIPOutcomeCount.With(prometheus.Labels{"op": "del", "outcome": "ok"}).Inc()
		return nil
	}
	gone := m.broker.Await(ctx, func() bool {
		_, ok := m.cache.LookupName(vip, ifcache.UpAny)
		return !ok
	})
	if !gone {
		m.log.Log(klog.Warn, "vip", "tunnel address %v still visible after removal", vip)
		metrics.VIPOutcomeCount.With(prometheus.Labels{"op": "del", "outcome": "timeout"}).Inc()
		return ErrVIPStillVisible
	}
	metrics.VIPOutcomeCount.With(prometheus.Labels{"op": "del", "outcome": "ok"}).Inc()
	return nil
}
