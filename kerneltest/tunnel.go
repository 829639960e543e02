//go:build darwin || freebsd || netbsd || openbsd || dragonfly

package kerneltest

import (
	"fmt"
	"net/netip"
	"sync"

	"github.com/hostnetstate/kernelnet/vip"
)

// FakeTunnelDevice is an in-memory vip.TunnelDevice.
type FakeTunnelDevice struct {
	mu        sync.Mutex
	name      string
	up        bool
	addr      netip.Addr
	prefix    int
	destroyed bool
}

// Up marks the device up.
func (d *FakeTunnelDevice) Up() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.up = true
	return nil
}

// SetAddress records addr/prefix as the device's assigned address.
func (d *FakeTunnelDevice) SetAddress(addr netip.Addr, prefix int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.addr = addr
	d.prefix = prefix
	return nil
}

// Name returns the device's synthetic name.
func (d *FakeTunnelDevice) Name() string { return d.name }

// Address returns the last address SetAddress recorded.
func (d *FakeTunnelDevice) Address() netip.Addr {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.addr
}

// Destroyed reports whether Destroy has been called.
func (d *FakeTunnelDevice) Destroyed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.destroyed
}

// Destroy marks the device destroyed.
func (d *FakeTunnelDevice) Destroy() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.destroyed = true
	return nil
}

// FakeTunnelDriver is an in-memory vip.TunnelDriver handing out
// FakeTunnelDevices with deterministic, incrementing names.
type FakeTunnelDriver struct {
	mu      sync.Mutex
	next    int
	Devices []*FakeTunnelDevice

	// FailNext, if true, makes the next NewTunnel call return an error
	// instead of a device (and is reset to false afterward).
	FailNext bool
}

// NewTunnel returns a new FakeTunnelDevice named "tunN".
func (d *FakeTunnelDriver) NewTunnel() (vip.TunnelDevice, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.FailNext {
		d.FailNext = false
		return nil, fmt.Errorf("kerneltest: forced tunnel-creation failure")
	}
	dev := &FakeTunnelDevice{name: fmt.Sprintf("tun%d", d.next)}
	d.next++
	d.Devices = append(d.Devices, dev)
	return dev, nil
}
