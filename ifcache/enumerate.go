package ifcache

import "net/netip"

// EnumMask selects which address classes Enumerate yields.
type EnumMask uint8

const (
	// Regular selects non-virtual addresses.
	Regular EnumMask = 1 << iota
	// Virtual selects addresses installed by the virtual-IP manager.
	Virtual
	// Ignored, when unset, excludes interfaces the usability predicate
	// rejected.
	Ignored
	// Loopback, when unset, excludes loopback interfaces.
	Loopback
	// Down, when unset, excludes interfaces without IFF_UP.
	Down
)

// Enumerator is a snapshot read over the cache: it holds the cache's read
// lock from construction until Close, so the caller's view is stable for
// its whole lifetime. Callers must Close it, typically via defer.
type Enumerator struct {
	cache  *Cache
	hosts  []netip.Addr
	pos    int
	closed bool
}

// Enumerate returns the filtered sequence of IP hosts matching mask,
// holding the cache's read lock until the returned Enumerator is closed.
//
// Filtering policy (unchanged from the distilled spec): an interface is
// excluded unless Ignored is set or the interface is usable; excluded
// unless Loopback is set or the interface is not loopback; excluded
// unless Down is set or the interface is up. An address is excluded
// unless its virtual/regular class is requested; IPv6 link-local
// addresses are always excluded.
func (c *Cache) Enumerate(mask EnumMask) *Enumerator {
	c.mu.RLock()
	e := &Enumerator{cache: c}
	for _, ifc := range c.ifaces {
		if mask&Ignored == 0 && !ifc.Usable {
			continue
		}
		if mask&Loopback == 0 && ifc.Loopback() {
			continue
		}
		if mask&Down == 0 && !ifc.Up() {
			continue
		}
		for _, a := range ifc.addrs {
			if a.Virtual && mask&Virtual == 0 {
				continue
			}
			if !a.Virtual && mask&Regular == 0 {
				continue
			}
			if a.IP.Is6() && a.IP.IsLinkLocalUnicast() {
				continue
			}
			e.hosts = append(e.hosts, a.IP)
		}
	}
	return e
}

// Next advances the enumerator and reports whether a host is available.
func (e *Enumerator) Next() (netip.Addr, bool) {
	if e.pos >= len(e.hosts) {
		return netip.Addr{}, false
	}
	h := e.hosts[e.pos]
	e.pos++
	return h, true
}

// Close releases the read lock the enumerator has held since Enumerate
// returned it. Calling Close more than once is a no-op.
func (e *Enumerator) Close() {
	if e.closed {
		return
	}
	e.closed = true
	e.cache.mu.RUnlock()
}
