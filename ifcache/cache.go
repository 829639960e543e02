// Package ifcache keeps the in-memory model of the host's network
// interfaces and their addresses: an ordered interface list, each
// interface's address list, and a reverse index from address to owning
// interface. One lock guards all three as a single invariant domain.
//
// The map-of-records-plus-swap texture is grounded on cache.Cache from the
// teacher this module is built on, generalized from an unprotected
// single-goroutine cache keyed by connection cookie to a sync.RWMutex-guarded
// cache keyed by interface index, with an explicit reverse index added.
package ifcache

import (
	"net/netip"
	"sync"
)

// FlagUp mirrors IFF_UP, the bit common to every BSD variant's interface
// flag word. Only this bit is inspected by the predicates below.
const FlagUp uint32 = 0x1

// FlagLoopback mirrors IFF_LOOPBACK, which shares the value 0x8 across
// every BSD variant this module targets.
const FlagLoopback uint32 = 0x8

// Addr is one address record owned by an Interface.
type Addr struct {
	IP      netip.Addr
	Virtual bool // installed by the virtual-IP manager, not observed from the kernel
}

// Interface is one interface record. Interfaces are boxed (always
// accessed through a pointer) so the reverse index and callers'
// enumerators can hold stable references across repopulation.
type Interface struct {
	Name   string
	Index  int
	Flags  uint32
	Usable bool
	addrs  []*Addr
}

// Up reports whether IFF_UP is set.
func (i *Interface) Up() bool { return i.Flags&FlagUp != 0 }

// Loopback reports whether IFF_LOOPBACK is set.
func (i *Interface) Loopback() bool { return i.Flags&FlagLoopback != 0 }

// Addrs returns the interface's current address records. The slice is
// owned by the cache; callers must not retain it past the holding lock.
func (i *Interface) Addrs() []*Addr { return i.addrs }

func (i *Interface) findAddr(ip netip.Addr) (*Addr, int) {
	for idx, a := range i.addrs {
		if a.IP == ip {
			return a, idx
		}
	}
	return nil, -1
}

// Predicate selects which interfaces a name lookup is willing to resolve
// through.
type Predicate func(*Interface) bool

// UpAndUsable requires both IFF_UP and the externally decided usability
// flag.
func UpAndUsable(i *Interface) bool { return i.Up() && i.Usable }

// UpAny requires only IFF_UP, regardless of usability.
func UpAny(i *Interface) bool { return i.Up() }

// Cache is the full cache: the interface list and the reverse index,
// together guarded by one RWMutex.
type Cache struct {
	mu      sync.RWMutex
	ifaces  []*Interface
	reverse map[netip.Addr][]*Interface
}

// New returns an empty cache.
func New() *Cache {
	return &Cache{reverse: make(map[netip.Addr][]*Interface)}
}

func (c *Cache) findLocked(index int) *Interface {
	for _, ifc := range c.ifaces {
		if ifc.Index == index {
			return ifc
		}
	}
	return nil
}

// AddOrFindInterface returns the existing interface record for index, or
// creates one if absent.
func (c *Cache) AddOrFindInterface(name string, index int, flags uint32, usable bool) *Interface {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ifc := c.findLocked(index); ifc != nil {
		return ifc
	}
	ifc := &Interface{Name: name, Index: index, Flags: flags, Usable: usable}
	c.ifaces = append(c.ifaces, ifc)
	return ifc
}

// RemoveInterface drops iface and every reverse-index entry pointing at it.
func (c *Cache) RemoveInterface(iface *Interface) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, ifc := range c.ifaces {
		if ifc == iface {
			c.ifaces = append(c.ifaces[:i], c.ifaces[i+1:]...)
			break
		}
	}
	for _, a := range iface.addrs {
		c.unindexLocked(a.IP, iface)
	}
}

func (c *Cache) indexLocked(ip netip.Addr, iface *Interface) {
	c.reverse[ip] = append(c.reverse[ip], iface)
}

func (c *Cache) unindexLocked(ip netip.Addr, iface *Interface) {
	list := c.reverse[ip]
	for i, ifc := range list {
		if ifc == iface {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(c.reverse, ip)
	} else {
		c.reverse[ip] = list
	}
}

func (c *Cache) addAddrLocked(iface *Interface, ip netip.Addr) *Addr {
	if a, _ := iface.findAddr(ip); a != nil {
		return a
	}
	a := &Addr{IP: ip}
	iface.addrs = append(iface.addrs, a)
	c.indexLocked(ip, iface)
	return a
}

func (c *Cache) removeAddrLocked(iface *Interface, ip netip.Addr) {
	a, idx := iface.findAddr(ip)
	if a == nil {
		return
	}
	iface.addrs = append(iface.addrs[:idx], iface.addrs[idx+1:]...)
	if !a.Virtual {
		c.unindexLocked(ip, iface)
	}
}

// AddAddr adds ip to iface as a non-virtual address and indexes it in the
// reverse map. A pre-existing record for the same host is left untouched
// and returned unchanged.
func (c *Cache) AddAddr(iface *Interface, ip netip.Addr) *Addr {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.addAddrLocked(iface, ip)
}

// RemoveAddr removes ip from iface, dropping its reverse-index entry if it
// was non-virtual. A miss is a no-op.
func (c *Cache) RemoveAddr(iface *Interface, ip netip.Addr) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeAddrLocked(iface, ip)
}

// MarkVirtual flips ip's record on iface to virtual=true and drops its
// reverse-index entry, per the virtual-IP ordering resolution recorded in
// DESIGN.md: the address arrives as a regular NEWADDR before add_ip marks
// it virtual, so the entry created then would otherwise go stale.
func (c *Cache) MarkVirtual(iface *Interface, ip netip.Addr) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	a, _ := iface.findAddr(ip)
	if a == nil {
		return false
	}
	a.Virtual = true
	c.unindexLocked(ip, iface)
	return true
}

// Repopulate atomically replaces iface's address list with addrs, all
// marked non-virtual, rebuilding the affected reverse-index entries. Used
// on link-state changes, which can implicitly add or drop addresses
// without individual NEWADDR/DELADDR events.
func (c *Cache) Repopulate(iface *Interface, addrs []netip.Addr) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, a := range iface.addrs {
		if !a.Virtual {
			c.unindexLocked(a.IP, iface)
		}
	}
	fresh := make([]*Addr, 0, len(addrs))
	for _, ip := range addrs {
		fresh = append(fresh, &Addr{IP: ip})
		c.indexLocked(ip, iface)
	}
	iface.addrs = fresh
}

// LookupName resolves ip to the name of an interface satisfying pred. When
// more than one interface carries ip, the first satisfying pred wins.
func (c *Cache) LookupName(ip netip.Addr, pred Predicate) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, ifc := range c.reverse[ip] {
		if pred(ifc) {
			return ifc.Name, true
		}
	}
	return "", false
}

// FindByIndex returns the interface record for index, if any.
func (c *Cache) FindByIndex(index int) (*Interface, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ifc := c.findLocked(index)
	return ifc, ifc != nil
}

// Stats reports the current interface count and the number of distinct
// addresses indexed in the reverse map, for metrics gauges.
func (c *Cache) Stats() (interfaces, addresses int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.ifaces), len(c.reverse)
}

// MarkVirtualAndNotify locates the interface named name, flips ip's
// address record to virtual (dropping its reverse-index entry) if
// present, and invokes notify -- all inside the same write-lock critical
// section, matching §4.5.1's requirement that the kernel-interface façade
// be notified of a new tunnel while the cache write lock is still held.
// Returns false if no interface named name exists.
func (c *Cache) MarkVirtualAndNotify(name string, ip netip.Addr, notify func(*Interface)) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	var target *Interface
	for _, ifc := range c.ifaces {
		if ifc.Name == name {
			target = ifc
			break
		}
	}
	if target == nil {
		return false
	}
	if a, _ := target.findAddr(ip); a != nil {
		a.Virtual = true
		c.unindexLocked(ip, target)
	}
	if notify != nil {
		notify(target)
	}
	return true
}

// AddrEventResult reports what ApplyAddrEvent observed, so the receiver
// can decide whether to request a roam notification without re-taking the
// lock.
type AddrEventResult struct {
	Found       bool
	Changed     bool
	UsableAndUp bool
}

// ApplyAddrEvent applies one NEWADDR/DELADDR event to the interface at
// index, atomically: find-by-index, check-for-existing-record, and
// mutate-plus-reverse-index all happen under one write-lock critical
// section, matching §4.3.1's "under write lock, find the interface by
// index" requirement.
func (c *Cache) ApplyAddrEvent(index int, ip netip.Addr, isDelete bool) AddrEventResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	ifc := c.findLocked(index)
	if ifc == nil {
		return AddrEventResult{}
	}
	existing, _ := ifc.findAddr(ip)
	res := AddrEventResult{Found: true, UsableAndUp: ifc.Up() && ifc.Usable}
	switch {
	case isDelete && existing != nil:
		c.removeAddrLocked(ifc, ip)
		res.Changed = ifc.Usable
	case !isDelete && existing == nil:
		c.addAddrLocked(ifc, ip)
		res.Changed = true
	}
	return res
}

// LinkEventResult reports what ApplyLinkEvent observed.
type LinkEventResult struct {
	Iface       *Interface
	WasFound    bool
	TransitionedUp, TransitionedDown bool
}

// ApplyLinkEvent applies one IFINFO event. If index is already cached,
// its flags are overwritten and its address list is repopulated from
// currentAddrs (an OS-enumeration call, since some link transitions don't
// emit per-address events); the result reports whether the interface
// crossed the IFF_UP boundary so the caller can decide whether to arm a
// roam notification. If index is new, resolveName/usable/currentAddrs are
// used to build and insert a fresh record and no transition is reported.
func (c *Cache) ApplyLinkEvent(index int, flags uint32, resolveName func() (string, bool), usable func(name string) bool, currentAddrs func(name string) []netip.Addr) LinkEventResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ifc := c.findLocked(index); ifc != nil {
		wasUp := ifc.Up()
		ifc.Flags = flags
		nowUp := ifc.Up()
		for _, a := range ifc.addrs {
			if !a.Virtual {
				c.unindexLocked(a.IP, ifc)
			}
		}
		fresh := make([]*Addr, 0)
		for _, ip := range currentAddrs(ifc.Name) {
			fresh = append(fresh, &Addr{IP: ip})
			c.indexLocked(ip, ifc)
		}
		ifc.addrs = fresh
		return LinkEventResult{
			Iface:            ifc,
			WasFound:         true,
			TransitionedUp:   !wasUp && nowUp,
			TransitionedDown: wasUp && !nowUp,
		}
	}
	name, ok := resolveName()
	if !ok {
		return LinkEventResult{}
	}
	ifc := &Interface{Name: name, Index: index, Flags: flags, Usable: usable(name)}
	for _, ip := range currentAddrs(name) {
		ifc.addrs = append(ifc.addrs, &Addr{IP: ip})
		c.indexLocked(ip, ifc)
	}
	c.ifaces = append(c.ifaces, ifc)
	return LinkEventResult{Iface: ifc, WasFound: false}
}
