//go:build darwin || freebsd || netbsd || openbsd || dragonfly

package rtmsg

import (
	"encoding/binary"
	"fmt"
	"net/netip"
	"unsafe"

	"golang.org/x/sys/unix"
)

// maxLinkName bounds the interface name carried in an AF_LINK sockaddr's
// sdl_data field, matching the link sockaddr's limited name capacity.
const maxLinkName = 12

// Message is a builder for RTM_ADD / RTM_DELETE / RTM_GET messages: a
// RouteHeader followed by a packed, role-ordered sockaddr tail. Each Append*
// call extends the tail and sets the matching Addrs bit; Bytes stamps
// Msglen from the final tail length.
type Message struct {
	hdr  RouteHeader
	tail []byte
}

// NewMessage starts a new route message of the given type, sequence number
// and originating pid.
func NewMessage(typ Type, seq int32, pid int32) *Message {
	m := &Message{}
	m.hdr.Version = Version
	m.hdr.Type = uint8(typ)
	m.hdr.Seq = seq
	m.hdr.Pid = pid
	return m
}

// SetFlags ORs f into the message's flag word.
func (m *Message) SetFlags(f Flags) { m.hdr.Flags |= int32(f) }

// SetIndex sets the target interface index, when the caller already knows
// it (most callers use AppendLink with a name instead).
func (m *Message) SetIndex(idx uint16) { m.hdr.Index = idx }

func (m *Message) appendSockaddr(role Role, raw []byte) {
	padded := make([]byte, alignUp(len(raw)))
	copy(padded, raw)
	m.tail = append(m.tail, padded...)
	m.hdr.Addrs |= role.Bit()
}

// AppendInet appends an AF_INET sockaddr under the given role.
func (m *Message) AppendInet(role Role, addr netip.Addr) error {
	if !addr.Is4() {
		return fmt.Errorf("rtmsg: %v is not an IPv4 address", addr)
	}
	raw := make([]byte, 16)
	raw[0] = 16
	raw[1] = unix.AF_INET
	b := addr.As4()
	copy(raw[4:8], b[:])
	m.appendSockaddr(role, raw)
	return nil
}

// AppendInet6 appends an AF_INET6 sockaddr under the given role.
func (m *Message) AppendInet6(role Role, addr netip.Addr) error {
	if !addr.Is6() || addr.Is4In6() {
		return fmt.Errorf("rtmsg: %v is not an IPv6 address", addr)
	}
	raw := make([]byte, 28)
	raw[0] = 28
	raw[1] = unix.AF_INET6
	b := addr.As16()
	copy(raw[8:24], b[:])
	m.appendSockaddr(role, raw)
	return nil
}

// AppendAddr appends addr under role, picking AppendInet or AppendInet6
// based on its family.
func (m *Message) AppendAddr(role Role, addr netip.Addr) error {
	if addr.Is4() {
		return m.AppendInet(role, addr)
	}
	return m.AppendInet6(role, addr)
}

// AppendNetmask appends a netmask sockaddr derived from (family,
// prefixLen) under RoleNetmask.
func (m *Message) AppendNetmask(family uint8, prefixLen int) error {
	switch family {
	case unix.AF_INET:
		mask := ^uint32(0)
		if prefixLen < 32 {
			mask = ^uint32(0) << uint(32-prefixLen)
		}
		raw := make([]byte, 16)
		raw[0] = 16
		raw[1] = unix.AF_INET
		binary.BigEndian.PutUint32(raw[4:8], mask)
		m.appendSockaddr(RoleNetmask, raw)
		return nil
	case unix.AF_INET6:
		raw := make([]byte, 28)
		raw[0] = 28
		raw[1] = unix.AF_INET6
		for i := 0; i < prefixLen/8; i++ {
			raw[8+i] = 0xff
		}
		if rem := prefixLen % 8; rem != 0 {
			raw[8+prefixLen/8] = byte(0xff << uint(8-rem))
		}
		m.appendSockaddr(RoleNetmask, raw)
		return nil
	default:
		return fmt.Errorf("rtmsg: unsupported netmask family %d", family)
	}
}

// AppendLink appends an AF_LINK sockaddr naming an interface, under
// RoleIfp. The name is truncated to maxLinkName bytes, matching the link
// sockaddr's name-field capacity.
func (m *Message) AppendLink(ifname string) error {
	name := ifname
	if len(name) > maxLinkName {
		name = name[:maxLinkName]
	}
	raw := make([]byte, 8+len(name))
	raw[1] = unix.AF_LINK
	raw[5] = byte(len(name))
	copy(raw[8:], name)
	raw[0] = byte(len(raw))
	m.appendSockaddr(RoleIfp, raw)
	return nil
}

// Bytes finalizes the message: stamps Msglen and serializes the header
// followed by the sockaddr tail.
func (m *Message) Bytes() []byte {
	hdrLen := SizeofRouteHeader
	m.hdr.Msglen = uint16(hdrLen + len(m.tail))
	buf := make([]byte, m.hdr.Msglen)
	*(*RouteHeader)(unsafe.Pointer(&buf[0])) = m.hdr
	copy(buf[hdrLen:], m.tail)
	return buf
}

// Header returns the header as built so far, primarily for tests.
func (m *Message) Header() RouteHeader { return m.hdr }
