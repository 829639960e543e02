//go:build darwin || freebsd || netbsd || openbsd || dragonfly

package rtmsg

import (
	"iter"
	"net/netip"

	"golang.org/x/sys/unix"
)

// Role identifies which well-known address slot a sockaddr occupies in a
// routing message's variable-length tail (the index of its bit in the
// Addrs bitfield).
type Role int

// Roles in RTAX_* order, the order they are packed in when present.
const (
	RoleDst     Role = unix.RTAX_DST
	RoleGateway Role = unix.RTAX_GATEWAY
	RoleNetmask Role = unix.RTAX_NETMASK
	RoleGenmask Role = unix.RTAX_GENMASK
	RoleIfp     Role = unix.RTAX_IFP
	RoleIfa     Role = unix.RTAX_IFA
	RoleAuthor  Role = unix.RTAX_AUTHOR
	RoleBrd     Role = unix.RTAX_BRD
	// RoleMax is one past the last defined role.
	RoleMax Role = unix.RTAX_MAX
)

// Bit mirrors the RTA_* presence flags, i.e. 1<<Role.
func (r Role) Bit() int32 { return 1 << uint(r) }

// sockaddrAlign is the byte alignment routing-socket sockaddrs are packed
// to. BSD kernels align the variable-length sockaddr list to 4 bytes even
// on 64-bit hosts (Darwin in particular keeps 32-bit alignment for this
// subsystem regardless of word size).
const sockaddrAlign = 4

func alignUp(n int) int {
	return (n + sockaddrAlign - 1) &^ (sockaddrAlign - 1)
}

// Sockaddr is a decoded routing-socket address: its declared family plus
// the raw bytes of the whole sockaddr (sa_len included).
type Sockaddr struct {
	raw []byte
}

// Family returns the sockaddr's address family (AF_INET, AF_INET6,
// AF_LINK, ...).
func (s Sockaddr) Family() uint8 {
	if len(s.raw) < 2 {
		return unix.AF_UNSPEC
	}
	return s.raw[1]
}

// Len returns the sockaddr's self-declared length (sa_len).
func (s Sockaddr) Len() int {
	if len(s.raw) < 1 {
		return 0
	}
	return int(s.raw[0])
}

// Addr decodes an AF_INET or AF_INET6 sockaddr into a netip.Addr. It
// returns false for any other family (e.g. AF_LINK, which has no host
// address -- use Name instead).
func (s Sockaddr) Addr() (netip.Addr, bool) {
	switch s.Family() {
	case unix.AF_INET:
		if len(s.raw) < 8 {
			return netip.Addr{}, false
		}
		var b [4]byte
		copy(b[:], s.raw[4:8])
		return netip.AddrFrom4(b), true
	case unix.AF_INET6:
		if len(s.raw) < 24 {
			return netip.Addr{}, false
		}
		var b [16]byte
		copy(b[:], s.raw[8:24])
		return netip.AddrFrom16(b), true
	default:
		return netip.Addr{}, false
	}
}

// Name decodes an AF_LINK (sockaddr_dl) sockaddr's interface name. Returns
// false for any other family.
func (s Sockaddr) Name() (string, bool) {
	if s.Family() != unix.AF_LINK {
		return "", false
	}
	// struct sockaddr_dl { sa_len, sa_family, sdl_index(2), sdl_type(1),
	// sdl_nlen(1), sdl_alen(1), sdl_slen(1), sdl_data[...] }
	if len(s.raw) < 8 {
		return "", false
	}
	nlen := int(s.raw[5])
	if nlen == 0 || 8+nlen > len(s.raw) {
		return "", false
	}
	return string(s.raw[8 : 8+nlen]), true
}

// Decode returns a lazy sequence of (role, sockaddr) pairs packed after a
// routing message's fixed header, as indicated by addrs (the header's
// Addrs bitfield). Every range over the returned sequence decodes buf again
// from the start, so the same sequence can be ranged over more than once.
// It stops as soon as the remaining bytes
// are too short to hold the next sockaddr's self-declared length --
// malformed tails are truncated silently, never an error.
func Decode(addrs int32, buf []byte) iter.Seq2[Role, Sockaddr] {
	return func(yield func(Role, Sockaddr) bool) {
		rest := buf
		for role := Role(0); role < RoleMax; role++ {
			if addrs&role.Bit() == 0 {
				continue
			}
			if len(rest) < 1 {
				return
			}
			salen := int(rest[0])
			want := salen
			if want == 0 {
				want = sockaddrAlign
			}
			if want > len(rest) {
				return
			}
			sa := Sockaddr{raw: rest[:salen]}
			adv := alignUp(want)
			if adv > len(rest) {
				adv = len(rest)
			}
			rest = rest[adv:]
			if !yield(role, sa) {
				return
			}
		}
	}
}
