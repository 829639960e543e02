//go:build darwin || freebsd || netbsd || openbsd || dragonfly

package rtmsg

import "unsafe"

// RouteHeader is the fixed header of an RTM_ADD / RTM_DELETE / RTM_GET
// message (struct rt_msghdr in <net/route.h>). Field order matches the C
// layout bit for bit -- Go's struct alignment for these primitive types
// produces the same padding as the C compiler's, exactly as
// inetdiag.InetDiagMsg relies on for its own unsafe.Pointer cast.
type RouteHeader struct {
	Msglen  uint16
	Version uint8
	Type    uint8
	Index   uint16
	_       uint16 // pad to 4-byte boundary before the int32 fields
	Flags   int32
	Addrs   int32
	Pid     int32
	Seq     int32
	Errno   int32
	Use     int32
	Inits   uint32
}

// SizeofRouteHeader is the fixed-header length passed to Decode for route
// messages.
var SizeofRouteHeader = int(unsafe.Sizeof(RouteHeader{}))

// RawRouteHeader is the []byte representation of a RouteHeader, exactly as
// netlink.RawInetDiagMsg wraps InetDiagMsg.
type RawRouteHeader []byte

// Parse casts the raw bytes into a *RouteHeader. The caller must have
// already checked len(raw) >= SizeofRouteHeader.
func (raw RawRouteHeader) Parse() (*RouteHeader, error) {
	if len(raw) < SizeofRouteHeader {
		return nil, ErrShortHeader
	}
	return (*RouteHeader)(unsafe.Pointer(&raw[0])), nil
}

// IfaHeader is the fixed header of an RTM_NEWADDR / RTM_DELADDR message
// (struct ifa_msghdr).
type IfaHeader struct {
	Msglen  uint16
	Version uint8
	Type    uint8
	Addrs   int32
	Flags   int32
	Index   uint16
	_       uint16 // pad to 4-byte boundary before Metric
	Metric  int32
}

// SizeofIfaHeader is the fixed-header length passed to Decode for address
// messages.
var SizeofIfaHeader = int(unsafe.Sizeof(IfaHeader{}))

// RawIfaHeader is the []byte representation of an IfaHeader.
type RawIfaHeader []byte

// Parse casts the raw bytes into an *IfaHeader.
func (raw RawIfaHeader) Parse() (*IfaHeader, error) {
	if len(raw) < SizeofIfaHeader {
		return nil, ErrShortHeader
	}
	return (*IfaHeader)(unsafe.Pointer(&raw[0])), nil
}

// IfHeader is the fixed, leading portion of an RTM_IFINFO message (struct
// if_msghdr) that this module needs. The kernel's if_data payload follows
// immediately but no SPEC_FULL.md operation inspects it -- link-state
// handling (receiver §4.3.2) repopulates addresses via a fresh OS query
// rather than decoding if_data, so we never need its length.
type IfHeader struct {
	Msglen  uint16
	Version uint8
	Type    uint8
	Addrs   int32
	Flags   int32
	Index   uint16
	_       uint16 // pad; if_data follows at the next 4-byte boundary
}

// SizeofIfHeader is the size of the fixed prefix above.
var SizeofIfHeader = int(unsafe.Sizeof(IfHeader{}))

// RawIfHeader is the []byte representation of an IfHeader.
type RawIfHeader []byte

// Parse casts the raw bytes into an *IfHeader.
func (raw RawIfHeader) Parse() (*IfHeader, error) {
	if len(raw) < SizeofIfHeader {
		return nil, ErrShortHeader
	}
	return (*IfHeader)(unsafe.Pointer(&raw[0])), nil
}

// AnyHeader is the three fields common to every routing message (§4.1):
// version, total length, and type. It is used to sniff a message before
// picking which concrete header to parse.
type AnyHeader struct {
	Msglen  uint16
	Version uint8
	Type    uint8
}

// SizeofAnyHeader is the size of the common prefix.
var SizeofAnyHeader = int(unsafe.Sizeof(AnyHeader{}))

// RawAnyHeader is the []byte representation of an AnyHeader.
type RawAnyHeader []byte

// Parse casts the raw bytes into an *AnyHeader.
func (raw RawAnyHeader) Parse() (*AnyHeader, error) {
	if len(raw) < SizeofAnyHeader {
		return nil, ErrShortHeader
	}
	return (*AnyHeader)(unsafe.Pointer(&raw[0])), nil
}
