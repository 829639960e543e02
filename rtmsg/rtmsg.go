//go:build darwin || freebsd || netbsd || openbsd || dragonfly

// Package rtmsg parses and builds BSD routing-socket messages: the
// fixed-header-plus-variable-sockaddr-list datagrams exchanged with the
// kernel over an AF_ROUTE socket to observe and mutate interface, address,
// and route state.
//
// The struct-parsing texture here (a raw byte wrapper with a Parse method
// that casts into a fixed Go struct) follows inetdiag.RawInetDiagMsg /
// RawNlMsgHdr from the teacher this module is grounded on; the bitmask
// iteration over RTAX_* roles follows the reference BSD route.go
// implementation consulted for this package (see DESIGN.md).
package rtmsg

import (
	"errors"

	"golang.org/x/sys/unix"
)

// Version is the wire-format version this codec understands. A message
// whose Version byte differs is rejected by the caller (receiver), not by
// the codec itself -- decoding is a pure function with no logging.
const Version = unix.RTM_VERSION

// Type identifies the kind of routing message.
type Type uint8

// Message types this module dispatches on. Other RTM_* values (RTM_CHANGE,
// RTM_LOSING, RTM_REDIRECT, RTM_MISS, RTM_LOCK, RTM_RESOLVE, RTM_NEWMADDR,
// RTM_DELMADDR, ...) are received but ignored -- unknown types are simply
// skipped by the receiver's dispatch switch.
const (
	TypeAdd     Type = unix.RTM_ADD
	TypeDelete  Type = unix.RTM_DELETE
	TypeGet     Type = unix.RTM_GET
	TypeNewAddr Type = unix.RTM_NEWADDR
	TypeDelAddr Type = unix.RTM_DELADDR
	TypeIfInfo  Type = unix.RTM_IFINFO
)

// Flags mirrors the kernel's rtm_flags / ifa_flags field for the bits this
// module cares about.
type Flags int32

const (
	FlagUp      Flags = unix.RTF_UP
	FlagGateway Flags = unix.RTF_GATEWAY
	FlagHost    Flags = unix.RTF_HOST
	FlagStatic  Flags = unix.RTF_STATIC
)

// Has reports whether all bits in want are set.
func (f Flags) Has(want Flags) bool { return f&want == want }

// Errors returned by the decode side. Named in the teacher's
// ErrXxx-sentinel-plus-log style (see inetdiag.ErrParseFailed).
var (
	// ErrShortHeader is returned when a buffer is smaller than the fixed
	// header it claims to contain.
	ErrShortHeader = errors.New("rtmsg: buffer shorter than fixed header")
	// ErrBadLength describes a message whose self-declared length is
	// smaller than the fixed header length of its type; the receiver
	// reports it when it drops such a message.
	ErrBadLength = errors.New("rtmsg: declared msglen shorter than header")
)
