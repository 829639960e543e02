//go:build darwin || freebsd || netbsd || openbsd || dragonfly

// Package routeprog adds and deletes static routes by sending RTM_ADD /
// RTM_DELETE messages on the shared routing socket. No acknowledgement
// is awaited -- success is the send itself, grounded on the teacher's
// netlink package treating a successful syscall write as sufficient
// without a reply round-trip.
package routeprog

import (
	"errors"
	"fmt"
	"net/netip"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/hostnetstate/kernelnet/klog"
	"github.com/hostnetstate/kernelnet/rtmsg"
	"github.com/hostnetstate/kernelnet/rtsock"
)

// ErrShortSend is returned when the kernel accepted fewer bytes than the
// message's length.
var ErrShortSend = errors.New("routeprog: short send")

// Programmer adds and removes static routes.
type Programmer struct {
	sock rtsock.Socket
	log  klog.Logger
	seq  int32
}

// New returns a Programmer issuing requests on sock.
func New(sock rtsock.Socket, log klog.Logger) *Programmer {
	return &Programmer{sock: sock, log: log}
}

func (p *Programmer) nextSeq() int32 { return atomic.AddInt32(&p.seq, 1) }

// AddRoute programs dst via the given optional gateway/interface. src is
// accepted for symmetry with the upward API and is not sent.
func (p *Programmer) AddRoute(dst netip.Prefix, gw, src *netip.Addr, ifname *string) error {
	return p.program(rtmsg.TypeAdd, dst, gw, ifname, 0)
}

// DelRoute removes the route previously installed by AddRoute with the
// same parameters.
func (p *Programmer) DelRoute(dst netip.Prefix, gw, src *netip.Addr, ifname *string) error {
	return p.program(rtmsg.TypeDelete, dst, gw, ifname, 0)
}

// program builds and sends one routing message, recursing at most once
// to split a zero-length-prefix default route into two /1 half-routes
// (the kernel special-cases 0/0 on these families).
func (p *Programmer) program(typ rtmsg.Type, dst netip.Prefix, gw *netip.Addr, ifname *string, depth int) error {
	if dst.Bits() == 0 && depth == 0 {
		return p.programDefaultSplit(typ, dst, gw, ifname)
	}

	msg := rtmsg.NewMessage(typ, p.nextSeq(), int32(p.sock.Pid()))
	flags := rtmsg.FlagUp | rtmsg.FlagStatic
	host := dst.Bits() == dst.Addr().BitLen()
	if host {
		flags |= rtmsg.FlagHost | rtmsg.FlagGateway
	}
	if gw != nil {
		flags |= rtmsg.FlagGateway
	}
	msg.SetFlags(flags)

	if err := msg.AppendAddr(rtmsg.RoleDst, dst.Addr()); err != nil {
		return fmt.Errorf("routeprog: %w", err)
	}
	if !host {
		family := familyOf(dst.Addr())
		if err := msg.AppendNetmask(family, dst.Bits()); err != nil {
			return fmt.Errorf("routeprog: %w", err)
		}
	}
	if ifname != nil {
		if err := msg.AppendLink(*ifname); err != nil {
			return fmt.Errorf("routeprog: %w", err)
		}
	}
	if gw != nil {
		if err := msg.AppendAddr(rtmsg.RoleGateway, *gw); err != nil {
			return fmt.Errorf("routeprog: %w", err)
		}
	}

	out := msg.Bytes()
	n, err := p.sock.Send(out)
	if err != nil {
		p.log.Log(klog.Warn, "routeprog", "sending route for %v: %v", dst, err)
		return err
	}
	if n < len(out) {
		p.log.Log(klog.Warn, "routeprog", "short send (%d/%d bytes) for %v", n, len(out), dst)
		return ErrShortSend
	}
	return nil
}

func (p *Programmer) programDefaultSplit(typ rtmsg.Type, dst netip.Prefix, gw *netip.Addr, ifname *string) error {
	topBit := dst.Addr()
	bytes := topBit.As16()
	if topBit.Is4() {
		b := topBit.As4()
		b[0] |= 0x80
		topBit = netip.AddrFrom4(b)
	} else {
		bytes[0] |= 0x80
		topBit = netip.AddrFrom16(bytes)
	}
	half := netip.PrefixFrom(topBit, 1)
	if err := p.program(typ, half, gw, ifname, 1); err != nil {
		return err
	}
	second := netip.PrefixFrom(dst.Addr(), 1)
	return p.program(typ, second, gw, ifname, 1)
}

func familyOf(a netip.Addr) uint8 {
	if a.Is4() {
		return unix.AF_INET
	}
	return unix.AF_INET6
}
