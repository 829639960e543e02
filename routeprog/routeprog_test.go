//go:build darwin || freebsd || netbsd || openbsd || dragonfly

package routeprog_test

import (
	"net/netip"
	"testing"

	"github.com/hostnetstate/kernelnet/kerneltest"
	"github.com/hostnetstate/kernelnet/klog"
	"github.com/hostnetstate/kernelnet/rtmsg"
	"github.com/hostnetstate/kernelnet/routeprog"
)

func parseSent(t *testing.T, raw []byte) (*rtmsg.RouteHeader, []byte) {
	t.Helper()
	hdr, err := rtmsg.RawRouteHeader(raw[:rtmsg.SizeofRouteHeader]).Parse()
	if err != nil {
		t.Fatalf("parsing sent message: %v", err)
	}
	return hdr, raw[rtmsg.SizeofRouteHeader:]
}

func TestAddRouteGatewayRoute(t *testing.T) {
	sock := kerneltest.NewFakeSocket(1)
	p := routeprog.New(sock, klog.Discard{})

	dst := netip.MustParsePrefix("192.0.2.0/24")
	gw := netip.MustParseAddr("198.51.100.1")
	if err := p.AddRoute(dst, &gw, nil, nil); err != nil {
		t.Fatalf("AddRoute: %v", err)
	}

	sent := sock.Sent()
	if len(sent) != 1 {
		t.Fatalf("got %d sends, want 1", len(sent))
	}
	hdr, tail := parseSent(t, sent[0])
	flags := rtmsg.Flags(hdr.Flags)
	if !flags.Has(rtmsg.FlagUp | rtmsg.FlagStatic | rtmsg.FlagGateway) {
		t.Fatalf("flags = %v, want UP|STATIC|GATEWAY set", flags)
	}
	if flags.Has(rtmsg.FlagHost) {
		t.Fatalf("a /24 route must not set HOST")
	}
	var sawDst, sawNetmask, sawGw bool
	for role, sa := range rtmsg.Decode(hdr.Addrs, tail) {
		addr, _ := sa.Addr()
		switch role {
		case rtmsg.RoleDst:
			sawDst = addr == dst.Addr()
		case rtmsg.RoleNetmask:
			sawNetmask = true
		case rtmsg.RoleGateway:
			sawGw = addr == gw
		}
	}
	if !sawDst || !sawNetmask || !sawGw {
		t.Fatalf("missing expected roles: dst=%v netmask=%v gw=%v", sawDst, sawNetmask, sawGw)
	}
}

func TestAddRouteHostRouteOmitsNetmask(t *testing.T) {
	sock := kerneltest.NewFakeSocket(1)
	p := routeprog.New(sock, klog.Discard{})

	dst := netip.MustParsePrefix("203.0.113.5/32")
	if err := p.AddRoute(dst, nil, nil, nil); err != nil {
		t.Fatalf("AddRoute: %v", err)
	}

	sent := sock.Sent()
	hdr, tail := parseSent(t, sent[0])
	flags := rtmsg.Flags(hdr.Flags)
	if !flags.Has(rtmsg.FlagHost) {
		t.Fatalf("host route flags = %v, want HOST set", flags)
	}
	if !flags.Has(rtmsg.FlagGateway) {
		t.Fatalf("host route flags = %v, want GATEWAY set alongside HOST", flags)
	}
	for role := range rtmsg.Decode(hdr.Addrs, tail) {
		if role == rtmsg.RoleNetmask {
			t.Fatalf("host route must not carry a netmask role")
		}
	}
}

func TestAddRouteDefaultSplitsIntoTwoHalves(t *testing.T) {
	sock := kerneltest.NewFakeSocket(1)
	p := routeprog.New(sock, klog.Discard{})

	dst := netip.MustParsePrefix("0.0.0.0/0")
	gw := netip.MustParseAddr("192.0.2.1")
	if err := p.AddRoute(dst, &gw, nil, nil); err != nil {
		t.Fatalf("AddRoute: %v", err)
	}

	sent := sock.Sent()
	if len(sent) != 2 {
		t.Fatalf("got %d sends for a default route, want 2", len(sent))
	}
	var dests []netip.Addr
	for _, raw := range sent {
		hdr, tail := parseSent(t, raw)
		flags := rtmsg.Flags(hdr.Flags)
		if flags.Has(rtmsg.FlagHost) {
			t.Fatalf("default-route halves must not set HOST")
		}
		if !flags.Has(rtmsg.FlagUp | rtmsg.FlagStatic | rtmsg.FlagGateway) {
			t.Fatalf("default-route halves must set UP|STATIC|GATEWAY, got %v", flags)
		}
		for role, sa := range rtmsg.Decode(hdr.Addrs, tail) {
			if role == rtmsg.RoleDst {
				addr, _ := sa.Addr()
				dests = append(dests, addr)
			}
		}
	}
	want := map[string]bool{"0.0.0.0": true, "128.0.0.0": true}
	for _, d := range dests {
		delete(want, d.String())
	}
	if len(want) != 0 {
		t.Fatalf("missing expected half-route destinations: %v (got %v)", want, dests)
	}
}

func TestDelRouteWithInterfaceName(t *testing.T) {
	sock := kerneltest.NewFakeSocket(1)
	p := routeprog.New(sock, klog.Discard{})

	dst := netip.MustParsePrefix("10.0.0.0/8")
	ifname := "eth0"
	if err := p.DelRoute(dst, nil, nil, &ifname); err != nil {
		t.Fatalf("DelRoute: %v", err)
	}
	sent := sock.Sent()
	hdr, tail := parseSent(t, sent[0])
	if rtmsg.Type(hdr.Type) != rtmsg.TypeDelete {
		t.Fatalf("Type = %v, want TypeDelete", hdr.Type)
	}
	var sawIfp bool
	for role, sa := range rtmsg.Decode(hdr.Addrs, tail) {
		if role == rtmsg.RoleIfp {
			name, ok := sa.Name()
			sawIfp = ok && name == ifname
		}
	}
	if !sawIfp {
		t.Fatalf("expected an IFP sockaddr naming %q", ifname)
	}
}
