package rtmsg_test

import (
	"net/netip"
	"testing"

	"github.com/hostnetstate/kernelnet/rtmsg"
	"golang.org/x/sys/unix"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	dst := netip.MustParseAddr("8.8.8.8")
	gw := netip.MustParseAddr("192.0.2.1")

	msg := rtmsg.NewMessage(rtmsg.TypeGet, 42, 1234)
	msg.SetFlags(rtmsg.FlagUp | rtmsg.FlagStatic)
	if err := msg.AppendAddr(rtmsg.RoleDst, dst); err != nil {
		t.Fatalf("AppendAddr(dst): %v", err)
	}
	if err := msg.AppendAddr(rtmsg.RoleGateway, gw); err != nil {
		t.Fatalf("AppendAddr(gw): %v", err)
	}
	if err := msg.AppendNetmask(0 /* unsupported family */, 24); err == nil {
		t.Fatalf("AppendNetmask with bad family should fail")
	}

	buf := msg.Bytes()
	raw := rtmsg.RawRouteHeader(buf[:rtmsg.SizeofRouteHeader])
	hdr, err := raw.Parse()
	if err != nil {
		t.Fatalf("Parse header: %v", err)
	}
	if hdr.Seq != 42 || hdr.Pid != 1234 {
		t.Errorf("got seq=%d pid=%d, want 42/1234", hdr.Seq, hdr.Pid)
	}
	if !rtmsg.Flags(hdr.Flags).Has(rtmsg.FlagUp) {
		t.Errorf("expected FlagUp set")
	}

	seen := map[rtmsg.Role]netip.Addr{}
	for role, sa := range rtmsg.Decode(hdr.Addrs, buf[rtmsg.SizeofRouteHeader:]) {
		addr, ok := sa.Addr()
		if !ok {
			t.Errorf("role %d: could not decode address", role)
			continue
		}
		seen[role] = addr
	}

	if got, want := seen[rtmsg.RoleDst], dst; got != want {
		t.Errorf("dst = %v, want %v", got, want)
	}
	if got, want := seen[rtmsg.RoleGateway], gw; got != want {
		t.Errorf("gateway = %v, want %v", got, want)
	}
	if len(seen) != 2 {
		t.Errorf("expected exactly 2 decoded roles, got %d: %v", len(seen), seen)
	}
}

func TestDecodeTruncatedTailStopsSilently(t *testing.T) {
	msg := rtmsg.NewMessage(rtmsg.TypeGet, 1, 1)
	if err := msg.AppendAddr(rtmsg.RoleDst, netip.MustParseAddr("10.0.0.1")); err != nil {
		t.Fatal(err)
	}
	buf := msg.Bytes()
	tail := buf[rtmsg.SizeofRouteHeader:]

	// Truncate the tail mid-sockaddr; Decode must stop, not panic or error.
	truncated := tail[:len(tail)-4]
	hdr, err := rtmsg.RawRouteHeader(buf[:rtmsg.SizeofRouteHeader]).Parse()
	if err != nil {
		t.Fatal(err)
	}

	count := 0
	for range rtmsg.Decode(hdr.Addrs, truncated) {
		count++
	}
	if count != 0 {
		t.Errorf("expected truncated tail to yield no sockaddrs, got %d", count)
	}
}

func TestDecodeIsRestartable(t *testing.T) {
	msg := rtmsg.NewMessage(rtmsg.TypeGet, 1, 1)
	if err := msg.AppendAddr(rtmsg.RoleDst, netip.MustParseAddr("10.0.0.1")); err != nil {
		t.Fatal(err)
	}
	buf := msg.Bytes()
	hdr, err := rtmsg.RawRouteHeader(buf[:rtmsg.SizeofRouteHeader]).Parse()
	if err != nil {
		t.Fatal(err)
	}
	tail := buf[rtmsg.SizeofRouteHeader:]

	seq := rtmsg.Decode(hdr.Addrs, tail)
	first := 0
	for range seq {
		first++
	}
	second := 0
	for range seq {
		second++
	}
	if first != 1 || second != 1 {
		t.Errorf("expected both passes to yield 1 sockaddr, got %d then %d", first, second)
	}
}

func TestAppendLinkTruncatesName(t *testing.T) {
	msg := rtmsg.NewMessage(rtmsg.TypeIfInfo, 0, 0)
	if err := msg.AppendLink("a-very-long-interface-name"); err != nil {
		t.Fatal(err)
	}
	buf := msg.Bytes()
	hdr, err := rtmsg.RawRouteHeader(buf[:rtmsg.SizeofRouteHeader]).Parse()
	if err != nil {
		t.Fatal(err)
	}
	for role, sa := range rtmsg.Decode(hdr.Addrs, buf[rtmsg.SizeofRouteHeader:]) {
		if role != rtmsg.RoleIfp {
			continue
		}
		name, ok := sa.Name()
		if !ok {
			t.Fatalf("expected link name to decode")
		}
		if len(name) > 12 {
			t.Errorf("name %q exceeds 12-byte cap", name)
		}
	}
}

func TestAppendNetmaskHostRoute(t *testing.T) {
	msg := rtmsg.NewMessage(rtmsg.TypeAdd, 1, 1)
	if err := msg.AppendNetmask(unix.AF_INET, 32); err != nil {
		t.Fatal(err)
	}
}
