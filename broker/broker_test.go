//go:build darwin || freebsd || netbsd || openbsd || dragonfly

package broker_test

import (
	"context"
	"net/netip"
	"testing"
	"time"

	"github.com/hostnetstate/kernelnet/broker"
	"github.com/hostnetstate/kernelnet/kerneltest"
	"github.com/hostnetstate/kernelnet/klog"
	"github.com/hostnetstate/kernelnet/rtmsg"
)

// deliverReply mimics what the receiver does for every message it reads:
// parse the fixed header and hand (pid, seq, flags, addrs, tail) to the
// broker.
func deliverReply(t *testing.T, br *broker.Broker, msg *rtmsg.Message) {
	t.Helper()
	raw := msg.Bytes()
	hdr, err := rtmsg.RawRouteHeader(raw[:rtmsg.SizeofRouteHeader]).Parse()
	if err != nil {
		t.Fatalf("parsing built reply: %v", err)
	}
	br.Deliver(hdr.Pid, hdr.Seq, rtmsg.Flags(hdr.Flags), hdr.Addrs, raw[rtmsg.SizeofRouteHeader:])
}

// waitForSend polls sock.Sent() until exactly one request has been sent
// and returns its parsed header.
func waitForSend(t *testing.T, sock *kerneltest.FakeSocket) *rtmsg.RouteHeader {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		sent := sock.Sent()
		if len(sent) == 1 {
			hdr, err := rtmsg.RawRouteHeader(sent[0][:rtmsg.SizeofRouteHeader]).Parse()
			if err != nil {
				t.Fatalf("parsing sent request: %v", err)
			}
			return hdr
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("no request observed within deadline")
	return nil
}

func TestGetNexthopDecodesGatewayReply(t *testing.T) {
	sock := kerneltest.NewFakeSocket(4242)
	br := broker.New(sock, klog.Discard{})
	gw := netip.MustParseAddr("192.0.2.1")
	dest := netip.MustParseAddr("8.8.8.8")

	go func() {
		hdr := waitForSend(t, sock)
		reply := rtmsg.NewMessage(rtmsg.TypeGet, hdr.Seq, hdr.Pid)
		reply.SetFlags(rtmsg.FlagUp | rtmsg.FlagGateway)
		if err := reply.AppendAddr(rtmsg.RoleGateway, gw); err != nil {
			t.Errorf("building reply: %v", err)
			return
		}
		deliverReply(t, br, reply)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	got, ok := br.GetNexthop(ctx, dest, netip.Addr{})
	if !ok || got != gw {
		t.Fatalf("GetNexthop = %v, %v; want %v, true", got, ok, gw)
	}
}

func TestGetNexthopHostRouteUsesDst(t *testing.T) {
	sock := kerneltest.NewFakeSocket(100)
	br := broker.New(sock, klog.Discard{})
	dst := netip.MustParseAddr("203.0.113.9")

	go func() {
		hdr := waitForSend(t, sock)
		reply := rtmsg.NewMessage(rtmsg.TypeGet, hdr.Seq, hdr.Pid)
		reply.SetFlags(rtmsg.FlagUp | rtmsg.FlagHost)
		if err := reply.AppendAddr(rtmsg.RoleDst, dst); err != nil {
			t.Errorf("building reply: %v", err)
			return
		}
		deliverReply(t, br, reply)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	got, ok := br.GetNexthop(ctx, dst, netip.Addr{})
	if !ok || got != dst {
		t.Fatalf("GetNexthop(host route) = %v, %v; want %v, true", got, ok, dst)
	}
}

func TestGetSourceAddrDecodesIfaReply(t *testing.T) {
	sock := kerneltest.NewFakeSocket(55)
	br := broker.New(sock, klog.Discard{})
	src := netip.MustParseAddr("10.1.0.5")

	go func() {
		hdr := waitForSend(t, sock)
		reply := rtmsg.NewMessage(rtmsg.TypeGet, hdr.Seq, hdr.Pid)
		reply.SetFlags(rtmsg.FlagUp)
		if err := reply.AppendAddr(rtmsg.RoleIfa, src); err != nil {
			t.Errorf("building reply: %v", err)
			return
		}
		deliverReply(t, br, reply)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	got, ok := br.GetSourceAddr(ctx, netip.MustParseAddr("9.9.9.9"), netip.Addr{})
	if !ok || got != src {
		t.Fatalf("GetSourceAddr = %v, %v; want %v, true", got, ok, src)
	}
}

func TestGetSourceAddrTimesOut(t *testing.T) {
	sock := kerneltest.NewFakeSocket(7)
	br := broker.New(sock, klog.Discard{})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, ok := br.GetSourceAddr(ctx, netip.MustParseAddr("1.2.3.4"), netip.Addr{})
	if ok {
		t.Fatalf("expected timeout, got a reply")
	}
}

func TestMismatchedSequenceIsIgnored(t *testing.T) {
	sock := kerneltest.NewFakeSocket(9)
	br := broker.New(sock, klog.Discard{})
	gw := netip.MustParseAddr("192.0.2.254")

	go func() {
		hdr := waitForSend(t, sock)

		wrong := rtmsg.NewMessage(rtmsg.TypeGet, hdr.Seq+1000, hdr.Pid)
		wrong.SetFlags(rtmsg.FlagUp | rtmsg.FlagGateway)
		wrong.AppendAddr(rtmsg.RoleGateway, netip.MustParseAddr("10.0.0.1"))
		deliverReply(t, br, wrong)

		right := rtmsg.NewMessage(rtmsg.TypeGet, hdr.Seq, hdr.Pid)
		right.SetFlags(rtmsg.FlagUp | rtmsg.FlagGateway)
		right.AppendAddr(rtmsg.RoleGateway, gw)
		deliverReply(t, br, right)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	got, ok := br.GetNexthop(ctx, netip.MustParseAddr("8.8.8.8"), netip.Addr{})
	if !ok || got != gw {
		t.Fatalf("GetNexthop = %v, %v; want %v, true", got, ok, gw)
	}
}
