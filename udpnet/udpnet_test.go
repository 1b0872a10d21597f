package udpnet

import (
	"context"
	"net"
	"testing"
	"time"
)

// mustLoopbackPair returns two UDP sockets that reach each other over
// loopback: a is connected to b's bound port, while b is unconnected and
// adopts a as its peer on first receive.
func mustLoopbackPair(t *testing.T) (a, b *net.UDPConn) {
	t.Helper()
	b, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("listen b: %v", err)
	}
	a, err = net.DialUDP("udp", nil, b.LocalAddr().(*net.UDPAddr))
	if err != nil {
		t.Fatalf("dial a->b: %v", err)
	}
	return a, b
}

func TestConnSendRecvRoundTrip(t *testing.T) {
	a, b := mustLoopbackPair(t)
	defer a.Close()
	defer b.Close()

	ca := New(a)
	cb := New(b)

	msg := []byte("hello over udp")
	if err := ca.SendSegment(msg); err != nil {
		t.Fatalf("SendSegment: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	buf := make([]byte, 2048)
	n, err := cb.RecvSegment(ctx, buf)
	if err != nil {
		t.Fatalf("RecvSegment: %v", err)
	}
	if string(buf[:n]) != string(msg) {
		t.Fatalf("RecvSegment returned %q, want %q", buf[:n], msg)
	}
}

func TestConnReadyFiresOnArrival(t *testing.T) {
	a, b := mustLoopbackPair(t)
	defer a.Close()
	defer b.Close()

	ca := New(a)
	cb := New(b)

	if err := ca.SendSegment([]byte("x")); err != nil {
		t.Fatalf("SendSegment: %v", err)
	}

	select {
	case <-cb.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("Ready() never fired after a datagram arrived")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	buf := make([]byte, 64)
	n, err := cb.RecvSegment(ctx, buf)
	if err != nil {
		t.Fatalf("RecvSegment: %v", err)
	}
	if n != 1 {
		t.Fatalf("RecvSegment returned n=%d, want 1", n)
	}
}

// TestConnUnconnectedListenerRepliesToFirstPeer exercises the passive
// side: a socket from net.ListenUDP has no destination until the first
// datagram arrives, after which replies reach that sender.
func TestConnUnconnectedListenerRepliesToFirstPeer(t *testing.T) {
	listener, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer listener.Close()
	client, err := net.DialUDP("udp", nil, listener.LocalAddr().(*net.UDPAddr))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	srv := New(listener)
	cli := New(client)

	if err := srv.SendSegment([]byte("too early")); err != ErrNoPeer {
		t.Fatalf("send before first datagram = %v, want ErrNoPeer", err)
	}

	if err := cli.SendSegment([]byte("syn")); err != nil {
		t.Fatalf("client SendSegment: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	buf := make([]byte, 64)
	n, err := srv.RecvSegment(ctx, buf)
	if err != nil || string(buf[:n]) != "syn" {
		t.Fatalf("server RecvSegment = (%q,%v)", buf[:n], err)
	}

	if err := srv.SendSegment([]byte("synack")); err != nil {
		t.Fatalf("server SendSegment after adopting peer: %v", err)
	}
	n, err = cli.RecvSegment(ctx, buf)
	if err != nil || string(buf[:n]) != "synack" {
		t.Fatalf("client RecvSegment = (%q,%v)", buf[:n], err)
	}
}

func TestConnRecvSegmentHonorsContextCancellation(t *testing.T) {
	a, b := mustLoopbackPair(t)
	defer a.Close()
	defer b.Close()
	_ = New(a)
	cb := New(b)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	buf := make([]byte, 64)
	if _, err := cb.RecvSegment(ctx, buf); err == nil {
		t.Fatal("expected an error from an already-cancelled context")
	}
}
