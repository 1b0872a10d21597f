// Package udpnet implements stcp.NetService over a net.UDPConn, carrying
// STCP segments directly as UDP payloads; the wire format needs no
// further encapsulation of its own.
package udpnet

import (
	"context"
	"errors"
	"net"
	"sync"
)

// ErrNoPeer is returned by SendSegment on an unconnected socket before
// the first inbound datagram has established who the peer is.
var ErrNoPeer = errors.New("udpnet: peer address not yet known")

// Conn adapts a *net.UDPConn to stcp.NetService. A background goroutine
// owns the socket's read side exclusively, queueing whole datagrams so
// RecvSegment never re-reads the kernel socket directly (a zero-length
// UDP Read still dequeues and truncates the pending datagram, so polling
// readiness and consuming the payload must be the same read).
//
// The socket may be connected (net.DialUDP) or unconnected
// (net.ListenUDP). An unconnected socket has no destination for Write, so
// Conn locks onto the source address of the first datagram it receives,
// replies there with WriteToUDP, and drops datagrams from any other
// address; a listener can then answer its one peer without knowing the
// address up front.
type Conn struct {
	uc        *net.UDPConn
	connected bool

	mu    sync.Mutex
	raddr *net.UDPAddr // set by readLoop on an unconnected socket

	queue chan []byte
	ready chan struct{}

	errOnce chan error
}

// New wraps a UDP socket, connected or not, and starts its receive
// goroutine.
func New(uc *net.UDPConn) *Conn {
	c := &Conn{
		uc:        uc,
		connected: uc.RemoteAddr() != nil,
		queue:     make(chan []byte, 16),
		ready:     make(chan struct{}, 1),
		errOnce:   make(chan error, 1),
	}
	go c.readLoop()
	return c
}

func (c *Conn) readLoop() {
	buf := make([]byte, 2048)
	for {
		n, from, err := c.uc.ReadFromUDP(buf)
		if err != nil {
			select {
			case c.errOnce <- err:
			default:
			}
			return
		}
		if n == 0 {
			continue
		}
		if !c.connected && !c.adoptPeer(from) {
			continue
		}
		datagram := append([]byte(nil), buf[:n]...)
		c.queue <- datagram
		select {
		case c.ready <- struct{}{}:
		default:
		}
	}
}

// adoptPeer records from as the socket's one peer on first contact and
// reports whether a datagram from this address should be accepted.
func (c *Conn) adoptPeer(from *net.UDPAddr) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.raddr == nil {
		c.raddr = from
		return true
	}
	return c.raddr.IP.Equal(from.IP) && c.raddr.Port == from.Port
}

// Ready fires whenever a received datagram is queued, for wiring into an
// EventMux (e.g. the eventmux package's Channel NetworkData source).
func (c *Conn) Ready() <-chan struct{} { return c.ready }

// SendSegment writes one encoded segment as a single UDP datagram. On an
// unconnected socket it goes to the adopted peer, or fails with ErrNoPeer
// if no datagram has arrived yet.
func (c *Conn) SendSegment(b []byte) error {
	if c.connected {
		_, err := c.uc.Write(b)
		return err
	}
	c.mu.Lock()
	raddr := c.raddr
	c.mu.Unlock()
	if raddr == nil {
		return ErrNoPeer
	}
	_, err := c.uc.WriteToUDP(b, raddr)
	return err
}

// RecvSegment pops one already-received datagram into b, blocking until
// one is queued or ctx is done. If another datagram is already queued
// behind the one just popped, RecvSegment re-arms Ready so a caller that
// only reacts to Ready (e.g. Conn.Run via an EventMux) does not leave it
// sitting unprocessed until some unrelated wakeup.
func (c *Conn) RecvSegment(ctx context.Context, b []byte) (int, error) {
	select {
	case d := <-c.queue:
		c.rearmIfPending()
		return copy(b, d), nil
	case err := <-c.errOnce:
		return 0, err
	case <-ctx.Done():
		return 0, ctx.Err()
	default:
	}
	select {
	case d := <-c.queue:
		c.rearmIfPending()
		return copy(b, d), nil
	case err := <-c.errOnce:
		return 0, err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (c *Conn) rearmIfPending() {
	if len(c.queue) == 0 {
		return
	}
	select {
	case c.ready <- struct{}{}:
	default:
	}
}
