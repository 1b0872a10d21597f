package stcp

import (
	"context"
	"log/slog"
	"sync"

	"github.com/rs/xid"
)

// MuxFactory builds the EventMux for one accepted Conn, wiring that Conn's
// own AppDataReady/CloseRequested channels in alongside whatever
// NetworkData source the caller's NetService exposes (e.g.
// stcp/udpnet.Conn.Ready). Listener calls it once per Accept rather than
// sharing a single EventMux across every accepted Conn, since each Conn
// needs its own APP_DATA/APP_CLOSE_REQUESTED wiring.
type MuxFactory func(appDataReady, closeRequested <-chan struct{}) EventMux

// Listener is a passive multi-connection accept table: it owns the
// descriptor lifecycle for connections accepted over a shared NetService,
// tracking each live Conn by its id from Accept until its Run loop
// exits.
type Listener struct {
	net    NetService
	newMux MuxFactory
	log    *slog.Logger

	mu    sync.Mutex
	conns map[xid.ID]*Conn

	bufSize int
}

// NewListener constructs a Listener that accepts connections over net,
// calling newMux once per accepted Conn to build that Conn's EventMux. Two
// accepted Conns must never share an EventMux: each has its own
// AppDataReady/CloseRequested channels, and a shared mux would silently
// drop one Conn's wakeups to another's Wait call.
func NewListener(net NetService, newMux MuxFactory, bufSize int, log *slog.Logger) *Listener {
	return &Listener{
		net:     net,
		newMux:  newMux,
		log:     log,
		conns:   make(map[xid.ID]*Conn),
		bufSize: bufSize,
	}
}

// Accept opens a new passive connection over the Listener's NetService and
// blocks until its handshake completes, returning the Conn once
// ESTABLISHED. Accept starts the Conn's Run loop itself (on its own
// goroutine) before calling Conn.Accept, since Accept blocks on a channel
// only Run's segment processing can close; the loop keeps running for the
// connection's lifetime and removes it from the accept table on exit.
func (l *Listener) Accept(ctx context.Context) (*Conn, error) {
	id := xid.New()
	c := NewConn(id, l.net, l.bufSize, l.log)
	c.SetEventMux(l.newMux(c.AppDataReady(), c.CloseRequested()))
	l.mu.Lock()
	l.conns[id] = c
	l.mu.Unlock()

	go func() {
		if err := c.Run(ctx, l.net); err != nil && l.log != nil {
			l.log.Error("conn run exited", slog.String("conn", id.String()), slog.String("err", err.Error()))
		}
		l.Remove(id)
	}()

	if err := c.Accept(ctx); err != nil {
		l.Remove(id)
		return nil, err
	}
	return c, nil
}

// Remove drops a connection from the accept table once its Conn.Run loop
// has returned, e.g. after reaching StateClosed.
func (l *Listener) Remove(id xid.ID) {
	l.mu.Lock()
	delete(l.conns, id)
	l.mu.Unlock()
}

// Lookup returns the Conn for a given connection id, if still tracked.
func (l *Listener) Lookup(id xid.ID) (*Conn, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.conns[id]
	return c, ok
}

// Len reports how many connections the Listener currently tracks.
func (l *Listener) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.conns)
}
