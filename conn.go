package stcp

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/ardnew/stcp/internal"
	"github.com/rs/xid"
)

// ErrClosed is returned by Read/Write once a Conn has torn down.
var ErrClosed = errors.New("stcp: use of closed connection")

// Conn is the goroutine-safe connection handle applications use. It owns
// a ControlBlock plus the two application-facing ring buffers, and runs
// the event loop on a dedicated goroutine: a mutex guards buffer handoff
// between API-calling goroutines and the loop goroutine, with blocking
// Read/Write spin-polling via an exponential backoff, while the loop
// itself waits on an explicit EventMux.
type Conn struct {
	cb *ControlBlock

	mu     sync.Mutex
	rx     internal.Ring // bytes delivered from the peer, awaiting app Read
	tx     internal.Ring // bytes from app Write, awaiting segmentation
	closed bool

	unblocked chan struct{}
	finSeen   chan struct{}

	// appDataReady and closeRequested are the signal sources a caller
	// wires into its EventMux for EventAppData/EventAppCloseRequested;
	// only Write/Close ever send on them, and only Run ever receives,
	// keeping the ControlBlock itself single-goroutine-owned.
	appDataReady   chan struct{}
	closeRequested chan struct{}

	mux EventMux
	log *slog.Logger

	closeOnce sync.Once
}

// connPipe adapts Conn's ring buffers to the AppService interface the
// ControlBlock consumes; it is the bridge between the loop goroutine
// (calling Send/Recv/Unblock/Fin under the ControlBlock's single-threaded
// model) and the mutex-guarded buffers API callers read/write. Recv is also
// how Run itself drains staged Write bytes before handing them to
// ControlBlock.Send, so the loop goes through the same seam a real
// AppService collaborator would.
type connPipe struct{ c *Conn }

func (p connPipe) Recv(b []byte) (int, error) {
	p.c.mu.Lock()
	defer p.c.mu.Unlock()
	return p.c.tx.Read(b)
}

func (p connPipe) Send(b []byte) (int, error) {
	p.c.mu.Lock()
	defer p.c.mu.Unlock()
	return p.c.rx.Write(b)
}

func (p connPipe) Unblock() {
	select {
	case <-p.c.unblocked:
	default:
		close(p.c.unblocked)
	}
}

func (p connPipe) Fin() {
	select {
	case <-p.c.finSeen:
	default:
		close(p.c.finSeen)
	}
}

// NewConn constructs a Conn backed by net. bufSize sizes both
// application ring buffers. Call SetEventMux before Run/Dial/Accept — it
// is split out from construction because a caller's EventMux typically
// needs to be wired from this Conn's own AppDataReady/CloseRequested
// channels.
func NewConn(id xid.ID, net NetService, bufSize int, log *slog.Logger) *Conn {
	c := &Conn{
		rx:             internal.NewRing(bufSize),
		tx:             internal.NewRing(bufSize),
		unblocked:      make(chan struct{}),
		finSeen:        make(chan struct{}),
		appDataReady:   make(chan struct{}, 1),
		closeRequested: make(chan struct{}, 1),
		log:            log,
	}
	c.cb = NewControlBlock(Config{ID: id, Net: net, App: connPipe{c}, Logger: log})
	return c
}

// SetEventMux installs the EventMux Run will wait on.
func (c *Conn) SetEventMux(mux EventMux) { c.mux = mux }

// ControlBlock exposes the underlying ControlBlock, e.g. for tests that
// want to drive segments directly without a real NetService/EventMux.
func (c *Conn) ControlBlock() *ControlBlock { return c.cb }

// AppDataReady fires whenever Write has staged new bytes; wire it into the
// EventMux as the APP_DATA source (see stcp/eventmux.Channel).
func (c *Conn) AppDataReady() <-chan struct{} { return c.appDataReady }

// CloseRequested fires once Close has been called; wire it into the
// EventMux as the APP_CLOSE_REQUESTED source.
func (c *Conn) CloseRequested() <-chan struct{} { return c.closeRequested }

func signalNonBlocking(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// Dial performs an active open and blocks until ESTABLISHED or ctx is done.
func (c *Conn) Dial(ctx context.Context) error {
	if err := c.cb.Open(OpenActive); err != nil {
		return err
	}
	return c.awaitEstablished(ctx)
}

// Accept performs a passive open and blocks until ESTABLISHED or ctx is
// done. It does not read segments itself: Run, already running on its own
// goroutine, dispatches the inbound handshake segments.
func (c *Conn) Accept(ctx context.Context) error {
	if err := c.cb.Open(OpenPassive); err != nil {
		return err
	}
	return c.awaitEstablished(ctx)
}

func (c *Conn) awaitEstablished(ctx context.Context) error {
	select {
	case <-c.unblocked:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Read drains delivered application bytes, blocking with an exponential
// backoff until data is available, the peer sent FIN with nothing left
// buffered, or the connection closed.
func (c *Conn) Read(b []byte) (int, error) {
	bo := internal.NewBackoff()
	for {
		c.mu.Lock()
		n, _ := c.rx.Read(b)
		closed := c.closed
		c.mu.Unlock()
		if n > 0 {
			bo.Hit()
			return n, nil
		}
		if closed {
			return 0, ErrClosed
		}
		select {
		case <-c.finSeen:
			c.mu.Lock()
			n, _ = c.rx.Read(b)
			c.mu.Unlock()
			if n > 0 {
				return n, nil
			}
			return 0, io.EOF
		default:
		}
		bo.Miss()
	}
}

// Write stages bytes for the segmenter, blocking with an exponential
// backoff while the outgoing ring buffer is full.
func (c *Conn) Write(b []byte) (int, error) {
	bo := internal.NewBackoff()
	total := 0
	for len(b) > 0 {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return total, ErrClosed
		}
		n, err := c.tx.Write(b)
		c.mu.Unlock()
		if n > 0 {
			signalNonBlocking(c.appDataReady)
			total += n
			b = b[n:]
			bo.Hit()
			continue
		}
		if err != nil && !errors.Is(err, internal.ErrBufferFull) {
			return total, err
		}
		bo.Miss()
	}
	return total, nil
}

// Close requests teardown. It only signals the request; the event loop
// goroutine (Run) is the sole caller of ControlBlock.Close, since the
// ControlBlock is exclusively owned by that goroutine. Further Writes are
// rejected immediately; already-buffered bytes are still delivered by Run
// before FIN is sent.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		signalNonBlocking(c.closeRequested)
	})
	return nil
}

// Run drives the event loop until the ControlBlock reports done or ctx is
// cancelled. It is meant to run on its own goroutine, started once per
// Conn.
func (c *Conn) Run(ctx context.Context, net NetService) error {
	buf := make([]byte, MSS)
	closePending := false
	for {
		if c.cb.Done() {
			c.mu.Lock()
			c.closed = true
			c.mu.Unlock()
			return nil
		}

		deadline, haveDeadline := c.cb.NextDeadline()
		waitDeadline := time.Time{}
		if haveDeadline {
			waitDeadline = deadline
		}

		ev, err := c.mux.Wait(ctx, waitDeadline)
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if ev.Has(EventTimeout) {
			c.cb.Tick(time.Now())
		}
		if ev.Has(EventNetworkData) {
			n, err := net.RecvSegment(ctx, buf)
			if err == nil && n > 0 {
				f, ferr := DecodeFrame(buf[:n])
				if ferr == nil {
					_ = c.cb.OnSegment(f.Segment, f.Payload)
				}
			}
		}
		if ev.Has(EventAppData) {
			c.mu.Lock()
			pending := c.tx.Len()
			c.mu.Unlock()
			if pending > 0 {
				chunk := make([]byte, pending)
				n, _ := (connPipe{c}).Recv(chunk)
				if n > 0 {
					sent, serr := c.cb.Send(chunk[:n])
					if serr != nil {
						sent = 0
					}
					if sent < n {
						// Window didn't admit the whole chunk (or Send refused
						// outright): put the remainder back for the next
						// APP_DATA/ACK-widened iteration.
						c.mu.Lock()
						_, _ = c.tx.Write(chunk[sent:n])
						c.mu.Unlock()
						signalNonBlocking(c.appDataReady)
					}
				}
			}
		}
		if ev.Has(EventAppCloseRequested) {
			closePending = true
		}
		if closePending {
			// FIN waits until every staged byte has been handed to Send.
			c.mu.Lock()
			pending := c.tx.Len()
			c.mu.Unlock()
			if pending == 0 {
				_ = c.cb.Close()
				closePending = false
			}
		}
	}
}
