package stcp

import (
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/xid"
)

// LocalRecvWindow is the initial advertised receive window.
const LocalRecvWindow Size = 3072

// CongestionCeiling clamps the peer-advertised window this implementation
// will honor; there is no slow-start/AIMD, just this fixed ceiling.
const CongestionCeiling Size = 3072

// OpenKind selects active or passive connection establishment.
type OpenKind uint8

const (
	OpenActive OpenKind = iota
	OpenPassive
)

// Config bundles the collaborators and tunables a ControlBlock needs.
// Net and App are the lower-layer and application-facing collaborators;
// Logger may be nil to disable logging entirely (see logger.enabled).
type Config struct {
	ID     xid.ID
	Net    NetService
	App    AppService
	Logger *slog.Logger

	// FixedISS, when non-nil, pins the initial send sequence number
	// instead of drawing one at random from [0,255], for deterministic
	// testing.
	FixedISS *Value

	// Now overrides time.Now for deterministic tests; nil means time.Now.
	Now func() time.Time
}

// ControlBlock is the per-connection runtime: state, sequence-number
// bookkeeping, retransmit queue and reorder buffer. It is the protocol
// core of this module; Conn (conn.go) wraps it with the goroutine-safe
// API and the event loop that drives it.
type ControlBlock struct {
	logger

	// mu guards every field below against callers outside the event-loop
	// goroutine: MetricsCollector.Collect, invoked by the Prometheus scrape
	// handler's own goroutine, and Conn.Dial/Conn.Accept, which call Open
	// from the caller's goroutine while Run may already be running.
	mu sync.Mutex

	id  xid.ID
	now func() time.Time

	state State

	iss    Value
	sndNxt Value
	sndUna Value

	rcvNxt Value
	rcvWnd Size
	sndWnd Size

	done bool

	txq retransmitQueue
	rb  reorderBuffer

	net NetService
	app AppService
}

// NewControlBlock constructs a ControlBlock in StateClosed, ready for Open.
func NewControlBlock(cfg Config) *ControlBlock {
	id := cfg.ID
	if id.IsNil() {
		id = xid.New()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	cb := &ControlBlock{
		id:     id,
		now:    now,
		state:  StateClosed,
		rcvWnd: LocalRecvWindow,
		rb:     newReorderBuffer(),
		net:    cfg.Net,
		app:    cfg.App,
	}
	cb.setLogger(cfg.Logger, id.String())
	if cfg.FixedISS != nil {
		cb.iss = *cfg.FixedISS
	} else {
		cb.iss = Value(rand.Intn(256))
	}
	return cb
}

func (cb *ControlBlock) ID() xid.ID { return cb.id } // immutable after construction

func (cb *ControlBlock) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *ControlBlock) Done() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.done
}

func (cb *ControlBlock) RcvNxt() Value {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.rcvNxt
}

func (cb *ControlBlock) SndNxt() Value {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.sndNxt
}

// Snapshot reports the fields MetricsCollector exposes as gauges, taken
// atomically under mu.
type Snapshot struct {
	State         State
	RetransmitLen int
	InFlightBytes Size
	SendWindow    Size
	RecvWindow    Size
}

func (cb *ControlBlock) Snapshot() Snapshot {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return Snapshot{
		State:         cb.state,
		RetransmitLen: cb.txq.len(),
		InFlightBytes: cb.txq.inFlight(),
		SendWindow:    cb.sndWnd,
		RecvWindow:    cb.rcvWnd,
	}
}

// sendSpace returns how many sequence-space octets remain available to
// send without exceeding the peer's (ceiling-clamped) window: never more
// than snd_wnd minus the bytes already in flight.
func (cb *ControlBlock) sendSpace() Size {
	inFlight := cb.txq.inFlight()
	if inFlight >= cb.sndWnd {
		return 0
	}
	return cb.sndWnd - inFlight
}

// recvSpace returns the locally advertised receive window.
func (cb *ControlBlock) recvSpace() Size { return cb.rcvWnd }

// clampWindow updates snd_wnd = min(CongestionCeiling, wnd).
func (cb *ControlBlock) clampWindow(wnd Size) {
	if wnd > CongestionCeiling {
		wnd = CongestionCeiling
	}
	cb.sndWnd = wnd
}

// Open begins active or passive connection establishment. Active open
// transmits the initial SYN immediately and places it in the retransmit
// queue, so a lost SYN is retried by the same RTO machinery as any other
// segment; passive open only arms LISTEN and waits for an inbound SYN.
func (cb *ControlBlock) Open(kind OpenKind) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state != StateClosed {
		return errNeedClosedToOpen
	}
	switch kind {
	case OpenPassive:
		cb.state = StateListen
		cb.debug("listen", slog.String("state", cb.state.String()))
		return nil
	case OpenActive:
		cb.sndUna = cb.iss
		cb.sndNxt = cb.iss
		cb.state = StateSynSent
		seg := ClientSynSegment(cb.iss, cb.rcvWnd)
		cb.sndNxt.UpdateForward(seg.LEN())
		cb.enqueueAndSend(seg, nil)
		cb.debug("active open", slog.String("state", cb.state.String()))
		return nil
	default:
		return errInvalidState
	}
}

// Close begins application-requested teardown: FIN from ESTABLISHED
// enters FIN_WAIT_1, FIN from CLOSE_WAIT enters LAST_ACK.
func (cb *ControlBlock) Close() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	switch cb.state {
	case StateEstablished:
		cb.sendFin()
		cb.state = StateFinWait1
	case StateCloseWait:
		cb.sendFin()
		cb.state = StateLastAck
	case StateClosed:
		return nil
	default:
		return errInvalidState
	}
	cb.debug("close requested", slog.String("state", cb.state.String()))
	return nil
}

func (cb *ControlBlock) sendFin() {
	seg := Segment{SEQ: cb.sndNxt, ACK: cb.rcvNxt, WND: cb.rcvWnd, Flags: FlagFIN | FlagACK}
	cb.sndNxt.UpdateForward(seg.LEN())
	cb.enqueueAndSend(seg, nil)
}

// enqueueAndSend appends seg to the retransmit queue and transmits it now;
// every segment that carries SYN or FIN or payload goes through here so it
// is retried by the Go-Back-N scheduler.
func (cb *ControlBlock) enqueueAndSend(seg Segment, payload []byte) {
	cb.txq.push(seg, payload, cb.now())
	cb.transmit(seg, payload)
}

// transmit encodes and sends seg without touching the retransmit queue;
// used both for queued sends and for bare ACKs, which are never
// themselves retransmitted.
func (cb *ControlBlock) transmit(seg Segment, payload []byte) {
	cb.traceSeg("snd", cb.state, seg)
	if cb.net == nil {
		return
	}
	f := Frame{Segment: seg, Payload: payload}
	buf := make([]byte, f.WireLen())
	f.Encode(buf)
	if err := cb.net.SendSegment(buf); err != nil {
		cb.logerr("send segment", err)
	}
}

// sendBareAck emits a cumulative ACK for the current rcv_nxt/rcv_wnd with
// no payload and no SYN/FIN.
func (cb *ControlBlock) sendBareAck() {
	seg := Segment{SEQ: cb.sndNxt, ACK: cb.rcvNxt, WND: cb.rcvWnd, Flags: FlagACK}
	cb.transmit(seg, nil)
}

// Send implements the segmenter: chops data into ≤MaxPayload segments
// respecting the available send window, returning how many bytes were
// accepted (the remainder stays with the caller, to be retried once ACKs
// widen the window).
func (cb *ControlBlock) Send(data []byte) (int, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state != StateEstablished && cb.state != StateCloseWait {
		return 0, errConnectionClosing
	}
	sent := 0
	for len(data) > 0 {
		space := cb.sendSpace()
		if space == 0 {
			break
		}
		n := len(data)
		if Size(n) > space {
			n = int(space)
		}
		if n > MaxPayload {
			n = MaxPayload
		}
		chunk := data[:n]
		seg := Segment{
			SEQ:     cb.sndNxt,
			ACK:     cb.rcvNxt,
			DATALEN: Size(n),
			WND:     cb.rcvWnd,
			Flags:   FlagSYN | FlagACK,
		}
		cb.sndNxt.UpdateForward(seg.LEN())
		cb.enqueueAndSend(seg, chunk)
		sent += n
		data = data[n:]
	}
	return sent, nil
}

// Tick implements the Go-Back-N retransmission scheduler: on an expired
// entry it retransmits that entry and every later unacknowledged one, or
// abandons the connection when retries are exhausted or the connection is
// already on its way out.
func (cb *ControlBlock) Tick(now time.Time) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	idx := cb.txq.expired(now)
	if idx < 0 {
		return
	}
	e := cb.txq.at(idx)
	if cb.state.isTerminalLeaning() || e.retries >= MaxRetries {
		cb.warn("abandoning connection", slog.Int("retries", e.retries), slog.String("state", cb.state.String()))
		cb.txq.reset()
		cb.state = StateClosed
		cb.done = true
		return
	}
	e.retries++
	for i := idx; i < cb.txq.len(); i++ {
		re := cb.txq.at(i)
		if re.acked {
			continue
		}
		re.deadline = now.Add(RTO)
		cb.transmit(re.seg, re.payload)
	}
}

// NextDeadline reports the earliest pending retransmit deadline, for the
// event loop's wait-timeout computation.
func (cb *ControlBlock) NextDeadline() (time.Time, bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.txq.minDeadline()
}

// ackSweep applies an inbound cumulative ACK and purges newly-acked
// entries, reporting whether a FIN the local side sent was just
// acknowledged. An ACK outside [snd_una, snd_nxt] acknowledges either
// long-gone or never-sent data; it is dropped without touching the queue,
// and no RST is synthesized in reply.
func (cb *ControlBlock) ackSweep(ackNum Value) (finAcked bool) {
	if ackNum.LessThan(cb.sndUna) || !ackNum.LessThanEq(cb.sndNxt) {
		cb.trace("ignoring ack outside send window",
			slog.Uint64("ack", uint64(ackNum)),
			slog.Uint64("snd_una", uint64(cb.sndUna)),
			slog.Uint64("snd_nxt", uint64(cb.sndNxt)),
		)
		return false
	}
	newly := cb.txq.ackSweep(ackNum)
	for _, e := range newly {
		if e.seg.Flags.HasAll(FlagFIN) {
			finAcked = true
		}
	}
	cb.sndUna = cb.txq.purgeAcked(cb.sndNxt)
	return finAcked
}
