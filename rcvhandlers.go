package stcp

import "log/slog"

// OnSegment is the event loop's NETWORK_DATA dispatch target. It applies
// the window-advertisement update common to every state and then routes
// to the per-state handler.
func (cb *ControlBlock) OnSegment(seg Segment, payload []byte) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.traceSeg("rcv", cb.state, seg)
	cb.clampWindow(seg.WND)

	switch cb.state {
	case StateClosed:
		return errInvalidState
	case StateListen:
		return cb.rcvListen(seg)
	case StateSynSent:
		return cb.rcvSynSent(seg)
	case StateSynRcvd:
		return cb.rcvSynRcvd(seg, payload)
	default:
		// ESTABLISHED, FIN_WAIT_1, FIN_WAIT_2, CLOSE_WAIT, LAST_ACK all
		// run the same receiver/ACK-processing/teardown algorithm; only
		// the post-processing state transition differs, applied inside
		// deliverInOrder/ackSweep callers below.
		return cb.rcvOpenOrClosing(seg, payload)
	}
}

// rcvListen handles the passive opener's first inbound segment: on an
// incoming SYN, record rcv_nxt, reply SYN+ACK, move to SYN_RECEIVED.
func (cb *ControlBlock) rcvListen(seg Segment) error {
	if !seg.isHandshakeSYN() {
		return errExpectedSYN
	}
	cb.rcvNxt = Add(seg.SEQ, 1)
	cb.state = StateSynRcvd
	reply := Segment{SEQ: cb.iss, ACK: cb.rcvNxt, WND: cb.rcvWnd, Flags: synack}
	cb.sndUna = cb.iss
	cb.sndNxt = Add(cb.iss, 1)
	cb.enqueueAndSend(reply, nil)
	cb.debug("syn received", slog.String("state", cb.state.String()))
	return nil
}

// rcvSynSent completes an active open on the peer's SYN+ACK, tolerating a
// bare SYN as a best-effort simultaneous open.
func (cb *ControlBlock) rcvSynSent(seg Segment) error {
	switch {
	case seg.Flags.HasAll(synack) && seg.ACK == Add(cb.iss, 1):
		cb.rcvNxt = Add(seg.SEQ, 1)
		cb.sndUna = Add(cb.iss, 1)
		cb.ackSweep(seg.ACK)
		cb.state = StateEstablished
		ack := Segment{SEQ: cb.sndNxt, ACK: cb.rcvNxt, WND: cb.rcvWnd, Flags: FlagACK}
		cb.transmit(ack, nil)
		cb.app.Unblock()
		cb.debug("established (active)", slog.String("state", cb.state.String()))
		return nil
	case seg.Flags == FlagSYN:
		// Simultaneous open: respond with SYN+ACK, move to SYN_RECEIVED;
		// the peer's subsequent ACK completes the handshake in
		// rcvSynRcvd.
		cb.rcvNxt = Add(seg.SEQ, 1)
		cb.state = StateSynRcvd
		reply := Segment{SEQ: cb.iss, ACK: cb.rcvNxt, WND: cb.rcvWnd, Flags: synack}
		cb.transmit(reply, nil)
		cb.debug("simultaneous open", slog.String("state", cb.state.String()))
		return nil
	}
	return errDropSegment
}

// rcvSynRcvd completes a passive open: an ACK with ack==iss+1 (possibly
// carrying SYN, possibly carrying data) completes the handshake.
func (cb *ControlBlock) rcvSynRcvd(seg Segment, payload []byte) error {
	if !seg.Flags.HasAny(FlagACK) || seg.ACK != Add(cb.iss, 1) {
		return errBadSegAck
	}
	cb.ackSweep(seg.ACK)
	cb.state = StateEstablished
	cb.app.Unblock()
	cb.debug("established (passive)", slog.String("state", cb.state.String()))
	if seg.IsDataBearing() {
		return cb.rcvOpenOrClosing(seg, payload)
	}
	return nil
}

// rcvOpenOrClosing implements the receiver/reorder-buffer algorithm
// together with ACK processing and the received-FIN transitions. It runs
// in every post-handshake state.
func (cb *ControlBlock) rcvOpenOrClosing(seg Segment, payload []byte) error {
	pureAck := !seg.Flags.HasAny(FlagSYN|FlagFIN) && seg.DATALEN == 0
	if pureAck {
		if seg.Flags.HasAny(FlagACK) {
			cb.onAck(seg.ACK)
		}
		return nil
	}

	if seg.Flags.HasAny(FlagACK) {
		cb.onAck(seg.ACK)
	}

	if seg.SEQ.LessThan(cb.rcvNxt) {
		// Stale segment: discard payload, re-ack rcv_nxt.
		cb.sendBareAck()
		return nil
	}
	if seg.SEQ != cb.rcvNxt {
		if cb.rb.has(seg.SEQ) {
			// Duplicate already buffered.
			cb.sendBareAck()
			return nil
		}
		if !seg.SEQ.InWindow(cb.rcvNxt, cb.rcvWnd) {
			// A segment at or past rcv_nxt+rcv_wnd falls outside the
			// window the reorder buffer was sized for: drop it rather
			// than grow the buffer past its ceiling.
			cb.sendBareAck()
			return nil
		}
		// Out-of-order: hold it until rcv_nxt catches up.
		cb.rb.insert(seg, payload)
		cb.rcvWnd -= seg.LEN()
		cb.sendBareAck()
		return nil
	}

	// In-order.
	cb.deliverInOrder(seg, payload)
	cb.drainReorderBuffer()
	cb.sendBareAck()
	return nil
}

// onAck runs the cumulative ACK processor and applies any teardown
// transition a newly-acknowledged FIN triggers.
func (cb *ControlBlock) onAck(ackNum Value) {
	finAcked := cb.ackSweep(ackNum)
	if !finAcked {
		return
	}
	switch cb.state {
	case StateFinWait1:
		cb.state = StateFinWait2
		cb.debug("fin acked", slog.String("state", cb.state.String()))
	case StateLastAck:
		cb.state = StateClosed
		cb.done = true
		cb.debug("fin acked, closed", slog.String("state", cb.state.String()))
	}
}

// deliverInOrder processes a single in-order segment: deliver payload,
// advance rcv_nxt, and handle FIN.
func (cb *ControlBlock) deliverInOrder(seg Segment, payload []byte) {
	if len(payload) > 0 {
		if _, err := cb.app.Send(payload); err != nil {
			cb.logerr("app deliver", err)
		}
	}
	cb.rcvNxt.UpdateForward(seg.LEN())

	if !seg.Flags.HasAll(FlagFIN) {
		return
	}
	cb.app.Fin()
	switch cb.state {
	case StateEstablished:
		cb.state = StateCloseWait
		cb.debug("peer fin, close_wait", slog.String("state", cb.state.String()))
	case StateFinWait1, StateFinWait2:
		cb.state = StateClosed
		cb.done = true
		cb.debug("peer fin, closed", slog.String("state", cb.state.String()))
	}
}

// drainReorderBuffer repeatedly pops the entry whose seq == rcv_nxt until
// none remains, returning released sequence-space to rcv_wnd as each
// entry is delivered.
func (cb *ControlBlock) drainReorderBuffer() {
	for {
		e, ok := cb.rb.pop(cb.rcvNxt)
		if !ok {
			return
		}
		cb.rcvWnd += e.seg.LEN()
		cb.deliverInOrder(e.seg, e.payload)
	}
}
