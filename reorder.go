package stcp

// reorderBuffer holds received out-of-order segments: every entry has
// seq > rcv_nxt, keyed by seq, no duplicates. Buffered sequence space is
// charged against rcv_wnd and returned as entries drain.
type reorderBuffer struct {
	segs map[Value]reorderEntry
	used Size // sum of buffered segment lengths, subtracted from rcv_wnd
}

type reorderEntry struct {
	seg     Segment
	payload []byte
}

func newReorderBuffer() reorderBuffer {
	return reorderBuffer{segs: make(map[Value]reorderEntry)}
}

// has reports whether a segment with this seq is already buffered.
func (rb *reorderBuffer) has(seq Value) bool {
	_, ok := rb.segs[seq]
	return ok
}

// insert buffers an out-of-order segment.
func (rb *reorderBuffer) insert(seg Segment, payload []byte) {
	cp := append([]byte(nil), payload...)
	rb.segs[seg.SEQ] = reorderEntry{seg: seg, payload: cp}
	rb.used += seg.LEN()
}

// pop removes and returns the entry whose seq equals want, if buffered;
// used to drain the buffer once rcv_nxt catches up to it.
func (rb *reorderBuffer) pop(want Value) (reorderEntry, bool) {
	e, ok := rb.segs[want]
	if !ok {
		return reorderEntry{}, false
	}
	delete(rb.segs, want)
	rb.used -= e.seg.LEN()
	return e, true
}

func (rb *reorderBuffer) len() int { return len(rb.segs) }

func (rb *reorderBuffer) reset() {
	rb.segs = make(map[Value]reorderEntry)
	rb.used = 0
}
