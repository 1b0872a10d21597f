package stcp

import "math/bits"

// Flags is the set of control bits carried by a [Segment]. STCP restricts
// the flag set to the three bits the protocol actually uses: RST, PSH,
// URG, ECE, CWR, NS and TCP options are all unsupported. The bit positions
// still follow the host TCP header convention (SYN, ACK, FIN at standard
// positions), so RST/PSH are reserved, unused, bit positions rather than
// being reassigned to ACK.
type Flags uint8

const (
	FlagFIN         Flags = 1 << iota // FlagFIN - no more data from sender.
	FlagSYN                           // FlagSYN - synchronize sequence numbers. Also marks data-bearing segments; see [Segment] doc.
	flagRSTReserved                   // reserved: STCP never synthesizes RST, but its bit position is kept so ACK stays aligned with the standard header layout.
	flagPSHReserved                   // reserved: STCP has no PSH semantics, bit position kept for the same reason.
	FlagACK                           // FlagACK - acknowledgment field significant.
)

const flagMask = FlagFIN | FlagSYN | FlagACK

// The SYN|ACK and FIN|ACK combinations recur throughout the state machine.
const (
	synack = FlagSYN | FlagACK
	finack = FlagFIN | FlagACK
)

// HasAll reports whether every bit in mask is set in flags.
func (flags Flags) HasAll(mask Flags) bool { return flags&mask == mask }

// HasAny reports whether at least one bit in mask is set in flags.
func (flags Flags) HasAny(mask Flags) bool { return flags&mask != 0 }

// Mask clears any bits outside the three flags this protocol defines.
func (flags Flags) Mask() Flags { return flags & flagMask }

// String renders flags as e.g. "[SYN,ACK]".
func (flags Flags) String() string {
	switch flags {
	case 0:
		return "[]"
	case synack:
		return "[SYN,ACK]"
	case finack:
		return "[FIN,ACK]"
	case FlagACK:
		return "[ACK]"
	case FlagSYN:
		return "[SYN]"
	case FlagFIN:
		return "[FIN]"
	}
	buf := make([]byte, 0, 2+4*bits.OnesCount8(uint8(flags)))
	buf = append(buf, '[')
	buf = flags.AppendFormat(buf)
	buf = append(buf, ']')
	return string(buf)
}

// bitNames maps a flag's bit position to its 3-letter name, following the
// host TCP header's bit order (FIN=0, SYN=1, RST=2, PSH=3, ACK=4); RST and
// PSH have no name here since this protocol never sets them, but their bit
// positions are still skipped rather than reused.
var bitNames = [5]string{0: "FIN", 1: "SYN", 4: "ACK"}

// AppendFormat appends a human readable flag list (no brackets) to b.
func (flags Flags) AppendFormat(b []byte) []byte {
	first := true
	for i, name := range bitNames {
		if name == "" || flags&(1<<i) == 0 {
			continue
		}
		if !first {
			b = append(b, ',')
		}
		first = false
		b = append(b, name...)
	}
	return b
}

// Segment is an incoming or outgoing STCP segment expressed in terms of the
// sequence space rather than wire bytes; see [Frame] for the wire encoding.
//
// Deviation from standard TCP (intentional, not a bug): a data-bearing
// segment carries the SYN flag as a "data present" marker rather than no
// flags at all. Both peers of a connection must agree on this convention;
// every endpoint in this module does, so it is internally consistent.
type Segment struct {
	SEQ     Value // sequence number of the first octet of the segment (or the ISN if SYN is set).
	ACK     Value // acknowledgment number, meaningful only if ACK is set.
	DATALEN Size  // number of payload octets, excluding SYN/FIN.
	WND     Size  // advertised window of the sender.
	Flags   Flags
}

// LEN returns the length of the segment in sequence-space octets. FIN
// always consumes one additional sequence number. SYN does too, but only
// in its genuine handshake role (DATALEN==0); the data-marker use of SYN
// on a data-bearing segment consumes none — the segment's sequence-space
// length there is exactly DATALEN.
func (seg *Segment) LEN() Size {
	var add Size
	if seg.Flags.HasAll(FlagFIN) {
		add++
	}
	if seg.Flags.HasAll(FlagSYN) && seg.DATALEN == 0 {
		add++
	}
	return seg.DATALEN + add
}

// Last returns the sequence number of the last octet occupied by the
// segment, which equals SEQ itself for a zero-length segment.
func (seg *Segment) Last() Value {
	seglen := seg.LEN()
	if seglen == 0 {
		return seg.SEQ
	}
	return Add(seg.SEQ, seglen) - 1
}

// IsDataBearing reports whether the segment carries application payload
// under this protocol's SYN-as-data convention (post-handshake SYN with a
// non-zero DATALEN).
func (seg *Segment) IsDataBearing() bool {
	return seg.Flags.HasAny(FlagSYN) && seg.DATALEN > 0
}

func (seg Segment) isHandshakeSYN() bool {
	return seg.Flags == FlagSYN && seg.ACK == 0 && seg.DATALEN == 0
}

// ClientSynSegment builds the first segment an active opener sends.
func ClientSynSegment(iss Value, wnd Size) Segment {
	return Segment{SEQ: iss, WND: wnd, Flags: FlagSYN}
}
