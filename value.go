package stcp

import "fmt"

// Value is a sequence number. Arithmetic on Value is modulo 2**32 as
// required by the protocol: all comparisons must be wrap-aware rather than
// ordinary integer comparisons, since a connection that runs long enough
// will see the sequence space wrap around.
type Value uint32

// Size is a length in the sequence space: a segment payload length, a
// window size, or a distance between two [Value]s. Window sizes advertised
// on the wire are further restricted to fit in 16 bits (see
// [Size.FitsWindow]), but Size itself is wider so that intermediate
// arithmetic (e.g. summing queued bytes) cannot wrap unexpectedly.
type Size uint32

// Add returns v+delta, wrapping around 2**32 as needed.
func Add(v Value, delta Size) Value {
	return Value(uint32(v) + uint32(delta))
}

// UpdateForward advances v by delta in place. Used after a segment has been
// sent or received to move snd.nxt/rcv.nxt past its sequence-space length.
func (v *Value) UpdateForward(delta Size) {
	*v = Add(*v, delta)
}

// Sizeof returns the modular distance from a to b, i.e. the number of
// sequence numbers from a (inclusive) up to b (exclusive). Used to compute
// bytes in flight (snd.nxt - snd.una) and similar quantities.
func Sizeof(a, b Value) Size {
	return Size(uint32(b) - uint32(a))
}

// LessThan reports whether v precedes other in the sequence space, per
// spec: a<b iff (a-b) mod 2**32 has the high bit set.
func (v Value) LessThan(other Value) bool {
	return int32(v-other) < 0
}

// LessThanEq reports whether v precedes or equals other in sequence space.
func (v Value) LessThanEq(other Value) bool {
	return v == other || v.LessThan(other)
}

// InWindow reports whether v lies in the half-open interval
// [start, start+size) of the sequence space. With size==0 the interval is
// empty and InWindow is false for every v.
func (v Value) InWindow(start Value, size Size) bool {
	return Sizeof(start, v) < size
}

func (v Value) String() string { return fmt.Sprintf("%d", uint32(v)) }

// FitsWindow reports whether s can be represented in the 16-bit window
// field of the wire header.
func (s Size) FitsWindow() bool { return s <= 0xFFFF }
