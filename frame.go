package stcp

import "encoding/binary"

// Frame pairs a Segment with its payload for wire encode/decode. The wire
// format is a fixed 20-byte no-options header, fields big-endian: src/dst
// port, seq, ack, data-offset+flags byte, window, zeroed checksum, zeroed
// urgent pointer.
type Frame struct {
	SrcPort, DstPort uint16
	Segment
	Payload []byte
}

// dataOffset is fixed at 5 32-bit words (20 bytes), since STCP never
// carries options.
const dataOffset = 5

// WireLen returns the encoded length of f: header plus payload.
func (f *Frame) WireLen() int { return HeaderSize + len(f.Payload) }

// Encode writes f's wire representation into b, which must be at least
// f.WireLen() bytes.
func (f *Frame) Encode(b []byte) {
	binary.BigEndian.PutUint16(b[0:2], f.SrcPort)
	binary.BigEndian.PutUint16(b[2:4], f.DstPort)
	binary.BigEndian.PutUint32(b[4:8], uint32(f.SEQ))
	binary.BigEndian.PutUint32(b[8:12], uint32(f.ACK))
	b[12] = dataOffset << 4
	b[13] = byte(f.Flags) & byte(flagMask)
	binary.BigEndian.PutUint16(b[14:16], uint16(f.WND))
	b[16], b[17] = 0, 0 // checksum: zeroed and ignored.
	b[18], b[19] = 0, 0 // urgent pointer: unused, zeroed.
	n := copy(b[HeaderSize:], f.Payload)
	f.DATALEN = Size(n)
}

// DecodeFrame parses a wire segment from b, which must be at least
// HeaderSize bytes.
func DecodeFrame(b []byte) (Frame, error) {
	if len(b) < HeaderSize {
		return Frame{}, errBufferTooSmall
	}
	off := b[12] >> 4
	if off != dataOffset {
		return Frame{}, errBadDataOffset
	}
	f := Frame{
		SrcPort: binary.BigEndian.Uint16(b[0:2]),
		DstPort: binary.BigEndian.Uint16(b[2:4]),
	}
	f.SEQ = Value(binary.BigEndian.Uint32(b[4:8]))
	f.ACK = Value(binary.BigEndian.Uint32(b[8:12]))
	f.Flags = Flags(b[13]) & flagMask
	f.WND = Size(binary.BigEndian.Uint16(b[14:16]))
	payload := b[HeaderSize:]
	f.DATALEN = Size(len(payload))
	if len(payload) > 0 {
		f.Payload = append([]byte(nil), payload...)
	}
	return f, nil
}
