package stcp

import "errors"

var (
	// errDropSegment signals that a per-state receive handler decided to
	// silently discard a segment; STCP never synthesizes a RST in
	// response to a protocol violation.
	errDropSegment = errors.New("stcp: drop segment")

	errBufferTooSmall    = errors.New("stcp: buffer too small")
	errBadDataOffset     = errors.New("stcp: data offset != 5 (options are not supported)")
	errNeedClosedToOpen  = errors.New("stcp: must be closed before Open")
	errInvalidState      = errors.New("stcp: invalid state for requested operation")
	errConnectionClosing = errors.New("stcp: connection closing, no further sends")
	errExpectedSYN       = errors.New("stcp: expected SYN")
	errBadSegAck         = errors.New("stcp: unexpected ack number")
)
