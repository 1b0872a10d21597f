package stcp

// String renders the connection state using the RFC-style names
// (e.g. "SYN_RECEIVED", "LAST_ACK"). Hand-maintained rather than
// generated by stringer, since this package does not invoke go generate
// as part of its build.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateListen:
		return "LISTEN"
	case StateSynSent:
		return "SYN_SENT"
	case StateSynRcvd:
		return "SYN_RECEIVED"
	case StateEstablished:
		return "ESTABLISHED"
	case StateFinWait1:
		return "FIN_WAIT_1"
	case StateFinWait2:
		return "FIN_WAIT_2"
	case StateCloseWait:
		return "CLOSE_WAIT"
	case StateLastAck:
		return "LAST_ACK"
	default:
		return "STATE(?)"
	}
}
