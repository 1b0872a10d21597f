// Package stcp implements Simple TCP (STCP), a user-space reliable
// byte-stream transport carried over an arbitrary datagram [NetService]
// (typically UDP, see the udpnet subpackage). It provides a three-way
// handshake, cumulative-ACK sliding-window flow control with a fixed
// congestion ceiling, Go-Back-N retransmission, and four-way FIN teardown
// with no TIME_WAIT.
//
// [ControlBlock] is the protocol core: a single-goroutine-owned state
// machine driven by Open/Close/Send/OnSegment/Tick. [Conn] wraps it with a
// goroutine-safe, net.Conn-shaped Read/Write/Close API and the event loop
// (Run), which makes every ControlBlock call except the Open that Dial or
// Accept issues from the caller's goroutine.
package stcp
