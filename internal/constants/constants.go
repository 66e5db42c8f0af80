// Package constants holds reference default values for connection and
// dispatch lifecycle behavior. No other package in this module imports
// it: every call site passes its own value explicitly.
package constants

import "time"

const (
	// DefaultPollTimeoutMs is a reference wait, in milliseconds, for a
	// Poll call blocking on readiness events.
	DefaultPollTimeoutMs = 100

	// DefaultMaxConnections is a reference per-listener connection cap;
	// tcpserver.New always takes the cap as an argument.
	DefaultMaxConnections = 1024

	// DefaultRecvBufferSize is the chunk size demos request per Recv
	// call absent a more specific protocol framing.
	DefaultRecvBufferSize = 4096

	// DefaultDispatchMaxDepth bounds a dispatcher's re-dispatch call
	// depth before panicking on suspected Pure-action recursion.
	DefaultDispatchMaxDepth = 1024
)

// Timing constants for handshake and connect lifecycles.
//
// Reference bounds on how long to wait on external events (a TCP
// handshake ACK, a PNet nonce exchange) before treating the attempt as
// failed. Connect and Bootstrap take their timeout as an argument.
const (
	// DefaultConnectTimeout bounds an outgoing Connect attempt.
	DefaultConnectTimeout = 10 * time.Second

	// DefaultHandshakeTimeout bounds each half of the PNet nonce
	// exchange.
	DefaultHandshakeTimeout = 5 * time.Second
)
