// Package bifrosterr collects the sentinel errors shared across Bifrost's
// components, so callers can classify a failure with errors.Is instead of
// string matching.
package bifrosterr

import "errors"

var (
	// ErrConfig marks a fatal, startup-time configuration problem:
	// unreadable certs/keys, an unparseable listen address, and the like.
	ErrConfig = errors.New("bifrost: config error")

	// ErrInit marks a fatal, startup-time failure to bootstrap cluster
	// state from the RPC endpoint (epoch info or leader schedule).
	ErrInit = errors.New("bifrost: init error")

	// ErrPayloadTooLarge is returned when a client stream exceeds
	// max_transaction_size.
	ErrPayloadTooLarge = errors.New("bifrost: payload too large")

	// ErrInvalidTransaction marks a payload that failed opaque sanity
	// parsing. It is logged, never fatal to the session.
	ErrInvalidTransaction = errors.New("bifrost: invalid transaction")

	// ErrNoLeaders classifies the case where LeaderTracker could not
	// resolve any leader for the current slot. The fanout path does not
	// return it: ingress reports that case as a Result with no LastError,
	// rendered as "ERROR: no leaders".
	ErrNoLeaders = errors.New("bifrost: no leaders")

	// ErrPeerDialFailed marks a failed outbound connect to one TPU peer.
	ErrPeerDialFailed = errors.New("bifrost: peer dial failed")

	// ErrPeerWriteFailed marks a failed stream open/write to one TPU peer
	// over an existing connection.
	ErrPeerWriteFailed = errors.New("bifrost: peer write failed")

	// ErrAllPeersFailed is the fanout's fallback error when no peer
	// accepted the forwarded blob and no per-peer error was recorded;
	// otherwise the client sees the last per-peer error.
	ErrAllPeersFailed = errors.New("bifrost: all peers failed")

	// ErrAlreadyConnecting is one of the two acceptable outcomes for a
	// caller racing TpuPool.get_or_connect against an in-flight dial to
	// the same socket.
	ErrAlreadyConnecting = errors.New("bifrost: dial already in flight")
)
