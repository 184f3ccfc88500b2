package grpccore

import (
	"time"

	"github.com/chalvern/grpccore/credentials"
	"github.com/chalvern/grpccore/metadata"
)

// WriteOptions controls how a single message is framed (spec §3's Call
// options "write options" field).
type WriteOptions struct {
	// NoCompress suppresses compression for this message even if the
	// channel and method would otherwise negotiate it.
	NoCompress bool
}

// CallOptions carries the per-call knobs spec §3 groups under "Call
// options": outgoing headers, an optional deadline, per-call credentials
// layered on top of the channel's, write options, and the wait-for-ready
// flag. Cancellation comes from the ctx passed to Invoke or NewStream.
type CallOptions struct {
	// Headers are merged into the request's outgoing metadata.
	Headers metadata.MD

	// Deadline is the absolute point in time the call must complete by.
	// The zero Time means no deadline.
	Deadline time.Time

	// Credentials are applied in addition to the channel's own, per spec
	// §4.E's composite credentials handling.
	Credentials credentials.PerRPCCredentials

	// WriteOptions are applied to every message sent on this call; there is
	// no per-message override.
	WriteOptions WriteOptions

	// WaitForReady records the caller's wait-for-ready preference. The core
	// has no connectivity state machine of its own; the call path does not
	// read this field and does not pass it to the transport.
	WaitForReady bool
}

// deadlineOrZero returns (deadline, true) if o has one configured.
func (o CallOptions) deadlineOrZero() (time.Time, bool) {
	if o.Deadline.IsZero() {
		return time.Time{}, false
	}
	return o.Deadline, true
}
