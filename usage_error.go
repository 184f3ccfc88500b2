package grpccore

import "fmt"

// UsageError reports a programming mistake by the caller of this package —
// invoking an operation a Call doesn't support (calling SendMsg on a call
// that has no request stream, i.e. a unary or server-streaming call) — as
// distinct from a Status, which represents an outcome of
// the RPC itself. Grounded on chalvern/grpc-go's stream.go panics for
// "SendMsg called after CloseSend" style misuse, generalized into a typed
// error instead of a panic so library callers can recover gracefully.
type UsageError struct {
	Op     string
	Reason string
}

func (e *UsageError) Error() string {
	return fmt.Sprintf("grpccore: invalid use of %s: %s", e.Op, e.Reason)
}

func newUsageError(op, reason string) error {
	return &UsageError{Op: op, Reason: reason}
}
