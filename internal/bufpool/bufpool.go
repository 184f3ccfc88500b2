// Package bufpool provides the pooled byte buffers the framed message codec
// (grpccore's message.go) rents from for throughput, per spec §4.B; the
// serialization context (preparer.go) does not use it. Buffers are reset and
// returned to the
// pool in a guarded release that may only fire once, satisfying invariant 8
// in spec §3 ("pooled buffers are returned exactly once").
package bufpool

import (
	"bytes"
	"sync"
)

var pool = sync.Pool{
	New: func() interface{} { return new(bytes.Buffer) },
}

// Buffer is a pool-leased *bytes.Buffer paired with a one-shot release.
type Buffer struct {
	*bytes.Buffer
	once sync.Once
}

// Get leases a zeroed buffer from the pool.
func Get() *Buffer {
	b := pool.Get().(*bytes.Buffer)
	b.Reset()
	return &Buffer{Buffer: b}
}

// Release returns the buffer to the pool. Safe to call more than once; only
// the first call has any effect, preventing a double-return race when a call
// is cancelled mid-read (spec §4.B: "Buffers are rented from a pool and
// returned in a guarded finalizer to avoid double-return on cancellation.").
func (b *Buffer) Release() {
	b.once.Do(func() {
		pool.Put(b.Buffer)
		b.Buffer = nil
	})
}
