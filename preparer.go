package grpccore

import (
	"io"

	"github.com/chalvern/grpccore/codes"
	"github.com/chalvern/grpccore/encoding"
	"github.com/chalvern/grpccore/status"
)

// preparerState tracks the serialization context state machine of spec
// §4.C: a message can either be handed over as a complete byte array, or
// produced directly into a buffer writer (with an optional size hint
// enabling a direct, unbuffered write path). Transitioning out of order is a
// programming error.
type preparerState int

const (
	preparerInitialized preparerState = iota
	preparerCompleteArray
	preparerIncompleteBufferWriter
	preparerCompleteBufferWriter
)

// bufferWriterCodec is an optional extension a Codec may implement to
// marshal directly into a pre-sized buffer instead of allocating and
// returning a new []byte, avoiding a copy for codecs (e.g. a pooled
// protobuf marshaller) that support it. sizeHint is -1 when unknown.
type bufferWriterCodec interface {
	encoding.Codec
	MarshalInto(v interface{}, w io.Writer, sizeHint int) error
}

// preparer drives a single message's serialization, choosing between the
// plain Codec.Marshal path (mode i: "complete array") and the
// bufferWriterCodec path (mode ii: "buffer writer") when the configured
// codec supports it. Grounded on chalvern/grpc-go's encoding.Codec usage in
// stream.go's sendMsg, generalized per spec §4.C's two-mode contract.
type preparer struct {
	codec encoding.Codec
	state preparerState
	bytes []byte
}

func newPreparer(codec encoding.Codec) *preparer {
	return &preparer{codec: codec, state: preparerInitialized}
}

// prepare marshals v, resolving to a complete byte slice either immediately
// (mode i) or by writing straight into dst when the codec supports
// bufferWriterCodec and dst is non-nil (mode ii).
func (p *preparer) prepare(v interface{}, dst io.Writer, sizeHint int) error {
	if p.state != preparerInitialized {
		panic("grpccore: preparer used more than once")
	}
	if bw, ok := p.codec.(bufferWriterCodec); ok && dst != nil {
		p.state = preparerIncompleteBufferWriter
		if err := bw.MarshalInto(v, dst, sizeHint); err != nil {
			return status.Newf(codes.Internal, "grpccore: error marshaling request: %v", err).Err()
		}
		p.state = preparerCompleteBufferWriter
		return nil
	}
	b, err := p.codec.Marshal(v)
	if err != nil {
		return status.Newf(codes.Internal, "grpccore: error marshaling request: %v", err).Err()
	}
	p.bytes = b
	p.state = preparerCompleteArray
	return nil
}

// completedBytes returns the marshaled payload for the mode (i) path. It
// panics if prepare resolved through the buffer-writer path instead, since
// in that case the bytes were already written to the destination and there
// is nothing to return.
func (p *preparer) completedBytes() []byte {
	if p.state != preparerCompleteArray {
		panic("grpccore: completedBytes called on a non-array preparer")
	}
	return p.bytes
}

// usedBufferWriter reports whether prepare resolved through mode (ii).
func (p *preparer) usedBufferWriter() bool {
	return p.state == preparerCompleteBufferWriter
}
