package grpccore

import "github.com/chalvern/grpccore/encoding"

// MethodType classifies a method's streaming shape, spec §3's "Method
// descriptor" entity.
type MethodType int

const (
	Unary MethodType = iota
	ClientStreaming
	ServerStreaming
	DuplexStreaming
)

func (t MethodType) String() string {
	switch t {
	case Unary:
		return "unary"
	case ClientStreaming:
		return "client_streaming"
	case ServerStreaming:
		return "server_streaming"
	case DuplexStreaming:
		return "duplex_streaming"
	default:
		return "unknown"
	}
}

// MethodDesc describes one RPC method: its full wire name, streaming shape,
// and marshaller. Generated service stubs build one of these per method and
// pass it to Channel.Invoke or Channel.NewStream (spec §3's Method
// descriptor entity); the
// request and response marshaller are modeled as the same Codec value,
// matching how grpc-go itself uses one generic, interface{}-typed Codec for
// both directions.
type MethodDesc struct {
	// FullName is "/service/method".
	FullName string
	Type     MethodType
	Codec    encoding.Codec
}
