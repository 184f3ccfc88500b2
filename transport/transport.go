// Package transport defines the narrow seam between grpccore's call engine
// and whatever HTTP/2 (or HTTP/3) stack actually puts bytes on the wire.
//
// spec.md scopes the transport implementation itself out of this module
// ("the HTTP transport implementation" is listed under OUT OF SCOPE external
// collaborators) and explicitly rules out "providing a generic HTTP client"
// as a goal. This package is deliberately shaped like the subset of
// net/http's Request/Response/Transport trio the core actually needs —
// headers-read-before-body semantics, a ReadCloser body, and trailers
// populated after the body drains — so that any net/http-based
// implementation (HTTP/2 via golang.org/x/net/http2, HTTP/3 via quic-go,
// or a test double) satisfies it with no adaptation layer.
package transport

import (
	"context"
	"io"
	"net/http"
)

// Request is everything the core needs the transport to put on the wire.
// Method is always POST and HTTP/2-or-higher is required by the protocol
// (spec §6); the transport is responsible for enforcing or negotiating that.
type Request struct {
	// URL is the fully qualified request target, e.g.
	// "https://host:443/Service/Method".
	URL string

	// Header carries every outgoing header the core computed: content-type,
	// te, grpc-accept-encoding, grpc-timeout, grpc-encoding, user metadata,
	// and so on. Built by (*Call).buildHeaders.
	Header http.Header

	// Body is the framed, optionally compressed request stream. For unary
	// calls this is a bytes.Reader over the single pre-framed message;
	// server-streaming calls started by NewStream send no request message
	// and leave Body nil; for client-streaming and duplex calls it is the
	// read end of an io.Pipe the stream writer feeds (spec §4.G, §9's
	// "PushStreamContent" note). A nil Body means an empty request stream
	// (client immediately sends END_STREAM).
	Body io.ReadCloser
}

// Response is the transport's reply, available as soon as headers have been
// read — the body must not be buffered by the transport (spec §4.F run loop
// step 4: "send the request ... with 'response headers read' semantics").
type Response struct {
	// StatusCode is the HTTP status code.
	StatusCode int

	// Proto is the negotiated protocol, e.g. "HTTP/2.0". It is
	// informational only; ValidateHeaders does not read it.
	Proto string
	// ProtoMajor is the major HTTP version; ValidateHeaders uses
	// ProtoMajor < 2 to detect sub-HTTP/2 connections (spec §4.A item 2).
	ProtoMajor int

	// Header holds the response headers, read eagerly by the transport.
	Header http.Header

	// Body is the framed response stream. Reading it to EOF populates
	// Trailer, mirroring net/http's server-trailer contract. Closing Body
	// before EOF should cause the transport to send RST_STREAM.
	Body io.ReadCloser

	// Trailer is populated once Body has been read to io.EOF. Reading it
	// before then is a race; callers must fully drain Body first.
	Trailer http.Header
}

// ClientTransport is the single seam the call engine depends on. A call
// issues exactly one Send per attempt.
type ClientTransport interface {
	// Send issues req and returns once response headers have arrived (or an
	// error occurs before that point). ctx governs the attempt's lifetime:
	// cancelling it must unblock any in-progress Send, and must cause a
	// subsequent Body.Read to return promptly.
	Send(ctx context.Context, req *Request) (*Response, error)
}
