// Package http2 provides a reference transport.ClientTransport so grpccore's
// own tests can run end to end against an httptest.Server without a real
// gRPC server. It is intentionally thin: this is the "narrow send/receive
// contract" spec.md's Non-goals call out, not a general-purpose HTTP client.
// Production callers are expected to bring their own transport (grpc-go's,
// a QUIC/HTTP-3 stack, or a fake for unit tests).
package http2

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"

	"golang.org/x/net/http2"

	"github.com/chalvern/grpccore/transport"
)

// Transport adapts an *http.Client configured for HTTP/2 to
// transport.ClientTransport.
type Transport struct {
	client *http.Client
}

// New builds a Transport. If client is nil, a client configured with
// golang.org/x/net/http2's transport is used, enabling h2c (cleartext
// HTTP/2) for loopback tests; production callers should pass a client
// with proper TLS configured.
func New(client *http.Client) *Transport {
	if client == nil {
		client = &http.Client{
			Transport: &http2.Transport{
				AllowHTTP: true,
				// h2c: dial plain TCP even though the transport asks for TLS.
				DialTLSContext: func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
					var d net.Dialer
					return d.DialContext(ctx, network, addr)
				},
			},
		}
	}
	return &Transport{client: client}
}

// Send implements transport.ClientTransport.
func (t *Transport) Send(ctx context.Context, req *transport.Request) (*transport.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.URL, req.Body)
	if err != nil {
		return nil, fmt.Errorf("http2 transport: build request: %w", err)
	}
	httpReq.Header = req.Header

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	return &transport.Response{
		StatusCode: resp.StatusCode,
		Proto:      resp.Proto,
		ProtoMajor: resp.ProtoMajor,
		Header:     resp.Header,
		Body:       resp.Body,
		Trailer:    resp.Trailer,
	}, nil
}
