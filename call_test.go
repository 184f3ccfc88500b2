package grpccore

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chalvern/grpccore/codes"
	"github.com/chalvern/grpccore/status"
	"github.com/chalvern/grpccore/transport"
)

func framedResponseBody(t *testing.T, msg string) io.ReadCloser {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, writeMessage(&buf, []byte(msg), "", nil, false, WriteOptions{}, 0))
	return io.NopCloser(&buf)
}

func unaryDesc() MethodDesc {
	return MethodDesc{FullName: "/my.Service/Do", Type: Unary, Codec: stringCodec{}}
}

// TestInvokeFramedHappyPath covers spec testable property: a normal framed
// OK response is decoded into resp.
func TestInvokeFramedHappyPath(t *testing.T) {
	ft := &fakeTransport{respond: func(req *transport.Request) (*transport.Response, error) {
		trailer := http.Header{}
		trailer.Set("Grpc-Status", "0")
		h := http.Header{}
		h.Set("Content-Type", "application/grpc+string")
		return &transport.Response{
			StatusCode: http.StatusOK,
			ProtoMajor: 2,
			Header:     h,
			Body:       framedResponseBody(t, "pong"),
			Trailer:    trailer,
		}, nil
	}}
	ch := newTestChannel(t, ft)

	req := "ping"
	var resp string
	err := ch.Invoke(context.Background(), unaryDesc(), &req, &resp, CallOptions{})
	require.NoError(t, err)
	assert.Equal(t, "pong", resp)
}

// TestInvokeTrailersOnlyOK covers spec testable property: a trailers-only OK
// response (grpc-status present on the initial headers, no framed body).
func TestInvokeTrailersOnlyOK(t *testing.T) {
	ft := &fakeTransport{respond: func(req *transport.Request) (*transport.Response, error) {
		h := http.Header{}
		h.Set("Grpc-Status", "0")
		return &transport.Response{StatusCode: http.StatusOK, ProtoMajor: 2, Header: h}, nil
	}}
	ch := newTestChannel(t, ft)

	req := "ping"
	var resp string
	err := ch.Invoke(context.Background(), unaryDesc(), &req, &resp, CallOptions{})
	assert.NoError(t, err)
}

// TestInvokeNonOKHTTPStatus covers spec testable property: a non-200 HTTP
// response maps to its corresponding gRPC code.
func TestInvokeNonOKHTTPStatus(t *testing.T) {
	ft := &fakeTransport{respond: func(req *transport.Request) (*transport.Response, error) {
		return &transport.Response{StatusCode: http.StatusServiceUnavailable, ProtoMajor: 2, Header: http.Header{}}, nil
	}}
	ch := newTestChannel(t, ft)

	req := "ping"
	var resp string
	err := ch.Invoke(context.Background(), unaryDesc(), &req, &resp, CallOptions{})
	require.Error(t, err)
	assert.Equal(t, codes.Unavailable, status.Code(err))
}

// TestInvokeDeadlineExceeded covers spec testable property: a deadline
// shorter than the transport's response latency fires the per-call timer.
func TestInvokeDeadlineExceeded(t *testing.T) {
	ft := &ctxAwareTransport{}
	ch := newTestChannel(t, ft)

	req := "ping"
	var resp string
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := ch.Invoke(ctx, unaryDesc(), &req, &resp, CallOptions{})
	require.Error(t, err)
	assert.Equal(t, codes.DeadlineExceeded, status.Code(err))
}

// ctxAwareTransport never replies; Send only returns once ctx is done,
// mirroring how a real transport's request would be aborted by context
// cancellation rather than hanging forever.
type ctxAwareTransport struct{}

func (ctxAwareTransport) Send(ctx context.Context, req *transport.Request) (*transport.Response, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestInvokeMissingTrailingStatusIsInternal(t *testing.T) {
	ft := &fakeTransport{respond: func(req *transport.Request) (*transport.Response, error) {
		h := http.Header{}
		h.Set("Content-Type", "application/grpc+string")
		return &transport.Response{
			StatusCode: http.StatusOK,
			ProtoMajor: 2,
			Header:     h,
			Body:       framedResponseBody(t, "pong"),
			Trailer:    http.Header{},
		}, nil
	}}
	ch := newTestChannel(t, ft)

	req := "ping"
	var resp string
	err := ch.Invoke(context.Background(), unaryDesc(), &req, &resp, CallOptions{})
	require.Error(t, err)
	assert.Equal(t, codes.Internal, status.Code(err))
}
