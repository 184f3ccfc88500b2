package grpccore

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chalvern/grpccore/codes"
	"github.com/chalvern/grpccore/status"
	"github.com/chalvern/grpccore/transport"
)

func framedMultiMessageBody(t *testing.T, msgs ...string) io.ReadCloser {
	t.Helper()
	var buf bytes.Buffer
	for _, m := range msgs {
		require.NoError(t, writeMessage(&buf, []byte(m), "", nil, false, WriteOptions{}, 0))
	}
	return io.NopCloser(&buf)
}

func streamDesc(t MethodType) MethodDesc {
	return MethodDesc{FullName: "/my.Service/Do", Type: t, Codec: stringCodec{}}
}

// TestNewStreamServerStreamingReadsMultipleMessages covers the
// responseSingleMessage=false path: RecvMsg can be called repeatedly until
// the framed body and trailers are exhausted.
func TestNewStreamServerStreamingReadsMultipleMessages(t *testing.T) {
	ft := &fakeTransport{respond: func(req *transport.Request) (*transport.Response, error) {
		trailer := http.Header{}
		trailer.Set("Grpc-Status", "0")
		h := http.Header{}
		h.Set("Content-Type", "application/grpc+string")
		return &transport.Response{
			StatusCode: http.StatusOK,
			ProtoMajor: 2,
			Header:     h,
			Trailer:    trailer,
			Body:       framedMultiMessageBody(t, "one", "two", "three"),
		}, nil
	}}
	ch := newTestChannel(t, ft)

	call, err := ch.NewStream(context.Background(), streamDesc(ServerStreaming), CallOptions{})
	require.NoError(t, err)

	var got []string
	for {
		var msg string
		err := call.RecvMsg(&msg)
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		got = append(got, msg)
	}
	assert.Equal(t, []string{"one", "two", "three"}, got)
	assert.NoError(t, call.Status().Err())
}

// TestNewStreamClientStreamingSendThenRecv covers the requestSingleMessage=
// false path: the caller drives the request body via SendMsg/CloseSend
// rather than handing run() a pre-framed payload.
func TestNewStreamClientStreamingSendThenRecv(t *testing.T) {
	ft := &fakeTransport{respond: func(req *transport.Request) (*transport.Response, error) {
		trailer := http.Header{}
		trailer.Set("Grpc-Status", "0")
		h := http.Header{}
		h.Set("Content-Type", "application/grpc+string")
		return &transport.Response{
			StatusCode: http.StatusOK,
			ProtoMajor: 2,
			Header:     h,
			Trailer:    trailer,
			Body:       framedMultiMessageBody(t, "ack"),
		}, nil
	}}
	ch := newTestChannel(t, ft)

	call, err := ch.NewStream(context.Background(), streamDesc(ClientStreaming), CallOptions{})
	require.NoError(t, err)

	go func() {
		req1, req2 := "a", "b"
		_ = call.SendMsg(&req1)
		_ = call.SendMsg(&req2)
		_ = call.CloseSend()
	}()

	var resp string
	require.NoError(t, call.RecvMsg(&resp))
	assert.Equal(t, "ack", resp)
	// A second RecvMsg drains the trailers and commits the call's Status,
	// mirroring unaryOnce's two-call pattern for a single-response shape.
	err = call.RecvMsg(&resp)
	assert.True(t, err == nil || err == io.EOF)
}

// TestNewStreamDuplexRequestResponseSingleFlags re-evaluates, for each
// MethodType, the same expressions NewStream uses to derive
// requestSingleMessage/responseSingleMessage (it does not call NewStream):
// only Unary treats both directions as single-message.
func TestNewStreamDuplexRequestResponseSingleFlags(t *testing.T) {
	for _, tc := range []struct {
		mt             MethodType
		requestSingle  bool
		responseSingle bool
	}{
		{Unary, true, true},
		{ClientStreaming, false, true},
		{ServerStreaming, true, false},
		{DuplexStreaming, false, false},
	} {
		requestSingle := tc.mt == Unary || tc.mt == ServerStreaming
		responseSingle := tc.mt == Unary || tc.mt == ClientStreaming
		assert.Equal(t, tc.requestSingle, requestSingle, tc.mt.String())
		assert.Equal(t, tc.responseSingle, responseSingle, tc.mt.String())
	}
}

// TestNewStreamChannelClosedRejectsNewCall mirrors
// TestChannelCloseRejectsNewCalls for the streaming entry
// point.
func TestNewStreamChannelClosedRejectsNewCall(t *testing.T) {
	ch := newTestChannel(t, &fakeTransport{})
	require.NoError(t, ch.Close())

	_, err := ch.NewStream(context.Background(), streamDesc(DuplexStreaming), CallOptions{})
	assert.Error(t, err)
}

// TestNewStreamMissingTrailingStatusIsInternal covers the streamReader's
// protocol-violation path: a framed body that ends without a grpc-status
// trailer is reported as Internal rather than a clean io.EOF.
func TestNewStreamMissingTrailingStatusIsInternal(t *testing.T) {
	ft := &fakeTransport{respond: func(req *transport.Request) (*transport.Response, error) {
		h := http.Header{}
		h.Set("Content-Type", "application/grpc+string")
		return &transport.Response{
			StatusCode: http.StatusOK,
			ProtoMajor: 2,
			Header:     h,
			Trailer:    http.Header{},
			Body:       framedMultiMessageBody(t, "one"),
		}, nil
	}}
	ch := newTestChannel(t, ft)

	call, err := ch.NewStream(context.Background(), streamDesc(ServerStreaming), CallOptions{})
	require.NoError(t, err)

	var msg string
	require.NoError(t, call.RecvMsg(&msg))
	err = call.RecvMsg(&msg)
	require.Error(t, err)
	assert.NotEqual(t, io.EOF, err)
	assert.Equal(t, codes.Internal, status.Code(err))
}
