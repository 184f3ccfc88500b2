package grpccore

import (
	"bytes"
	"context"
	"io"

	"github.com/chalvern/grpccore/codes"
	"github.com/chalvern/grpccore/encoding"
	"github.com/chalvern/grpccore/status"
)

// Invoker facade: the four call shapes spec §2's component table assigns to
// generated service stubs (component I). Grounded on the teacher's
// invoke()/ClientConn.Invoke pair, generalized so retry and hedging
// (component J) can wrap the unary shape transparently while streaming
// shapes hand back a live *Call.

// Invoke performs a unary call: send req, receive resp, apply the method's
// RetryPolicy or HedgingPolicy if configured. This is the shape generated
// unary stub methods call.
func (ch *Channel) Invoke(ctx context.Context, desc MethodDesc, req, resp interface{}, opts CallOptions) error {
	if ch.isClosed() {
		return status.New(codes.Unavailable, "grpccore: channel is closed").Err()
	}
	mi, err := ch.getMethodInfo(ctx, desc)
	if err != nil {
		return err
	}

	switch {
	case mi.Config.HedgingPolicy != nil:
		return ch.hedgeUnary(ctx, desc, mi, req, resp, opts)
	case mi.Config.RetryPolicy != nil:
		return ch.retryUnary(ctx, desc, mi, req, resp, opts)
	default:
		return ch.unaryOnce(ctx, desc, mi, req, resp, opts, 1)
	}
}

// unaryOnce runs exactly one attempt of a unary call: marshal the request,
// run the call, send it as the single framed message, and read the single
// framed response.
func (ch *Channel) unaryOnce(ctx context.Context, desc MethodDesc, mi *MethodInfo, req, resp interface{}, opts CallOptions, attemptNum int) error {
	p := newPreparer(desc.Codec)
	if err := p.prepare(req, nil, -1); err != nil {
		return err
	}

	call := newCall(ctx, ch, mi, opts, attemptNum)
	defer call.finish(nil, nil) // no-op if run() already finished it

	// Frame the request body up front for the direct-write path (spec
	// §4.C mode i): buffer once, then hand the bytes to run().
	buf := &bytes.Buffer{}
	encName := defaultEncodingName(ch.cfg.Compressors)
	if err := writeMessage(buf, p.completedBytes(), encName, ch.cfg.Compressors, ch.cfg.Compressors != nil, opts.WriteOptions, ch.cfg.MaxSendSize); err != nil {
		call.finish(err, nil)
		return err
	}
	frame := buf.Bytes()

	if err := call.run(desc, frame, true, true); err != nil {
		return err
	}
	if err := call.RecvMsg(resp); err != nil && err != io.EOF {
		return err
	}
	// A unary call carries exactly one response message; the second
	// RecvMsg drains the now-empty body, which is what surfaces the
	// trailing grpc-status and commits the call's Status.
	if err := call.RecvMsg(resp); err != nil && err != io.EOF {
		return err
	}
	return call.Status().Err()
}

func defaultEncodingName(reg *encoding.CompressorRegistry) string {
	names := reg.Names()
	if len(names) == 0 {
		return encoding.Identity
	}
	return names[0]
}

// NewStream starts a client-streaming, server-streaming, or duplex call and
// returns the live *Call once response headers have been read, mirroring
// the "response headers read" eager-dispatch semantics of spec §4.F/§4.I:
// the transport's Send is issued immediately rather than lazily on first
// SendMsg, since a caller may legitimately call Header() before ever
// sending a message on a server-streaming call. NewStream takes no request
// message, so a server-streaming call sends an empty request body. Retry
// and hedging do not
// wrap this shape (spec's Open Question on streaming retries is resolved in
// DESIGN.md: streaming calls are run exactly once).
func (ch *Channel) NewStream(ctx context.Context, desc MethodDesc, opts CallOptions) (*Call, error) {
	if ch.isClosed() {
		return nil, status.New(codes.Unavailable, "grpccore: channel is closed").Err()
	}
	mi, err := ch.getMethodInfo(ctx, desc)
	if err != nil {
		return nil, err
	}

	call := newCall(ctx, ch, mi, opts, 1)
	requestSingle := desc.Type == Unary || desc.Type == ServerStreaming
	responseSingle := desc.Type == Unary || desc.Type == ClientStreaming
	if err := call.run(desc, nil, requestSingle, responseSingle); err != nil {
		return nil, err
	}
	return call, nil
}
