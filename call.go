/*
 *
 * Copyright 2014 gRPC authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 */

// Call is the per-attempt state machine of spec §4.F: it owns one HTTP
// exchange's lifecycle from header construction through response
// validation, deadline enforcement, and exactly-once cleanup. The original
// teacher file implemented a single retry loop directly inside invoke();
// here that loop is pulled apart so a single attempt (Call) is a reusable
// building block retry.go and hedging.go can run more than one of
// concurrently or sequentially per logical RPC.
package grpccore

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/chalvern/grpccore/codes"
	"github.com/chalvern/grpccore/credentials"
	"github.com/chalvern/grpccore/encoding"
	"github.com/chalvern/grpccore/metadata"
	"github.com/chalvern/grpccore/status"
	"github.com/chalvern/grpccore/transport"
)

// callState enumerates the states spec §4.F's run_call names: a call
// starts Created, moves to HeadersSent once the request is handed to the
// transport, Active once response headers validate as an ordinary framed
// stream, and Finished once a terminal Status has been committed (whether
// by trailers, a transport error, a deadline, or cancellation).
type callState int32

const (
	callCreated callState = iota
	callHeadersSent
	callActive
	callFinished
)

// Call represents one attempt at invoking a method: constructing and
// sending the request, validating the response, and reading/writing framed
// messages through its attached streamReader/streamWriter. retry.go and
// hedging.go each construct one or more Calls per logical RPC and decide,
// based on the committed Status, whether to run another.
type Call struct {
	channel *Channel
	mi      *MethodInfo
	opts    CallOptions
	attempt int // 1-based attempt number, for diagnostics/tracing
	callID  string // correlates this attempt's span and headers in logs

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	state    callState
	status   *status.Status
	trailers metadata.MD

	deadlineTimer *time.Timer

	writer *streamWriter
	reader *streamReader

	headersMD     metadata.MD
	headersReady  chan struct{}
	headersOnce   sync.Once

	span trace.Span

	finishOnce sync.Once
	doneCh     chan struct{}
}

// newCall builds a Call bound to one attempt of mi, deriving its context
// from parent with the effective deadline (the minimum of opts.Deadline and
// mi.Config.Timeout, per spec §3's MethodConfig.Timeout semantics) and
// arming the deadline timer under the call's own lock so a concurrent
// Finish can't race a timer fire.
func newCall(parent context.Context, ch *Channel, mi *MethodInfo, opts CallOptions, attemptNum int) *Call {
	ctx, cancel := deriveCallContext(parent, opts, mi.Config)
	callID := uuid.NewString()
	ctx, span := startAttemptSpan(ctx, ch.cfg.Tracer, mi.Desc.FullName, attemptNum)
	span.SetAttributes(attribute.String("rpc.call_id", callID))

	c := &Call{
		channel:      ch,
		mi:           mi,
		opts:         opts,
		attempt:      attemptNum,
		callID:       callID,
		ctx:          ctx,
		cancel:       cancel,
		headersReady: make(chan struct{}),
		span:         span,
		doneCh:       make(chan struct{}),
	}
	ch.registerCall(c)

	if dl, ok := ctx.Deadline(); ok {
		c.armDeadlineTimer(time.Until(dl))
	}
	return c
}

// armDeadlineTimer schedules the call's deadline timer to fire finish()
// once due elapses. A platform timer may have a bounded maximum due time
// (Channel.cfg.MaxTimerDue); a deadline further out than that is handled by
// re-arming the timer for the remaining time once the first increment
// fires, rather than a single flat AfterFunc. The intermediate increments
// bail out once the call has already finished by some other path (a
// response, a transport error, an explicit cancellation).
func (c *Call) armDeadlineTimer(due time.Duration) {
	maxDue := c.channel.cfg.MaxTimerDue
	if maxDue <= 0 || due <= maxDue {
		c.mu.Lock()
		c.deadlineTimer = time.AfterFunc(due, func() {
			c.finish(status.New(codes.DeadlineExceeded, "grpccore: deadline exceeded").Err(), nil)
		})
		c.mu.Unlock()
		return
	}
	c.mu.Lock()
	c.deadlineTimer = time.AfterFunc(maxDue, func() {
		select {
		case <-c.doneCh:
		default:
			c.armDeadlineTimer(due - maxDue)
		}
	})
	c.mu.Unlock()
}

// deriveCallContext computes the effective deadline per spec §3: the
// minimum of CallOptions.Deadline and the method config's Timeout (measured
// from now), if either is set.
func deriveCallContext(parent context.Context, opts CallOptions, mc MethodConfig) (context.Context, context.CancelFunc) {
	var deadline time.Time
	if d, ok := opts.deadlineOrZero(); ok {
		deadline = d
	}
	if mc.Timeout != nil {
		mcDeadline := time.Now().Add(*mc.Timeout)
		if deadline.IsZero() || mcDeadline.Before(deadline) {
			deadline = mcDeadline
		}
	}
	if deadline.IsZero() {
		return context.WithCancel(parent)
	}
	return context.WithDeadline(parent, deadline)
}

// Context returns the call's derived context, carrying its deadline and
// cancellation.
func (c *Call) Context() context.Context { return c.ctx }

// run executes the request/response exchange described by spec §4.F's
// run_call: build headers, invoke per-call credentials (refusing to do so
// over an insecure transport), send the request with response-headers-read
// semantics, and validate the response. On success it leaves the call in
// callActive state with a streamReader/streamWriter ready for use; on
// failure it finishes the call with the resulting Status.
// requestSingleMessage is true when the method sends exactly one request
// message (Unary, ServerStreaming); responseSingleMessage is true when it
// receives exactly one response message (Unary, ClientStreaming). firstMessage
// is the pre-framed request payload for the single-request-message shapes;
// it is ignored (and should be nil) when requestSingleMessage is false,
// since in that case the caller drives the request body via SendMsg/
// CloseSend on the returned Call instead.
func (c *Call) run(desc MethodDesc, firstMessage []byte, requestSingleMessage, responseSingleMessage bool) error {
	hdr, err := c.buildHeaders(desc)
	if err != nil {
		c.finish(err, nil)
		return err
	}

	var body io.ReadCloser
	if requestSingleMessage {
		if firstMessage != nil {
			body = io.NopCloser(bytes.NewReader(firstMessage))
		}
	} else {
		c.writer = newStreamWriter(desc.Codec, c.channel.cfg.Compressors, c.channel.cfg.MaxSendSize, c.opts.WriteOptions)
		body = c.writer.pipeReader()
	}

	req := &transport.Request{URL: c.mi.CallURI, Header: hdr, Body: body}

	resp, err := c.channel.cfg.Transport.Send(c.ctx, req)
	c.setState(callHeadersSent)
	if err != nil {
		st := MapTransportError(err)
		c.finish(st.Err(), nil)
		return st.Err()
	}

	if st, done := ValidateHeaders(resp); done {
		md := BuildMetadata(resp.Header)
		c.signalHeaders(md)
		c.finish(st.Err(), md)
		// Return the committed status, which carries md as its trailers.
		return c.Status().Err()
	}

	md := BuildMetadata(resp.Header)
	c.signalHeaders(md)
	c.setState(callActive)
	c.reader = newStreamReader(resp, desc.Codec, c.channel.cfg.Compressors, c.channel.cfg.MaxReceiveSize, responseSingleMessage, resp.Header.Get(headerGRPCEncoding))
	c.reader.onFinish = c.finish
	return nil
}

// buildHeaders assembles the outgoing request headers: content-type,
// grpc-timeout (if a deadline is set), grpc-encoding/grpc-accept-encoding,
// user metadata, and credential-contributed metadata, per spec §4.F step 2.
func (c *Call) buildHeaders(desc MethodDesc) (http.Header, error) {
	h := http.Header{}
	h.Set(headerContentType, grpcContentTypePrefix+"+"+desc.Codec.Name())
	h.Set(headerTE, "trailers")
	h.Set(headerCallID, c.callID)
	if ua := c.channel.cfg.UserAgent; ua != "" {
		h.Set(headerUserAgent, ua)
	}
	if dl, ok := c.ctx.Deadline(); ok {
		h.Set(headerGRPCTimeout, EncodeTimeout(time.Until(dl)))
	}
	if enc := c.channel.cfg.Compressors.AcceptEncoding(); enc != "" {
		h.Set(headerGRPCAcceptEnc, enc)
	}
	if enc := defaultEncodingName(c.channel.cfg.Compressors); enc != encoding.Identity {
		h.Set(headerGRPCEncoding, enc)
	}

	for k, vs := range c.opts.Headers {
		for _, v := range vs {
			h.Add(k, v)
		}
	}

	creds := c.effectiveCredentials()
	if creds != nil {
		if !c.channel.transportIsSecure() {
			c.channel.cfg.Logger.Warning("grpccore: skipping per-RPC credentials over an insecure transport")
		} else {
			uri := AuthInterceptorURL("https", c.channel.authority(), strippedService(desc.FullName))
			md, err := creds.GetRequestMetadata(c.ctx, uri)
			if err != nil {
				return nil, status.Newf(codes.Unauthenticated, "grpccore: per-RPC credentials failed: %v", err).Err()
			}
			for k, v := range md {
				h.Set(k, v)
			}
		}
	}
	return h, nil
}

func (c *Call) effectiveCredentials() credentials.PerRPCCredentials {
	chCreds := c.channel.cfg.Credentials
	callCreds := c.opts.Credentials
	switch {
	case chCreds == nil:
		return callCreds
	case callCreds == nil:
		return chCreds
	default:
		return credentials.NewComposite(chCreds, callCreds)
	}
}

func strippedService(fullMethod string) string {
	// "/service/method" -> "service"
	if len(fullMethod) == 0 {
		return fullMethod
	}
	s := fullMethod[1:]
	for i := 0; i < len(s); i++ {
		if s[i] == '/' {
			return s[:i]
		}
	}
	return s
}

func (c *Call) setState(s callState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Call) signalHeaders(md metadata.MD) {
	c.headersOnce.Do(func() {
		c.headersMD = md
		close(c.headersReady)
	})
}

// Header blocks until response headers arrive (or the call finishes
// without ever getting them) and returns the metadata extracted from them.
func (c *Call) Header() (metadata.MD, error) {
	select {
	case <-c.headersReady:
		return c.headersMD, nil
	case <-c.doneCh:
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.status != nil && c.status.Code() != codes.OK {
			return c.headersMD, c.status.Err()
		}
		return c.headersMD, nil
	}
}

// Trailer returns the trailer metadata collected once the call has
// finished; it is empty before that.
func (c *Call) Trailer() metadata.MD {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.trailers
}

// finish commits a terminal Status exactly once (spec §3 invariant:
// "a call's Status, once committed, never changes"), stops the deadline
// timer, cancels the call's context, and releases it from the channel's
// active set. Safe to call from multiple goroutines (the deadline timer,
// a Channel.Close sweep, and the attempt's own run loop can all race to
// finish the same call).
func (c *Call) finish(err error, trailers metadata.MD) {
	c.finishOnce.Do(func() {
		st, _ := status.FromError(err)
		if trailers != nil {
			st = st.WithTrailers(trailers)
		}
		c.mu.Lock()
		c.status = st
		if trailers != nil {
			c.trailers = trailers
		}
		c.state = callFinished
		timer := c.deadlineTimer
		c.mu.Unlock()

		if timer != nil {
			timer.Stop()
		}
		if c.span != nil {
			endAttemptSpan(c.span, st.Code(), st.Message())
		}
		// Release anything blocked in SendMsg/RecvMsg: external
		// cancellation must unblock a pending write or read too, not
		// just cancel the context.
		if c.writer != nil {
			c.writer.abort(st.Err())
		}
		if c.reader != nil {
			c.reader.Close()
		}
		c.cancel()
		c.channel.unregisterCall(c)
		close(c.doneCh)
	})
}

// abort finishes the call with err, used by Channel.Close to tear down
// every in-flight call.
func (c *Call) abort(err error) {
	c.finish(err, nil)
}

// Status returns the call's committed Status, blocking until one exists.
func (c *Call) Status() *status.Status {
	<-c.doneCh
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Done returns a channel closed once the call has a committed Status.
func (c *Call) Done() <-chan struct{} {
	return c.doneCh
}

// SendMsg writes one message on the request stream. Valid only for calls
// built with singleMessage == false (client-streaming or duplex); unary and
// server-streaming calls supply their single request message at run() time
// instead.
func (c *Call) SendMsg(v interface{}) error {
	if c.writer == nil {
		return newUsageError("SendMsg", "call has no writable request stream")
	}
	if err := c.writer.SendMsg(v); err != nil {
		c.finish(err, nil)
		return err
	}
	return nil
}

// CloseSend signals the end of the request stream.
func (c *Call) CloseSend() error {
	if c.writer == nil {
		return nil
	}
	return c.writer.CloseSend()
}

// RecvMsg reads the next response message. It returns io.EOF once the
// stream completes with an OK status, or the committed error Status
// otherwise.
func (c *Call) RecvMsg(v interface{}) error {
	if c.reader == nil {
		<-c.doneCh
		c.mu.Lock()
		defer c.mu.Unlock()
		if err := c.status.Err(); err != nil {
			return err
		}
		return io.EOF
	}
	return c.reader.RecvMsg(v)
}
