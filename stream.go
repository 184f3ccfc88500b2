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

// streamWriter and streamReader implement spec §4.G/§4.H: the request-side
// and response-side halves of a call's framed message stream. The teacher's
// original stream.go combined both directions (and retry bookkeeping) into
// one clientStream type built on golang.org/x/net/context and a transport
// that delivered messages as discrete frames already split by the HTTP/2
// layer; here the two directions are split apart, built on io.Pipe and
// context.Context, and layered over the io.ReadCloser body of a
// transport.Response (spec §6's external transport contract).
package grpccore

import (
	"io"
	"sync"

	"github.com/chalvern/grpccore/codes"
	"github.com/chalvern/grpccore/encoding"
	"github.com/chalvern/grpccore/metadata"
	"github.com/chalvern/grpccore/status"
	"github.com/chalvern/grpccore/transport"
)

// streamWriter owns the write side of a streaming call's request body: it
// frames and optionally compresses each message and feeds it through an
// io.Pipe to whatever is reading transport.Request.Body. Only one SendMsg
// may be in flight at a time (spec §3 invariant: "a stream permits at most
// one in-flight write"), enforced by sendMu.
type streamWriter struct {
	codec       encoding.Codec
	compressors *encoding.CompressorRegistry
	maxSendSize int
	writeOpts   WriteOptions

	pr *io.PipeReader
	pw *io.PipeWriter

	sendMu sync.Mutex

	closeOnce sync.Once
	closeErr  error
}

func newStreamWriter(codec encoding.Codec, compressors *encoding.CompressorRegistry, maxSendSize int, wo WriteOptions) *streamWriter {
	pr, pw := io.Pipe()
	return &streamWriter{
		codec:       codec,
		compressors: compressors,
		maxSendSize: maxSendSize,
		writeOpts:   wo,
		pr:          pr,
		pw:          pw,
	}
}

// pipeReader is handed to transport.Request.Body; reading it drains exactly
// what SendMsg writes.
func (w *streamWriter) pipeReader() io.ReadCloser { return w.pr }

// SendMsg marshals v and frames it onto the pipe. It blocks until the
// transport has read the frame (io.Pipe is unbuffered and synchronous),
// giving the caller natural backpressure.
func (w *streamWriter) SendMsg(v interface{}) error {
	w.sendMu.Lock()
	defer w.sendMu.Unlock()

	p := newPreparer(w.codec)
	if err := p.prepare(v, nil, -1); err != nil {
		return err
	}
	allowCompression := w.compressors != nil
	encName := encoding.Identity
	if allowCompression && len(w.compressors.Names()) > 0 {
		encName = w.compressors.Names()[0]
	}
	return writeMessage(w.pw, p.completedBytes(), encName, w.compressors, allowCompression, w.writeOpts, w.maxSendSize)
}

// CloseSend signals the end of the request stream. Safe to call more than
// once; only the first call has effect.
func (w *streamWriter) CloseSend() error {
	w.closeOnce.Do(func() {
		w.closeErr = w.pw.Close()
	})
	return w.closeErr
}

// abort unblocks a pending SendMsg/transport read with err, used when the
// owning Call finishes before the stream completes normally.
func (w *streamWriter) abort(err error) {
	w.pw.CloseWithError(err)
}

// streamReader owns the read side of a call's response body: it reads
// framed messages, decompressing as needed, and surfaces the terminal
// Status (from trailers, once the body is drained) through onFinish.
type streamReader struct {
	resp         *transport.Response
	codec        encoding.Codec
	compressors  *encoding.CompressorRegistry
	maxRecvSize  int
	singleMsg    bool
	grpcEncoding string

	recvMu sync.Mutex

	onFinish func(err error, trailers metadata.MD)
}

func newStreamReader(resp *transport.Response, codec encoding.Codec, compressors *encoding.CompressorRegistry, maxRecvSize int, singleMsg bool, grpcEncoding string) *streamReader {
	return &streamReader{
		resp:         resp,
		codec:        codec,
		compressors:  compressors,
		maxRecvSize:  maxRecvSize,
		singleMsg:    singleMsg,
		grpcEncoding: grpcEncoding,
	}
}

// RecvMsg reads and unmarshals the next message into v. It returns io.EOF
// once the stream has delivered every message and the trailers evaluate to
// an OK status; any other terminal status is returned as a *status.Status
// error instead of io.EOF, matching grpc-go's RecvMsg contract (spec §4.H).
func (r *streamReader) RecvMsg(v interface{}) error {
	r.recvMu.Lock()
	defer r.recvMu.Unlock()

	body, err := readMessage(r.resp.Body, r.grpcEncoding, r.compressors, r.maxRecvSize, r.singleMsg)
	if err == io.EOF {
		return r.finishFromTrailers()
	}
	if err != nil {
		r.fail(err)
		return err
	}
	if err := r.codec.Unmarshal(body, v); err != nil {
		st := status.Newf(codes.Internal, "grpccore: error unmarshaling response: %v", err).Err()
		r.fail(st)
		return st
	}
	return nil
}

// finishFromTrailers is called once RecvMsg observes end-of-stream: it
// reads resp.Trailer (populated by the transport once Body hits EOF),
// extracts the terminal grpc-status/grpc-message, and reports it via
// onFinish. A missing grpc-status trailer is itself a protocol violation
// (spec §4.A: "a framed response stream that ends without a grpc-status
// trailer is Internal").
func (r *streamReader) finishFromTrailers() error {
	trailerMD := BuildMetadata(r.resp.Trailer)
	st, ok := TryGetStatus(r.resp.Trailer)
	if !ok {
		st = status.New(codes.Internal, "grpccore: server closed the stream without sending a trailing grpc-status")
	}
	st = st.WithTrailers(trailerMD)
	if r.onFinish != nil {
		r.onFinish(st.Err(), trailerMD)
	}
	if st.Code() == codes.OK {
		return io.EOF
	}
	return st.Err()
}

func (r *streamReader) fail(err error) {
	if r.onFinish != nil {
		r.onFinish(err, nil)
	}
}

// Close releases the response body, e.g. when a caller abandons a
// server-streaming call before reading it to completion.
func (r *streamReader) Close() error {
	if r.resp.Body == nil {
		return nil
	}
	return r.resp.Body.Close()
}
