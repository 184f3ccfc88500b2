// Package status implements errors returned by grpccore. These errors carry
// a codes.Code, a message, and optionally metadata trailers and the
// underlying cause. It mirrors the shape teacher's call.go and stream.go
// consume (status.Errorf(codes.X, ...), status.FromError) even though the
// package itself was not part of the retrieved slice.
package status

import (
	"errors"
	"fmt"

	"github.com/chalvern/grpccore/codes"
	"github.com/chalvern/grpccore/metadata"
)

// Status is an immutable (code, message, cause) tuple, optionally carrying
// trailer metadata collected at the time it was produced.
type Status struct {
	code     codes.Code
	message  string
	cause    error
	trailers metadata.MD
}

// New returns a Status with the given code and message.
func New(code codes.Code, message string) *Status {
	return &Status{code: code, message: message}
}

// Newf is New with fmt.Sprintf-formatted message.
func Newf(code codes.Code, format string, args ...interface{}) *Status {
	return New(code, fmt.Sprintf(format, args...))
}

// WithCause attaches the triggering error to a copy of s and returns it.
func (s *Status) WithCause(cause error) *Status {
	cp := *s
	cp.cause = cause
	return &cp
}

// WithTrailers attaches trailer metadata to a copy of s and returns it.
func (s *Status) WithTrailers(md metadata.MD) *Status {
	cp := *s
	cp.trailers = md
	return &cp
}

// Code returns the status code.
func (s *Status) Code() codes.Code {
	if s == nil {
		return codes.OK
	}
	return s.code
}

// Message returns the status message.
func (s *Status) Message() string {
	if s == nil {
		return ""
	}
	return s.message
}

// Trailers returns the trailer metadata captured with the status, or nil.
func (s *Status) Trailers() metadata.MD {
	if s == nil {
		return nil
	}
	return s.trailers
}

// Cause returns the underlying error, if any.
func (s *Status) Cause() error {
	if s == nil {
		return nil
	}
	return s.cause
}

// Unwrap supports errors.Is/errors.As against the cause.
func (s *Status) Unwrap() error {
	if s == nil {
		return nil
	}
	return s.cause
}

// Err returns nil if s is nil or has code OK, otherwise s itself as an error.
func (s *Status) Err() error {
	if s == nil || s.code == codes.OK {
		return nil
	}
	return s
}

// Error implements the error interface.
func (s *Status) Error() string {
	return fmt.Sprintf("rpc error: code = %s desc = %s", s.code, s.message)
}

// Errorf builds a Status with code and a formatted message, and returns it as
// an error. A nil-returning helper for codes.OK matches teacher's
// status.Errorf usage in call.go/stream.go.
func Errorf(code codes.Code, format string, args ...interface{}) error {
	return New(code, fmt.Sprintf(format, args...)).Err()
}

// FromError recovers the Status embedded in err, if any. Non-Status errors
// are reported as codes.Unknown, matching the behavior grpc-go's own
// status.FromError documents.
func FromError(err error) (*Status, bool) {
	if err == nil {
		return New(codes.OK, ""), true
	}
	var s *Status
	if errors.As(err, &s) {
		return s, true
	}
	return New(codes.Unknown, err.Error()), false
}

// Convert is FromError without the "was it already a Status" bit.
func Convert(err error) *Status {
	s, _ := FromError(err)
	return s
}

// Code is a convenience accessor equivalent to Convert(err).Code().
func Code(err error) codes.Code {
	return Convert(err).Code()
}
