package grpccore

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/http2"

	"github.com/chalvern/grpccore/codes"
	"github.com/chalvern/grpccore/metadata"
	"github.com/chalvern/grpccore/status"
	"github.com/chalvern/grpccore/transport"
)

// Protocol-level constants and helpers, grounded on chalvern/grpc-go's
// transport package header handling and dicenull/connect-go's stream.go
// extractError/httpToGRPC/percentEncode/percentDecode (spec §4.A).

const (
	grpcContentTypePrefix = "application/grpc"

	headerGRPCStatus      = "Grpc-Status"
	headerGRPCMessage     = "Grpc-Message"
	headerGRPCEncoding    = "Grpc-Encoding"
	headerGRPCAcceptEnc   = "Grpc-Accept-Encoding"
	headerGRPCTimeout     = "Grpc-Timeout"
	headerContentType     = "Content-Type"
	headerTE              = "Te"
	headerUserAgent       = "User-Agent"
	headerStatusDetailBin = "Grpc-Status-Details-Bin"
	headerCallID          = "X-Grpccore-Call-Id"

	maxTimeoutSeconds = 99999999
)

// IsGRPCContentType reports whether v names a gRPC content type, i.e.
// "application/grpc" or "application/grpc+<codec>".
func IsGRPCContentType(v string) bool {
	if !strings.HasPrefix(v, grpcContentTypePrefix) {
		return false
	}
	if len(v) == len(grpcContentTypePrefix) {
		return true
	}
	return v[len(grpcContentTypePrefix)] == '+'
}

// EncodeTimeout renders d as a grpc-timeout header value: an ASCII digit
// string rounded up to three significant figures followed by a unit suffix
// (n, u, m, S, M, H), using the smallest unit whose rounded value still fits
// the 8-digit TimeoutValue grammar. Non-positive durations encode as "1n".
// Durations at or beyond 99999999s are clamped to that ceiling and encode as
// "99999999S".
func EncodeTimeout(d time.Duration) string {
	if d <= 0 {
		return "1n"
	}
	if d >= maxTimeoutSeconds*time.Second {
		return strconv.Itoa(maxTimeoutSeconds) + "S"
	}
	units := []struct {
		suffix byte
		unit   time.Duration
	}{
		{'n', time.Nanosecond},
		{'u', time.Microsecond},
		{'m', time.Millisecond},
		{'S', time.Second},
		{'M', time.Minute},
		{'H', time.Hour},
	}
	for i, u := range units {
		raw := ceilDiv(int64(d), int64(u.unit))
		rounded := roundUpSigFigs(raw, 3)
		if rounded <= maxTimeoutSeconds || i == len(units)-1 {
			return strconv.FormatInt(rounded, 10) + string(u.suffix)
		}
	}
	return "1n" // unreachable
}

// DecodeTimeout reverses EncodeTimeout.
func DecodeTimeout(s string) (time.Duration, error) {
	if len(s) < 2 {
		return 0, fmt.Errorf("grpccore: malformed grpc-timeout value %q", s)
	}
	val, err := strconv.ParseInt(s[:len(s)-1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("grpccore: malformed grpc-timeout value %q: %w", s, err)
	}
	var unit time.Duration
	switch s[len(s)-1] {
	case 'n':
		unit = time.Nanosecond
	case 'u':
		unit = time.Microsecond
	case 'm':
		unit = time.Millisecond
	case 'S':
		unit = time.Second
	case 'M':
		unit = time.Minute
	case 'H':
		unit = time.Hour
	default:
		return 0, fmt.Errorf("grpccore: unknown grpc-timeout unit in %q", s)
	}
	return time.Duration(val) * unit, nil
}

func ceilDiv(a, b int64) int64 {
	return (a + b - 1) / b
}

// roundUpSigFigs rounds v up to the requested number of significant decimal
// digits, e.g. roundUpSigFigs(1234, 3) == 1240.
func roundUpSigFigs(v int64, sigFigs int) int64 {
	if v <= 0 {
		return v
	}
	digits := len(strconv.FormatInt(v, 10))
	if digits <= sigFigs {
		return v
	}
	scale := int64(1)
	for i := 0; i < digits-sigFigs; i++ {
		scale *= 10
	}
	return ceilDiv(v, scale) * scale
}

// EncodeBinHeader base64url-encodes b for transmission in a "-bin" header.
func EncodeBinHeader(b []byte) string {
	return base64.URLEncoding.EncodeToString(b)
}

// DecodeBinHeader reverses EncodeBinHeader, re-padding v as needed. A
// remainder of 1 mod 4 is never a legal base64 length.
func DecodeBinHeader(v string) ([]byte, error) {
	switch len(v) % 4 {
	case 0:
		return base64.URLEncoding.DecodeString(v)
	case 1:
		return nil, fmt.Errorf("grpccore: illegal base64 data length %d", len(v))
	case 2:
		return base64.URLEncoding.DecodeString(v + "==")
	default:
		return base64.URLEncoding.DecodeString(v + "=")
	}
}

// reservedResponseHeaders are protocol-owned and never surfaced as user
// metadata by BuildMetadata.
var reservedResponseHeaders = map[string]bool{
	"grpc-status":       true,
	"grpc-message":      true,
	"grpc-encoding":     true,
	"grpc-accept-encoding": true,
	"content-type":      true,
	"content-length":    true,
	"content-encoding":  true,
	"te":                true,
	"trailer":           true,
	"grpc-status-details-bin": true,
}

// BuildMetadata converts the non-reserved entries of h into user metadata,
// base64url-decoding any "-bin" suffixed values (spec §4.A).
func BuildMetadata(h http.Header) metadata.MD {
	md := metadata.New(nil)
	for k, vs := range h {
		lower := strings.ToLower(k)
		if reservedResponseHeaders[lower] {
			continue
		}
		for _, v := range vs {
			if metadata.IsBinary(lower) {
				decoded, err := DecodeBinHeader(v)
				if err != nil {
					continue
				}
				md.Append(lower, string(decoded))
				continue
			}
			md.Append(lower, v)
		}
	}
	return md
}

// TryGetStatus extracts a Status from h if a grpc-status header is present,
// percent-decoding grpc-message per the gRPC wire format.
func TryGetStatus(h http.Header) (*status.Status, bool) {
	raw := h.Get(headerGRPCStatus)
	if raw == "" {
		return nil, false
	}
	code, err := strconv.Atoi(raw)
	if err != nil {
		return status.New(codes.Unknown, fmt.Sprintf("invalid grpc-status value %q", raw)), true
	}
	msg := percentDecode(h.Get(headerGRPCMessage))
	return status.New(codes.Code(code), msg), true
}

// httpToGRPCCode maps HTTP status codes to gRPC codes for non-200 responses
// that never reach the gRPC framing layer (e.g. a misconfigured proxy, an
// authentication gateway). Grounded on dicenull/connect-go's httpToGRPC
// table (spec §4.A item 3).
var httpToGRPCCode = map[int]codes.Code{
	http.StatusBadRequest:          codes.Internal,
	http.StatusUnauthorized:        codes.Unauthenticated,
	http.StatusForbidden:           codes.PermissionDenied,
	http.StatusNotFound:            codes.Unimplemented,
	http.StatusTooManyRequests:     codes.Unavailable,
	http.StatusBadGateway:          codes.Unavailable,
	http.StatusServiceUnavailable:  codes.Unavailable,
	http.StatusGatewayTimeout:      codes.Unavailable,
	http.StatusNotImplemented:      codes.Unimplemented,
}

func codeFromHTTPStatus(status int) codes.Code {
	if c, ok := httpToGRPCCode[status]; ok {
		return c
	}
	return codes.Unknown
}

// ValidateHeaders implements the response-validation algorithm of spec
// §4.A/§4.F: it inspects a freshly received response's headers and either
// returns a terminal Status (trailers-only OK, protocol violation, non-200,
// missing/wrong content-type) or reports that the response is a normal
// framed stream that must be read to completion.
func ValidateHeaders(resp *transport.Response) (*status.Status, bool) {
	if st, ok := TryGetStatus(resp.Header); ok {
		return st, true
	}
	if resp.ProtoMajor < 2 {
		return status.New(codes.Internal, "Call failed with an HTTP/2 or higher connection required."), true
	}
	if resp.StatusCode != http.StatusOK {
		return status.New(codeFromHTTPStatus(resp.StatusCode), fmt.Sprintf("Bad gRPC response. HTTP status code: %d", resp.StatusCode)), true
	}
	ct := resp.Header.Get(headerContentType)
	if ct == "" {
		return status.New(codes.Canceled, "No grpc-status found on response, and no content-type header indicates a gRPC response."), true
	}
	if !IsGRPCContentType(ct) {
		return status.New(codes.Canceled, fmt.Sprintf("Bad gRPC response. Invalid content-type value: %s", ct)), true
	}
	return nil, false
}

// MapTransportError classifies a transport-level error (one that occurred
// before or during Send, rather than a status carried in trailers) into a
// Status, per spec §4.A item: context cancellation/deadlines, network
// timeouts, and HTTP/2 stream resets each have a canonical code.
func MapTransportError(err error) *status.Status {
	if err == nil {
		return status.New(codes.OK, "")
	}
	switch {
	case errors.Is(err, context.Canceled):
		return status.New(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.New(codes.DeadlineExceeded, err.Error())
	}
	var streamErr http2.StreamError
	if errors.As(err, &streamErr) {
		return status.New(codes.Unavailable, fmt.Sprintf("stream error: %v", streamErr))
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return status.New(codes.Unavailable, err.Error())
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return status.New(codes.Unavailable, "the response ended prematurely")
	}
	return status.New(codes.Internal, err.Error())
}

// percentEncode/percentDecode implement the gRPC wire format's
// percent-encoding for grpc-message, grounded on dicenull/connect-go's
// stream.go helpers of the same name: only bytes outside printable ASCII
// (and '%' itself) are escaped.
func percentEncode(msg string) string {
	var needsEscape bool
	for i := 0; i < len(msg); i++ {
		if c := msg[i]; c < 0x20 || c > 0x7e || c == '%' {
			needsEscape = true
			break
		}
	}
	if !needsEscape {
		return msg
	}
	var out strings.Builder
	for i := 0; i < len(msg); i++ {
		c := msg[i]
		if c < 0x20 || c > 0x7e || c == '%' {
			fmt.Fprintf(&out, "%%%02X", c)
		} else {
			out.WriteByte(c)
		}
	}
	return out.String()
}

func percentDecode(msg string) string {
	if !strings.ContainsRune(msg, '%') {
		return msg
	}
	var out strings.Builder
	for i := 0; i < len(msg); i++ {
		if msg[i] == '%' && i+2 < len(msg) {
			if b, err := strconv.ParseUint(msg[i+1:i+3], 16, 8); err == nil {
				out.WriteByte(byte(b))
				i += 2
				continue
			}
		}
		out.WriteByte(msg[i])
	}
	return out.String()
}

// AuthInterceptorURL builds the authority-scoped URI PerRPCCredentials
// implementations expect for GetRequestMetadata, per spec §4.E's "composite
// credentials" handling: "scheme://authority/Service/" with default ports
// stripped.
func AuthInterceptorURL(scheme, authority, service string) string {
	trimmed := authority
	if scheme == "https" {
		trimmed = strings.TrimSuffix(trimmed, ":443")
	} else if scheme == "http" {
		trimmed = strings.TrimSuffix(trimmed, ":80")
	}
	return fmt.Sprintf("%s://%s/%s/", scheme, trimmed, service)
}
