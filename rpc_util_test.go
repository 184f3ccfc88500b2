package grpccore

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chalvern/grpccore/codes"
	"github.com/chalvern/grpccore/transport"
)

func TestIsGRPCContentType(t *testing.T) {
	assert.True(t, IsGRPCContentType("application/grpc"))
	assert.True(t, IsGRPCContentType("application/grpc+proto"))
	assert.True(t, IsGRPCContentType("application/grpc+json"))
	assert.False(t, IsGRPCContentType("application/grpcweb"))
	assert.False(t, IsGRPCContentType("text/plain"))
}

func TestEncodeDecodeTimeoutRoundTrip(t *testing.T) {
	cases := []time.Duration{
		time.Nanosecond,
		500 * time.Microsecond,
		1234 * time.Millisecond,
		30 * time.Second,
		45 * time.Minute,
		10 * time.Hour,
	}
	for _, d := range cases {
		encoded := EncodeTimeout(d)
		decoded, err := DecodeTimeout(encoded)
		require.NoError(t, err)
		// The round trip is only exact to 3 significant figures.
		assert.InEpsilon(t, float64(d), float64(decoded), 0.01, "encoded=%s", encoded)
	}
}

func TestEncodeTimeoutNonPositive(t *testing.T) {
	assert.Equal(t, "1n", EncodeTimeout(0))
	assert.Equal(t, "1n", EncodeTimeout(-time.Second))
}

func TestEncodeTimeoutClampsAboveMax(t *testing.T) {
	encoded := EncodeTimeout(200_000_000 * time.Second)
	decoded, err := DecodeTimeout(encoded)
	require.NoError(t, err)
	assert.LessOrEqual(t, decoded, maxTimeoutSeconds*time.Second)
}

func TestEncodeBinHeaderRoundTrip(t *testing.T) {
	for _, b := range [][]byte{
		[]byte("x"),
		[]byte("hello world"),
		{0x00, 0x01, 0xff, 0xfe},
		[]byte(""),
	} {
		encoded := EncodeBinHeader(b)
		decoded, err := DecodeBinHeader(encoded)
		require.NoError(t, err)
		assert.Equal(t, b, decoded)
	}
}

func TestDecodeBinHeaderIllegalLength(t *testing.T) {
	_, err := DecodeBinHeader("a") // length % 4 == 1
	assert.Error(t, err)
}

func TestPercentEncodeDecode(t *testing.T) {
	msg := "hello \x01\x02 100% done"
	encoded := percentEncode(msg)
	assert.NotEqual(t, msg, encoded)
	assert.Equal(t, msg, percentDecode(encoded))
}

func TestTryGetStatus(t *testing.T) {
	h := http.Header{}
	h.Set("Grpc-Status", "5")
	h.Set("Grpc-Message", "not%20found")
	st, ok := TryGetStatus(h)
	require.True(t, ok)
	assert.Equal(t, codes.NotFound, st.Code())
	assert.Equal(t, "not found", st.Message())
}

func TestTryGetStatusAbsent(t *testing.T) {
	_, ok := TryGetStatus(http.Header{})
	assert.False(t, ok)
}

// TestValidateHeaders_TrailersOnlyOK covers spec testable property 1: a
// trailers-only OK response (grpc-status present on the initial headers).
func TestValidateHeaders_TrailersOnlyOK(t *testing.T) {
	h := http.Header{}
	h.Set("Grpc-Status", "0")
	resp := &transport.Response{StatusCode: http.StatusOK, ProtoMajor: 2, Header: h}
	st, done := ValidateHeaders(resp)
	require.True(t, done)
	assert.Equal(t, codes.OK, st.Code())
}

// TestValidateHeaders_NonOKHTTPStatus covers spec testable property 2.
func TestValidateHeaders_NonOKHTTPStatus(t *testing.T) {
	resp := &transport.Response{StatusCode: http.StatusServiceUnavailable, ProtoMajor: 2, Header: http.Header{}}
	st, done := ValidateHeaders(resp)
	require.True(t, done)
	assert.Equal(t, codes.Unavailable, st.Code())
}

func TestValidateHeaders_SubHTTP2(t *testing.T) {
	resp := &transport.Response{StatusCode: http.StatusOK, ProtoMajor: 1, Header: http.Header{}}
	st, done := ValidateHeaders(resp)
	require.True(t, done)
	assert.Equal(t, codes.Internal, st.Code())
}

func TestValidateHeaders_MissingContentType(t *testing.T) {
	resp := &transport.Response{StatusCode: http.StatusOK, ProtoMajor: 2, Header: http.Header{}}
	st, done := ValidateHeaders(resp)
	require.True(t, done)
	assert.Equal(t, codes.Canceled, st.Code())
}

func TestValidateHeaders_NormalStream(t *testing.T) {
	h := http.Header{}
	h.Set("Content-Type", "application/grpc+proto")
	resp := &transport.Response{StatusCode: http.StatusOK, ProtoMajor: 2, Header: h}
	_, done := ValidateHeaders(resp)
	assert.False(t, done)
}

func TestAuthInterceptorURL(t *testing.T) {
	assert.Equal(t, "https://api.example.com/my.Service/", AuthInterceptorURL("https", "api.example.com:443", "my.Service"))
	assert.Equal(t, "https://api.example.com:8443/my.Service/", AuthInterceptorURL("https", "api.example.com:8443", "my.Service"))
}
