package grpccore

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chalvern/grpccore/codes"
	"github.com/chalvern/grpccore/encoding"
	"github.com/chalvern/grpccore/status"
)

func TestWriteReadMessageRoundTripUncompressed(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte("hello world")
	err := writeMessage(&buf, payload, encoding.Identity, nil, false, WriteOptions{}, 0)
	require.NoError(t, err)

	got, err := readMessage(&buf, "", nil, 0, true)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestWriteReadMessageRoundTripCompressed(t *testing.T) {
	reg := encoding.DefaultCompressorRegistry()
	var buf bytes.Buffer
	payload := bytes.Repeat([]byte("gzip-me "), 50)
	err := writeMessage(&buf, payload, "gzip", reg, true, WriteOptions{}, 0)
	require.NoError(t, err)
	assert.Equal(t, compressedFlag, buf.Bytes()[0])

	got, err := readMessage(&buf, "gzip", reg, 0, true)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestWriteMessageNoCompressSuppressesCompression(t *testing.T) {
	reg := encoding.DefaultCompressorRegistry()
	var buf bytes.Buffer
	payload := []byte("hello")
	err := writeMessage(&buf, payload, "gzip", reg, true, WriteOptions{NoCompress: true}, 0)
	require.NoError(t, err)
	assert.Equal(t, uncompressedFlag, buf.Bytes()[0])
}

func TestWriteMessageExceedsMaxSendSize(t *testing.T) {
	var buf bytes.Buffer
	err := writeMessage(&buf, []byte("0123456789"), encoding.Identity, nil, false, WriteOptions{}, 5)
	require.Error(t, err)
}

func TestReadMessageCleanEOF(t *testing.T) {
	_, err := readMessage(&bytes.Buffer{}, "", nil, 0, true)
	assert.ErrorIs(t, err, io.EOF)
}

func TestReadMessageExceedsMaxRecvSize(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeMessage(&buf, []byte("0123456789"), encoding.Identity, nil, false, WriteOptions{}, 0))
	_, err := readMessage(&buf, "", nil, 5, true)
	require.Error(t, err)
}

func TestReadMessageTruncatedHeader(t *testing.T) {
	buf := bytes.NewBuffer([]byte{0x00, 0x00})
	_, err := readMessage(buf, "", nil, 0, true)
	require.Error(t, err)
}

func TestReadMessageSingleMessageRejectsTrailingData(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeMessage(&buf, []byte("one"), encoding.Identity, nil, false, WriteOptions{}, 0))
	require.NoError(t, writeMessage(&buf, []byte("two"), encoding.Identity, nil, false, WriteOptions{}, 0))
	_, err := readMessage(&buf, "", nil, 0, true)
	require.Error(t, err)
}

func TestReadMessageMultiMessageAllowsMultipleFrames(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeMessage(&buf, []byte("one"), encoding.Identity, nil, false, WriteOptions{}, 0))
	require.NoError(t, writeMessage(&buf, []byte("two"), encoding.Identity, nil, false, WriteOptions{}, 0))

	first, err := readMessage(&buf, "", nil, 0, false)
	require.NoError(t, err)
	assert.Equal(t, []byte("one"), first)

	second, err := readMessage(&buf, "", nil, 0, false)
	require.NoError(t, err)
	assert.Equal(t, []byte("two"), second)
}

func TestReadMessageCompressedWithoutEncodingIsInternal(t *testing.T) {
	hdr := []byte{compressedFlag, 0, 0, 0, 0}
	_, err := readMessage(bytes.NewReader(hdr), "", nil, 0, true)
	require.Error(t, err)
	assert.Equal(t, codes.Internal, status.Code(err))
}

func TestReadMessageUnsupportedEncodingIsUnimplemented(t *testing.T) {
	reg := encoding.NewCompressorRegistry()
	var buf bytes.Buffer
	require.NoError(t, writeMessage(&buf, []byte("x"), encoding.Identity, nil, false, WriteOptions{}, 0))
	// Flip the frame to claim a compressed, unknown encoding.
	raw := buf.Bytes()
	raw[0] = compressedFlag
	_, err := readMessage(bytes.NewReader(raw), "snappy", reg, 0, true)
	require.Error(t, err)
	assert.Equal(t, codes.Unimplemented, status.Code(err))
}
