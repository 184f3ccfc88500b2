package grpccore

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/chalvern/grpccore/codes"
	"github.com/chalvern/grpccore/encoding"
	"github.com/chalvern/grpccore/internal/bufpool"
	"github.com/chalvern/grpccore/status"
)

// Length-prefixed message framing, grounded on chalvern/grpc-go's
// transport.msgHeader/recvMsg and dicenull/connect-go's writer/marshaler
// (spec §4.B). Frame layout is one compression flag byte followed by a
// 4-byte big-endian payload length.
const (
	payloadLenFieldSize = 4
	frameHeaderSize     = 1 + payloadLenFieldSize

	compressedFlag   byte = 1
	uncompressedFlag byte = 0
)

// writeMessage frames payload and writes it to w, compressing through comp
// when compression is allowed, negotiated (grpcEncoding != identity and
// known to registry), and not suppressed by opts.NoCompress. maxSendSize <=
// 0 means unlimited.
func writeMessage(w io.Writer, payload []byte, grpcEncoding string, registry *encoding.CompressorRegistry, allowCompression bool, opts WriteOptions, maxSendSize int) error {
	body := payload
	flag := uncompressedFlag

	if allowCompression && !opts.NoCompress && grpcEncoding != encoding.Identity && registry.Has(grpcEncoding) {
		buf := bufpool.Get()
		defer buf.Release()
		comp := registry.Get(grpcEncoding)
		wc, err := comp.Compress(buf)
		if err != nil {
			return status.Newf(codes.Internal, "grpccore: error compressing message: %v", err).Err()
		}
		if _, err := wc.Write(payload); err != nil {
			return status.Newf(codes.Internal, "grpccore: error compressing message: %v", err).Err()
		}
		if err := wc.Close(); err != nil {
			return status.Newf(codes.Internal, "grpccore: error compressing message: %v", err).Err()
		}
		body = append([]byte(nil), buf.Bytes()...)
		flag = compressedFlag
	}

	if maxSendSize > 0 && len(body) > maxSendSize {
		return status.Newf(codes.ResourceExhausted, "grpccore: trying to send message larger than max (%d vs. %d)", len(body), maxSendSize).Err()
	}

	hdr := make([]byte, frameHeaderSize)
	hdr[0] = flag
	binary.BigEndian.PutUint32(hdr[1:], uint32(len(body)))
	if _, err := w.Write(hdr); err != nil {
		return err
	}
	if len(body) > 0 {
		if _, err := w.Write(body); err != nil {
			return err
		}
	}
	return nil
}

// readMessage reads one length-prefixed frame from r, decompressing it
// through registry/grpcEncoding if the compression flag is set. It returns
// io.EOF when r is exhausted before any header byte is read (a clean
// end-of-stream), and a status error for every other malformed condition.
// maxRecvSize <= 0 means unlimited. When singleMessage is true, a second
// frame present after this one is a protocol violation.
func readMessage(r io.Reader, grpcEncoding string, registry *encoding.CompressorRegistry, maxRecvSize int, singleMessage bool) ([]byte, error) {
	hdr := make([]byte, frameHeaderSize)
	n, err := io.ReadFull(r, hdr)
	if n == 0 && err == io.EOF {
		return nil, io.EOF
	}
	if err != nil {
		return nil, status.Newf(codes.Internal, "grpccore: unexpected end of content while reading the message header: %v", err).Err()
	}

	length := binary.BigEndian.Uint32(hdr[1:])
	if maxRecvSize > 0 && int(length) > maxRecvSize {
		return nil, status.Newf(codes.ResourceExhausted, "grpccore: received message larger than max (%d vs. %d)", length, maxRecvSize).Err()
	}

	body := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(r, body); err != nil {
			return nil, status.Newf(codes.Internal, "grpccore: unexpected end of content while reading the message body: %v", err).Err()
		}
	}

	switch hdr[0] {
	case uncompressedFlag:
		// payload is already plain.
	case compressedFlag:
		if grpcEncoding == "" {
			return nil, status.New(codes.Internal, "grpccore: request did not include grpc-encoding value with compressed message").Err()
		}
		if grpcEncoding == encoding.Identity {
			return nil, status.New(codes.Internal, "grpccore: request sent 'identity' grpc-encoding value with compressed message").Err()
		}
		comp := registry.Get(grpcEncoding)
		if comp == nil {
			return nil, status.Newf(codes.Unimplemented, "grpccore: unsupported grpc-encoding value %q. Supported encodings: %s", grpcEncoding, registry.SupportedEncodingsMessage()).Err()
		}
		dr, err := comp.Decompress(bytes.NewReader(body))
		if err != nil {
			return nil, status.Newf(codes.Internal, "grpccore: error decompressing message: %v", err).Err()
		}
		decompressed, err := io.ReadAll(dr)
		if err != nil {
			return nil, status.Newf(codes.Internal, "grpccore: error decompressing message: %v", err).Err()
		}
		body = decompressed
	default:
		return nil, status.Newf(codes.Internal, "grpccore: received unexpected compression flag %d", hdr[0]).Err()
	}

	if singleMessage {
		var extra [1]byte
		if _, err := io.ReadFull(r, extra[:]); err != io.EOF {
			if err == nil {
				return nil, status.New(codes.Internal, "grpccore: unexpected data after finished reading message").Err()
			}
			return nil, status.Newf(codes.Internal, "grpccore: error checking for trailing data: %v", err).Err()
		}
	}

	return body, nil
}
