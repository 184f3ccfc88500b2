// Package encoding defines the interfaces for per-message compression
// providers and the request/response marshaller contract, plus a registry of
// named compressors to look providers up by the grpc-encoding wire value.
//
// This is adapted from chalvern/grpc-go's encoding package: the original
// Compressor interface wrapped ad-hoc io.Writer/io.Reader wrapping for a
// single global registry. Here it keeps that shape for package-level
// registration (mirrors grpc.RegisterCompressor's init()-time contract) but
// adds a per-Channel CompressorRegistry (see channel.go) so the grpc-accept-
// encoding cache and the "supported encodings" diagnostic list described in
// spec §4.D don't depend on mutable global state during tests.
package encoding

import (
	"fmt"
	"io"
	"strings"
	"sync"
)

// Identity specifies the optional encoding for uncompressed streams. It is
// always implicitly accepted and never appears in a compressed frame's
// grpc-encoding header.
const Identity = "identity"

// Compressor compresses and decompresses message payloads for a single named
// grpc-encoding value.
type Compressor interface {
	// Compress wraps w so that writes to the returned WriteCloser are
	// compressed into w. Closing flushes and finalizes the stream.
	Compress(w io.Writer) (io.WriteCloser, error)
	// Decompress wraps r so reads from the returned Reader yield decompressed
	// bytes.
	Decompress(r io.Reader) (io.Reader, error)
	// Name is the grpc-encoding wire value, e.g. "gzip". Must be static.
	Name() string
}

var (
	mu                sync.RWMutex
	registeredCompressor = make(map[string]Compressor)
	registeredCodecs     = make(map[string]Codec)
)

// RegisterCompressor registers c globally by c.Name(). Intended for
// init()-time use, matching grpc-go's RegisterCompressor contract: later
// registrations for the same name win.
func RegisterCompressor(c Compressor) {
	mu.Lock()
	defer mu.Unlock()
	registeredCompressor[c.Name()] = c
}

// GetCompressor returns the globally registered Compressor for name, or nil.
func GetCompressor(name string) Compressor {
	mu.RLock()
	defer mu.RUnlock()
	return registeredCompressor[name]
}

// Codec is the request/response marshaller contract consumed by the call
// engine (the Method descriptor's request_marshaller/response_marshaller in
// spec §3). It is an external collaborator — generated code supplies the
// concrete implementation, typically backed by protobuf — the core only
// calls through this interface.
type Codec interface {
	Marshal(v interface{}) ([]byte, error)
	Unmarshal(data []byte, v interface{}) error
	Name() string
}

// RegisterCodec registers codec globally by the lowercased result of
// codec.Name(). Panics on a nil codec or empty name.
func RegisterCodec(codec Codec) {
	if codec == nil {
		panic("encoding: cannot register a nil Codec")
	}
	name := strings.ToLower(codec.Name())
	if name == "" {
		panic("encoding: cannot register a Codec with an empty Name()")
	}
	mu.Lock()
	defer mu.Unlock()
	registeredCodecs[name] = codec
}

// GetCodec returns the globally registered Codec for the lowercased
// content-subtype, or nil.
func GetCodec(contentSubtype string) Codec {
	mu.RLock()
	defer mu.RUnlock()
	return registeredCodecs[strings.ToLower(contentSubtype)]
}

// CompressorRegistry is an ordered, per-Channel set of compression
// providers, used to build the cached grpc-accept-encoding header value
// (spec §4.D) without reaching into package-level state.
type CompressorRegistry struct {
	mu          sync.RWMutex
	names       []string
	byName      map[string]Compressor
	acceptCache string
}

// NewCompressorRegistry builds an empty registry. Identity is always
// implicitly accepted even though it is never added explicitly.
func NewCompressorRegistry() *CompressorRegistry {
	return &CompressorRegistry{byName: map[string]Compressor{}}
}

// DefaultCompressorRegistry returns identity + gzip, the default set
// described in spec §4.D.
func DefaultCompressorRegistry() *CompressorRegistry {
	r := NewCompressorRegistry()
	r.Add(NewGzipCompressor())
	return r
}

// Add registers c in call order and invalidates the cached accept-encoding
// header.
func (r *CompressorRegistry) Add(c Compressor) *CompressorRegistry {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byName[c.Name()]; !exists {
		r.names = append(r.names, c.Name())
	}
	r.byName[c.Name()] = c
	r.acceptCache = ""
	return r
}

// Get returns the provider for name, or nil if unregistered or if name is
// Identity (identity is handled inline by callers, never as a Compressor).
func (r *CompressorRegistry) Get(name string) Compressor {
	if r == nil || name == Identity {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byName[name]
}

// Has reports whether name is a known, non-identity encoding.
func (r *CompressorRegistry) Has(name string) bool {
	return r.Get(name) != nil
}

// AcceptEncoding returns the cached "identity,<names...>" value sent as
// grpc-accept-encoding, per spec §4.D.
func (r *CompressorRegistry) AcceptEncoding() string {
	if r == nil {
		return Identity
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.acceptCache != "" {
		return r.acceptCache
	}
	parts := append([]string{Identity}, r.names...)
	r.acceptCache = strings.Join(parts, ",")
	return r.acceptCache
}

// Names lists every non-identity encoding registered, in the order added.
func (r *CompressorRegistry) Names() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

// SupportedEncodingsMessage formats the diagnostic list used by the
// Unimplemented status in spec §4.B read_message step 4.
func (r *CompressorRegistry) SupportedEncodingsMessage() string {
	names := append([]string{Identity}, r.Names()...)
	return fmt.Sprintf("%s", strings.Join(names, ","))
}
