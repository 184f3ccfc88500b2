// Package metadata implements the case-insensitive multi-value header bag used
// for gRPC request and response metadata (spec §3's Metadata entity).
package metadata

import "strings"

// BinaryHeaderSuffix marks a header name as carrying an opaque byte string
// rather than a UTF-8 string; the value is base64url-encoded on the wire.
const BinaryHeaderSuffix = "-bin"

// MD is a multi-map of metadata entries. Keys are stored lowercased for
// case-insensitive lookups; the values of one key keep their insertion
// order, but the order of distinct keys is not preserved.
type MD map[string][]string

// New builds an MD from a plain map, lowercasing keys.
func New(m map[string]string) MD {
	md := make(MD, len(m))
	for k, v := range m {
		md.Append(k, v)
	}
	return md
}

// Pairs builds an MD from alternating key/value strings, as
// metadata.Pairs("key1", "val1", "key2", "val2") does in grpc-go.
func Pairs(kv ...string) MD {
	if len(kv)%2 != 0 {
		panic("metadata: Pairs got an odd number of input arguments")
	}
	md := make(MD, len(kv)/2)
	for i := 0; i < len(kv); i += 2 {
		md.Append(kv[i], kv[i+1])
	}
	return md
}

// IsBinary reports whether name carries binary (base64-decoded) values.
func IsBinary(name string) bool {
	return strings.HasSuffix(strings.ToLower(name), BinaryHeaderSuffix)
}

func keyOf(name string) string {
	return strings.ToLower(name)
}

// Append adds a value to name's entry, preserving any prior values.
func (md MD) Append(name, value string) {
	k := keyOf(name)
	md[k] = append(md[k], value)
}

// Set overwrites name's entry with a single value.
func (md MD) Set(name, value string) {
	md[keyOf(name)] = []string{value}
}

// Get returns all values for name, case-insensitively.
func (md MD) Get(name string) []string {
	return md[keyOf(name)]
}

// Value returns the first value for name, if any.
func (md MD) Value(name string) (string, bool) {
	vs := md.Get(name)
	if len(vs) == 0 {
		return "", false
	}
	return vs[0], true
}

// Len returns the number of distinct keys.
func (md MD) Len() int {
	return len(md)
}

// Clone returns a deep copy of md.
func (md MD) Clone() MD {
	out := make(MD, len(md))
	for k, v := range md {
		cp := make([]string, len(v))
		copy(cp, v)
		out[k] = cp
	}
	return out
}

// Merge copies every entry of other into md, appending rather than
// overwriting, matching SetTrailer's "merge on repeated calls" semantics
// (spec §4.H and grpc-go's ServerStream.SetTrailer).
func (md MD) Merge(other MD) {
	for k, v := range other {
		md[k] = append(md[k], v...)
	}
}
