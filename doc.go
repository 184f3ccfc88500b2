// Package grpccore implements the client-side half of the gRPC wire
// protocol over an abstract HTTP/2-or-better transport: framed request
// construction, response validation, deadline and cancellation handling,
// status/trailer surfacing, the four call shapes, and a retry/hedging layer
// on top of a common call abstraction.
//
// grpccore deliberately does not implement a transport, TLS, credential
// plugins beyond the narrow PerRPCCredentials contract, load balancing, name
// resolution, or generated service stubs — those are supplied by the caller
// through the interfaces in the transport, credentials, and encoding
// packages. See SPEC_FULL.md for the full design.
package grpccore
