// Package credentials defines the narrow per-call credential contract the
// core's run loop (spec §4.F step 2) invokes before sending a request.
//
// Adapted from chalvern/grpc-go's credentials package: the original also
// defined TransportCredentials (TLS handshake, ALPN negotiation, ...). That
// machinery lives below this core's abstraction boundary — spec.md lists
// "TLS" and "credential plugins and OAuth providers" as out-of-scope
// external collaborators — so only the PerRPCCredentials shape (attaching
// metadata to an individual call) survives here; the transport itself is
// responsible for channel-level transport security.
package credentials

import "context"

// PerRPCCredentials attaches request metadata to every call it's configured
// on, refreshing tokens if required. The core invokes GetRequestMetadata once
// per attempt before constructing the request (spec §4.F step 2) and merges
// the returned pairs into the outgoing headers.
type PerRPCCredentials interface {
	// GetRequestMetadata returns metadata to attach to a request for the
	// given call URIs (normally a single "scheme://authority/service/"
	// value built by AuthInterceptorURL). ctx carries the call's deadline
	// and cancellation.
	GetRequestMetadata(ctx context.Context, uri ...string) (map[string]string, error)

	// RequireTransportSecurity reports whether these credentials must only
	// be sent over a secure transport. The core's run loop does not consult
	// it: over an insecure (non-https) channel it never invokes any per-RPC
	// credential, whatever this returns, and logs a warning instead.
	RequireTransportSecurity() bool
}

// AuthInfo describes the authentication state of an established connection,
// surfaced to PerRPCCredentials implementations that need to adapt behavior
// to the channel's security level (e.g. an OAuth provider skipping itself on
// plaintext).
type AuthInfo interface {
	AuthType() string
}

// ProtocolInfo carries the information a PerRPCCredentials implementation
// might want about the wire protocol it is running over.
type ProtocolInfo struct {
	ProtocolVersion  string
	SecurityProtocol string
	ServerName       string
}

// Composite flattens multiple PerRPCCredentials into one that invokes each in
// order and merges the returned metadata, matching the "composite
// credentials are flattened into an ordered list" requirement in spec §4.E.
type Composite struct {
	creds []PerRPCCredentials
}

// NewComposite builds a Composite from creds, in invocation order.
func NewComposite(creds ...PerRPCCredentials) *Composite {
	return &Composite{creds: creds}
}

// RequireTransportSecurity reports true if any constituent credential
// requires transport security.
func (c *Composite) RequireTransportSecurity() bool {
	for _, cr := range c.creds {
		if cr.RequireTransportSecurity() {
			return true
		}
	}
	return false
}

// GetRequestMetadata invokes every constituent credential and merges their
// metadata, later entries overwriting earlier ones on key collision.
func (c *Composite) GetRequestMetadata(ctx context.Context, uri ...string) (map[string]string, error) {
	merged := map[string]string{}
	for _, cr := range c.creds {
		md, err := cr.GetRequestMetadata(ctx, uri...)
		if err != nil {
			return nil, err
		}
		for k, v := range md {
			merged[k] = v
		}
	}
	return merged, nil
}
