// Package keepalive defines client-side keepalive parameters. The core does
// not itself send pings — that is a connection-level transport concern,
// and spec.md scopes the transport implementation out of this module — but
// the Channel still carries these parameters through to whatever
// transport.ClientTransport the caller constructs, the same way grpc-go's
// ClientConn threads keepalive.ClientParameters down to its transport
// without interpreting them itself.
//
// Adapted from chalvern/grpc-go's keepalive package: the server-side
// ServerParameters/EnforcementPolicy types are dropped since this module has
// no server-side component (spec.md Non-goals: "server-side implementation").
package keepalive

import "time"

// ClientParameters configures how a transport built on top of this core
// should probe a connection for liveness. The Channel stores a value here
// purely as passthrough configuration (see channel.go's ChannelConfig); the
// core itself never arms a keepalive timer.
type ClientParameters struct {
	// Time is how long the transport waits without activity before sending
	// a keepalive ping. The default, zero, means "never probe".
	Time time.Duration

	// Timeout is how long the transport waits for a ping ack before closing
	// the connection.
	Timeout time.Duration

	// PermitWithoutStream allows keepalive pings even when there are no
	// active calls on the connection.
	PermitWithoutStream bool
}

// DefaultClientParameters matches the conservative defaults grpc-go ships:
// no proactive pinging, a 20s ack timeout if pinging is ever enabled.
var DefaultClientParameters = ClientParameters{
	Timeout: 20 * time.Second,
}
