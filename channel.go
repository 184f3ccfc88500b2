package grpccore

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"go.opentelemetry.io/otel/trace"

	"github.com/chalvern/grpccore/codes"
	"github.com/chalvern/grpccore/credentials"
	"github.com/chalvern/grpccore/encoding"
	"github.com/chalvern/grpccore/grpclog"
	"github.com/chalvern/grpccore/keepalive"
	"github.com/chalvern/grpccore/status"
	"github.com/chalvern/grpccore/transport"
)

// Default message size limits, matching grpc-go's conservative receive cap
// and unbounded-by-default send cap.
const (
	DefaultMaxSendSize    = maxInt
	DefaultMaxReceiveSize = 4 * 1024 * 1024

	// methodInfoUpgradeThreshold is the small-N cutover point described in
	// spec §4.E: below this many distinct methods, a linear-scan slice
	// under a mutex outperforms a concurrent map; at or above it, the cache
	// is upgraded once, permanently, to a sync.Map.
	methodInfoUpgradeThreshold = 10
)

// Clock abstracts time.Now, grounded on the same seam chalvern/grpc-go's
// transport tests use for fake clocks. The Channel stores it, but the
// deadline logic in call.go reads the system clock (time.Now, time.Until)
// directly and does not consult it.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// ChannelConfig configures a Channel. Transport is the only required field.
type ChannelConfig struct {
	// BaseURL is the scheme://authority prefix every call's request URI is
	// built from, e.g. "https://api.example.com:443".
	BaseURL string

	// Transport sends framed requests and receives framed responses.
	Transport transport.ClientTransport

	// Codec is not read by the call path: every call marshals with its
	// MethodDesc's own Codec.
	Codec encoding.Codec

	// Compressors is the set of compression providers this channel
	// negotiates. Defaults to encoding.DefaultCompressorRegistry().
	Compressors *encoding.CompressorRegistry

	MaxSendSize    int
	MaxReceiveSize int

	// Credentials are applied to every call made through this channel, in
	// addition to any CallOptions.Credentials (composed via
	// credentials.NewComposite).
	Credentials credentials.PerRPCCredentials

	// ServiceConfig supplies per-method defaults, retry, and hedging
	// policies (spec §3/§4.E).
	ServiceConfig *ServiceConfig

	// Throttling, if set, governs whether retries/hedges are suppressed
	// under sustained failure (spec §3's Throttling entity).
	Throttling *ThrottlingPolicy

	// MaxTimerDue caps how far in the future a single deadline timer may be
	// armed, mirroring the teacher's .NET-inherited "Timer has a maximum
	// due time" constraint; a longer deadline is handled by re-arming the
	// timer in MaxTimerDue-sized increments. Zero means no cap.
	MaxTimerDue time.Duration

	Keepalive keepalive.ClientParameters

	Logger grpclog.LoggerV2
	Tracer trace.TracerProvider

	UserAgent string

	Clock Clock
}

// Channel is the top-level entry point: it owns shared configuration,
// the method-info cache, the throttler, and the set of in-flight calls, and
// constructs Call values for each invocation site (spec §3's Channel
// entity). Grounded on chalvern/grpc-go's ClientConn and, for the method
// cache specifically, resolver_conn_wrapper.go's "one builder in flight,
// many waiters" pattern reimplemented via golang.org/x/sync/singleflight.
type Channel struct {
	cfg ChannelConfig

	sf singleflight.Group

	miMu      sync.Mutex
	miSmall   []methodInfoEntry
	miUpgraded atomic.Bool
	miMap      sync.Map // string -> *MethodInfo

	throttler *Throttler

	activeMu sync.Mutex
	active   map[*Call]struct{}

	closed atomic.Bool
}

type methodInfoEntry struct {
	name string
	info *MethodInfo
}

// MethodInfo is the resolved, per-method configuration a Call consults: the
// request URI, the method's config (if any), and the method descriptor it
// was built from.
type MethodInfo struct {
	CallURI string
	Config  MethodConfig
	Desc    MethodDesc
}

// NewChannel validates cfg and constructs a Channel.
func NewChannel(cfg ChannelConfig) (*Channel, error) {
	if cfg.Transport == nil {
		return nil, fmt.Errorf("grpccore: ChannelConfig.Transport is required")
	}
	if cfg.Compressors == nil {
		cfg.Compressors = encoding.DefaultCompressorRegistry()
	}
	if cfg.MaxSendSize == 0 {
		cfg.MaxSendSize = DefaultMaxSendSize
	}
	if cfg.MaxReceiveSize == 0 {
		cfg.MaxReceiveSize = DefaultMaxReceiveSize
	}
	if cfg.Logger == nil {
		cfg.Logger = grpclog.NewDefault()
	}
	if cfg.Clock == nil {
		cfg.Clock = realClock{}
	}
	var throttler *Throttler
	if cfg.Throttling != nil {
		throttler = NewThrottler(*cfg.Throttling)
	}
	return &Channel{
		cfg:       cfg,
		throttler: throttler,
		active:    make(map[*Call]struct{}),
	}, nil
}

// getMethodInfo resolves (building and caching on first use) the
// MethodInfo for desc. Concurrent callers racing on the same uncached
// method share a single construction via singleflight, per spec §4.E.
func (c *Channel) getMethodInfo(ctx context.Context, desc MethodDesc) (*MethodInfo, error) {
	if mi, ok := c.lookupMethodInfo(desc.FullName); ok {
		return mi, nil
	}

	v, err, _ := c.sf.Do(desc.FullName, func() (interface{}, error) {
		if mi, ok := c.lookupMethodInfo(desc.FullName); ok {
			return mi, nil
		}
		mi := c.buildMethodInfo(desc)
		c.storeMethodInfo(desc.FullName, mi)
		return mi, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*MethodInfo), nil
}

func (c *Channel) lookupMethodInfo(name string) (*MethodInfo, bool) {
	if c.miUpgraded.Load() {
		if v, ok := c.miMap.Load(name); ok {
			return v.(*MethodInfo), true
		}
		return nil, false
	}
	c.miMu.Lock()
	defer c.miMu.Unlock()
	for _, e := range c.miSmall {
		if e.name == name {
			return e.info, true
		}
	}
	return nil, false
}

func (c *Channel) buildMethodInfo(desc MethodDesc) *MethodInfo {
	mc, _ := c.cfg.ServiceConfig.lookupMethodConfig(desc.FullName)
	return &MethodInfo{
		CallURI: c.cfg.BaseURL + desc.FullName,
		Config:  mc,
		Desc:    desc,
	}
}

// storeMethodInfo inserts mi, upgrading the cache from a linear-scan slice
// to a sync.Map exactly once when methodInfoUpgradeThreshold is crossed.
func (c *Channel) storeMethodInfo(name string, mi *MethodInfo) {
	if c.miUpgraded.Load() {
		c.miMap.Store(name, mi)
		return
	}
	c.miMu.Lock()
	for _, e := range c.miSmall {
		if e.name == name {
			c.miMu.Unlock()
			return
		}
	}
	c.miSmall = append(c.miSmall, methodInfoEntry{name: name, info: mi})
	if len(c.miSmall) >= methodInfoUpgradeThreshold {
		for _, e := range c.miSmall {
			c.miMap.Store(e.name, e.info)
		}
		c.miSmall = nil
		c.miUpgraded.Store(true)
	}
	c.miMu.Unlock()
}

func (c *Channel) registerCall(call *Call) {
	c.activeMu.Lock()
	c.active[call] = struct{}{}
	c.activeMu.Unlock()
}

func (c *Channel) unregisterCall(call *Call) {
	c.activeMu.Lock()
	delete(c.active, call)
	c.activeMu.Unlock()
}

// Close cancels every active call and marks the channel closed; further
// calls through it fail immediately with Unavailable. Grounded on
// chalvern/grpc-go's ClientConn.Close tearing down in-flight streams.
func (c *Channel) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.activeMu.Lock()
	calls := make([]*Call, 0, len(c.active))
	for call := range c.active {
		calls = append(calls, call)
	}
	c.activeMu.Unlock()

	for _, call := range calls {
		call.abort(status.New(codes.Canceled, "gRPC call disposed.").Err())
	}
	return nil
}

func (c *Channel) isClosed() bool {
	return c.closed.Load()
}

// authority returns the host[:port] portion of BaseURL, used to build the
// PerRPCCredentials URI (spec §4.E).
func (c *Channel) authority() string {
	u := c.cfg.BaseURL
	if i := strings.Index(u, "://"); i >= 0 {
		u = u[i+3:]
	}
	if i := strings.IndexByte(u, '/'); i >= 0 {
		u = u[:i]
	}
	return u
}

// transportIsSecure reports whether BaseURL declares an https scheme. The
// core has no visibility into the transport's actual TLS state, so this is
// a best-effort signal for call.go's rule that per-RPC credentials are only
// invoked over a secure transport.
func (c *Channel) transportIsSecure() bool {
	return strings.HasPrefix(c.cfg.BaseURL, "https://")
}
