package grpccore

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chalvern/grpccore/keepalive"
	"github.com/chalvern/grpccore/transport"
)

// fakeTransport is a minimal transport.ClientTransport used across the test
// suite. respond, if set, builds the response for each Send call; it may be
// called from multiple goroutines.
type fakeTransport struct {
	mu    sync.Mutex
	sends int
	respond func(req *transport.Request) (*transport.Response, error)
}

func (f *fakeTransport) Send(ctx context.Context, req *transport.Request) (*transport.Response, error) {
	f.mu.Lock()
	f.sends++
	f.mu.Unlock()
	// A real transport always drains the request body; for client/duplex
	// streaming shapes that body is the write side of an io.Pipe, so a
	// test that never reads it would otherwise block SendMsg forever.
	if req.Body != nil {
		go io.Copy(io.Discard, req.Body)
	}
	if f.respond != nil {
		return f.respond(req)
	}
	h := http.Header{}
	h.Set("Grpc-Status", "0")
	return &transport.Response{StatusCode: http.StatusOK, ProtoMajor: 2, Header: h}, nil
}

func newTestChannel(t *testing.T, ft *fakeTransport) *Channel {
	t.Helper()
	ch, err := NewChannel(ChannelConfig{
		BaseURL:   "https://example.test",
		Transport: ft,
	})
	require.NoError(t, err)
	return ch
}

func TestNewChannelRequiresTransport(t *testing.T) {
	_, err := NewChannel(ChannelConfig{})
	assert.Error(t, err)
}

func TestGetMethodInfoCachesAcrossCalls(t *testing.T) {
	ch := newTestChannel(t, &fakeTransport{})
	desc := MethodDesc{FullName: "/my.Service/Do", Type: Unary}

	mi1, err := ch.getMethodInfo(context.Background(), desc)
	require.NoError(t, err)
	mi2, err := ch.getMethodInfo(context.Background(), desc)
	require.NoError(t, err)
	assert.Same(t, mi1, mi2)
	assert.Equal(t, "https://example.test/my.Service/Do", mi1.CallURI)
}

func TestMethodInfoCacheUpgradesAtThreshold(t *testing.T) {
	ch := newTestChannel(t, &fakeTransport{})
	for i := 0; i < methodInfoUpgradeThreshold; i++ {
		desc := MethodDesc{FullName: fmt.Sprintf("/my.Service/M%d", i), Type: Unary}
		_, err := ch.getMethodInfo(context.Background(), desc)
		require.NoError(t, err)
	}
	assert.True(t, ch.miUpgraded.Load())

	// Previously-cached entries must still resolve after the upgrade.
	mi, ok := ch.lookupMethodInfo("/my.Service/M0")
	require.True(t, ok)
	assert.Equal(t, "/my.Service/M0", mi.Desc.FullName)
}

func TestGetMethodInfoConcurrentBuildersShareOneResult(t *testing.T) {
	ch := newTestChannel(t, &fakeTransport{})
	desc := MethodDesc{FullName: "/my.Service/Racey", Type: Unary}

	const n = 20
	results := make([]*MethodInfo, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		i := i
		go func() {
			defer wg.Done()
			mi, err := ch.getMethodInfo(context.Background(), desc)
			require.NoError(t, err)
			results[i] = mi
		}()
	}
	wg.Wait()
	for i := 1; i < n; i++ {
		assert.Same(t, results[0], results[i])
	}
}

func TestChannelCloseRejectsNewCalls(t *testing.T) {
	ch := newTestChannel(t, &fakeTransport{})
	require.NoError(t, ch.Close())
	assert.True(t, ch.isClosed())

	desc := MethodDesc{FullName: "/my.Service/Do", Type: Unary, Codec: nil}
	err := ch.Invoke(context.Background(), desc, nil, nil, CallOptions{})
	assert.Error(t, err)
}

func TestChannelAuthorityStripsSchemeAndPath(t *testing.T) {
	ch := newTestChannel(t, &fakeTransport{})
	assert.Equal(t, "example.test", ch.authority())

	ch2, err := NewChannel(ChannelConfig{BaseURL: "https://example.test:8443/base", Transport: &fakeTransport{}})
	require.NoError(t, err)
	assert.Equal(t, "example.test:8443", ch2.authority())
}

func TestChannelTransportIsSecure(t *testing.T) {
	ch := newTestChannel(t, &fakeTransport{})
	assert.True(t, ch.transportIsSecure())

	ch2, err := NewChannel(ChannelConfig{BaseURL: "http://example.test", Transport: &fakeTransport{}})
	require.NoError(t, err)
	assert.False(t, ch2.transportIsSecure())
}

// TestChannelKeepaliveIsPureThroughput verifies ChannelConfig.Keepalive is
// threaded through to the Channel unchanged; the core never interprets it.
func TestChannelKeepaliveIsPureThroughput(t *testing.T) {
	kp := keepalive.ClientParameters{Time: 30 * time.Second, Timeout: 5 * time.Second, PermitWithoutStream: true}
	ch, err := NewChannel(ChannelConfig{
		BaseURL:   "https://example.test",
		Transport: &fakeTransport{},
		Keepalive: kp,
	})
	require.NoError(t, err)
	assert.Equal(t, kp, ch.cfg.Keepalive)
}
