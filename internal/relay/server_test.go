package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/udisondev/relay/internal/config"
	"github.com/udisondev/relay/internal/protocol"
)

func testConfig() config.Relay {
	cfg := config.DefaultRelay()
	cfg.MaxConnectionsPerIP = 10
	cfg.ConnectionRatePerIP = 0 // no rate limit in tests
	cfg.ServerDBAPIKey = "s3cret"
	return cfg
}

// startServer runs a session server on loopback with an echo-style
// test service and returns its base URL.
func startServer(t *testing.T, cfg config.Relay, services ...*Service) string {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := NewServer(cfg, &ACL{}, services...)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		srv.Serve(ctx, ln)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("server did not shut down")
		}
	})

	return fmt.Sprintf("ws://%s", ln.Addr())
}

func echoService() *Service {
	svc := NewService("echo", "/echo")
	Handle(svc, func(ctx context.Context, peer *Peer, msg *protocol.ChannelInfoRequest) error {
		return peer.Send(&protocol.ChannelInfoResponse{ChannelInfo: json.RawMessage(`{"groups":[]}`)})
	})
	return svc
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestServer_RoutesAndDispatches(t *testing.T) {
	base := startServer(t, testConfig(), echoService())
	conn := dial(t, base+"/echo")

	data, err := protocol.MarshalPacket(&protocol.ChannelInfoRequest{})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, data))

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	msgType, reply, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.BinaryMessage, msgType)

	pkt, err := protocol.UnmarshalPacket(reply)
	require.NoError(t, err)
	require.Len(t, pkt, 1)
	resp, ok := pkt[0].(*protocol.ChannelInfoResponse)
	require.True(t, ok, "reply decoded as %T", pkt[0])
	assert.JSONEq(t, `{"groups":[]}`, string(resp.ChannelInfo))
}

func TestServer_UnknownPath(t *testing.T) {
	base := startServer(t, testConfig(), echoService())

	_, resp, err := websocket.DefaultDialer.Dial(base+"/nonexistent", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServer_ServerDBRequiresAPIKey(t *testing.T) {
	svc := NewService("serverdb", "/serverdb")
	base := startServer(t, testConfig(), svc)

	_, resp, err := websocket.DefaultDialer.Dial(base+"/serverdb", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	conn := dial(t, base+"/serverdb?apikey=s3cret")
	conn.Close()
}

func TestServer_DeniedIPRejected(t *testing.T) {
	cfg := testConfig()
	srvACL := &ACL{}
	srvACL.Replace(nil, []string{"127.0.0.1"})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv := NewServer(cfg, srvACL, echoService())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.Serve(ctx, ln)

	_, resp, err := websocket.DefaultDialer.Dial(fmt.Sprintf("ws://%s/echo", ln.Addr()), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestServer_MalformedPacketClosesConnection(t *testing.T) {
	base := startServer(t, testConfig(), echoService())
	conn := dial(t, base+"/echo")

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte("not a packet")))

	// The server closes without a reply; the next read fails.
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}

func TestServer_MaxConnectionsPerIP(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConnectionsPerIP = 1
	base := startServer(t, cfg, echoService())

	first := dial(t, base+"/echo")
	defer first.Close()

	_, resp, err := websocket.DefaultDialer.Dial(base+"/echo", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestPeer_SessionData(t *testing.T) {
	svc := NewService("test", "/test")
	p := &Peer{svc: svc, sessionData: make(map[string]any), closed: make(chan struct{})}

	_, ok := SessionDataAs[int](p)
	assert.False(t, ok)

	p.SetSessionData("test", 42)
	v, ok := SessionDataAs[int](p)
	require.True(t, ok)
	assert.Equal(t, 42, v)

	// Wrong type assertion fails cleanly.
	_, ok = SessionDataAs[string](p)
	assert.False(t, ok)

	p.ClearSessionData("test")
	_, ok = SessionDataAs[int](p)
	assert.False(t, ok)
}

func TestServer_LimiterPrunedWhenIPDrains(t *testing.T) {
	cfg := testConfig()
	cfg.ConnectionRatePerIP = 5
	srv := NewServer(cfg, &ACL{})
	ip := netip.MustParseAddr("203.0.113.9")

	srv.limiterFor(ip)
	require.True(t, srv.trackConn(ip))
	srv.untrackConn(ip)

	srv.limMu.Lock()
	defer srv.limMu.Unlock()
	assert.Empty(t, srv.limiters)
	assert.Empty(t, srv.ipConns)
}
