package serverdb

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/udisondev/relay/internal/config"
	"github.com/udisondev/relay/internal/gameserver"
	"github.com/udisondev/relay/internal/protocol"
	"github.com/udisondev/relay/internal/relay"
	"github.com/udisondev/relay/internal/symbol"
)

type fakeGameServerPeer struct {
	addr netip.AddrPort
}

func (p *fakeGameServerPeer) Address() netip.AddrPort        { return p.addr }
func (p *fakeGameServerPeer) Send(...protocol.Message) error { return nil }

type fixture struct {
	registry *gameserver.Registry
	svc      *relay.Service
	region   symbol.Symbol
	base     string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	symbols := symbol.NewCache()
	region := symbols.AddName("us-central")
	registry := gameserver.NewRegistry(symbols, nil)
	svc := NewService(registry)

	cfg := config.DefaultRelay()
	cfg.ConnectionRatePerIP = 0

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv := relay.NewServer(cfg, &relay.ACL{}, svc)
	ctx, cancel := context.WithCancel(context.Background())
	go srv.Serve(ctx, ln)
	t.Cleanup(cancel)

	return &fixture{
		registry: registry,
		svc:      svc,
		region:   region,
		base:     fmt.Sprintf("ws://%s/serverdb", ln.Addr()),
	}
}

func (f *fixture) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(f.base, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// waitPeer blocks until the service sees the dialed connection.
func (f *fixture) waitPeer(t *testing.T) *relay.Peer {
	t.Helper()
	require.Eventually(t, func() bool { return f.svc.PeerCount() == 1 }, 5*time.Second, 10*time.Millisecond)
	return f.svc.Peers()[0]
}

func (f *fixture) send(t *testing.T, conn *websocket.Conn, msg protocol.Message) {
	t.Helper()
	data, err := protocol.MarshalPacket(msg)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, data))
}

func (f *fixture) read(t *testing.T, conn *websocket.Conn) protocol.Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, reply, err := conn.ReadMessage()
	require.NoError(t, err)
	pkt, err := protocol.UnmarshalPacket(reply)
	require.NoError(t, err)
	require.Len(t, pkt, 1)
	return pkt[0]
}

func (f *fixture) registrationRequest(id uint64) *protocol.GameServerRegistrationRequest {
	return &protocol.GameServerRegistrationRequest{
		ServerID:     id,
		InternalAddr: netip.MustParseAddr("10.0.0.1"),
		Port:         6792,
		RegionSymbol: f.region,
		VersionLock:  100,
	}
}

func TestService_RegistrationRejectsUnreachableEndpoint(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t)

	// A loopback external address is not a reachable game endpoint.
	f.send(t, conn, f.registrationRequest(42))
	reply := f.read(t, conn)
	failure, ok := reply.(*protocol.GameServerRegistrationFailure)
	require.True(t, ok, "reply decoded as %T", reply)
	assert.EqualValues(t, resultInvalidRequest, failure.Result)
	assert.Equal(t, 0, f.registry.Count())

	// The failure is final: the connection drops after the reply.
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}

func TestService_OneRegistrationPerConnection(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t)
	peer := f.waitPeer(t)

	// The slot a successful registration leaves behind.
	peer.SetSessionData(f.svc.Name, uint64(42))

	f.send(t, conn, f.registrationRequest(43))
	reply := f.read(t, conn)
	failure, ok := reply.(*protocol.GameServerRegistrationFailure)
	require.True(t, ok, "reply decoded as %T", reply)
	assert.EqualValues(t, resultInvalidRequest, failure.Result)
	assert.Contains(t, failure.Message, "already holds a registration")
}

func TestService_UnregistersOnDisconnect(t *testing.T) {
	f := newFixture(t)

	gsPeer := &fakeGameServerPeer{addr: netip.MustParseAddrPort("203.0.113.5:5000")}
	rec, err := f.registry.Register(context.Background(), gsPeer, f.registrationRequest(42))
	require.NoError(t, err)
	require.Equal(t, 1, f.registry.Count())

	conn := f.dial(t)
	peer := f.waitPeer(t)
	peer.SetSessionData(f.svc.Name, rec.ID)

	conn.Close()
	require.Eventually(t, func() bool { return f.registry.Count() == 0 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, gameserver.StateRemoved, rec.State())
}

func TestFailureCode(t *testing.T) {
	tests := []struct {
		err  error
		want uint32
	}{
		{gameserver.ErrInvalidServerID, resultInvalidRequest},
		{gameserver.ErrInvalidPort, resultInvalidRequest},
		{gameserver.ErrInvalidExternal, resultInvalidRequest},
		{gameserver.ErrUnknownRegion, resultInvalidRequest},
		{gameserver.ErrDuplicateServerID, resultDuplicate},
		{gameserver.ErrProbeFailed, resultProbeFailed},
		{fmt.Errorf("wrapped: %w", gameserver.ErrProbeFailed), resultProbeFailed},
		{errors.New("something else"), resultInternal},
	}
	for _, tt := range tests {
		if got := failureCode(tt.err); got != tt.want {
			t.Errorf("failureCode(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
