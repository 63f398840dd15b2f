package login

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/udisondev/relay/internal/config"
	"github.com/udisondev/relay/internal/protocol"
	"github.com/udisondev/relay/internal/relay"
	"github.com/udisondev/relay/internal/storage"
	"github.com/udisondev/relay/internal/symbol"
)

type serviceFixture struct {
	store    storage.Storage
	sessions *SessionCache
	acl      *relay.ACL
	base     string
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	ctx := context.Background()

	store := storage.NewFilesystem(t.TempDir(), true)
	require.NoError(t, store.Open(ctx))
	t.Cleanup(func() { store.Close() })

	sessions := NewSessionCache(time.Hour, time.Minute)
	acl := &relay.ACL{}

	svc := NewService(Options{
		Store:              store,
		Sessions:           sessions,
		ACL:                acl,
		Symbols:            symbol.NewCache(),
		AutoCreateAccounts: true,
	})

	cfg := config.DefaultRelay()
	cfg.ConnectionRatePerIP = 0

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv := relay.NewServer(cfg, &relay.ACL{}, svc)
	runCtx, cancel := context.WithCancel(ctx)
	go srv.Serve(runCtx, ln)
	t.Cleanup(cancel)

	return &serviceFixture{
		store:    store,
		sessions: sessions,
		acl:      acl,
		base:     fmt.Sprintf("ws://%s/login", ln.Addr()),
	}
}

func (f *serviceFixture) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(f.base, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func (f *serviceFixture) send(t *testing.T, conn *websocket.Conn, msg protocol.Message) {
	t.Helper()
	data, err := protocol.MarshalPacket(msg)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, data))
}

func (f *serviceFixture) readPacket(t *testing.T, conn *websocket.Conn) protocol.Packet {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, reply, err := conn.ReadMessage()
	require.NoError(t, err)
	pkt, err := protocol.UnmarshalPacket(reply)
	require.NoError(t, err)
	return pkt
}

// login authenticates user on conn and returns the issued session.
func (f *serviceFixture) login(t *testing.T, conn *websocket.Conn, user protocol.XPlatformID) uuid.UUID {
	t.Helper()
	f.send(t, conn, &protocol.LoginRequest{
		UserID:      user,
		AccountInfo: json.RawMessage(`{"displayname":"player-one"}`),
	})
	pkt := f.readPacket(t, conn)
	require.Len(t, pkt, 3)
	success, ok := pkt[0].(*protocol.LoginSuccess)
	require.True(t, ok, "first message decoded as %T", pkt[0])
	return success.Session
}

func TestService_LoginReplySequence(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.SetResource(ctx, storage.ResourceLoginSettings, json.RawMessage(`{"env":"live"}`)))

	user := protocol.XPlatformID{Platform: protocol.PlatformOculus, AccountID: 3963667097037078}
	conn := f.dial(t)
	f.send(t, conn, &protocol.LoginRequest{
		UserID:      user,
		AccountInfo: json.RawMessage(`{"displayname":"player-one"}`),
	})

	// One packet: success, the transport control event, then settings.
	pkt := f.readPacket(t, conn)
	require.Len(t, pkt, 3)

	success, ok := pkt[0].(*protocol.LoginSuccess)
	require.True(t, ok, "first message decoded as %T", pkt[0])
	assert.Equal(t, user, success.UserID)
	assert.NotEqual(t, uuid.Nil, success.Session)
	assert.True(t, f.sessions.Validate(success.Session, user))

	_, ok = pkt[1].(*protocol.TCPConnectionUnrequireEvent)
	assert.True(t, ok, "second message decoded as %T", pkt[1])

	settings, ok := pkt[2].(*protocol.LoginSettings)
	require.True(t, ok, "third message decoded as %T", pkt[2])
	assert.JSONEq(t, `{"env":"live"}`, string(settings.Settings))

	exists, err := f.store.ExistsKeyed(ctx, storage.CollectionAccounts, user.String())
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestService_ProfileRequiresValidSession(t *testing.T) {
	f := newServiceFixture(t)
	user := protocol.XPlatformID{Platform: protocol.PlatformOculus, AccountID: 314}
	conn := f.dial(t)
	session := f.login(t, conn, user)

	f.send(t, conn, &protocol.LoggedInUserProfileRequest{Session: session, UserID: user})
	pkt := f.readPacket(t, conn)
	require.Len(t, pkt, 1)
	success, ok := pkt[0].(*protocol.LoggedInUserProfileSuccess)
	require.True(t, ok, "reply decoded as %T", pkt[0])
	assert.Equal(t, user, success.UserID)
	var profile struct {
		Server map[string]any `json:"server"`
	}
	require.NoError(t, json.Unmarshal(success.Profile, &profile))
	assert.Equal(t, "player-one", profile.Server["displayname"])

	// A random session token is rejected.
	f.send(t, conn, &protocol.LoggedInUserProfileRequest{Session: uuid.Must(uuid.NewV4()), UserID: user})
	pkt = f.readPacket(t, conn)
	require.Len(t, pkt, 1)
	failure, ok := pkt[0].(*protocol.LoggedInUserProfileFailure)
	require.True(t, ok, "reply decoded as %T", pkt[0])
	assert.EqualValues(t, 401, failure.StatusCode)
}

func TestService_LoginDeniedByAccessControl(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	user := protocol.XPlatformID{Platform: protocol.PlatformOculus, AccountID: 666}
	f.acl.Replace(nil, []string{user.String()})

	conn := f.dial(t)
	f.send(t, conn, &protocol.LoginRequest{
		UserID:      user,
		AccountInfo: json.RawMessage(`{"displayname":"banned"}`),
	})

	pkt := f.readPacket(t, conn)
	require.Len(t, pkt, 1)
	failure, ok := pkt[0].(*protocol.LoginFailure)
	require.True(t, ok, "reply decoded as %T", pkt[0])
	assert.EqualValues(t, 403, failure.StatusCode)

	// The denial is final: the connection drops and no account was
	// created or read for the denied user.
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)

	exists, err := f.store.ExistsKeyed(ctx, storage.CollectionAccounts, user.String())
	require.NoError(t, err)
	assert.False(t, exists)
}
