package protocol

import (
	"encoding/binary"
	"encoding/json"
	"net/netip"
	"testing"

	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/udisondev/relay/internal/symbol"
)

func TestPacket_RoundTripMultipleMessages(t *testing.T) {
	session := uuid.Must(uuid.NewV4())
	user := XPlatformID{Platform: PlatformOculus, AccountID: 12345}

	data, err := MarshalPacket(
		&LoginSuccess{Session: session, UserID: user},
		&TCPConnectionUnrequireEvent{},
		&LoginSettings{Settings: json.RawMessage(`{"iapunlocked":false}`)},
	)
	require.NoError(t, err)

	pkt, err := UnmarshalPacket(data)
	require.NoError(t, err)
	require.Len(t, pkt, 3)

	success, ok := pkt[0].(*LoginSuccess)
	require.True(t, ok, "first message decoded as %T", pkt[0])
	assert.Equal(t, session, success.Session)
	assert.Equal(t, user, success.UserID)

	_, ok = pkt[1].(*TCPConnectionUnrequireEvent)
	assert.True(t, ok, "second message decoded as %T", pkt[1])

	settings, ok := pkt[2].(*LoginSettings)
	require.True(t, ok, "third message decoded as %T", pkt[2])
	assert.JSONEq(t, `{"iapunlocked":false}`, string(settings.Settings))
}

func TestPacket_UnknownTypeIsNotFatal(t *testing.T) {
	sym := symbol.Of("SomeFutureMessage")
	payload := []byte{0xDE, 0xAD, 0xBE, 0xEF}

	var frame [HeaderSize]byte
	binary.LittleEndian.PutUint64(frame[0:8], MagicHeader)
	binary.LittleEndian.PutUint64(frame[8:16], uint64(sym))
	binary.LittleEndian.PutUint64(frame[16:24], uint64(len(payload)))
	data := append(frame[:], payload...)

	pkt, err := UnmarshalPacket(data)
	require.NoError(t, err)
	require.Len(t, pkt, 1)

	unknown, ok := pkt[0].(*Unknown)
	require.True(t, ok, "decoded as %T", pkt[0])
	assert.Equal(t, sym, unknown.TypeSymbol)
	assert.Equal(t, payload, unknown.Payload)
}

func TestPacket_FramingFaults(t *testing.T) {
	valid, err := MarshalPacket(&ChannelInfoRequest{})
	require.NoError(t, err)

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"truncated header", valid[:HeaderSize-1]},
		{"bad magic", func() []byte {
			bad := append([]byte(nil), valid...)
			bad[0] ^= 0xFF
			return bad
		}()},
		{"truncated body", func() []byte {
			bad := append([]byte(nil), valid...)
			binary.LittleEndian.PutUint64(bad[16:24], 100)
			return bad
		}()},
		{"oversized body", func() []byte {
			bad := append([]byte(nil), valid...)
			binary.LittleEndian.PutUint64(bad[16:24], MaxMessageBody+1)
			return bad
		}()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := UnmarshalPacket(tt.data)
			assert.Error(t, err)
		})
	}
}

func TestPacket_RejectsOversizedMarshal(t *testing.T) {
	_, err := MarshalPacket(&LoginSettings{Settings: make(json.RawMessage, MaxMessageBody+1)})
	assert.Error(t, err)
}

func TestEndpoint_RoundTrip(t *testing.T) {
	msg := &LobbySessionSuccessv5{
		SessionGUID: uuid.Must(uuid.NewV4()),
		ServerID:    42,
		Endpoint:    Endpoint{Addr: netip.MustParseAddr("203.0.113.9"), Port: 6792},
		TeamIndex:   1,
	}
	data, err := MarshalPacket(msg)
	require.NoError(t, err)

	pkt, err := UnmarshalPacket(data)
	require.NoError(t, err)
	got, ok := pkt[0].(*LobbySessionSuccessv5)
	require.True(t, ok)
	assert.Equal(t, msg.SessionGUID, got.SessionGUID)
	assert.Equal(t, msg.ServerID, got.ServerID)
	assert.Equal(t, msg.Endpoint, got.Endpoint)
	assert.Equal(t, msg.TeamIndex, got.TeamIndex)
}

func TestXPlatformID_Text(t *testing.T) {
	x := XPlatformID{Platform: PlatformSteam, AccountID: 76561198000000000}
	parsed, err := ParseXPlatformID(x.String())
	require.NoError(t, err)
	assert.Equal(t, x, parsed)

	_, err = ParseXPlatformID("garbage")
	assert.Error(t, err)
}

func TestPacket_RejectsOversizedElementCounts(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
	}{
		{"ping request", &LobbyPingRequestv3{}},
		{"ping response", &LobbyPingResponse{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := MarshalPacket(tt.msg)
			require.NoError(t, err)

			// The empty message body is a lone element count. Claim
			// 2^32-1 elements with nothing behind them; the decode must
			// fail instead of allocating for the claimed count.
			binary.LittleEndian.PutUint32(data[HeaderSize:], ^uint32(0))
			_, err = UnmarshalPacket(data)
			require.Error(t, err)
		})
	}
}
