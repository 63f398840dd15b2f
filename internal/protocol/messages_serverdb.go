package protocol

import (
	"encoding/json"
	"net/netip"

	"github.com/gofrs/uuid/v5"

	"github.com/udisondev/relay/internal/symbol"
)

func init() {
	register(func() Message { return &GameServerRegistrationRequest{} })
	register(func() Message { return &GameServerRegistrationSuccess{} })
	register(func() Message { return &GameServerRegistrationFailure{} })
	register(func() Message { return &GameServerSessionStart{} })
	register(func() Message { return &GameServerSessionStarted{} })
	register(func() Message { return &GameServerSessionEnded{} })
	register(func() Message { return &GameServerPlayerJoined{} })
	register(func() Message { return &GameServerPlayerLeft{} })
	register(func() Message { return &GameServerUpdateRegistration{} })
}

// GameServerRegistrationRequest registers a dedicated game server with
// the relay. The external address is taken from the connection's
// remote endpoint, not from the message.
type GameServerRegistrationRequest struct {
	ServerID     uint64
	InternalAddr netip.Addr
	Port         uint16
	RegionSymbol symbol.Symbol
	VersionLock  int64
}

func (m *GameServerRegistrationRequest) Name() string { return "GameServerRegistrationRequest" }

func (m *GameServerRegistrationRequest) MarshalBody() ([]byte, error) {
	var w Writer
	w.U64(m.ServerID)
	ip := m.InternalAddr.As4()
	w.Raw(ip[:])
	w.U16(m.Port)
	w.U16(0)
	w.Symbol(m.RegionSymbol)
	w.I64(m.VersionLock)
	return w.Bytes(), nil
}

func (m *GameServerRegistrationRequest) UnmarshalBody(data []byte) error {
	r := NewReader(data)
	var err error
	if m.ServerID, err = r.U64(); err != nil {
		return err
	}
	var ip [4]byte
	for i := range ip {
		if ip[i], err = r.U8(); err != nil {
			return err
		}
	}
	m.InternalAddr = netip.AddrFrom4(ip)
	if m.Port, err = r.U16(); err != nil {
		return err
	}
	if _, err = r.U16(); err != nil {
		return err
	}
	if m.RegionSymbol, err = r.Symbol(); err != nil {
		return err
	}
	m.VersionLock, err = r.I64()
	return err
}

// GameServerRegistrationSuccess confirms registration and echoes the
// external address the relay observed.
type GameServerRegistrationSuccess struct {
	ServerID     uint64
	ExternalAddr netip.Addr
}

func (m *GameServerRegistrationSuccess) Name() string { return "GameServerRegistrationSuccess" }

func (m *GameServerRegistrationSuccess) MarshalBody() ([]byte, error) {
	var w Writer
	w.U64(m.ServerID)
	ip := m.ExternalAddr.As4()
	w.Raw(ip[:])
	w.U32(0)
	return w.Bytes(), nil
}

func (m *GameServerRegistrationSuccess) UnmarshalBody(data []byte) error {
	r := NewReader(data)
	var err error
	if m.ServerID, err = r.U64(); err != nil {
		return err
	}
	var ip [4]byte
	for i := range ip {
		if ip[i], err = r.U8(); err != nil {
			return err
		}
	}
	m.ExternalAddr = netip.AddrFrom4(ip)
	_, err = r.U32()
	return err
}

// GameServerRegistrationFailure rejects a registration. The peer is
// closed after it is sent.
type GameServerRegistrationFailure struct {
	Result  uint32
	Message string
}

func (m *GameServerRegistrationFailure) Name() string { return "GameServerRegistrationFailure" }

func (m *GameServerRegistrationFailure) MarshalBody() ([]byte, error) {
	var w Writer
	w.U32(m.Result)
	w.StringNT(m.Message)
	return w.Bytes(), nil
}

func (m *GameServerRegistrationFailure) UnmarshalBody(data []byte) error {
	r := NewReader(data)
	var err error
	if m.Result, err = r.U32(); err != nil {
		return err
	}
	m.Message, err = r.StringNT()
	return err
}

// GameServerSessionStart instructs a registered game server to host a
// freshly allocated session.
type GameServerSessionStart struct {
	SessionGUID     uuid.UUID
	Channel         uuid.UUID
	LevelSymbol     symbol.Symbol
	ModeSymbol      symbol.Symbol
	SessionSettings json.RawMessage
}

func (m *GameServerSessionStart) Name() string { return "GameServerSessionStart" }

func (m *GameServerSessionStart) MarshalBody() ([]byte, error) {
	var w Writer
	w.GUID(m.SessionGUID)
	w.GUID(m.Channel)
	w.Symbol(m.LevelSymbol)
	w.Symbol(m.ModeSymbol)
	w.Raw(m.SessionSettings)
	return w.Bytes(), nil
}

func (m *GameServerSessionStart) UnmarshalBody(data []byte) error {
	r := NewReader(data)
	var err error
	if m.SessionGUID, err = r.GUID(); err != nil {
		return err
	}
	if m.Channel, err = r.GUID(); err != nil {
		return err
	}
	if m.LevelSymbol, err = r.Symbol(); err != nil {
		return err
	}
	if m.ModeSymbol, err = r.Symbol(); err != nil {
		return err
	}
	m.SessionSettings = append(json.RawMessage(nil), r.Remaining()...)
	return nil
}

// GameServerSessionStarted confirms the session is live on the game
// server. Transitions the registry record to session-active.
type GameServerSessionStarted struct {
	SessionGUID uuid.UUID
}

func (m *GameServerSessionStarted) Name() string { return "LobbySessionStartedv4" }

func (m *GameServerSessionStarted) MarshalBody() ([]byte, error) {
	var w Writer
	w.GUID(m.SessionGUID)
	return w.Bytes(), nil
}

func (m *GameServerSessionStarted) UnmarshalBody(data []byte) error {
	r := NewReader(data)
	var err error
	m.SessionGUID, err = r.GUID()
	return err
}

// GameServerSessionEnded reports the hosted session finished. The
// registry record returns to idle.
type GameServerSessionEnded struct{}

func (m *GameServerSessionEnded) Name() string { return "LobbySessionEnded" }

func (m *GameServerSessionEnded) MarshalBody() ([]byte, error) { return nil, nil }

func (m *GameServerSessionEnded) UnmarshalBody(data []byte) error { return nil }

// GameServerPlayerJoined reports a participant entering the hosted
// session. Drives the capacity counter.
type GameServerPlayerJoined struct {
	UserID        XPlatformID
	PlayerSession uuid.UUID
}

func (m *GameServerPlayerJoined) Name() string { return "GameServerPlayerJoined" }

func (m *GameServerPlayerJoined) MarshalBody() ([]byte, error) {
	var w Writer
	m.UserID.write(&w)
	w.GUID(m.PlayerSession)
	return w.Bytes(), nil
}

func (m *GameServerPlayerJoined) UnmarshalBody(data []byte) error {
	r := NewReader(data)
	var err error
	if m.UserID, err = readXPlatformID(r); err != nil {
		return err
	}
	m.PlayerSession, err = r.GUID()
	return err
}

// GameServerPlayerLeft reports a participant leaving the session.
type GameServerPlayerLeft struct {
	UserID XPlatformID
}

func (m *GameServerPlayerLeft) Name() string { return "GameServerPlayerLeft" }

func (m *GameServerPlayerLeft) MarshalBody() ([]byte, error) {
	var w Writer
	m.UserID.write(&w)
	return w.Bytes(), nil
}

func (m *GameServerPlayerLeft) UnmarshalBody(data []byte) error {
	r := NewReader(data)
	var err error
	m.UserID, err = readXPlatformID(r)
	return err
}

// GameServerUpdateRegistration publishes or unpublishes a live record
// and adjusts its capacity.
type GameServerUpdateRegistration struct {
	IsPublic    bool
	MaxCapacity uint32
}

func (m *GameServerUpdateRegistration) Name() string { return "GameServerUpdateRegistration" }

func (m *GameServerUpdateRegistration) MarshalBody() ([]byte, error) {
	var w Writer
	if m.IsPublic {
		w.U8(1)
	} else {
		w.U8(0)
	}
	w.U8(0)
	w.U16(0)
	w.U32(m.MaxCapacity)
	return w.Bytes(), nil
}

func (m *GameServerUpdateRegistration) UnmarshalBody(data []byte) error {
	r := NewReader(data)
	b, err := r.U8()
	if err != nil {
		return err
	}
	m.IsPublic = b != 0
	if _, err = r.U8(); err != nil {
		return err
	}
	if _, err = r.U16(); err != nil {
		return err
	}
	m.MaxCapacity, err = r.U32()
	return err
}
