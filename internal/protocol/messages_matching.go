package protocol

import (
	"encoding/json"
	"net/netip"

	"github.com/gofrs/uuid/v5"

	"github.com/udisondev/relay/internal/symbol"
)

func init() {
	register(func() Message { return &LobbyCreateSessionRequestv9{} })
	register(func() Message { return &LobbyFindSessionRequestv11{} })
	register(func() Message { return &LobbyJoinSessionRequestv7{} })
	register(func() Message { return &LobbyPendingSessionCancel{} })
	register(func() Message { return &LobbySessionSuccessv5{} })
	register(func() Message { return &LobbySessionFailurev4{} })
	register(func() Message { return &LobbyPingRequestv3{} })
	register(func() Message { return &LobbyPingResponse{} })
}

// Endpoint is a game-server address as it travels on the wire:
// a 4-byte IPv4 address and a port.
type Endpoint struct {
	Addr netip.Addr
	Port uint16
}

func (e Endpoint) write(w *Writer) {
	ip := e.Addr.As4()
	w.Raw(ip[:])
	w.U16(e.Port)
	w.U16(0) // alignment pad
}

func readEndpoint(r *Reader) (Endpoint, error) {
	var ip [4]byte
	for i := range ip {
		b, err := r.U8()
		if err != nil {
			return Endpoint{}, err
		}
		ip[i] = b
	}
	port, err := r.U16()
	if err != nil {
		return Endpoint{}, err
	}
	if _, err := r.U16(); err != nil {
		return Endpoint{}, err
	}
	return Endpoint{Addr: netip.AddrFrom4(ip), Port: port}, nil
}

// LobbyCreateSessionRequestv9 asks the matching engine to allocate a
// new game session on an idle server.
type LobbyCreateSessionRequestv9 struct {
	RegionSymbol    symbol.Symbol
	VersionLock     int64
	LevelSymbol     symbol.Symbol
	ModeSymbol      symbol.Symbol
	Channel         uuid.UUID
	TeamIndex       int16
	PingMillis      uint32
	SessionSettings json.RawMessage
}

func (m *LobbyCreateSessionRequestv9) Name() string { return "LobbyCreateSessionRequestv9" }

func (m *LobbyCreateSessionRequestv9) MarshalBody() ([]byte, error) {
	var w Writer
	w.Symbol(m.RegionSymbol)
	w.I64(m.VersionLock)
	w.Symbol(m.LevelSymbol)
	w.Symbol(m.ModeSymbol)
	w.GUID(m.Channel)
	w.I16(m.TeamIndex)
	w.U16(0)
	w.U32(m.PingMillis)
	w.Raw(m.SessionSettings)
	return w.Bytes(), nil
}

func (m *LobbyCreateSessionRequestv9) UnmarshalBody(data []byte) error {
	r := NewReader(data)
	var err error
	if m.RegionSymbol, err = r.Symbol(); err != nil {
		return err
	}
	if m.VersionLock, err = r.I64(); err != nil {
		return err
	}
	if m.LevelSymbol, err = r.Symbol(); err != nil {
		return err
	}
	if m.ModeSymbol, err = r.Symbol(); err != nil {
		return err
	}
	if m.Channel, err = r.GUID(); err != nil {
		return err
	}
	if m.TeamIndex, err = r.I16(); err != nil {
		return err
	}
	if _, err = r.U16(); err != nil {
		return err
	}
	if m.PingMillis, err = r.U32(); err != nil {
		return err
	}
	m.SessionSettings = append(json.RawMessage(nil), r.Remaining()...)
	return nil
}

// LobbyFindSessionRequestv11 asks for an existing session matching the
// level and mode constraints.
type LobbyFindSessionRequestv11 struct {
	RegionSymbol symbol.Symbol
	VersionLock  int64
	LevelSymbol  symbol.Symbol
	ModeSymbol   symbol.Symbol
	Channel      uuid.UUID
	TeamIndex    int16
	PingMillis   uint32
}

func (m *LobbyFindSessionRequestv11) Name() string { return "LobbyFindSessionRequestv11" }

func (m *LobbyFindSessionRequestv11) MarshalBody() ([]byte, error) {
	var w Writer
	w.Symbol(m.RegionSymbol)
	w.I64(m.VersionLock)
	w.Symbol(m.LevelSymbol)
	w.Symbol(m.ModeSymbol)
	w.GUID(m.Channel)
	w.I16(m.TeamIndex)
	w.U16(0)
	w.U32(m.PingMillis)
	return w.Bytes(), nil
}

func (m *LobbyFindSessionRequestv11) UnmarshalBody(data []byte) error {
	r := NewReader(data)
	var err error
	if m.RegionSymbol, err = r.Symbol(); err != nil {
		return err
	}
	if m.VersionLock, err = r.I64(); err != nil {
		return err
	}
	if m.LevelSymbol, err = r.Symbol(); err != nil {
		return err
	}
	if m.ModeSymbol, err = r.Symbol(); err != nil {
		return err
	}
	if m.Channel, err = r.GUID(); err != nil {
		return err
	}
	if m.TeamIndex, err = r.I16(); err != nil {
		return err
	}
	if _, err = r.U16(); err != nil {
		return err
	}
	m.PingMillis, err = r.U32()
	return err
}

// LobbyJoinSessionRequestv7 asks to join a specific live session.
type LobbyJoinSessionRequestv7 struct {
	SessionGUID uuid.UUID
	TeamIndex   int16
	PingMillis  uint32
}

func (m *LobbyJoinSessionRequestv7) Name() string { return "LobbyJoinSessionRequestv7" }

func (m *LobbyJoinSessionRequestv7) MarshalBody() ([]byte, error) {
	var w Writer
	w.GUID(m.SessionGUID)
	w.I16(m.TeamIndex)
	w.U16(0)
	w.U32(m.PingMillis)
	return w.Bytes(), nil
}

func (m *LobbyJoinSessionRequestv7) UnmarshalBody(data []byte) error {
	r := NewReader(data)
	var err error
	if m.SessionGUID, err = r.GUID(); err != nil {
		return err
	}
	if m.TeamIndex, err = r.I16(); err != nil {
		return err
	}
	if _, err = r.U16(); err != nil {
		return err
	}
	m.PingMillis, err = r.U32()
	return err
}

// LobbyPendingSessionCancel withdraws an in-flight session request.
type LobbyPendingSessionCancel struct {
	Session uuid.UUID
}

func (m *LobbyPendingSessionCancel) Name() string { return "LobbyPendingSessionCancel" }

func (m *LobbyPendingSessionCancel) MarshalBody() ([]byte, error) {
	var w Writer
	w.GUID(m.Session)
	return w.Bytes(), nil
}

func (m *LobbyPendingSessionCancel) UnmarshalBody(data []byte) error {
	r := NewReader(data)
	var err error
	m.Session, err = r.GUID()
	return err
}

// LobbySessionSuccessv5 tells the client which server hosts its
// session and which team it plays on.
type LobbySessionSuccessv5 struct {
	SessionGUID uuid.UUID
	ServerID    uint64
	Endpoint    Endpoint
	TeamIndex   int16
}

func (m *LobbySessionSuccessv5) Name() string { return "LobbySessionSuccessv5" }

func (m *LobbySessionSuccessv5) MarshalBody() ([]byte, error) {
	var w Writer
	w.GUID(m.SessionGUID)
	w.U64(m.ServerID)
	m.Endpoint.write(&w)
	w.I16(m.TeamIndex)
	return w.Bytes(), nil
}

func (m *LobbySessionSuccessv5) UnmarshalBody(data []byte) error {
	r := NewReader(data)
	var err error
	if m.SessionGUID, err = r.GUID(); err != nil {
		return err
	}
	if m.ServerID, err = r.U64(); err != nil {
		return err
	}
	if m.Endpoint, err = readEndpoint(r); err != nil {
		return err
	}
	m.TeamIndex, err = r.I16()
	return err
}

// LobbySessionFailurev4 reports that no session could be provided.
type LobbySessionFailurev4 struct {
	ErrorCode uint64
	Message   string
}

func (m *LobbySessionFailurev4) Name() string { return "LobbySessionFailurev4" }

func (m *LobbySessionFailurev4) MarshalBody() ([]byte, error) {
	var w Writer
	w.U64(m.ErrorCode)
	w.StringNT(m.Message)
	return w.Bytes(), nil
}

func (m *LobbySessionFailurev4) UnmarshalBody(data []byte) error {
	r := NewReader(data)
	var err error
	if m.ErrorCode, err = r.U64(); err != nil {
		return err
	}
	m.Message, err = r.StringNT()
	return err
}

// LobbyPingRequestv3 hands the client a set of endpoints to measure.
type LobbyPingRequestv3 struct {
	Endpoints []Endpoint
}

func (m *LobbyPingRequestv3) Name() string { return "LobbyPingRequestv3" }

func (m *LobbyPingRequestv3) MarshalBody() ([]byte, error) {
	var w Writer
	w.U32(uint32(len(m.Endpoints)))
	for _, e := range m.Endpoints {
		e.write(&w)
	}
	return w.Bytes(), nil
}

func (m *LobbyPingRequestv3) UnmarshalBody(data []byte) error {
	r := NewReader(data)
	n, err := r.U32()
	if err != nil {
		return err
	}
	// The count is attacker-controlled; reject it before allocating if
	// the remaining body cannot hold that many 8-byte endpoints.
	if err := r.need(int(n) * 8); err != nil {
		return err
	}
	m.Endpoints = make([]Endpoint, 0, n)
	for i := uint32(0); i < n; i++ {
		e, err := readEndpoint(r)
		if err != nil {
			return err
		}
		m.Endpoints = append(m.Endpoints, e)
	}
	return nil
}

// PingResult is one measured endpoint latency.
type PingResult struct {
	Endpoint   Endpoint
	PingMillis uint32
}

// LobbyPingResponse reports the client's measured latencies back.
type LobbyPingResponse struct {
	Results []PingResult
}

func (m *LobbyPingResponse) Name() string { return "LobbyPingResponse" }

func (m *LobbyPingResponse) MarshalBody() ([]byte, error) {
	var w Writer
	w.U32(uint32(len(m.Results)))
	for _, res := range m.Results {
		res.Endpoint.write(&w)
		w.U32(res.PingMillis)
	}
	return w.Bytes(), nil
}

func (m *LobbyPingResponse) UnmarshalBody(data []byte) error {
	r := NewReader(data)
	n, err := r.U32()
	if err != nil {
		return err
	}
	// Same guard as LobbyPingRequestv3: each result is 12 bytes on the
	// wire, so the count must fit in what is left of the body.
	if err := r.need(int(n) * 12); err != nil {
		return err
	}
	m.Results = make([]PingResult, 0, n)
	for i := uint32(0); i < n; i++ {
		e, err := readEndpoint(r)
		if err != nil {
			return err
		}
		p, err := r.U32()
		if err != nil {
			return err
		}
		m.Results = append(m.Results, PingResult{Endpoint: e, PingMillis: p})
	}
	return nil
}
