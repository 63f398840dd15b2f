package gameserver

import (
	"net/netip"
	"sync"
	"sync/atomic"

	"github.com/gofrs/uuid/v5"

	"github.com/udisondev/relay/internal/protocol"
	"github.com/udisondev/relay/internal/symbol"
)

// Peer is the connection surface the registry needs from a registered
// game server: where it connected from and a way to push messages.
type Peer interface {
	Address() netip.AddrPort
	Send(msgs ...protocol.Message) error
}

// SessionState is the lifecycle state of a registered game server.
type SessionState int32

const (
	// StateIdle: registered, hosting nothing.
	StateIdle SessionState = iota
	// StateSessionLocked: allocated by the matching engine, waiting
	// for the game server to confirm the session started.
	StateSessionLocked
	// StateSessionActive: hosting a live session.
	StateSessionActive
	// StateRemoved: unregistered; terminal.
	StateRemoved
)

func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSessionLocked:
		return "session-locked"
	case StateSessionActive:
		return "session-active"
	case StateRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// DefaultCapacity is the participant cap used until the game server
// publishes its own.
const DefaultCapacity = 12

// RegisteredGameServer is one live registration. The state word is a
// lone CAS target so concurrent allocations race without holding the
// record mutex; everything else mutable sits behind mu. The peer
// back-reference is lookup-only: the peer's disconnect removes the
// record, never the other way around.
type RegisteredGameServer struct {
	ID           uint64
	InternalAddr netip.Addr
	ExternalAddr netip.Addr
	Port         uint16
	RegionSymbol symbol.Symbol
	VersionLock  int64

	peer  Peer
	state atomic.Int32

	mu           sync.Mutex
	isPublic     bool
	maxCapacity  int
	sessionGUID  uuid.UUID
	levelSymbol  symbol.Symbol
	modeSymbol   symbol.Symbol
	participants map[protocol.XPlatformID]uuid.UUID
}

func newRecord(peer Peer, req *protocol.GameServerRegistrationRequest, external netip.Addr) *RegisteredGameServer {
	return &RegisteredGameServer{
		ID:           req.ServerID,
		InternalAddr: req.InternalAddr,
		ExternalAddr: external,
		Port:         req.Port,
		RegionSymbol: req.RegionSymbol,
		VersionLock:  req.VersionLock,
		peer:         peer,
		isPublic:     true,
		maxCapacity:  DefaultCapacity,
		participants: make(map[protocol.XPlatformID]uuid.UUID),
	}
}

// Peer returns the serverdb connection that registered this server.
func (r *RegisteredGameServer) Peer() Peer {
	return r.peer
}

// Endpoint returns the externally reachable game endpoint.
func (r *RegisteredGameServer) Endpoint() netip.AddrPort {
	return netip.AddrPortFrom(r.ExternalAddr, r.Port)
}

// State returns the committed session state.
func (r *RegisteredGameServer) State() SessionState {
	return SessionState(r.state.Load())
}

// TryLock attempts the idle -> session-locked transition. Exactly one
// concurrent caller wins; losers pick another server.
func (r *RegisteredGameServer) TryLock(session uuid.UUID, level, mode symbol.Symbol) bool {
	if !r.state.CompareAndSwap(int32(StateIdle), int32(StateSessionLocked)) {
		return false
	}
	r.mu.Lock()
	r.sessionGUID = session
	r.levelSymbol = level
	r.modeSymbol = mode
	r.mu.Unlock()
	return true
}

// ConfirmStarted moves session-locked -> session-active once the game
// server reports the session live.
func (r *RegisteredGameServer) ConfirmStarted(session uuid.UUID) bool {
	r.mu.Lock()
	match := r.sessionGUID == session
	r.mu.Unlock()
	if !match {
		return false
	}
	return r.state.CompareAndSwap(int32(StateSessionLocked), int32(StateSessionActive))
}

// EndSession returns the record to idle and clears session fields.
func (r *RegisteredGameServer) EndSession() {
	r.mu.Lock()
	r.sessionGUID = uuid.Nil
	r.levelSymbol = 0
	r.modeSymbol = 0
	r.participants = make(map[protocol.XPlatformID]uuid.UUID)
	r.mu.Unlock()
	r.state.Store(int32(StateIdle))
}

func (r *RegisteredGameServer) remove() {
	r.state.Store(int32(StateRemoved))
}

// Session returns the current session GUID, level and mode.
func (r *RegisteredGameServer) Session() (uuid.UUID, symbol.Symbol, symbol.Symbol) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessionGUID, r.levelSymbol, r.modeSymbol
}

// IsPublic reports whether the server accepts public matching.
func (r *RegisteredGameServer) IsPublic() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.isPublic
}

// Capacity returns current participants and the cap.
func (r *RegisteredGameServer) Capacity() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.participants), r.maxCapacity
}

// UpdateRegistration applies a publish/unpublish and capacity change.
func (r *RegisteredGameServer) UpdateRegistration(isPublic bool, maxCapacity int) {
	r.mu.Lock()
	r.isPublic = isPublic
	if maxCapacity > 0 {
		r.maxCapacity = maxCapacity
	}
	r.mu.Unlock()
}

// PlayerJoined records a participant. Reports the new count.
func (r *RegisteredGameServer) PlayerJoined(user protocol.XPlatformID, playerSession uuid.UUID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.participants[user] = playerSession
	return len(r.participants)
}

// PlayerLeft drops a participant. When the active session empties, the
// record returns to idle.
func (r *RegisteredGameServer) PlayerLeft(user protocol.XPlatformID) int {
	r.mu.Lock()
	delete(r.participants, user)
	n := len(r.participants)
	r.mu.Unlock()

	if n == 0 && r.State() == StateSessionActive {
		r.EndSession()
	}
	return n
}
