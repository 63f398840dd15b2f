package gameserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"sync"

	"github.com/gofrs/uuid/v5"

	"github.com/udisondev/relay/internal/metrics"
	"github.com/udisondev/relay/internal/protocol"
	"github.com/udisondev/relay/internal/relay"
	"github.com/udisondev/relay/internal/symbol"
)

// Registration failures surfaced to the ServerDB service.
var (
	ErrInvalidServerID   = errors.New("server id must be non-zero")
	ErrInvalidPort       = errors.New("port out of range")
	ErrInvalidExternal   = errors.New("external address not reachable")
	ErrUnknownRegion     = errors.New("region symbol not in cache")
	ErrDuplicateServerID = errors.New("server id already registered")
	ErrProbeFailed       = errors.New("endpoint validation failed")
)

// RegistrationFailure accompanies OnRegistrationFailure.
type RegistrationFailure struct {
	Peer    Peer
	Request *protocol.GameServerRegistrationRequest
	Reason  error
}

// Registry indexes live game servers by id, region and version lock.
// The indexes sit behind one RWMutex; each record carries its own
// mutex for its mutable fields.
type Registry struct {
	symbols   *symbol.Cache
	validator Validator // nil skips endpoint validation

	mu        sync.RWMutex
	byID      map[uint64]*RegisteredGameServer
	byRegion  map[symbol.Symbol]map[uint64]*RegisteredGameServer
	byVersion map[int64]map[uint64]*RegisteredGameServer

	OnRegistered          relay.Hook[*RegisteredGameServer]
	OnUnregistered        relay.Hook[*RegisteredGameServer]
	OnRegistrationFailure relay.Hook[RegistrationFailure]
}

// NewRegistry creates an empty registry. A nil validator disables the
// reachability probe.
func NewRegistry(symbols *symbol.Cache, validator Validator) *Registry {
	return &Registry{
		symbols:   symbols,
		validator: validator,
		byID:      make(map[uint64]*RegisteredGameServer),
		byRegion:  make(map[symbol.Symbol]map[uint64]*RegisteredGameServer),
		byVersion: make(map[int64]map[uint64]*RegisteredGameServer),
	}
}

func (g *Registry) validateRequest(req *protocol.GameServerRegistrationRequest, external netip.Addr) error {
	if req.ServerID == 0 {
		return ErrInvalidServerID
	}
	if req.Port == 0 {
		return ErrInvalidPort
	}
	if !external.Is4() && !external.Is4In6() {
		return ErrInvalidExternal
	}
	if external.IsLoopback() || external.IsUnspecified() || external.IsMulticast() {
		return ErrInvalidExternal
	}
	if _, ok := g.symbols.Name(req.RegionSymbol); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRegion, req.RegionSymbol.HexString())
	}
	return nil
}

// Register validates the request, probes the endpoint when configured,
// and creates the record. The caller closes the peer on error.
func (g *Registry) Register(ctx context.Context, peer Peer, req *protocol.GameServerRegistrationRequest) (*RegisteredGameServer, error) {
	external := peer.Address().Addr().Unmap()

	if err := g.validateRequest(req, external); err != nil {
		g.registrationFailed(peer, req, err)
		return nil, err
	}

	g.mu.RLock()
	_, taken := g.byID[req.ServerID]
	g.mu.RUnlock()
	if taken {
		g.registrationFailed(peer, req, ErrDuplicateServerID)
		return nil, ErrDuplicateServerID
	}

	if g.validator != nil {
		if err := g.validator.Validate(ctx, netip.AddrPortFrom(external, req.Port)); err != nil {
			err = fmt.Errorf("%w: %v", ErrProbeFailed, err)
			g.registrationFailed(peer, req, err)
			return nil, err
		}
	}

	rec := newRecord(peer, req, external)

	g.mu.Lock()
	if _, taken := g.byID[req.ServerID]; taken {
		g.mu.Unlock()
		g.registrationFailed(peer, req, ErrDuplicateServerID)
		return nil, ErrDuplicateServerID
	}
	g.byID[req.ServerID] = rec
	g.indexAdd(g.byRegion, req.RegionSymbol, rec)
	g.indexAddVersion(req.VersionLock, rec)
	g.mu.Unlock()

	metrics.GameServersRegistered.Inc()
	slog.Info("OnGameServerRegistered",
		"server_id", rec.ID,
		"external", rec.Endpoint(),
		"region", g.symbols.Token(rec.RegionSymbol),
		"version_lock", rec.VersionLock)
	g.OnRegistered.Emit(rec)
	return rec, nil
}

func (g *Registry) registrationFailed(peer Peer, req *protocol.GameServerRegistrationRequest, reason error) {
	slog.Warn("OnGameServerRegistrationFailure",
		"server_id", req.ServerID, "remote", peer.Address(), "reason", reason)
	g.OnRegistrationFailure.Emit(RegistrationFailure{Peer: peer, Request: req, Reason: reason})
}

func (g *Registry) indexAdd(idx map[symbol.Symbol]map[uint64]*RegisteredGameServer, key symbol.Symbol, rec *RegisteredGameServer) {
	m, ok := idx[key]
	if !ok {
		m = make(map[uint64]*RegisteredGameServer)
		idx[key] = m
	}
	m[rec.ID] = rec
}

func (g *Registry) indexAddVersion(key int64, rec *RegisteredGameServer) {
	m, ok := g.byVersion[key]
	if !ok {
		m = make(map[uint64]*RegisteredGameServer)
		g.byVersion[key] = m
	}
	m[rec.ID] = rec
}

// Unregister removes a record by id. Fires OnGameServerUnregistered.
func (g *Registry) Unregister(id uint64) bool {
	g.mu.Lock()
	rec, ok := g.byID[id]
	if ok {
		delete(g.byID, id)
		if m := g.byRegion[rec.RegionSymbol]; m != nil {
			delete(m, id)
			if len(m) == 0 {
				delete(g.byRegion, rec.RegionSymbol)
			}
		}
		if m := g.byVersion[rec.VersionLock]; m != nil {
			delete(m, id)
			if len(m) == 0 {
				delete(g.byVersion, rec.VersionLock)
			}
		}
	}
	g.mu.Unlock()

	if !ok {
		return false
	}
	rec.remove()
	metrics.GameServersRegistered.Dec()
	slog.Info("OnGameServerUnregistered", "server_id", id)
	g.OnUnregistered.Emit(rec)
	return true
}

// Get returns the record for a server id.
func (g *Registry) Get(id uint64) (*RegisteredGameServer, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	rec, ok := g.byID[id]
	return rec, ok
}

// List returns a snapshot of all records.
func (g *Registry) List() []*RegisteredGameServer {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]*RegisteredGameServer, 0, len(g.byID))
	for _, rec := range g.byID {
		out = append(out, rec)
	}
	return out
}

// Count returns the number of live registrations.
func (g *Registry) Count() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.byID)
}

// Candidates returns public records matching the region (0 = any) and
// version lock, for the matching engine's filter stage.
func (g *Registry) Candidates(region symbol.Symbol, versionLock int64) []*RegisteredGameServer {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var pool map[uint64]*RegisteredGameServer
	if region != 0 {
		pool = g.byRegion[region]
	} else {
		pool = g.byID
	}

	out := make([]*RegisteredGameServer, 0, len(pool))
	for _, rec := range pool {
		if rec.VersionLock != versionLock {
			continue
		}
		if !rec.IsPublic() {
			continue
		}
		out = append(out, rec)
	}
	return out
}

// FindBySession locates the active record hosting a session GUID.
func (g *Registry) FindBySession(session uuid.UUID) (*RegisteredGameServer, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, rec := range g.byID {
		guid, _, _ := rec.Session()
		if guid == session && rec.State() != StateRemoved {
			return rec, true
		}
	}
	return nil, false
}
