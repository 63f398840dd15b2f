// Package matching places clients into game sessions: it filters the
// registry for suitable servers, ranks them, and claims one with a
// lock-free allocation so two clients never race onto the same idle
// server.
package matching

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/netip"
	"sort"

	"github.com/gofrs/uuid/v5"

	"github.com/udisondev/relay/internal/config"
	"github.com/udisondev/relay/internal/gameserver"
	"github.com/udisondev/relay/internal/protocol"
	"github.com/udisondev/relay/internal/symbol"
)

var (
	// ErrNoServers: nothing in the registry can host the request.
	ErrNoServers = errors.New("no suitable game servers available")
	// ErrSessionNotFound: the requested session GUID is not live.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionFull: the session has no open slots.
	ErrSessionFull = errors.New("session full")
)

// Request is a normalized lobby request, common to create and find.
type Request struct {
	Region          symbol.Symbol
	VersionLock     int64
	Level           symbol.Symbol
	Mode            symbol.Symbol
	Channel         uuid.UUID
	TeamIndex       int16
	SessionSettings json.RawMessage

	// Pings carries latencies the client measured for game endpoints,
	// empty when the client never answered a ping request.
	Pings map[netip.AddrPort]uint32
}

// Result is a placed client: the session, its host and a team slot.
type Result struct {
	SessionGUID uuid.UUID
	Server      *gameserver.RegisteredGameServer
	TeamIndex   int16
	// Created reports whether a fresh session was allocated rather
	// than an existing one joined.
	Created bool
}

// Engine drives session placement over the registry.
type Engine struct {
	registry *gameserver.Registry
	cfg      config.MatchingConfig
}

// NewEngine creates a matching engine.
func NewEngine(registry *gameserver.Registry, cfg config.MatchingConfig) *Engine {
	return &Engine{registry: registry, cfg: cfg}
}

// Create allocates a new session on an idle server. The winning server
// is moved to session-locked; the caller instructs it to start.
func (e *Engine) Create(req Request) (*Result, error) {
	return e.allocate(req)
}

// Find joins an existing session matching the request, or allocates a
// new one when nothing matches. With forced placement enabled the
// constraints relax one at a time, level first, then mode, then
// region, before giving up.
func (e *Engine) Find(req Request) (*Result, error) {
	if res, ok := e.joinExisting(req, req.Level, req.Mode, req.Region); ok {
		return res, nil
	}

	if res, err := e.allocate(req); err == nil {
		return res, nil
	}

	if e.cfg.ForceIntoAnySession {
		relaxations := []struct {
			level, mode, region symbol.Symbol
		}{
			{0, req.Mode, req.Region},
			{0, 0, req.Region},
			{0, 0, 0},
		}
		for _, rx := range relaxations {
			if res, ok := e.joinExisting(req, rx.level, rx.mode, rx.region); ok {
				return res, nil
			}
		}
	}

	return nil, ErrNoServers
}

// Join places the client into a specific live session.
func (e *Engine) Join(session uuid.UUID, teamIndex int16) (*Result, error) {
	rec, ok := e.registry.FindBySession(session)
	if !ok || rec.State() != gameserver.StateSessionActive {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, session)
	}
	count, cap := rec.Capacity()
	if count >= cap {
		return nil, fmt.Errorf("%w: %s", ErrSessionFull, session)
	}
	return &Result{
		SessionGUID: session,
		Server:      rec,
		TeamIndex:   assignTeam(teamIndex, count),
	}, nil
}

// joinExisting scans active sessions under the given constraints.
// Symbol zero means unconstrained.
func (e *Engine) joinExisting(req Request, level, mode, region symbol.Symbol) (*Result, bool) {
	candidates := e.registry.Candidates(region, req.VersionLock)

	type open struct {
		rec     *gameserver.RegisteredGameServer
		session uuid.UUID
		count   int
	}
	var matches []open
	for _, rec := range candidates {
		if rec.State() != gameserver.StateSessionActive {
			continue
		}
		session, recLevel, recMode := rec.Session()
		if level != 0 && recLevel != level {
			continue
		}
		if mode != 0 && recMode != mode {
			continue
		}
		count, cap := rec.Capacity()
		if count >= cap {
			continue
		}
		matches = append(matches, open{rec: rec, session: session, count: count})
	}
	if len(matches) == 0 {
		return nil, false
	}

	switch e.cfg.Ranking {
	case "ping":
		sort.SliceStable(matches, func(i, j int) bool {
			pi, pj := pingOf(req.Pings, matches[i].rec), pingOf(req.Pings, matches[j].rec)
			if pi != pj {
				return pi < pj
			}
			return matches[i].count > matches[j].count
		})
	default: // population: fill the fullest session first, near servers break ties
		sort.SliceStable(matches, func(i, j int) bool {
			if matches[i].count != matches[j].count {
				return matches[i].count > matches[j].count
			}
			return pingOf(req.Pings, matches[i].rec) < pingOf(req.Pings, matches[j].rec)
		})
	}

	best := matches[0]
	return &Result{
		SessionGUID: best.session,
		Server:      best.rec,
		TeamIndex:   assignTeam(req.TeamIndex, best.count),
	}, true
}

// allocate claims an idle server with a CAS per candidate; a lost race
// just moves on to the next.
func (e *Engine) allocate(req Request) (*Result, error) {
	candidates := e.registry.Candidates(req.Region, req.VersionLock)

	type idleServer struct {
		rec   *gameserver.RegisteredGameServer
		count int
	}
	var idle []idleServer
	for _, rec := range candidates {
		if rec.State() != gameserver.StateIdle {
			continue
		}
		count, _ := rec.Capacity()
		idle = append(idle, idleServer{rec: rec, count: count})
	}
	if len(idle) == 0 {
		return nil, ErrNoServers
	}

	// The configured ranking governs allocation the same way it governs
	// joins: population fills the busiest lobby first with ping breaking
	// ties, ping ranks by latency with population breaking ties.
	switch e.cfg.Ranking {
	case "ping":
		sort.SliceStable(idle, func(i, j int) bool {
			pi, pj := pingOf(req.Pings, idle[i].rec), pingOf(req.Pings, idle[j].rec)
			if pi != pj {
				return pi < pj
			}
			return idle[i].count > idle[j].count
		})
	default:
		sort.SliceStable(idle, func(i, j int) bool {
			if idle[i].count != idle[j].count {
				return idle[i].count > idle[j].count
			}
			return pingOf(req.Pings, idle[i].rec) < pingOf(req.Pings, idle[j].rec)
		})
	}

	for _, cand := range idle {
		session, err := uuid.NewV4()
		if err != nil {
			return nil, fmt.Errorf("generating session id: %w", err)
		}
		if !cand.rec.TryLock(session, req.Level, req.Mode) {
			continue
		}
		return &Result{
			SessionGUID: session,
			Server:      cand.rec,
			TeamIndex:   assignTeam(req.TeamIndex, 0),
			Created:     true,
		}, nil
	}
	return nil, ErrNoServers
}

// assignTeam honors an explicit team request and otherwise balances by
// participant count parity.
func assignTeam(requested int16, participants int) int16 {
	if requested >= 0 {
		return requested
	}
	return int16(participants % 2)
}

func pingOf(pings map[netip.AddrPort]uint32, rec *gameserver.RegisteredGameServer) uint32 {
	if pings == nil {
		return ^uint32(0)
	}
	p, ok := pings[rec.Endpoint()]
	if !ok {
		return ^uint32(0)
	}
	return p
}

// PingRequest builds the endpoint list a lobby peer should measure:
// every placeable server under the version lock.
func (e *Engine) PingRequest(versionLock int64) *protocol.LobbyPingRequestv3 {
	recs := e.registry.Candidates(0, versionLock)
	endpoints := make([]protocol.Endpoint, 0, len(recs))
	for _, rec := range recs {
		ep := rec.Endpoint()
		endpoints = append(endpoints, protocol.Endpoint{Addr: ep.Addr(), Port: ep.Port()})
	}
	return &protocol.LobbyPingRequestv3{Endpoints: endpoints}
}

// startMessage builds the instruction for a freshly allocated server.
func startMessage(req Request, res *Result) *protocol.GameServerSessionStart {
	settings := req.SessionSettings
	if len(settings) == 0 {
		settings = json.RawMessage("{}")
	}
	return &protocol.GameServerSessionStart{
		SessionGUID:     res.SessionGUID,
		Channel:         req.Channel,
		LevelSymbol:     req.Level,
		ModeSymbol:      req.Mode,
		SessionSettings: settings,
	}
}
