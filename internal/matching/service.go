package matching

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"

	"github.com/udisondev/relay/internal/metrics"
	"github.com/udisondev/relay/internal/protocol"
	"github.com/udisondev/relay/internal/relay"
)

// Lobby failure codes sent in LobbySessionFailurev4.
const (
	failureInternal        = 1
	failureNoServers       = 2
	failureSessionNotFound = 3
	failureSessionFull     = 4
)

// peerState is the matching session slot: latencies the client has
// reported so far.
type peerState struct {
	pings map[netip.AddrPort]uint32
}

// NewService builds the matching service over the engine.
func NewService(engine *Engine) *relay.Service {
	svc := relay.NewService("matching", "/matching")

	relay.Handle(svc, func(ctx context.Context, peer *relay.Peer, msg *protocol.LobbyCreateSessionRequestv9) error {
		primePings(engine, peer, msg.VersionLock)
		req := Request{
			Region:          msg.RegionSymbol,
			VersionLock:     msg.VersionLock,
			Level:           msg.LevelSymbol,
			Mode:            msg.ModeSymbol,
			Channel:         msg.Channel,
			TeamIndex:       msg.TeamIndex,
			SessionSettings: msg.SessionSettings,
			Pings:           peerPings(peer),
		}
		res, err := engine.Create(req)
		return finish(engine, peer, "create", req, res, err)
	})

	relay.Handle(svc, func(ctx context.Context, peer *relay.Peer, msg *protocol.LobbyFindSessionRequestv11) error {
		primePings(engine, peer, msg.VersionLock)
		req := Request{
			Region:      msg.RegionSymbol,
			VersionLock: msg.VersionLock,
			Level:       msg.LevelSymbol,
			Mode:        msg.ModeSymbol,
			Channel:     msg.Channel,
			TeamIndex:   msg.TeamIndex,
			Pings:       peerPings(peer),
		}
		res, err := engine.Find(req)
		return finish(engine, peer, "find", req, res, err)
	})

	relay.Handle(svc, func(ctx context.Context, peer *relay.Peer, msg *protocol.LobbyJoinSessionRequestv7) error {
		res, err := engine.Join(msg.SessionGUID, msg.TeamIndex)
		return finish(engine, peer, "join", Request{}, res, err)
	})

	relay.Handle(svc, func(ctx context.Context, peer *relay.Peer, msg *protocol.LobbyPendingSessionCancel) error {
		// Nothing is queued server side; placement is synchronous. The
		// cancel is acknowledged by silence.
		slog.Debug("pending session cancel", "remote", peer.Address(), "session", msg.Session)
		return nil
	})

	relay.Handle(svc, func(ctx context.Context, peer *relay.Peer, msg *protocol.LobbyPingResponse) error {
		state, ok := relay.SessionDataAs[*peerState](peer)
		if !ok {
			state = &peerState{pings: make(map[netip.AddrPort]uint32)}
			peer.SetSessionData(peer.Service().Name, state)
		}
		for _, res := range msg.Results {
			state.pings[netip.AddrPortFrom(res.Endpoint.Addr, res.Endpoint.Port)] = res.PingMillis
		}
		return nil
	})

	return svc
}

func peerPings(peer *relay.Peer) map[netip.AddrPort]uint32 {
	if state, ok := relay.SessionDataAs[*peerState](peer); ok {
		return state.pings
	}
	return nil
}

// primePings hands a first-time lobby peer the endpoints to measure.
// The current request proceeds unranked; later ones use the results.
func primePings(engine *Engine, peer *relay.Peer, versionLock int64) {
	if _, ok := relay.SessionDataAs[*peerState](peer); ok {
		return
	}
	peer.SetSessionData(peer.Service().Name, &peerState{pings: make(map[netip.AddrPort]uint32)})
	if req := engine.PingRequest(versionLock); len(req.Endpoints) > 0 {
		peer.Send(req)
	}
}

// finish commits a placement or reports the failure to the client. A
// freshly created session is started on the winning server before the
// client learns about it; when the server is unreachable the lock is
// rolled back and the client gets a failure.
func finish(engine *Engine, peer *relay.Peer, kind string, req Request, res *Result, err error) error {
	if err != nil {
		metrics.MatchingResults.WithLabelValues(kind, "failure").Inc()
		peer.Send(&protocol.LobbySessionFailurev4{
			ErrorCode: failureCode(err),
			Message:   err.Error(),
		})
		return fmt.Errorf("%s placement: %w", kind, err)
	}

	if res.Created {
		if sendErr := res.Server.Peer().Send(startMessage(req, res)); sendErr != nil {
			res.Server.EndSession()
			metrics.MatchingResults.WithLabelValues(kind, "failure").Inc()
			peer.Send(&protocol.LobbySessionFailurev4{
				ErrorCode: failureInternal,
				Message:   "game server unreachable",
			})
			return fmt.Errorf("starting session on server %d: %w", res.Server.ID, sendErr)
		}
	}

	metrics.MatchingResults.WithLabelValues(kind, "success").Inc()
	slog.Info("OnMatchingSessionPlaced",
		"kind", kind,
		"remote", peer.Address(),
		"session", res.SessionGUID,
		"server_id", res.Server.ID,
		"team", res.TeamIndex,
		"created", res.Created)

	endpoint := res.Server.Endpoint()
	return peer.Send(&protocol.LobbySessionSuccessv5{
		SessionGUID: res.SessionGUID,
		ServerID:    res.Server.ID,
		Endpoint:    protocol.Endpoint{Addr: endpoint.Addr(), Port: endpoint.Port()},
		TeamIndex:   res.TeamIndex,
	})
}

func failureCode(err error) uint64 {
	switch {
	case errors.Is(err, ErrNoServers):
		return failureNoServers
	case errors.Is(err, ErrSessionNotFound):
		return failureSessionNotFound
	case errors.Is(err, ErrSessionFull):
		return failureSessionFull
	default:
		return failureInternal
	}
}

