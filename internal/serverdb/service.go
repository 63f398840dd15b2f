// Package serverdb exposes the game server registry over the session
// server: dedicated game servers connect here, register themselves and
// report session lifecycle events.
package serverdb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/udisondev/relay/internal/gameserver"
	"github.com/udisondev/relay/internal/protocol"
	"github.com/udisondev/relay/internal/relay"
)

// Registration failure codes sent on the wire.
const (
	resultInvalidRequest = 1
	resultDuplicate      = 2
	resultProbeFailed    = 3
	resultInternal       = 4
)

// NewService builds the serverdb service on top of the registry. Each
// peer holds at most one registration, tracked in its session slot;
// the registration is torn down before the peer's close completes.
func NewService(registry *gameserver.Registry) *relay.Service {
	svc := relay.NewService("serverdb", "/serverdb")

	relay.Handle(svc, func(ctx context.Context, peer *relay.Peer, msg *protocol.GameServerRegistrationRequest) error {
		return handleRegistration(ctx, registry, peer, msg)
	})

	relay.Handle(svc, func(ctx context.Context, peer *relay.Peer, msg *protocol.GameServerSessionStarted) error {
		rec, ok := registeredServer(registry, peer)
		if !ok {
			return errors.New("session started from unregistered peer")
		}
		if !rec.ConfirmStarted(msg.SessionGUID) {
			slog.Warn("session start confirmation rejected",
				"server_id", rec.ID, "session", msg.SessionGUID, "state", rec.State())
			return nil
		}
		slog.Info("OnGameServerSessionStarted", "server_id", rec.ID, "session", msg.SessionGUID)
		return nil
	})

	relay.Handle(svc, func(ctx context.Context, peer *relay.Peer, msg *protocol.GameServerSessionEnded) error {
		rec, ok := registeredServer(registry, peer)
		if !ok {
			return errors.New("session ended from unregistered peer")
		}
		session, _, _ := rec.Session()
		rec.EndSession()
		slog.Info("OnGameServerSessionEnded", "server_id", rec.ID, "session", session)
		return nil
	})

	relay.Handle(svc, func(ctx context.Context, peer *relay.Peer, msg *protocol.GameServerPlayerJoined) error {
		rec, ok := registeredServer(registry, peer)
		if !ok {
			return errors.New("player joined from unregistered peer")
		}
		n := rec.PlayerJoined(msg.UserID, msg.PlayerSession)
		slog.Debug("game server player joined",
			"server_id", rec.ID, "user", msg.UserID.String(), "participants", n)
		return nil
	})

	relay.Handle(svc, func(ctx context.Context, peer *relay.Peer, msg *protocol.GameServerPlayerLeft) error {
		rec, ok := registeredServer(registry, peer)
		if !ok {
			return errors.New("player left from unregistered peer")
		}
		n := rec.PlayerLeft(msg.UserID)
		slog.Debug("game server player left",
			"server_id", rec.ID, "user", msg.UserID.String(), "participants", n)
		return nil
	})

	relay.Handle(svc, func(ctx context.Context, peer *relay.Peer, msg *protocol.GameServerUpdateRegistration) error {
		rec, ok := registeredServer(registry, peer)
		if !ok {
			return errors.New("update registration from unregistered peer")
		}
		rec.UpdateRegistration(msg.IsPublic, int(msg.MaxCapacity))
		slog.Debug("game server registration updated",
			"server_id", rec.ID, "public", msg.IsPublic, "capacity", msg.MaxCapacity)
		return nil
	})

	// The registry entry must be gone before the close returns so the
	// matching engine never allocates onto a dead peer.
	svc.OnDisconnectSync(func(peer *relay.Peer) {
		if id, ok := relay.SessionDataAs[uint64](peer); ok {
			registry.Unregister(id)
		}
	})

	return svc
}

func handleRegistration(ctx context.Context, registry *gameserver.Registry, peer *relay.Peer, msg *protocol.GameServerRegistrationRequest) error {
	if _, taken := relay.SessionDataAs[uint64](peer); taken {
		peer.SendFinal(&protocol.GameServerRegistrationFailure{
			Result:  resultInvalidRequest,
			Message: "connection already holds a registration",
		})
		return fmt.Errorf("duplicate registration attempt on one connection: server %d", msg.ServerID)
	}

	rec, err := registry.Register(ctx, peer, msg)
	if err != nil {
		peer.SendFinal(&protocol.GameServerRegistrationFailure{
			Result:  failureCode(err),
			Message: err.Error(),
		})
		return fmt.Errorf("registering server %d: %w", msg.ServerID, err)
	}

	peer.SetSessionData(peer.Service().Name, rec.ID)
	return peer.Send(&protocol.GameServerRegistrationSuccess{
		ServerID:     rec.ID,
		ExternalAddr: rec.ExternalAddr,
	})
}

func failureCode(err error) uint32 {
	switch {
	case errors.Is(err, gameserver.ErrDuplicateServerID):
		return resultDuplicate
	case errors.Is(err, gameserver.ErrProbeFailed):
		return resultProbeFailed
	case errors.Is(err, gameserver.ErrInvalidServerID),
		errors.Is(err, gameserver.ErrInvalidPort),
		errors.Is(err, gameserver.ErrInvalidExternal),
		errors.Is(err, gameserver.ErrUnknownRegion):
		return resultInvalidRequest
	default:
		return resultInternal
	}
}

func registeredServer(registry *gameserver.Registry, peer *relay.Peer) (*gameserver.RegisteredGameServer, bool) {
	id, ok := relay.SessionDataAs[uint64](peer)
	if !ok {
		return nil, false
	}
	return registry.Get(id)
}
