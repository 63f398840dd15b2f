// Package transaction acknowledges in-app purchase reconciliation
// requests. Purchases are not persisted; the client just needs a
// well-formed answer to proceed.
package transaction

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/udisondev/relay/internal/protocol"
	"github.com/udisondev/relay/internal/relay"
)

// NewService builds the transaction service.
func NewService() *relay.Service {
	svc := relay.NewService("transaction", "/transaction")

	relay.Handle(svc, func(ctx context.Context, peer *relay.Peer, msg *protocol.ReconcileIAPRequest) error {
		slog.Debug("iap reconcile", "user", msg.UserID.String(), "session", msg.Session)
		return peer.Send(&protocol.ReconcileIAPResult{
			UserID: msg.UserID,
			Result: json.RawMessage(`{"balance":0,"transactions":[]}`),
		})
	})

	return svc
}
