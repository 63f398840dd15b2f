// Package content serves stored game content: config resources on the
// config service, localized documents on the document service.
package content

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/udisondev/relay/internal/protocol"
	"github.com/udisondev/relay/internal/relay"
	"github.com/udisondev/relay/internal/storage"
	"github.com/udisondev/relay/internal/symbol"
)

// NewConfigService serves config resources by type and identifier.
func NewConfigService(store storage.Storage, symbols *symbol.Cache) *relay.Service {
	svc := relay.NewService("config", "/config")

	relay.Handle(svc, func(ctx context.Context, peer *relay.Peer, msg *protocol.ConfigRequest) error {
		typeSym, typeKnown := symbols.Resolve(msg.Type)
		idSym, idKnown := symbols.Resolve(msg.Identifier)
		if !typeKnown || !idKnown {
			peer.Send(&protocol.ConfigFailure{
				StatusCode: http.StatusBadRequest,
				Message:    fmt.Sprintf("unknown config %s/%s", msg.Type, msg.Identifier),
			})
			return fmt.Errorf("unresolvable config request %s/%s", msg.Type, msg.Identifier)
		}

		cfg, err := store.GetKeyed(ctx, storage.CollectionConfigs, storage.ConfigKey(msg.Type, msg.Identifier))
		if err != nil {
			status := uint64(http.StatusInternalServerError)
			if errors.Is(err, storage.ErrNotFound) {
				status = http.StatusNotFound
			}
			peer.Send(&protocol.ConfigFailure{
				StatusCode: status,
				Message:    fmt.Sprintf("config %s/%s unavailable", msg.Type, msg.Identifier),
			})
			return fmt.Errorf("loading config %s/%s: %w", msg.Type, msg.Identifier, err)
		}

		return peer.Send(&protocol.ConfigSuccess{
			TypeSymbol: int64(typeSym),
			IDSymbol:   int64(idSym),
			Config:     cfg,
		})
	})

	return svc
}
