package content

import (
	"context"
	"fmt"

	"github.com/udisondev/relay/internal/protocol"
	"github.com/udisondev/relay/internal/relay"
	"github.com/udisondev/relay/internal/storage"
	"github.com/udisondev/relay/internal/symbol"
)

// NewDocumentService serves localized documents, the EULA among them.
func NewDocumentService(store storage.Storage, symbols *symbol.Cache) *relay.Service {
	svc := relay.NewService("document", "/document")

	relay.Handle(svc, func(ctx context.Context, peer *relay.Peer, msg *protocol.DocumentRequestv2) error {
		typeSym, typeKnown := symbols.Resolve(msg.Type)
		if _, langKnown := symbols.Resolve(msg.Language); !typeKnown || !langKnown {
			peer.Send(&protocol.DocumentFailure{
				Message: fmt.Sprintf("unknown document %s/%s", msg.Type, msg.Language),
			})
			return fmt.Errorf("unresolvable document request %s/%s", msg.Type, msg.Language)
		}

		doc, err := store.GetKeyed(ctx, storage.CollectionDocuments, storage.DocumentKey(msg.Type, msg.Language))
		if err != nil {
			peer.Send(&protocol.DocumentFailure{
				Message: fmt.Sprintf("document %s/%s unavailable", msg.Type, msg.Language),
			})
			return fmt.Errorf("loading document %s/%s: %w", msg.Type, msg.Language, err)
		}

		return peer.Send(&protocol.DocumentSuccess{
			DocumentSymbol: int64(typeSym),
			Document:       doc,
		})
	})

	return svc
}
