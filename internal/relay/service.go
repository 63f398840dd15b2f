package relay

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/udisondev/relay/internal/metrics"
	"github.com/udisondev/relay/internal/protocol"
	"github.com/udisondev/relay/internal/symbol"
)

// HandlerFunc processes one decoded message from a peer. A returned
// error is logged; handlers send their own typed failures and close
// the peer themselves when the protocol calls for it.
type HandlerFunc func(ctx context.Context, peer *Peer, msg protocol.Message) error

// PacketEvent accompanies packet sent/received hooks.
type PacketEvent struct {
	Peer     *Peer
	Messages []protocol.Message
}

// Service is a named handler set bound to a URL path. It owns its
// peers and dispatches their decoded messages to typed handlers.
type Service struct {
	Name string
	Path string

	mu       sync.RWMutex
	peers    map[*Peer]struct{}
	handlers map[symbol.Symbol]HandlerFunc
	syncDisc syncDisconnect

	OnPeerConnected     Hook[*Peer]
	OnPeerDisconnected  Hook[*Peer]
	OnPeerAuthenticated Hook[*Peer]
	OnPacketReceived    Hook[PacketEvent]
	OnPacketSent        Hook[PacketEvent]
}

// NewService creates an empty service for the given path.
func NewService(name, path string) *Service {
	return &Service{
		Name:     name,
		Path:     path,
		peers:    make(map[*Peer]struct{}),
		handlers: make(map[symbol.Symbol]HandlerFunc),
	}
}

// Handle binds a handler to a message type. Handle is called during
// service construction, before any peer exists.
func Handle[T protocol.Message](s *Service, fn func(ctx context.Context, peer *Peer, msg T) error) {
	var zero T
	sym := protocol.TypeSymbolOf(zero)
	s.handlers[sym] = func(ctx context.Context, peer *Peer, msg protocol.Message) error {
		typed, ok := msg.(T)
		if !ok {
			return fmt.Errorf("unexpected message type %T for %s", msg, zero.Name())
		}
		return fn(ctx, peer, typed)
	}
}

// PeerCount returns the number of live peers.
func (s *Service) PeerCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.peers)
}

// Peers returns a snapshot of the live peers.
func (s *Service) Peers() []*Peer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Peer, 0, len(s.peers))
	for p := range s.peers {
		out = append(out, p)
	}
	return out
}

func (s *Service) addPeer(p *Peer) {
	s.mu.Lock()
	s.peers[p] = struct{}{}
	s.mu.Unlock()

	metrics.PeersConnected.WithLabelValues(s.Name).Inc()
	slog.Info("OnServicePeerConnected", "service", s.Name, "remote", p.addr)
	s.OnPeerConnected.Emit(p)
}

// removePeer is called exactly once from Peer.Close. Disconnect
// observers (the registry among them) run synchronously here so that
// registration cleanup completes before the close returns.
func (s *Service) removePeer(p *Peer) {
	s.mu.Lock()
	_, present := s.peers[p]
	delete(s.peers, p)
	s.mu.Unlock()
	if !present {
		return
	}

	metrics.PeersConnected.WithLabelValues(s.Name).Dec()
	slog.Info("OnServicePeerDisconnected", "service", s.Name, "remote", p.addr)
	s.disconnectPeer(p)
	s.OnPeerDisconnected.Emit(p)
}

// syncDisconnect holds callbacks that run inline during removePeer,
// unlike the asynchronous observer set. Used where ordering with the
// close matters (registry unregistration, session TTL shortening).
type syncDisconnect struct {
	mu  sync.RWMutex
	fns []func(p *Peer)
}

func (s *Service) disconnectPeer(p *Peer) {
	s.syncDisc.mu.RLock()
	fns := s.syncDisc.fns
	s.syncDisc.mu.RUnlock()
	for _, fn := range fns {
		fn(p)
	}
}

// OnDisconnectSync registers a callback that runs inline before the
// peer's close completes.
func (s *Service) OnDisconnectSync(fn func(p *Peer)) {
	s.syncDisc.mu.Lock()
	s.syncDisc.fns = append(s.syncDisc.fns, fn)
	s.syncDisc.mu.Unlock()
}

// HandlePacket dispatches each message in the packet to its typed
// handler, in arrival order. Unknown messages are logged at debug and
// skipped. A panicking handler closes only this peer.
func (s *Service) HandlePacket(ctx context.Context, peer *Peer, pkt protocol.Packet) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("handler panic, closing peer", "service", s.Name, "remote", peer.addr, "panic", r)
			peer.Close()
		}
	}()

	metrics.PacketsReceived.WithLabelValues(s.Name).Inc()
	slog.Debug("OnServicePacketReceived", "service", s.Name, "remote", peer.addr, "messages", len(pkt))
	s.OnPacketReceived.Emit(PacketEvent{Peer: peer, Messages: pkt})

	for _, msg := range pkt {
		if u, ok := msg.(*protocol.Unknown); ok {
			slog.Debug("unknown message type", "service", s.Name, "remote", peer.addr,
				"symbol", u.TypeSymbol.HexString(), "len", len(u.Payload))
			continue
		}
		handler, ok := s.handlers[protocol.TypeSymbolOf(msg)]
		if !ok {
			slog.Debug("no handler for message", "service", s.Name, "remote", peer.addr, "message", msg.Name())
			continue
		}
		if err := handler(ctx, peer, msg); err != nil {
			slog.Error("handler failed", "service", s.Name, "remote", peer.addr, "message", msg.Name(), "err", err)
		}
	}
}

// closeAll closes every peer. Used at shutdown.
func (s *Service) closeAll() {
	for _, p := range s.Peers() {
		p.Close()
	}
}
