package relay

import (
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/udisondev/relay/internal/metrics"
	"github.com/udisondev/relay/internal/protocol"
)

const (
	sendQueueSize = 64
	writeTimeout  = 10 * time.Second
)

// ErrPeerClosed is returned by Send after the peer went away.
var ErrPeerClosed = errors.New("peer closed")

// Peer is one live connection to one service. It owns the send queue
// and the per-service opaque session slot; the service owns the peer.
type Peer struct {
	svc  *Service
	conn *websocket.Conn
	addr netip.AddrPort

	sendCh    chan outFrame
	closed    chan struct{}
	closeOnce sync.Once

	mu            sync.Mutex
	userID        protocol.XPlatformID
	displayName   string
	authenticated bool
	sessionData   map[string]any
}

// outFrame is one queued wire frame; final frames close the peer once
// written, so failure replies reach the wire before the teardown.
type outFrame struct {
	data  []byte
	final bool
}

func newPeer(svc *Service, conn *websocket.Conn, addr netip.AddrPort) *Peer {
	return &Peer{
		svc:         svc,
		conn:        conn,
		addr:        addr,
		sendCh:      make(chan outFrame, sendQueueSize),
		closed:      make(chan struct{}),
		sessionData: make(map[string]any),
	}
}

// Address returns the peer's remote endpoint.
func (p *Peer) Address() netip.AddrPort {
	return p.addr
}

// Service returns the service this peer is attached to.
func (p *Peer) Service() *Service {
	return p.svc
}

// Send marshals the messages into one packet and enqueues it. Sends
// are emitted in enqueue order, at most once. A full queue means the
// peer stopped draining; the peer is closed instead of blocking the
// caller.
func (p *Peer) Send(msgs ...protocol.Message) error {
	return p.enqueue(false, msgs...)
}

// SendFinal enqueues the messages and closes the peer after the write
// pump has put them on the wire. Used for failure replies that must
// reach the client before the connection drops.
func (p *Peer) SendFinal(msgs ...protocol.Message) error {
	return p.enqueue(true, msgs...)
}

func (p *Peer) enqueue(final bool, msgs ...protocol.Message) error {
	data, err := protocol.MarshalPacket(msgs...)
	if err != nil {
		return fmt.Errorf("encoding packet for %s: %w", p.addr, err)
	}

	select {
	case <-p.closed:
		return ErrPeerClosed
	default:
	}

	select {
	case p.sendCh <- outFrame{data: data, final: final}:
		metrics.PacketsSent.WithLabelValues(p.svc.Name).Inc()
		p.svc.OnPacketSent.Emit(PacketEvent{Peer: p, Messages: msgs})
		return nil
	case <-p.closed:
		return ErrPeerClosed
	default:
		slog.Warn("peer send queue full, closing", "service", p.svc.Name, "remote", p.addr)
		p.Close()
		return ErrPeerClosed
	}
}

// Close tears the connection down. Safe to call repeatedly; the
// service disconnect event fires exactly once, after the peer is
// removed from the service and the registry back-references are gone.
func (p *Peer) Close() {
	p.closeOnce.Do(func() {
		close(p.closed)
		p.conn.Close()
		p.svc.removePeer(p)
	})
}

// writePump drains the send queue onto the wire. One per peer.
func (p *Peer) writePump() {
	for {
		select {
		case frame := <-p.sendCh:
			p.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := p.conn.WriteMessage(websocket.BinaryMessage, frame.data); err != nil {
				slog.Debug("peer write failed", "service", p.svc.Name, "remote", p.addr, "err", err)
				p.Close()
				return
			}
			if frame.final {
				p.Close()
				return
			}
		case <-p.closed:
			return
		}
	}
}

// UserID returns the authenticated identity, if set.
func (p *Peer) UserID() (protocol.XPlatformID, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.userID, p.authenticated
}

// DisplayName returns the authenticated display name.
func (p *Peer) DisplayName() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.displayName
}

// UpdateUserAuthentication marks the peer authenticated. The service
// authenticated event fires only on the first call.
func (p *Peer) UpdateUserAuthentication(userID protocol.XPlatformID, displayName string) {
	p.mu.Lock()
	first := !p.authenticated
	p.userID = userID
	p.displayName = displayName
	p.authenticated = true
	p.mu.Unlock()

	if first {
		slog.Info("OnServicePeerAuthenticated", "service", p.svc.Name, "remote", p.addr, "user", userID.String())
		p.svc.OnPeerAuthenticated.Emit(p)
	}
}

// SessionData returns the opaque slot stored under the service name.
func (p *Peer) SessionData(service string) (any, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.sessionData[service]
	return v, ok
}

// SetSessionData stores the opaque slot for the service.
func (p *Peer) SetSessionData(service string, v any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sessionData[service] = v
}

// ClearSessionData drops the slot for the service.
func (p *Peer) ClearSessionData(service string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.sessionData, service)
}

// SessionDataAs fetches the slot for the peer's own service and
// asserts its type, enforcing the expected variant per service.
func SessionDataAs[T any](p *Peer) (T, bool) {
	v, ok := p.SessionData(p.svc.Name)
	if !ok {
		var zero T
		return zero, false
	}
	t, ok := v.(T)
	return t, ok
}
