package relay

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/udisondev/relay/internal/config"
	"github.com/udisondev/relay/internal/protocol"
)

const shutdownGrace = 5 * time.Second

// AuthorizationResult accompanies the per-connection authorization
// event, fired after the ACL check and before the service sees the
// peer.
type AuthorizationResult struct {
	Remote     netip.AddrPort
	Authorized bool
}

// Server is the session server: one TCP listener accepting HTTP
// upgrade requests whose path selects the service. It owns the
// lifecycle of every peer.
type Server struct {
	cfg      config.Relay
	acl      *ACL
	services map[string]*Service
	upgrader websocket.Upgrader

	OnAuthorizationResult Hook[AuthorizationResult]

	mu       sync.Mutex
	listener net.Listener
	httpSrv  *http.Server

	limMu    sync.Mutex
	limiters map[netip.Addr]*rate.Limiter
	ipConns  map[netip.Addr]int
}

// NewServer creates a session server routing to the given services.
func NewServer(cfg config.Relay, acl *ACL, services ...*Service) *Server {
	s := &Server{
		cfg:      cfg,
		acl:      acl,
		services: make(map[string]*Service, len(services)),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The game client is not a browser; no origin to check.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		limiters: make(map[netip.Addr]*rate.Limiter),
		ipConns:  make(map[netip.Addr]int),
	}
	for _, svc := range services {
		s.services[svc.Path] = svc
	}
	return s
}

// Service returns the service bound to path.
func (s *Server) Service(path string) (*Service, bool) {
	svc, ok := s.services[path]
	return svc, ok
}

// Services returns all routed services.
func (s *Server) Services() []*Service {
	out := make([]*Service, 0, len(s.services))
	for _, svc := range s.services {
		out = append(out, svc)
	}
	return out
}

// Addr returns the listen address, nil before Run.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Run listens on the configured address and serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.BindAddress, s.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve runs the accept loop on a prepared listener. Split out so
// tests can pass a loopback listener on port 0.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	httpSrv := &http.Server{
		Handler:     s,
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	s.mu.Lock()
	s.listener = ln
	s.httpSrv = httpSrv
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		slog.Info("OnServerStopped")
		shCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		httpSrv.Shutdown(shCtx)
		for _, svc := range s.services {
			svc.closeAll()
		}
	}()

	slog.Info("OnServerStarted", "address", ln.Addr())
	if err := httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("session server: %w", err)
	}
	return nil
}

func (s *Server) limiterFor(ip netip.Addr) *rate.Limiter {
	s.limMu.Lock()
	defer s.limMu.Unlock()
	lim, ok := s.limiters[ip]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(s.cfg.ConnectionRatePerIP), s.cfg.ConnectionRatePerIP)
		s.limiters[ip] = lim
	}
	return lim
}

func (s *Server) trackConn(ip netip.Addr) bool {
	s.limMu.Lock()
	defer s.limMu.Unlock()
	if s.cfg.MaxConnectionsPerIP > 0 && s.ipConns[ip] >= s.cfg.MaxConnectionsPerIP {
		return false
	}
	s.ipConns[ip]++
	return true
}

func (s *Server) untrackConn(ip netip.Addr) {
	s.limMu.Lock()
	defer s.limMu.Unlock()
	if s.ipConns[ip] <= 1 {
		delete(s.ipConns, ip)
		// Drop the rate limiter with the last connection so the maps
		// stay bounded by live addresses, not every address ever seen.
		delete(s.limiters, ip)
	} else {
		s.ipConns[ip]--
	}
}

// ServeHTTP routes one upgrade request to its service.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	svc, ok := s.services[r.URL.Path]
	if !ok {
		http.NotFound(w, r)
		return
	}

	remote, err := netip.ParseAddrPort(r.RemoteAddr)
	if err != nil {
		http.Error(w, "bad remote address", http.StatusBadRequest)
		return
	}

	if s.cfg.ConnectionRatePerIP > 0 && !s.limiterFor(remote.Addr()).Allow() {
		http.Error(w, "too many connection attempts", http.StatusTooManyRequests)
		return
	}

	// ServerDB requires the shared API key when configured.
	if svc.Path == "/serverdb" && s.cfg.ServerDBAPIKey != "" {
		key := r.URL.Query().Get("apikey")
		if subtle.ConstantTimeCompare([]byte(key), []byte(s.cfg.ServerDBAPIKey)) != 1 {
			slog.Warn("serverdb api key mismatch", "remote", remote)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}

	authorized := s.acl == nil || s.acl.Authorized(remote.Addr().String())
	slog.Info("OnAuthorizationResult", "remote", remote, "authorized", authorized)
	s.OnAuthorizationResult.Emit(AuthorizationResult{Remote: remote, Authorized: authorized})
	if !authorized {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	if !s.trackConn(remote.Addr()) {
		http.Error(w, "too many connections", http.StatusTooManyRequests)
		return
	}
	defer s.untrackConn(remote.Addr())

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Debug("upgrade failed", "remote", remote, "err", err)
		return
	}

	peer := newPeer(svc, conn, remote)
	svc.addPeer(peer)
	go peer.writePump()
	s.readLoop(r.Context(), peer)
}

// readLoop pulls frames off the connection, decodes packets and feeds
// them to the service, in arrival order, until the peer goes away.
func (s *Server) readLoop(ctx context.Context, peer *Peer) {
	defer peer.Close()

	for {
		msgType, data, err := peer.conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.BinaryMessage {
			continue
		}

		pkt, err := protocol.UnmarshalPacket(data)
		if err != nil {
			// Framing faults mean desync; close without reply.
			slog.Warn("malformed packet, closing peer",
				"service", peer.svc.Name, "remote", peer.addr, "err", err)
			return
		}
		peer.svc.HandlePacket(ctx, peer, pkt)
	}
}
