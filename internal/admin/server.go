// Package admin exposes a read-only HTTP API for operators: live
// counters, the game server registry and Prometheus metrics.
package admin

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/udisondev/relay/internal/config"
	"github.com/udisondev/relay/internal/gameserver"
	"github.com/udisondev/relay/internal/relay"
)

const readTimeout = 10 * time.Second

// Server is the admin HTTP endpoint.
type Server struct {
	cfg      config.AdminConfig
	relay    *relay.Server
	registry *gameserver.Registry
	started  time.Time
}

// NewServer builds the admin server over the session server and the
// game server registry.
func NewServer(cfg config.AdminConfig, relaySrv *relay.Server, registry *gameserver.Registry) *Server {
	return &Server{
		cfg:      cfg,
		relay:    relaySrv,
		registry: registry,
		started:  time.Now(),
	}
}

// Router builds the route tree. Exposed for handler tests.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		if s.cfg.APIKey != "" {
			r.Use(s.requireAPIKey)
		}
		r.Get("/status", s.handleStatus)
		r.Get("/gameservers", s.handleGameServers)
	})

	return r
}

// Run serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.BindAddress, s.cfg.Port)
	srv := &http.Server{
		Addr:        addr,
		Handler:     s.Router(),
		ReadTimeout: readTimeout,
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	go func() {
		<-ctx.Done()
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shCtx)
	}()

	slog.Info("OnAdminServerStarted", "address", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("admin server: %w", err)
	}
	return nil
}

func (s *Server) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("X-Api-Key")
		if key == "" {
			key = r.URL.Query().Get("apikey")
		}
		if subtle.ConstantTimeCompare([]byte(key), []byte(s.cfg.APIKey)) != 1 {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusResponse struct {
	UptimeSeconds int64          `json:"uptime_seconds"`
	GameServers   int            `json:"game_servers"`
	Peers         map[string]int `json:"peers"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	peers := make(map[string]int)
	if s.relay != nil {
		for _, svc := range s.relay.Services() {
			peers[svc.Name] = svc.PeerCount()
		}
	}
	writeJSON(w, statusResponse{
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
		GameServers:   s.registry.Count(),
		Peers:         peers,
	})
}

type gameServerResponse struct {
	ServerID     uint64 `json:"server_id"`
	Endpoint     string `json:"endpoint"`
	Region       string `json:"region"`
	VersionLock  int64  `json:"version_lock"`
	State        string `json:"state"`
	Public       bool   `json:"public"`
	Participants int    `json:"participants"`
	MaxCapacity  int    `json:"max_capacity"`
	SessionGUID  string `json:"session_guid,omitempty"`
}

func (s *Server) handleGameServers(w http.ResponseWriter, r *http.Request) {
	recs := s.registry.List()
	out := make([]gameServerResponse, 0, len(recs))
	for _, rec := range recs {
		session, _, _ := rec.Session()
		count, cap := rec.Capacity()
		entry := gameServerResponse{
			ServerID:     rec.ID,
			Endpoint:     rec.Endpoint().String(),
			Region:       rec.RegionSymbol.HexString(),
			VersionLock:  rec.VersionLock,
			State:        rec.State().String(),
			Public:       rec.IsPublic(),
			Participants: count,
			MaxCapacity:  cap,
		}
		if !session.IsNil() {
			entry.SessionGUID = session.String()
		}
		out = append(out, entry)
	}
	writeJSON(w, out)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("admin response write failed", "err", err)
	}
}
