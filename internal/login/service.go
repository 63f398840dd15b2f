package login

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/udisondev/relay/internal/metrics"
	"github.com/udisondev/relay/internal/protocol"
	"github.com/udisondev/relay/internal/relay"
	"github.com/udisondev/relay/internal/storage"
	"github.com/udisondev/relay/internal/symbol"
)

// Options parameterize the login service.
type Options struct {
	Store              storage.Storage
	Sessions           *SessionCache
	ACL                *relay.ACL
	Symbols            *symbol.Cache
	AutoCreateAccounts bool
}

type service struct {
	store      storage.Storage
	sessions   *SessionCache
	acl        *relay.ACL
	symbols    *symbol.Cache
	autoCreate bool
}

// NewService builds the login service: authentication, profiles,
// channel info, documents and client-side log intake.
func NewService(opts Options) *relay.Service {
	s := &service{
		store:      opts.Store,
		sessions:   opts.Sessions,
		acl:        opts.ACL,
		symbols:    opts.Symbols,
		autoCreate: opts.AutoCreateAccounts,
	}

	svc := relay.NewService("login", "/login")

	relay.Handle(svc, s.handleLogin)
	relay.Handle(svc, s.handleOwnProfile)
	relay.Handle(svc, s.handleOtherProfile)
	relay.Handle(svc, s.handleClientProfileUpdate)
	relay.Handle(svc, s.handleServerProfileUpdate)
	relay.Handle(svc, s.handleChannelInfo)
	relay.Handle(svc, s.handleDocument)
	relay.Handle(svc, s.handleRemoteLog)

	// A dropped connection does not kill the session outright; the
	// client gets the disconnect timeout to come back.
	svc.OnDisconnectSync(func(peer *relay.Peer) {
		if token, ok := relay.SessionDataAs[uuid.UUID](peer); ok {
			s.sessions.Disconnected(token)
		}
	})

	return svc
}

func (s *service) handleLogin(ctx context.Context, peer *relay.Peer, msg *protocol.LoginRequest) error {
	// A relogin on the same connection invalidates the prior session.
	if prior, ok := relay.SessionDataAs[uuid.UUID](peer); ok {
		s.sessions.Remove(prior)
		peer.ClearSessionData(peer.Service().Name)
	}

	if !msg.UserID.IsValid() {
		metrics.Logins.WithLabelValues("failure").Inc()
		peer.Send(&protocol.LoginFailure{
			UserID:     msg.UserID,
			StatusCode: http.StatusBadRequest,
			Message:    "invalid user identifier",
		})
		return fmt.Errorf("login with invalid identifier %s", msg.UserID)
	}

	if s.acl != nil && !s.acl.Authorized(msg.UserID.String()) {
		metrics.Logins.WithLabelValues("denied").Inc()
		peer.SendFinal(&protocol.LoginFailure{
			UserID:     msg.UserID,
			StatusCode: http.StatusForbidden,
			Message:    "account banned",
		})
		return fmt.Errorf("login denied by access control: %s", msg.UserID)
	}

	acct, err := s.fetchOrCreateAccount(ctx, msg)
	if err != nil {
		metrics.Logins.WithLabelValues("failure").Inc()
		status := uint64(http.StatusInternalServerError)
		if errors.Is(err, storage.ErrNotFound) {
			status = http.StatusNotFound
		}
		peer.Send(&protocol.LoginFailure{
			UserID:     msg.UserID,
			StatusCode: status,
			Message:    "account unavailable",
		})
		return fmt.Errorf("loading account %s: %w", msg.UserID, err)
	}

	token, err := s.sessions.Issue(msg.UserID, acct.DisplayName(msg.UserID))
	if err != nil {
		metrics.Logins.WithLabelValues("failure").Inc()
		peer.Send(&protocol.LoginFailure{
			UserID:     msg.UserID,
			StatusCode: http.StatusInternalServerError,
			Message:    "session allocation failed",
		})
		return fmt.Errorf("issuing session for %s: %w", msg.UserID, err)
	}

	peer.SetSessionData(peer.Service().Name, token)
	peer.UpdateUserAuthentication(msg.UserID, acct.DisplayName(msg.UserID))
	metrics.Logins.WithLabelValues("success").Inc()

	return peer.Send(
		&protocol.LoginSuccess{Session: token, UserID: msg.UserID},
		&protocol.TCPConnectionUnrequireEvent{},
		&protocol.LoginSettings{Settings: s.loginSettings(ctx)},
	)
}

func (s *service) fetchOrCreateAccount(ctx context.Context, msg *protocol.LoginRequest) (*Account, error) {
	acct, err := loadAccount(ctx, s.store, msg.UserID)
	if err == nil {
		return acct, nil
	}
	if !errors.Is(err, storage.ErrNotFound) || !s.autoCreate {
		return nil, err
	}

	var info struct {
		DisplayName string `json:"displayname"`
	}
	json.Unmarshal(msg.AccountInfo, &info)

	acct = newAccount(msg.UserID, info.DisplayName, time.Now())
	if err := saveAccount(ctx, s.store, msg.UserID, acct); err != nil {
		return nil, fmt.Errorf("creating account: %w", err)
	}
	slog.Info("OnAccountCreated", "user", msg.UserID.String())
	return acct, nil
}

func (s *service) loginSettings(ctx context.Context) json.RawMessage {
	settings, err := s.store.GetResource(ctx, storage.ResourceLoginSettings)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			slog.Warn("login settings unavailable", "err", err)
		}
		return json.RawMessage("{}")
	}
	return settings
}

func (s *service) handleOwnProfile(ctx context.Context, peer *relay.Peer, msg *protocol.LoggedInUserProfileRequest) error {
	if !s.sessions.Validate(msg.Session, msg.UserID) {
		peer.Send(&protocol.LoggedInUserProfileFailure{
			UserID:     msg.UserID,
			StatusCode: http.StatusUnauthorized,
			Message:    "invalid session",
		})
		return fmt.Errorf("profile request with invalid session for %s", msg.UserID)
	}

	acct, err := loadAccount(ctx, s.store, msg.UserID)
	if err != nil {
		peer.Send(&protocol.LoggedInUserProfileFailure{
			UserID:     msg.UserID,
			StatusCode: profileStatus(err),
			Message:    "profile unavailable",
		})
		return fmt.Errorf("loading profile %s: %w", msg.UserID, err)
	}

	profile, err := json.Marshal(acct)
	if err != nil {
		return fmt.Errorf("encoding profile %s: %w", msg.UserID, err)
	}
	return peer.Send(&protocol.LoggedInUserProfileSuccess{UserID: msg.UserID, Profile: profile})
}

func (s *service) handleOtherProfile(ctx context.Context, peer *relay.Peer, msg *protocol.OtherUserProfileRequest) error {
	acct, err := loadAccount(ctx, s.store, msg.UserID)
	if err != nil {
		peer.Send(&protocol.OtherUserProfileFailure{
			UserID:     msg.UserID,
			StatusCode: profileStatus(err),
			Message:    "profile unavailable",
		})
		return fmt.Errorf("loading public profile %s: %w", msg.UserID, err)
	}

	// Only the server half is public.
	profile, err := json.Marshal(acct.Server)
	if err != nil {
		return fmt.Errorf("encoding public profile %s: %w", msg.UserID, err)
	}
	return peer.Send(&protocol.OtherUserProfileSuccess{UserID: msg.UserID, Profile: profile})
}

func (s *service) handleClientProfileUpdate(ctx context.Context, peer *relay.Peer, msg *protocol.UpdateClientProfileRequest) error {
	if !s.sessions.Validate(msg.Session, msg.UserID) {
		peer.Send(&protocol.UpdateProfileFailure{
			UserID:     msg.UserID,
			StatusCode: http.StatusUnauthorized,
			Message:    "invalid session",
		})
		return fmt.Errorf("profile update with invalid session for %s", msg.UserID)
	}

	var client map[string]any
	if err := json.Unmarshal(msg.Profile, &client); err != nil {
		peer.Send(&protocol.UpdateProfileFailure{
			UserID:     msg.UserID,
			StatusCode: http.StatusBadRequest,
			Message:    "malformed profile",
		})
		return fmt.Errorf("decoding client profile for %s: %w", msg.UserID, err)
	}
	if claimed, ok := client["xplatformid"].(string); ok && claimed != msg.UserID.String() {
		peer.Send(&protocol.UpdateProfileFailure{
			UserID:     msg.UserID,
			StatusCode: http.StatusBadRequest,
			Message:    "profile identity mismatch",
		})
		return fmt.Errorf("client profile claims %q, session owns %s", claimed, msg.UserID)
	}

	acct, err := loadAccount(ctx, s.store, msg.UserID)
	if err != nil {
		peer.Send(&protocol.UpdateProfileFailure{
			UserID:     msg.UserID,
			StatusCode: profileStatus(err),
			Message:    "profile unavailable",
		})
		return fmt.Errorf("loading account for update %s: %w", msg.UserID, err)
	}

	acct.Client = client
	acct.touch(time.Now())
	if err := saveAccount(ctx, s.store, msg.UserID, acct); err != nil {
		peer.Send(&protocol.UpdateProfileFailure{
			UserID:     msg.UserID,
			StatusCode: http.StatusInternalServerError,
			Message:    "profile write failed",
		})
		return fmt.Errorf("saving client profile %s: %w", msg.UserID, err)
	}
	return peer.Send(&protocol.UpdateProfileSuccess{UserID: msg.UserID})
}

func (s *service) handleServerProfileUpdate(ctx context.Context, peer *relay.Peer, msg *protocol.UserServerProfileUpdateRequest) error {
	var delta map[string]any
	if err := json.Unmarshal(msg.Delta, &delta); err != nil {
		peer.Send(&protocol.UpdateProfileFailure{
			UserID:     msg.UserID,
			StatusCode: http.StatusBadRequest,
			Message:    "malformed delta",
		})
		return fmt.Errorf("decoding server profile delta for %s: %w", msg.UserID, err)
	}

	acct, err := loadAccount(ctx, s.store, msg.UserID)
	if err != nil {
		peer.Send(&protocol.UpdateProfileFailure{
			UserID:     msg.UserID,
			StatusCode: profileStatus(err),
			Message:    "profile unavailable",
		})
		return fmt.Errorf("loading account for server update %s: %w", msg.UserID, err)
	}

	merged := mergeJSON(acct.Server, delta)
	if claimed, ok := merged["xplatformid"].(string); ok && claimed != msg.UserID.String() {
		peer.Send(&protocol.UpdateProfileFailure{
			UserID:     msg.UserID,
			StatusCode: http.StatusBadRequest,
			Message:    "delta identity mismatch",
		})
		return fmt.Errorf("server profile delta claims %q for %s", claimed, msg.UserID)
	}

	acct.Server = merged
	acct.touch(time.Now())
	if err := saveAccount(ctx, s.store, msg.UserID, acct); err != nil {
		peer.Send(&protocol.UpdateProfileFailure{
			UserID:     msg.UserID,
			StatusCode: http.StatusInternalServerError,
			Message:    "profile write failed",
		})
		return fmt.Errorf("saving server profile %s: %w", msg.UserID, err)
	}
	return peer.Send(&protocol.UserServerProfileUpdateSuccess{UserID: msg.UserID})
}

func (s *service) handleChannelInfo(ctx context.Context, peer *relay.Peer, msg *protocol.ChannelInfoRequest) error {
	info, err := s.store.GetResource(ctx, storage.ResourceChannelInfo)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			slog.Warn("channel info unavailable", "err", err)
		}
		info = json.RawMessage("{}")
	}
	return peer.Send(&protocol.ChannelInfoResponse{ChannelInfo: info})
}

func (s *service) handleDocument(ctx context.Context, peer *relay.Peer, msg *protocol.DocumentRequestv2) error {
	typeSym, typeKnown := s.symbols.Resolve(msg.Type)
	if _, langKnown := s.symbols.Resolve(msg.Language); !typeKnown || !langKnown {
		peer.Send(&protocol.DocumentFailure{
			Message: fmt.Sprintf("unknown document %s/%s", msg.Type, msg.Language),
		})
		return fmt.Errorf("unresolvable document request %s/%s", msg.Type, msg.Language)
	}

	doc, err := s.store.GetKeyed(ctx, storage.CollectionDocuments, storage.DocumentKey(msg.Type, msg.Language))
	if err != nil {
		peer.Send(&protocol.DocumentFailure{
			Message: fmt.Sprintf("document %s/%s unavailable", msg.Type, msg.Language),
		})
		return fmt.Errorf("loading document %s/%s: %w", msg.Type, msg.Language, err)
	}
	return peer.Send(&protocol.DocumentSuccess{DocumentSymbol: int64(typeSym), Document: doc})
}

// handleRemoteLog forwards client log lines into the server log. Only
// well-formed JSON entries pass; malformed entries are noted and
// dropped without a reply either way.
func (s *service) handleRemoteLog(ctx context.Context, peer *relay.Peer, msg *protocol.RemoteLogSetv3) error {
	for _, entry := range msg.Entries {
		if !json.Valid([]byte(entry)) {
			slog.Warn("malformed remote log entry",
				"user", msg.UserID.String(), "len", len(entry))
			continue
		}
		slog.Debug("remote log",
			"user", msg.UserID.String(), "level", msg.LogLevel, "entry", entry)
	}
	return nil
}

func profileStatus(err error) uint64 {
	if errors.Is(err, storage.ErrNotFound) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}
