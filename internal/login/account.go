package login

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/udisondev/relay/internal/protocol"
	"github.com/udisondev/relay/internal/storage"
)

// Account is one stored player profile: the client half is owned by
// the game client, the server half by the relay and game servers.
type Account struct {
	Client map[string]any `json:"client"`
	Server map[string]any `json:"server"`
}

func newAccount(userID protocol.XPlatformID, displayName string, now time.Time) *Account {
	if displayName == "" {
		displayName = userID.String()
	}
	ts := now.Unix()
	return &Account{
		Client: map[string]any{
			"xplatformid": userID.String(),
			"displayname": displayName,
		},
		Server: map[string]any{
			"xplatformid": userID.String(),
			"displayname": displayName,
			"createtime":  ts,
			"updatetime":  ts,
			"modifytime":  ts,
		},
	}
}

// DisplayName returns the server profile's display name, falling back
// to the platform identifier.
func (a *Account) DisplayName(userID protocol.XPlatformID) string {
	if name, ok := a.Server["displayname"].(string); ok && name != "" {
		return name
	}
	return userID.String()
}

func (a *Account) touch(now time.Time) {
	ts := now.Unix()
	a.Server["updatetime"] = ts
	a.Server["modifytime"] = ts
}

func loadAccount(ctx context.Context, store storage.Storage, userID protocol.XPlatformID) (*Account, error) {
	raw, err := store.GetKeyed(ctx, storage.CollectionAccounts, userID.String())
	if err != nil {
		return nil, err
	}
	var acct Account
	if err := json.Unmarshal(raw, &acct); err != nil {
		return nil, fmt.Errorf("decoding account %s: %w", userID, err)
	}
	if acct.Client == nil {
		acct.Client = make(map[string]any)
	}
	if acct.Server == nil {
		acct.Server = make(map[string]any)
	}
	return &acct, nil
}

func saveAccount(ctx context.Context, store storage.Storage, userID protocol.XPlatformID, acct *Account) error {
	raw, err := json.Marshal(acct)
	if err != nil {
		return fmt.Errorf("encoding account %s: %w", userID, err)
	}
	return store.SetKeyed(ctx, storage.CollectionAccounts, userID.String(), raw)
}
