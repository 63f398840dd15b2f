package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"sync"

	"github.com/udisondev/relay/internal/storage"
)

// ACL is the allow/deny rule set applied at connection authorization
// and again at login against the user's canonical identity. Patterns
// are glob-style (path.Match); deny wins; an empty allow list allows
// everyone not denied.
type ACL struct {
	mu    sync.RWMutex
	allow []string
	deny  []string
}

type aclResource struct {
	Allow []string `json:"allow"`
	Deny  []string `json:"deny"`
}

// LoadACL reads the access_control_list resource. A missing resource
// yields an empty (allow-all) ACL.
func LoadACL(ctx context.Context, store storage.Storage) (*ACL, error) {
	raw, err := store.GetResource(ctx, storage.ResourceAccessControlList)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return &ACL{}, nil
		}
		return nil, fmt.Errorf("loading access control list: %w", err)
	}

	var res aclResource
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("parsing access control list: %w", err)
	}
	return &ACL{allow: res.Allow, deny: res.Deny}, nil
}

// Replace swaps the rule set in place.
func (a *ACL) Replace(allow, deny []string) {
	a.mu.Lock()
	a.allow = allow
	a.deny = deny
	a.mu.Unlock()
}

// Authorized checks a subject (remote IP at connect, canonical XPID at
// login) against the rules.
func (a *ACL) Authorized(subject string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()

	for _, pat := range a.deny {
		if ok, err := path.Match(pat, subject); err == nil && ok {
			return false
		}
	}
	if len(a.allow) == 0 {
		return true
	}
	for _, pat := range a.allow {
		if ok, err := path.Match(pat, subject); err == nil && ok {
			return true
		}
	}
	return false
}
