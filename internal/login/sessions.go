// Package login authenticates clients, manages their sessions and
// serves account profiles.
package login

import (
	"context"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/udisondev/relay/internal/protocol"
)

const sweepInterval = time.Minute

type sessionEntry struct {
	userID      protocol.XPlatformID
	displayName string
	expiresAt   time.Time
}

// SessionCache maps session tokens to authenticated identities. Tokens
// are unguessable v4 UUIDs; entries expire after the TTL, shortened to
// the disconnect timeout when the owning connection drops.
type SessionCache struct {
	ttl               time.Duration
	disconnectTimeout time.Duration

	mu       sync.Mutex
	sessions map[uuid.UUID]*sessionEntry
}

// NewSessionCache creates a cache with the given lifetimes.
func NewSessionCache(ttl, disconnectTimeout time.Duration) *SessionCache {
	return &SessionCache{
		ttl:               ttl,
		disconnectTimeout: disconnectTimeout,
		sessions:          make(map[uuid.UUID]*sessionEntry),
	}
}

// Issue mints a fresh session token for the user.
func (c *SessionCache) Issue(userID protocol.XPlatformID, displayName string) (uuid.UUID, error) {
	token, err := uuid.NewV4()
	if err != nil {
		return uuid.Nil, err
	}
	c.mu.Lock()
	c.sessions[token] = &sessionEntry{
		userID:      userID,
		displayName: displayName,
		expiresAt:   time.Now().Add(c.ttl),
	}
	c.mu.Unlock()
	return token, nil
}

// Validate checks that the token is live and belongs to the user.
func (c *SessionCache) Validate(token uuid.UUID, userID protocol.XPlatformID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.sessions[token]
	if !ok || time.Now().After(entry.expiresAt) {
		return false
	}
	return entry.userID == userID
}

// Remove drops the token, invalidating it immediately.
func (c *SessionCache) Remove(token uuid.UUID) {
	c.mu.Lock()
	delete(c.sessions, token)
	c.mu.Unlock()
}

// Disconnected shortens the token's remaining lifetime to the
// disconnect timeout, never extending it.
func (c *SessionCache) Disconnected(token uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.sessions[token]
	if !ok {
		return
	}
	cutoff := time.Now().Add(c.disconnectTimeout)
	if cutoff.Before(entry.expiresAt) {
		entry.expiresAt = cutoff
	}
}

// Count returns the number of live sessions, expired entries included
// until the next sweep.
func (c *SessionCache) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sessions)
}

func (c *SessionCache) sweep(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for token, entry := range c.sessions {
		if now.After(entry.expiresAt) {
			delete(c.sessions, token)
			removed++
		}
	}
	return removed
}

// Run sweeps expired sessions until ctx is done.
func (c *SessionCache) Run(ctx context.Context) error {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case now := <-ticker.C:
			c.sweep(now)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
