// Package storage defines the persistence contract the relay services
// consume, with interchangeable backends. The core never learns which
// backend it is talking to.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound marks a missing resource or collection entry.
var ErrNotFound = errors.New("storage: not found")

// Well-known single-valued resources.
const (
	ResourceAccessControlList = "access_control_list"
	ResourceChannelInfo       = "channel_info"
	ResourceLoginSettings     = "login_settings"
)

// Well-known keyed collections.
const (
	CollectionAccounts  = "accounts"
	CollectionConfigs   = "configs"
	CollectionDocuments = "documents"
)

// Storage is the mapping-shaped persistence boundary. Implementations
// are safe for concurrent use and write through on every set.
type Storage interface {
	// Open sets the backend up. Blocking, called once at startup.
	Open(ctx context.Context) error
	Close() error

	GetResource(ctx context.Context, name string) (json.RawMessage, error)
	SetResource(ctx context.Context, name string, value json.RawMessage) error
	ExistsResource(ctx context.Context, name string) (bool, error)

	GetKeyed(ctx context.Context, collection, key string) (json.RawMessage, error)
	SetKeyed(ctx context.Context, collection, key string, value json.RawMessage) error
	DeleteKeyed(ctx context.Context, collection, key string) (bool, error)
	ExistsKeyed(ctx context.Context, collection, key string) (bool, error)
	ListKeys(ctx context.Context, collection string) ([]string, error)
}

const (
	retryAttempts = 3
	retryBackoff  = 50 * time.Millisecond
)

// withRetry runs op up to retryAttempts times. Backends call it around
// operations that can fail transiently; a non-nil error after the last
// attempt surfaces as an internal error to the caller.
func withRetry(ctx context.Context, op func() error) error {
	var err error
	for attempt := 0; attempt < retryAttempts; attempt++ {
		if err = op(); err == nil || errors.Is(err, ErrNotFound) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryBackoff << attempt):
		}
	}
	return err
}

// DocumentKey joins a document type and language into its collection
// key, e.g. ("eula", "en") -> "eula,en".
func DocumentKey(docType, language string) string {
	return docType + "," + language
}

// ConfigKey joins a config type and identifier into its collection key.
func ConfigKey(cfgType, identifier string) string {
	return cfgType + "," + identifier
}
