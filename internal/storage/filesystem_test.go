package storage

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFilesystem(t *testing.T) *Filesystem {
	t.Helper()
	fs := NewFilesystem(t.TempDir(), true)
	require.NoError(t, fs.Open(context.Background()))
	t.Cleanup(func() { fs.Close() })
	return fs
}

func TestFilesystem_Resources(t *testing.T) {
	ctx := context.Background()
	fs := newTestFilesystem(t)

	_, err := fs.GetResource(ctx, ResourceLoginSettings)
	assert.ErrorIs(t, err, ErrNotFound)

	ok, err := fs.ExistsResource(ctx, ResourceLoginSettings)
	require.NoError(t, err)
	assert.False(t, ok)

	value := json.RawMessage(`{"env":"live"}`)
	require.NoError(t, fs.SetResource(ctx, ResourceLoginSettings, value))

	got, err := fs.GetResource(ctx, ResourceLoginSettings)
	require.NoError(t, err)
	assert.JSONEq(t, string(value), string(got))

	ok, err = fs.ExistsResource(ctx, ResourceLoginSettings)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestFilesystem_KeyedCollection(t *testing.T) {
	ctx := context.Background()
	fs := newTestFilesystem(t)

	key := "OVR-ORG-3963667097037078"
	value := json.RawMessage(`{"server":{"displayname":"player-one"}}`)

	_, err := fs.GetKeyed(ctx, CollectionAccounts, key)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, fs.SetKeyed(ctx, CollectionAccounts, key, value))

	got, err := fs.GetKeyed(ctx, CollectionAccounts, key)
	require.NoError(t, err)
	assert.JSONEq(t, string(value), string(got))

	ok, err := fs.ExistsKeyed(ctx, CollectionAccounts, key)
	require.NoError(t, err)
	assert.True(t, ok)

	deleted, err := fs.DeleteKeyed(ctx, CollectionAccounts, key)
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = fs.DeleteKeyed(ctx, CollectionAccounts, key)
	require.NoError(t, err)
	assert.False(t, deleted)

	_, err = fs.GetKeyed(ctx, CollectionAccounts, key)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFilesystem_ListKeysSkipsResourceFile(t *testing.T) {
	ctx := context.Background()
	fs := newTestFilesystem(t)

	require.NoError(t, fs.SetKeyed(ctx, CollectionDocuments, DocumentKey("eula", "en"), json.RawMessage(`{}`)))
	require.NoError(t, fs.SetKeyed(ctx, CollectionDocuments, DocumentKey("eula", "ja"), json.RawMessage(`{}`)))
	require.NoError(t, fs.SetResource(ctx, CollectionDocuments, json.RawMessage(`{}`)))

	keys, err := fs.ListKeys(ctx, CollectionDocuments)
	require.NoError(t, err)
	sort.Strings(keys)
	assert.Equal(t, []string{"eula,en", "eula,ja"}, keys)

	keys, err = fs.ListKeys(ctx, "nonexistent")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestFilesystem_KeySanitization(t *testing.T) {
	ctx := context.Background()
	fs := newTestFilesystem(t)

	// Keys with separators and traversal attempts must stay inside the
	// collection directory and survive a list round trip.
	keys := []string{"a/b", "../escape", "plain", "sp ace,comma"}
	for _, k := range keys {
		require.NoError(t, fs.SetKeyed(ctx, CollectionConfigs, k, json.RawMessage(`1`)))
	}

	entries, err := os.ReadDir(filepath.Join(fs.root, CollectionConfigs))
	require.NoError(t, err)
	assert.Len(t, entries, len(keys))

	listed, err := fs.ListKeys(ctx, CollectionConfigs)
	require.NoError(t, err)
	sort.Strings(listed)
	want := append([]string(nil), keys...)
	sort.Strings(want)
	assert.Equal(t, want, listed)
}

func TestSanitizeKey_RoundTrip(t *testing.T) {
	for _, key := range []string{"eula,en", "OVR-ORG-123", "weird/..\\key %", ""} {
		s := sanitizeKey(key)
		assert.NotContains(t, s, "/")
		assert.NotContains(t, s, "\\")
		assert.Equal(t, key, unsanitizeKey(s), "round trip for %q", key)
	}
}

func TestWithRetry(t *testing.T) {
	ctx := context.Background()

	attempts := 0
	err := withRetry(ctx, func() error {
		attempts++
		if attempts < 3 {
			return assert.AnError
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)

	// ErrNotFound is a definitive answer, not a transient fault.
	attempts = 0
	err = withRetry(ctx, func() error {
		attempts++
		return ErrNotFound
	})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 1, attempts)
}

func TestFilesystem_WatchInvalidatesPreexistingDirs(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()

	// Data written by a previous process, before the watcher exists.
	dir := filepath.Join(root, CollectionAccounts)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	path := filepath.Join(dir, "k.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"v":1}`), 0o644))

	fs := NewFilesystem(root, false)
	require.NoError(t, fs.Open(ctx))
	t.Cleanup(func() { fs.Close() })

	got, err := fs.GetKeyed(ctx, CollectionAccounts, "k")
	require.NoError(t, err)
	assert.JSONEq(t, `{"v":1}`, string(got))

	// An out-of-band rewrite must evict the cached copy.
	require.NoError(t, os.WriteFile(path, []byte(`{"v":2}`), 0o644))
	assert.Eventually(t, func() bool {
		got, err := fs.GetKeyed(ctx, CollectionAccounts, "k")
		return err == nil && string(got) == `{"v":2}`
	}, 3*time.Second, 20*time.Millisecond)
}
