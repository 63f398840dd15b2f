package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

const resourceFileName = "resource.json"

// Filesystem persists resources as a directory tree of JSON files:
// one directory per resource type, single-valued resources as
// resource.json, collection entries as <sanitized_key>.json. Writes go
// straight to disk; reads are served from an in-memory cache that a
// file watcher invalidates, so out-of-band edits to the data directory
// are picked up without a restart.
type Filesystem struct {
	root         string
	disableCache bool

	mu      sync.RWMutex
	cache   map[string][]byte
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewFilesystem creates a filesystem backend rooted at dir.
func NewFilesystem(dir string, disableCache bool) *Filesystem {
	return &Filesystem{
		root:         dir,
		disableCache: disableCache,
		cache:        make(map[string][]byte),
	}
}

// Open creates the root directory and starts the watch loop.
func (f *Filesystem) Open(ctx context.Context) error {
	if err := os.MkdirAll(f.root, 0o755); err != nil {
		return fmt.Errorf("creating storage root %s: %w", f.root, err)
	}

	if f.disableCache {
		return nil
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating storage watcher: %w", err)
	}
	if err := w.Add(f.root); err != nil {
		w.Close()
		return fmt.Errorf("watching storage root: %w", err)
	}
	// Resource directories that predate this process need their own
	// watch; only dirs created later arrive as Create events.
	entries, err := os.ReadDir(f.root)
	if err != nil {
		w.Close()
		return fmt.Errorf("scanning storage root: %w", err)
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if err := w.Add(filepath.Join(f.root, e.Name())); err != nil {
			w.Close()
			return fmt.Errorf("watching storage dir %s: %w", e.Name(), err)
		}
	}
	f.watcher = w
	f.done = make(chan struct{})
	go f.watchLoop()
	return nil
}

// Close stops the watcher.
func (f *Filesystem) Close() error {
	if f.watcher != nil {
		close(f.done)
		return f.watcher.Close()
	}
	return nil
}

func (f *Filesystem) watchLoop() {
	for {
		select {
		case <-f.done:
			return
		case ev, ok := <-f.watcher.Events:
			if !ok {
				return
			}
			switch {
			case ev.Has(fsnotify.Create):
				// New resource directories need their own watch.
				if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() {
					if err := f.watcher.Add(ev.Name); err != nil {
						slog.Warn("failed to watch new storage dir", "dir", ev.Name, "err", err)
					}
				}
				f.invalidate(ev.Name)
			case ev.Has(fsnotify.Write), ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
				f.invalidate(ev.Name)
			}
		case err, ok := <-f.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("storage watcher error", "err", err)
		}
	}
}

func (f *Filesystem) invalidate(path string) {
	f.mu.Lock()
	delete(f.cache, path)
	f.mu.Unlock()
}

// sanitizeKey makes a collection key safe as a file name. Characters
// outside [A-Za-z0-9._-] are percent-encoded, so distinct keys stay
// distinct on disk.
func sanitizeKey(key string) string {
	var b strings.Builder
	for i := 0; i < len(key); i++ {
		c := key[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9',
			c == '.', c == '_', c == '-':
			b.WriteByte(c)
		default:
			fmt.Fprintf(&b, "%%%02X", c)
		}
	}
	return b.String()
}

func unsanitizeKey(name string) string {
	var b strings.Builder
	for i := 0; i < len(name); i++ {
		if name[i] == '%' && i+2 < len(name) {
			var c byte
			if _, err := fmt.Sscanf(name[i+1:i+3], "%02X", &c); err == nil {
				b.WriteByte(c)
				i += 2
				continue
			}
		}
		b.WriteByte(name[i])
	}
	return b.String()
}

func (f *Filesystem) resourcePath(name string) string {
	return filepath.Join(f.root, sanitizeKey(name), resourceFileName)
}

func (f *Filesystem) keyedPath(collection, key string) string {
	return filepath.Join(f.root, sanitizeKey(collection), sanitizeKey(key)+".json")
}

func (f *Filesystem) read(path string) (json.RawMessage, error) {
	if !f.disableCache {
		f.mu.RLock()
		data, ok := f.cache[path]
		f.mu.RUnlock()
		if ok {
			return append(json.RawMessage(nil), data...), nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	if !f.disableCache {
		f.mu.Lock()
		f.cache[path] = data
		f.mu.Unlock()
	}
	return append(json.RawMessage(nil), data...), nil
}

func (f *Filesystem) write(path string, value json.RawMessage) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, value, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if !f.disableCache {
		f.mu.Lock()
		f.cache[path] = append([]byte(nil), value...)
		f.mu.Unlock()
	}
	return nil
}

func (f *Filesystem) GetResource(ctx context.Context, name string) (json.RawMessage, error) {
	return f.read(f.resourcePath(name))
}

func (f *Filesystem) SetResource(ctx context.Context, name string, value json.RawMessage) error {
	return f.write(f.resourcePath(name), value)
}

func (f *Filesystem) ExistsResource(ctx context.Context, name string) (bool, error) {
	_, err := os.Stat(f.resourcePath(name))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

func (f *Filesystem) GetKeyed(ctx context.Context, collection, key string) (json.RawMessage, error) {
	return f.read(f.keyedPath(collection, key))
}

func (f *Filesystem) SetKeyed(ctx context.Context, collection, key string, value json.RawMessage) error {
	return f.write(f.keyedPath(collection, key), value)
}

func (f *Filesystem) DeleteKeyed(ctx context.Context, collection, key string) (bool, error) {
	path := f.keyedPath(collection, key)
	err := os.Remove(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("removing %s: %w", path, err)
	}
	f.invalidate(path)
	return true, nil
}

func (f *Filesystem) ExistsKeyed(ctx context.Context, collection, key string) (bool, error) {
	_, err := os.Stat(f.keyedPath(collection, key))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

func (f *Filesystem) ListKeys(ctx context.Context, collection string) ([]string, error) {
	dir := filepath.Join(f.root, sanitizeKey(collection))
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing %s: %w", dir, err)
	}
	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") || name == resourceFileName {
			continue
		}
		keys = append(keys, unsanitizeKey(strings.TrimSuffix(name, ".json")))
	}
	return keys, nil
}
