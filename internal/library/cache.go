package library

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// SnapshotKey is the fixed key the item snapshot is stored under.
const SnapshotKey = "kidshelf-content"

// CacheStore persists a single versioned snapshot per key. Get reports
// absence instead of failing: a missing or malformed stored blob reads as
// not-present. Single writer per device is assumed.
type CacheStore interface {
	Get(key string) (Snapshot, bool)
	Set(key string, snap Snapshot) error
}

// FileCacheStore keeps one JSON file per key inside a directory.
type FileCacheStore struct {
	dir string
}

func NewFileCacheStore(dir string) *FileCacheStore {
	return &FileCacheStore{dir: filepath.Clean(strings.TrimSpace(dir))}
}

func (s *FileCacheStore) Get(key string) (Snapshot, bool) {
	if s == nil || key == "" {
		return Snapshot{}, false
	}
	data, err := os.ReadFile(s.keyPath(key))
	if err != nil {
		return Snapshot{}, false
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, false
	}
	return snap, true
}

func (s *FileCacheStore) Set(key string, snap Snapshot) error {
	if s == nil || key == "" {
		return nil
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}
	path := s.keyPath(key)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (s *FileCacheStore) keyPath(key string) string {
	return filepath.Join(s.dir, key+".json")
}

// MemoryCacheStore is an in-process CacheStore used in tests and as a
// fallback when no data directory is available.
type MemoryCacheStore struct {
	mu        sync.Mutex
	snapshots map[string]Snapshot
}

func NewMemoryCacheStore() *MemoryCacheStore {
	return &MemoryCacheStore{snapshots: map[string]Snapshot{}}
}

func (s *MemoryCacheStore) Get(key string) (Snapshot, bool) {
	if s == nil {
		return Snapshot{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.snapshots[key]
	if !ok {
		return Snapshot{}, false
	}
	return cloneSnapshot(snap), true
}

func (s *MemoryCacheStore) Set(key string, snap Snapshot) error {
	if s == nil || key == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[key] = cloneSnapshot(snap)
	return nil
}

func cloneSnapshot(snap Snapshot) Snapshot {
	items := make([]Item, len(snap.Items))
	copy(items, snap.Items)
	return Snapshot{Version: snap.Version, Items: items}
}
