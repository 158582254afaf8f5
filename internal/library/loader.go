package library

import "context"

// Logger matches the standard library log.Logger Printf surface.
type Logger interface {
	Printf(format string, args ...any)
}

// Loader produces the canonical item collection: remote first, cache on
// failure, empty as the defined worst case. It never fails outward.
type Loader struct {
	remote Remote
	cache  CacheStore
	logger Logger
}

func NewLoader(remote Remote, cache CacheStore, logger Logger) *Loader {
	return &Loader{remote: remote, cache: cache, logger: logger}
}

// Load fetches content for the device, dedupes it and refreshes the local
// cache. On remote failure, or a remote success with nothing in it, the
// cached snapshot is used instead when its version matches and it holds at
// least one item. Order is preserved as received; display sorting is the
// caller's concern.
//
// The cache refresh is not awaited: callers get their items back while the
// write completes on its own.
func (l *Loader) Load(ctx context.Context, deviceID string) []Item {
	items, err := l.remote.FetchContent(ctx, deviceID)
	if err == nil && len(items) > 0 {
		items = Deduplicate(items)
		go l.writeCache(items)
		return items
	}
	if err != nil {
		l.logf("remote fetch failed: %v; falling back to cache", err)
	}
	snap, ok := l.cache.Get(SnapshotKey)
	if ok && snap.Version == SnapshotVersion && len(snap.Items) > 0 {
		return Deduplicate(snap.Items)
	}
	return []Item{}
}

func (l *Loader) writeCache(items []Item) {
	if err := l.cache.Set(SnapshotKey, Snapshot{Version: SnapshotVersion, Items: items}); err != nil {
		l.logf("cache write failed: %v", err)
	}
}

func (l *Loader) logf(format string, args ...any) {
	if l.logger == nil {
		return
	}
	l.logger.Printf(format, args...)
}
