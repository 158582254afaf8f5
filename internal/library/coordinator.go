package library

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Coordinator owns the in-memory item collection and applies mutations to
// it optimistically: the state change lands synchronously, the matching
// remote call is dispatched as a detached task whose failure is logged and
// otherwise ignored, and a debounced snapshot write keeps the local cache
// trailing the latest state.
//
// There is deliberately no rollback. A failed remote call leaves the local
// state where the user put it; drift is corrected by the next successful
// full load, not before. Two rapid toggles can likewise desynchronize local
// and remote state until that load happens. These are accepted properties
// of the design, not bugs to patch here.
type Coordinator struct {
	mu        sync.Mutex
	items     []Item
	saveTimer *time.Timer

	remote   Remote
	cache    CacheStore
	loader   *Loader
	deviceID string
	logger   Logger

	saveDelay     time.Duration
	remoteTimeout time.Duration

	// pending tracks detached remote calls so shutdown and tests can
	// drain them. It never gates a mutation.
	pending sync.WaitGroup
}

type CoordinatorOptions struct {
	Remote   Remote
	Cache    CacheStore
	DeviceID string
	Logger   Logger

	// SaveDelay is the debounce quiet period for cache writes.
	// Defaults to 500ms.
	SaveDelay time.Duration

	// RemoteTimeout bounds each detached remote call. Defaults to 10s.
	RemoteTimeout time.Duration
}

func NewCoordinator(opts CoordinatorOptions) (*Coordinator, error) {
	if opts.Remote == nil {
		return nil, fmt.Errorf("remote is required")
	}
	if opts.Cache == nil {
		return nil, fmt.Errorf("cache is required")
	}
	saveDelay := opts.SaveDelay
	if saveDelay <= 0 {
		saveDelay = 500 * time.Millisecond
	}
	remoteTimeout := opts.RemoteTimeout
	if remoteTimeout <= 0 {
		remoteTimeout = 10 * time.Second
	}
	return &Coordinator{
		remote:        opts.Remote,
		cache:         opts.Cache,
		loader:        NewLoader(opts.Remote, opts.Cache, opts.Logger),
		deviceID:      opts.DeviceID,
		logger:        opts.Logger,
		saveDelay:     saveDelay,
		remoteTimeout: remoteTimeout,
	}, nil
}

// Load replaces the in-memory collection with the loader's reconciled view.
func (c *Coordinator) Load(ctx context.Context) []Item {
	items := c.loader.Load(ctx, c.deviceID)
	c.mu.Lock()
	c.items = items
	c.mu.Unlock()
	return c.Items()
}

// Items returns a copy of the current collection.
func (c *Coordinator) Items() []Item {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Item, len(c.items))
	copy(out, c.items)
	return out
}

// MarkRead increments the item's read count locally and asks the server for
// a matching increment. The local increment stands even if the remote call
// fails.
func (c *Coordinator) MarkRead(id int64) {
	c.apply(func(items []Item) []Item {
		for i := range items {
			if items[i].ID == id {
				items[i].ReadCount++
			}
		}
		return items
	})
	c.dispatchProgress(id, ActionMarkRead)
}

// ToggleFavorite flips the favorite flag locally and requests a server-side
// NOT-toggle. The two are independent; see the type comment for the
// rapid-toggle hazard.
func (c *Coordinator) ToggleFavorite(id int64) {
	c.apply(func(items []Item) []Item {
		for i := range items {
			if items[i].ID == id {
				items[i].Favorite = !items[i].Favorite
			}
		}
		return items
	})
	c.dispatchProgress(id, ActionToggleFavorite)
}

// ToggleArchive flips the archived flag locally and requests a server-side
// NOT-toggle.
func (c *Coordinator) ToggleArchive(id int64) {
	c.apply(func(items []Item) []Item {
		for i := range items {
			if items[i].ID == id {
				items[i].Archived = !items[i].Archived
			}
		}
		return items
	})
	c.dispatchProgress(id, ActionToggleArchive)
}

// UpdateItem merges the provided fields into the item. If either field is
// present the remote update carries the full post-merge title and content,
// not a partial patch.
func (c *Coordinator) UpdateItem(id int64, title, content *string) {
	if title == nil && content == nil {
		return
	}
	var updated Item
	found := false
	c.mu.Lock()
	next := make([]Item, len(c.items))
	copy(next, c.items)
	for i := range next {
		if next[i].ID != id {
			continue
		}
		if title != nil {
			next[i].Title = *title
		}
		if content != nil {
			next[i].Content = *content
		}
		updated = next[i]
		found = true
	}
	c.items = next
	c.scheduleSaveLocked()
	c.mu.Unlock()
	if !found {
		return
	}
	c.detach(func(ctx context.Context) {
		if _, err := c.remote.UpdateContent(ctx, id, updated.Title, updated.Content); err != nil {
			c.logf("remote update for %d failed: %v", id, err)
		}
	})
}

// AddItem creates a new item. This is the one mutation that waits on the
// network: the server assigns the authoritative ID. On failure the item is
// still inserted with a temporary ID and the error is returned so the
// caller knows the copy is local-only.
func (c *Coordinator) AddItem(ctx context.Context, title, contentType, content string) (Item, error) {
	item, err := c.remote.CreateContent(ctx, title, contentType, content)
	if err != nil {
		c.logf("remote create failed: %v; keeping item locally", err)
		item = Item{
			ID:      NewTemporaryID(),
			Title:   title,
			Type:    contentType,
			Content: content,
		}
	}
	c.apply(func(items []Item) []Item {
		return append(items, item)
	})
	return item, err
}

// Import parses a user-supplied payload and seeds it to the server. On
// success the in-memory state is replaced with a fresh load so it mirrors
// whatever the server canonicalized. On failure the parsed items are merged
// into the existing collection instead of discarding either side. A payload
// that fails both parse stages is the one import failure surfaced to the
// caller.
func (c *Coordinator) Import(ctx context.Context, text string) error {
	parsed, err := ParseImport(text)
	if err != nil {
		return err
	}
	parsed = Deduplicate(parsed)
	if _, err := c.remote.SeedContent(ctx, c.deviceID, parsed); err != nil {
		c.logf("seed failed: %v; merging import locally", err)
		c.apply(func(items []Item) []Item {
			merged := make([]Item, 0, len(items)+len(parsed))
			merged = append(merged, items...)
			merged = append(merged, parsed...)
			return Deduplicate(merged)
		})
		return nil
	}
	items := c.loader.Load(ctx, c.deviceID)
	c.mu.Lock()
	c.items = items
	c.scheduleSaveLocked()
	c.mu.Unlock()
	return nil
}

// Clear wipes the device's progress and the whole server library. Unlike
// the optimistic mutations this waits for the server: clearing locally
// while the server still holds everything would just resurrect it on the
// next load.
func (c *Coordinator) Clear(ctx context.Context) error {
	if err := c.remote.ClearContent(ctx, c.deviceID); err != nil {
		return err
	}
	c.apply(func([]Item) []Item {
		return []Item{}
	})
	return nil
}

// Wait drains all detached remote calls. For shutdown and tests.
func (c *Coordinator) Wait() {
	c.pending.Wait()
}

// Close cancels any pending debounce timer and persists the current state
// synchronously.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.saveTimer != nil {
		c.saveTimer.Stop()
		c.saveTimer = nil
	}
	c.mu.Unlock()
	c.persist()
}

// apply replaces the collection wholesale under the lock and schedules a
// debounced save. Mutation functions receive a private copy.
func (c *Coordinator) apply(fn func([]Item) []Item) {
	c.mu.Lock()
	next := make([]Item, len(c.items))
	copy(next, c.items)
	c.items = fn(next)
	c.scheduleSaveLocked()
	c.mu.Unlock()
}

// scheduleSaveLocked resets the single debounce timer; rapid mutations
// collapse into one write of the latest state.
func (c *Coordinator) scheduleSaveLocked() {
	if c.saveTimer != nil {
		c.saveTimer.Stop()
	}
	c.saveTimer = time.AfterFunc(c.saveDelay, c.persist)
}

func (c *Coordinator) persist() {
	items := c.Items()
	if err := c.cache.Set(SnapshotKey, Snapshot{Version: SnapshotVersion, Items: items}); err != nil {
		c.logf("cache write failed: %v", err)
	}
}

func (c *Coordinator) dispatchProgress(id int64, action string) {
	c.detach(func(ctx context.Context) {
		if err := c.remote.UpdateProgress(ctx, c.deviceID, id, action, nil); err != nil {
			c.logf("progress %s for %d failed: %v", action, id, err)
		}
	})
}

// detach runs fn on its own goroutine with a bounded context. The result is
// observable only through logging; nothing downstream consumes it.
func (c *Coordinator) detach(fn func(ctx context.Context)) {
	c.pending.Add(1)
	go func() {
		defer c.pending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), c.remoteTimeout)
		defer cancel()
		fn(ctx)
	}()
}

func (c *Coordinator) logf(format string, args ...any) {
	if c.logger == nil {
		return
	}
	c.logger.Printf(format, args...)
}
