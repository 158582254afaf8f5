// Package importwatch watches a drop directory for library import files.
package importwatch

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultSettleDelay = 200 * time.Millisecond

// Handler receives the contents of a dropped import file once writes to it
// have settled.
type Handler func(path string, data []byte)

type Logger interface {
	Printf(format string, args ...any)
}

// Watcher monitors a directory for .json files and hands their contents to
// a Handler. Editors and file managers emit bursts of Create and Write
// events per file, so each path gets a settle timer that resets on every
// event and the handler fires only when the burst ends.
type Watcher struct {
	dir         string
	handler     Handler
	logger      Logger
	settleDelay time.Duration

	watcher *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup

	mu      sync.Mutex
	running bool
	timers  map[string]*time.Timer
}

type Options struct {
	Dir     string
	Handler Handler
	Logger  Logger
	// SettleDelay overrides how long a file must stay quiet before the
	// handler runs. Zero means the default.
	SettleDelay time.Duration
}

func NewWatcher(opts Options) (*Watcher, error) {
	if strings.TrimSpace(opts.Dir) == "" {
		return nil, fmt.Errorf("import watch directory is required")
	}
	if opts.Handler == nil {
		return nil, fmt.Errorf("import watch handler is required")
	}
	settleDelay := opts.SettleDelay
	if settleDelay <= 0 {
		settleDelay = defaultSettleDelay
	}
	return &Watcher{
		dir:         opts.Dir,
		handler:     opts.Handler,
		logger:      opts.Logger,
		settleDelay: settleDelay,
		done:        make(chan struct{}),
		timers:      map[string]*time.Timer{},
	}, nil
}

// Start creates the directory if needed and begins watching it.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return fmt.Errorf("watcher already running")
	}
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("create import directory %s: %w", w.dir, err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := watcher.Add(w.dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch import directory %s: %w", w.dir, err)
	}
	w.watcher = watcher
	w.running = true
	w.wg.Add(1)
	go w.processEvents()
	return nil
}

// Stop stops watching and waits for the event loop and any settle timers
// already fired to finish.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	for path, timer := range w.timers {
		timer.Stop()
		delete(w.timers, path)
	}
	w.mu.Unlock()

	close(w.done)
	err := w.watcher.Close()
	w.wg.Wait()
	return err
}

func (w *Watcher) processEvents() {
	defer w.wg.Done()
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !strings.HasSuffix(event.Name, ".json") {
				continue
			}
			if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) {
				w.scheduleSettle(event.Name)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logf("import watch error: %v", err)
		}
	}
}

func (w *Watcher) scheduleSettle(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return
	}
	if timer, ok := w.timers[path]; ok {
		timer.Reset(w.settleDelay)
		return
	}
	w.timers[path] = time.AfterFunc(w.settleDelay, func() {
		w.deliver(path)
	})
}

func (w *Watcher) deliver(path string) {
	w.mu.Lock()
	delete(w.timers, path)
	running := w.running
	w.mu.Unlock()
	if !running {
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		w.logf("read import file %s: %v", filepath.Base(path), err)
		return
	}
	w.handler(path, data)
}

func (w *Watcher) logf(format string, args ...any) {
	if w.logger == nil {
		return
	}
	w.logger.Printf(format, args...)
}
