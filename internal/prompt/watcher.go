package prompt

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/reppyfit/reppy/internal/log"
)

// watchDebounce coalesces rapid write events from editors that save in
// multiple steps (write then rename, or several partial writes).
const watchDebounce = 200 * time.Millisecond

// Watcher invalidates loader cache entries when prompt files change on disk.
// Intended for serve mode so prompt edits take effect without a restart.
type Watcher struct {
	loader  *Loader
	watcher *fsnotify.Watcher
	logger  log.Logger

	mu      sync.Mutex
	pending map[string]*time.Timer
	done    chan struct{}
	once    sync.Once
}

// NewWatcher creates a watcher over the loader's prompt directory.
func NewWatcher(loader *Loader, logger log.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}

	if err := fw.Add(loader.Dir()); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watching prompt directory %s: %w", loader.Dir(), err)
	}

	return &Watcher{
		loader:  loader,
		watcher: fw,
		logger:  logger.With("component", "prompt_watcher"),
		pending: make(map[string]*time.Timer),
		done:    make(chan struct{}),
	}, nil
}

// Start runs the event loop until the context is cancelled or Close is called.
func (w *Watcher) Start(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-w.done:
				return
			case event, ok := <-w.watcher.Events:
				if !ok {
					return
				}
				w.handleEvent(event)
			case err, ok := <-w.watcher.Errors:
				if !ok {
					return
				}
				w.logger.Warn("prompt watcher error", "error", err)
			}
		}
	}()
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if !hasTemplateExt(event.Name) {
		return
	}
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return
	}

	key := trimTemplateExt(filepath.Base(event.Name))

	w.mu.Lock()
	defer w.mu.Unlock()
	if timer, ok := w.pending[key]; ok {
		timer.Stop()
	}
	w.pending[key] = time.AfterFunc(watchDebounce, func() {
		w.mu.Lock()
		delete(w.pending, key)
		w.mu.Unlock()

		w.loader.Invalidate(key)
		w.logger.Info("prompt template reloaded", "key", key)
	})
}

// Close stops the watcher. Safe to call multiple times.
func (w *Watcher) Close() error {
	var err error
	w.once.Do(func() {
		close(w.done)

		w.mu.Lock()
		for _, timer := range w.pending {
			timer.Stop()
		}
		w.pending = make(map[string]*time.Timer)
		w.mu.Unlock()

		err = w.watcher.Close()
	})
	return err
}
