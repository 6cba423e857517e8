package config

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ReloadHandler is invoked with the new configuration after a successful
// hot reload.
type ReloadHandler func(*SourcesConfig)

// SourcesWatcher hot-reloads a SourcesStore when its file changes on disk.
// The directory is watched rather than the file itself so atomic
// rename-into-place writes are still observed.
type SourcesWatcher struct {
	store    *SourcesStore
	watcher  *fsnotify.Watcher
	handlers []ReloadHandler
	stopCh   chan struct{}
	started  bool
	logger   *zap.Logger
	mu       sync.Mutex
	eventMu  sync.Mutex
}

// NewSourcesWatcher creates a watcher for the store's file. Stores running on
// built-in defaults have nothing to watch and return an error.
func NewSourcesWatcher(store *SourcesStore, logger *zap.Logger) (*SourcesWatcher, error) {
	if store.Path() == "" {
		return nil, fmt.Errorf("sources store has no file to watch")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}

	return &SourcesWatcher{
		store:   store,
		watcher: w,
		stopCh:  make(chan struct{}),
		logger:  logger,
	}, nil
}

// OnReload registers a handler called after each successful reload. Handlers
// run asynchronously; errors are theirs to log.
func (sw *SourcesWatcher) OnReload(handler ReloadHandler) {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	sw.handlers = append(sw.handlers, handler)
}

// Start begins watching for changes.
func (sw *SourcesWatcher) Start() error {
	sw.mu.Lock()
	if sw.started {
		sw.mu.Unlock()
		return nil
	}
	sw.started = true
	sw.mu.Unlock()

	dir := filepath.Dir(sw.store.Path())
	if err := sw.watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	go sw.watchLoop()

	sw.logger.Info("Sources watcher started",
		zap.String("file", sw.store.Path()),
	)
	return nil
}

// Stop stops watching.
func (sw *SourcesWatcher) Stop() error {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	if !sw.started {
		return nil
	}
	close(sw.stopCh)
	sw.started = false
	return sw.watcher.Close()
}

func (sw *SourcesWatcher) watchLoop() {
	defer func() {
		if r := recover(); r != nil {
			sw.logger.Error("Sources watch loop panicked", zap.Any("panic", r))
		}
	}()

	for {
		select {
		case <-sw.stopCh:
			return
		case event, ok := <-sw.watcher.Events:
			if !ok {
				return
			}
			sw.handleEvent(event)
		case err, ok := <-sw.watcher.Errors:
			if !ok {
				return
			}
			sw.logger.Error("Sources watcher error", zap.Error(err))
		}
	}
}

func (sw *SourcesWatcher) handleEvent(event fsnotify.Event) {
	sw.eventMu.Lock()
	defer sw.eventMu.Unlock()

	if filepath.Base(event.Name) != filepath.Base(sw.store.Path()) {
		return
	}
	if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
		return
	}

	sw.logger.Debug("Sources file changed",
		zap.String("file", event.Name),
		zap.String("op", event.Op.String()),
	)

	if err := sw.store.Reload(); err != nil {
		// Keep serving the previous configuration.
		sw.logger.Error("Sources reload failed, keeping previous configuration",
			zap.String("file", sw.store.Path()),
			zap.Error(err),
		)
		return
	}

	cfg := sw.store.Get()

	sw.mu.Lock()
	handlers := make([]ReloadHandler, len(sw.handlers))
	copy(handlers, sw.handlers)
	sw.mu.Unlock()

	for _, handler := range handlers {
		h := handler
		go h(cfg)
	}
}
