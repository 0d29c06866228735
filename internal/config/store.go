// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/jeranaias/ctxchat/internal/window"
)

// =============================================================================
// STORE
// =============================================================================

// Store holds the current configuration. Readers get an immutable value;
// writers swap in a new one.
type Store struct {
	mu  sync.RWMutex
	cfg *Config
}

// NewStore creates a Store holding cfg, or the defaults when cfg is nil.
func NewStore(cfg *Config) *Store {
	if cfg == nil {
		cfg = Default()
	}
	return &Store{cfg: cfg}
}

// Get returns the current configuration. Callers must not modify it.
func (s *Store) Get() *Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Set replaces the configuration.
func (s *Store) Set(cfg *Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
}

// Snapshot returns the turn settings of the current configuration.
func (s *Store) Snapshot() window.Settings {
	return s.Get().Snapshot()
}

// Update applies fn to a copy of the configuration and swaps it in when the
// result validates.
func (s *Store) Update(fn func(*Config) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.cfg.Clone()
	if err := fn(next); err != nil {
		return err
	}
	if err := next.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	s.cfg = next
	return nil
}

// =============================================================================
// WATCHER
// =============================================================================

// WatchOptions configures a Watcher.
type WatchOptions struct {
	// Debounce collapses bursts of writes (default 200ms).
	Debounce time.Duration
	Logger   *zap.Logger
	// OnReload is called after every reload attempt with the new config or
	// the error that kept the old one.
	OnReload func(*Config, error)
}

// Watcher reloads a config file into a Store when it changes on disk. The
// parent directory is watched so editors that replace the file by rename
// are seen too.
type Watcher struct {
	store   *Store
	path    string
	opts    WatchOptions
	watcher *fsnotify.Watcher
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
	done    chan struct{}
}

// NewWatcher creates a Watcher for path. Call Start to begin watching.
func NewWatcher(store *Store, path string, opts WatchOptions) (*Watcher, error) {
	if opts.Debounce <= 0 {
		opts.Debounce = 200 * time.Millisecond
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", path, err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	opts.Logger = opts.Logger.Named("config")
	return &Watcher{
		store:   store,
		path:    abs,
		opts:    opts,
		watcher: fw,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}, nil
}

// Start watches the config file's directory.
func (w *Watcher) Start() error {
	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(w.path), err)
	}
	w.started = true
	go w.run()
	return nil
}

// Close stops watching and waits for the event loop to exit. Start and
// Close must be called from the same goroutine.
func (w *Watcher) Close() error {
	w.cancel()
	err := w.watcher.Close()
	if w.started {
		<-w.done
	}
	return err
}

func (w *Watcher) run() {
	defer close(w.done)

	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-w.ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.opts.Debounce)
			} else {
				timer.Reset(w.opts.Debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			w.reload()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.opts.Logger.Warn("config watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := LoadFromPath(w.path)
	if err != nil {
		w.opts.Logger.Warn("config reload failed, keeping previous config",
			zap.String("path", w.path),
			zap.Error(err))
	} else {
		w.store.Set(cfg)
		w.opts.Logger.Info("config reloaded",
			zap.String("path", w.path),
			zap.Int("context_size", cfg.AI.ContextSize),
			zap.String("context_mgmt", cfg.AI.ContextMgmt))
	}
	if w.opts.OnReload != nil {
		w.opts.OnReload(cfg, err)
	}
}
