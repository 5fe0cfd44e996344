// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/jeranaias/rigrun-chat/internal/logging"
)

// =============================================================================
// CONFIG WATCHER
// =============================================================================

// Watcher keeps a current Config snapshot and reloads it when the file
// changes. Snapshots are swapped atomically; a reload that fails to load or
// validate keeps the previous snapshot.
type Watcher struct {
	path     string
	debounce time.Duration
	current  atomic.Pointer[Config]
	log      zerolog.Logger

	mu       sync.Mutex
	onChange []func(*Config)

	watcher *fsnotify.Watcher
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewWatcher creates a watcher for path starting from initial.
func NewWatcher(path string, initial *Config) *Watcher {
	ctx, cancel := context.WithCancel(context.Background())
	w := &Watcher{
		path:     filepath.Clean(path),
		debounce: 200 * time.Millisecond,
		log:      logging.Component("config"),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	if initial == nil {
		initial = Default()
	}
	w.current.Store(initial)
	return w
}

// Current returns the latest snapshot. Callers must not modify it.
func (w *Watcher) Current() *Config {
	return w.current.Load()
}

// OnChange registers fn to run after each successful reload.
func (w *Watcher) OnChange(fn func(*Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onChange = append(w.onChange, fn)
}

// Start begins watching. The parent directory is watched rather than the
// file, because editors often replace the file on save.
func (w *Watcher) Start() error {
	dir := filepath.Dir(w.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	w.watcher = fsw

	go w.processEvents()
	return nil
}

// Close stops watching. It is safe to call without Start.
func (w *Watcher) Close() error {
	w.cancel()
	if w.watcher == nil {
		return nil
	}
	err := w.watcher.Close()
	<-w.done
	return err
}

// Reload loads the file now and swaps the snapshot on success.
func (w *Watcher) Reload() error {
	cfg, err := LoadFile(w.path)
	if err != nil {
		w.log.Warn().Err(err).Str("path", w.path).Msg("config reload failed, keeping previous settings")
		return err
	}
	w.current.Store(cfg)
	w.log.Info().Str("path", w.path).Msg("config reloaded")

	w.mu.Lock()
	callbacks := append([]func(*Config)(nil), w.onChange...)
	w.mu.Unlock()
	for _, fn := range callbacks {
		fn(cfg)
	}
	return nil
}

// processEvents debounces bursts of writes into a single reload.
func (w *Watcher) processEvents() {
	defer close(w.done)

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

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
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				timer.Reset(w.debounce)
			}

		case <-timer.C:
			_ = w.Reload()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn().Err(err).Msg("config watcher error")
		}
	}
}
