// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/AleutianAI/factstream/services/facts/stream"
	"github.com/fsnotify/fsnotify"
	"golang.org/x/time/rate"
)

// Watcher defaults.
const (
	DefaultDebounce           = 50 * time.Millisecond
	DefaultMaxEventsPerSecond = 20
	DefaultQueueCapacity      = 256
)

// UpdateFunc receives the outcome of re-syncing one file.
type UpdateFunc func(path string, results []EditResult, err error)

// WatcherOptions configures a Watcher.
type WatcherOptions struct {
	// Debounce is the quiet period after the last event for a file before
	// it is re-synced.
	Debounce time.Duration

	// MaxEventsPerSecond caps re-syncs across all files. Zero disables
	// the cap.
	MaxEventsPerSecond float64

	// QueueCapacity bounds the files waiting to be re-synced.
	QueueCapacity int

	// OnUpdate is called after every re-sync. Optional.
	OnUpdate UpdateFunc

	// Logger receives watcher events.
	Logger *slog.Logger
}

// WatcherOption configures WatcherOptions.
type WatcherOption func(*WatcherOptions)

// WithDebounce sets the debounce period.
func WithDebounce(d time.Duration) WatcherOption {
	return func(o *WatcherOptions) {
		if d >= 0 {
			o.Debounce = d
		}
	}
}

// WithRateLimit sets the maximum re-syncs per second.
func WithRateLimit(perSecond float64) WatcherOption {
	return func(o *WatcherOptions) {
		if perSecond >= 0 {
			o.MaxEventsPerSecond = perSecond
		}
	}
}

// WithQueueCapacity sets the pending queue size.
func WithQueueCapacity(n int) WatcherOption {
	return func(o *WatcherOptions) {
		if n > 0 {
			o.QueueCapacity = n
		}
	}
}

// WithUpdateHandler sets the callback run after each re-sync.
func WithUpdateHandler(fn UpdateFunc) WatcherOption {
	return func(o *WatcherOptions) {
		o.OnUpdate = fn
	}
}

// WithWatcherLogger sets the logger.
func WithWatcherLogger(logger *slog.Logger) WatcherOption {
	return func(o *WatcherOptions) {
		if logger != nil {
			o.Logger = logger
		}
	}
}

// Watcher re-syncs workspace sessions when their files change on disk.
//
// Description:
//
//	Each file's parent directory is watched so editors that save by
//	rename keep being seen. Events are debounced per file, queued in a
//	bounded ring, and drained at most MaxEventsPerSecond times per second.
//	A re-sync diffs the session's content against the file and applies
//	the resulting edits incrementally.
//
// Thread Safety:
//
//	Add, Sync and Close are safe for concurrent use. Run must be called
//	once.
type Watcher struct {
	ws      *Workspace
	fsw     *fsnotify.Watcher
	opts    WatcherOptions
	limiter *rate.Limiter
	logger  *slog.Logger

	mu      sync.Mutex
	files   map[string]bool
	dirs    map[string]int
	timers  map[string]*time.Timer
	queued  map[string]bool
	pending *stream.RingBuffer[string]
	closed  bool

	ready     chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewWatcher creates a watcher over ws.
func NewWatcher(ws *Workspace, opts ...WatcherOption) (*Watcher, error) {
	o := WatcherOptions{
		Debounce:           DefaultDebounce,
		MaxEventsPerSecond: DefaultMaxEventsPerSecond,
		QueueCapacity:      DefaultQueueCapacity,
		Logger:             slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}

	limit := rate.Inf
	if o.MaxEventsPerSecond > 0 {
		limit = rate.Limit(o.MaxEventsPerSecond)
	}

	return &Watcher{
		ws:      ws,
		fsw:     fsw,
		opts:    o,
		limiter: rate.NewLimiter(limit, 1),
		logger:  o.Logger,
		files:   make(map[string]bool),
		dirs:    make(map[string]int),
		timers:  make(map[string]*time.Timer),
		queued:  make(map[string]bool),
		pending: stream.NewRingBuffer[string](o.QueueCapacity),
		ready:   make(chan struct{}, 1),
		done:    make(chan struct{}),
	}, nil
}

// Add opens path in the workspace and starts watching it.
func (w *Watcher) Add(ctx context.Context, path string) error {
	s, err := w.ws.Open(ctx, path)
	if err != nil {
		return err
	}
	file := s.Path()
	dir := filepath.Dir(file)

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrWatcherClosed
	}
	if w.files[file] {
		return nil
	}
	if w.dirs[dir] == 0 {
		if err := w.fsw.Add(dir); err != nil {
			return fmt.Errorf("watching %s: %w", dir, err)
		}
	}
	w.dirs[dir]++
	w.files[file] = true
	return nil
}

// Run processes file events until ctx is done or the watcher is closed.
func (w *Watcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-w.done:
			return nil

		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			w.handleEvent(event)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("file watcher error", slog.String("error", err.Error()))

		case <-w.ready:
			if err := w.drain(ctx); err != nil {
				return err
			}
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
		return
	}
	path, err := filepath.Abs(event.Name)
	if err != nil {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed || !w.files[path] {
		return
	}
	watchEventsTotal.WithLabelValues("seen").Inc()

	if t, ok := w.timers[path]; ok {
		t.Reset(w.opts.Debounce)
		return
	}
	w.timers[path] = time.AfterFunc(w.opts.Debounce, func() { w.enqueue(path) })
}

// enqueue moves a debounced path onto the pending ring.
func (w *Watcher) enqueue(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	delete(w.timers, path)
	if w.closed || w.queued[path] {
		return
	}
	if err := w.pending.Push(path); err != nil {
		watchEventsTotal.WithLabelValues("dropped").Inc()
		w.logger.Warn("watch queue full, dropping change",
			slog.String("path", path),
			slog.Int("capacity", w.pending.Cap()),
		)
		return
	}
	w.queued[path] = true

	select {
	case w.ready <- struct{}{}:
	default:
	}
}

// drain re-syncs every queued path, honoring the rate limit.
func (w *Watcher) drain(ctx context.Context) error {
	w.mu.Lock()
	queue := stream.FromRing(w.pending)
	paths, _ := stream.Collect(&queue, 0)
	for _, p := range paths {
		delete(w.queued, p)
	}
	w.mu.Unlock()

	for _, path := range paths {
		if err := w.limiter.Wait(ctx); err != nil {
			return err
		}
		results, err := w.Sync(ctx, path)
		if err != nil {
			watchEventsTotal.WithLabelValues("failed").Inc()
			w.logger.Warn("re-sync failed",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
		} else {
			watchEventsTotal.WithLabelValues("synced").Inc()
		}
		if w.opts.OnUpdate != nil {
			w.opts.OnUpdate(path, results, err)
		}
	}
	return nil
}

// Sync re-reads path and applies the difference to its session.
func (w *Watcher) Sync(ctx context.Context, path string) ([]EditResult, error) {
	s, ok := w.ws.Get(path)
	if !ok {
		return nil, fmt.Errorf("no session for %s", path)
	}
	src, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	start := time.Now()
	results, err := s.Update(ctx, src)
	if err != nil {
		// Fall back to a full load so the session matches the file again.
		w.logger.Warn("incremental update failed, reloading",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		if loadErr := s.Load(ctx, src); loadErr != nil {
			return nil, errors.Join(err, loadErr)
		}
		return results, nil
	}

	w.logger.Debug("file re-synced",
		slog.String("path", path),
		slog.Int("edits", len(results)),
		slog.Duration("duration", time.Since(start)),
	)
	return results, nil
}

// Close stops watching. Pending changes are discarded.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		w.mu.Lock()
		w.closed = true
		for _, t := range w.timers {
			t.Stop()
		}
		clear(w.timers)
		w.pending.Reset()
		w.mu.Unlock()

		close(w.done)
		err = w.fsw.Close()
	})
	return err
}
