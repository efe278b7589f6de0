// Package feed republishes document watches as decoded, full-snapshot streams.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/matheus3301/messenger/internal/docstore"
	"go.uber.org/zap"
)

var (
	// ErrFetchFailed is carried by snapshots taken while the path is missing
	// or holds a value of the wrong shape.
	ErrFetchFailed = errors.New("feed: fetch failed")
	// ErrClosed is returned by Start on a closed feed.
	ErrClosed = errors.New("feed: closed")
)

// Watcher opens document watches. *docstore.Store implements it.
type Watcher interface {
	Watch(ctx context.Context, path string) (*docstore.Watch, error)
}

// Decoder turns the raw value at the watched path into items. Items that fail
// to decode are dropped by the decoder itself; an error marks the whole value
// as unusable.
type Decoder[T any] func(raw json.RawMessage) ([]T, error)

// Snapshot is one delivery of the full current list.
type Snapshot[T any] struct {
	Items []T
	Err   error
	At    time.Time
}

// Feed follows one path. At most one subscription is active at a time; Stop
// ends it and Start opens a fresh one, which begins with the current value.
type Feed[T any] struct {
	watcher Watcher
	path    string
	decode  Decoder[T]
	logger  *zap.Logger

	updates chan Snapshot[T]

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	closed bool
}

// New creates a stopped feed over path.
func New[T any](w Watcher, path string, decode Decoder[T], logger *zap.Logger) *Feed[T] {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Feed[T]{
		watcher: w,
		path:    path,
		decode:  decode,
		logger:  logger.Named("feed").With(zap.String("path", path)),
		updates: make(chan Snapshot[T]),
	}
}

// Path returns the watched path.
func (f *Feed[T]) Path() string { return f.path }

// Updates delivers snapshots while the feed runs. It is closed by Close.
func (f *Feed[T]) Updates() <-chan Snapshot[T] { return f.updates }

// Running reports whether a subscription is active.
func (f *Feed[T]) Running() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancel != nil
}

// Start subscribes to the path. Starting a running feed is a no-op.
func (f *Feed[T]) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrClosed
	}
	if f.cancel != nil {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	w, err := f.watcher.Watch(ctx, f.path)
	if err != nil {
		cancel()
		return fmt.Errorf("watch %s: %w", f.path, err)
	}
	done := make(chan struct{})
	f.cancel = cancel
	f.done = done

	go func() {
		defer close(done)
		defer w.Stop()
		f.loop(ctx, w)
	}()
	f.logger.Debug("feed started")
	return nil
}

// Stop ends the active subscription and waits until nothing more can be
// delivered from it.
func (f *Feed[T]) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopLocked()
}

// Close stops the feed for good and closes Updates.
func (f *Feed[T]) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.stopLocked()
	f.closed = true
	close(f.updates)
}

func (f *Feed[T]) stopLocked() {
	if f.cancel == nil {
		return
	}
	f.cancel()
	<-f.done
	f.cancel = nil
	f.done = nil
	f.logger.Debug("feed stopped")
}

func (f *Feed[T]) loop(ctx context.Context, w *docstore.Watch) {
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-w.C():
			if !ok {
				return
			}
			out := f.snapshot(snap)
			select {
			case f.updates <- out:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (f *Feed[T]) snapshot(snap docstore.Snapshot) Snapshot[T] {
	if !snap.Exists {
		return Snapshot[T]{Err: ErrFetchFailed, At: snap.At}
	}
	items, err := f.decode(snap.Value)
	if err != nil {
		f.logger.Warn("undecodable feed value", zap.Error(err))
		return Snapshot[T]{Err: fmt.Errorf("%w: %v", ErrFetchFailed, err), At: snap.At}
	}
	return Snapshot[T]{Items: items, At: snap.At}
}

// DecodeList is a Decoder for JSON arrays whose elements are decoded one by
// one with decodeItem; elements it rejects are skipped.
func DecodeList[T any](decodeItem func(json.RawMessage) (T, error)) Decoder[T] {
	return func(raw json.RawMessage) ([]T, error) {
		var elems []json.RawMessage
		if err := json.Unmarshal(raw, &elems); err != nil {
			return nil, err
		}
		items := make([]T, 0, len(elems))
		for _, e := range elems {
			item, err := decodeItem(e)
			if err != nil {
				continue
			}
			items = append(items, item)
		}
		return items, nil
	}
}
