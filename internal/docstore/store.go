package docstore

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Store reads, writes and watches values by path.
type Store struct {
	backend Backend
	logger  *zap.Logger
}

// New wraps a backend.
func New(backend Backend, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{backend: backend, logger: logger.Named("docstore")}
}

// Get returns the value stored at path, or ErrNotFound.
func (s *Store) Get(ctx context.Context, path string) (json.RawMessage, error) {
	root, segs, err := splitPath(path)
	if err != nil {
		return nil, err
	}
	doc, err := s.backend.Load(ctx, root)
	if err != nil {
		return nil, err
	}
	v, ok := lookup(doc, segs)
	if !ok {
		return nil, ErrNotFound
	}
	return v, nil
}

// Set replaces the value at path with the JSON encoding of value.
// A nil value removes it.
func (s *Store) Set(ctx context.Context, path string, value any) error {
	encoded, err := encode(value)
	if err != nil {
		return err
	}
	root, segs, err := splitPath(path)
	if err != nil {
		return err
	}
	return s.backend.Update(ctx, root, func(doc []byte) ([]byte, error) {
		return assign(doc, segs, encoded)
	})
}

// Update atomically replaces the value at path with what fn returns. fn sees
// nil when nothing is stored there. Returning a nil value removes it.
// fn may run more than once if the backend retries a conflicting write.
func (s *Store) Update(ctx context.Context, path string, fn func(current json.RawMessage) (any, error)) error {
	root, segs, err := splitPath(path)
	if err != nil {
		return err
	}
	return s.backend.Update(ctx, root, func(doc []byte) ([]byte, error) {
		cur, _ := lookup(doc, segs)
		next, err := fn(cur)
		if err != nil {
			return nil, err
		}
		encoded, err := encode(next)
		if err != nil {
			return nil, err
		}
		return assign(doc, segs, encoded)
	})
}

// Snapshot is the value at a watched path at one point in time.
type Snapshot struct {
	Path   string
	Value  json.RawMessage
	Exists bool
	At     time.Time
}

// Watch follows the value at one path until stopped.
type Watch struct {
	path   string
	c      chan Snapshot
	root   RootWatcher
	cancel context.CancelFunc
	once   sync.Once
}

// C delivers snapshots in order. It is closed once the watch stops.
func (w *Watch) C() <-chan Snapshot { return w.c }

// Stop tears the watch down. Safe to call more than once.
func (w *Watch) Stop() {
	w.once.Do(func() {
		w.cancel()
		w.root.Stop()
	})
}

// Watch subscribes to path. The current value is delivered first; afterwards a
// snapshot is delivered whenever the value at path differs from the previous one.
func (s *Store) Watch(ctx context.Context, path string) (*Watch, error) {
	root, segs, err := splitPath(path)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(ctx)
	rw, err := s.backend.Watch(ctx, root)
	if err != nil {
		cancel()
		return nil, err
	}
	w := &Watch{path: path, c: make(chan Snapshot, 1), root: rw, cancel: cancel}
	go w.run(ctx, segs, s.logger)
	return w, nil
}

func (w *Watch) run(ctx context.Context, segs []string, logger *zap.Logger) {
	defer close(w.c)
	defer w.Stop()

	var last []byte
	first := true
	for {
		select {
		case <-ctx.Done():
			return
		case doc, ok := <-w.root.Changes():
			if !ok {
				logger.Debug("root watch closed", zap.String("path", w.path))
				return
			}
			v, exists := lookup(doc, segs)
			if !first && bytes.Equal(v, last) {
				continue
			}
			first = false
			last = v
			snap := Snapshot{Path: w.path, Value: v, Exists: exists, At: time.Now()}
			select {
			case w.c <- snap:
			case <-ctx.Done():
				return
			}
		}
	}
}

// Close releases the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}
