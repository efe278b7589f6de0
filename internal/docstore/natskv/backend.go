// Package natskv stores root documents in a NATS JetStream key-value bucket.
// Writes are revision checked and watches use the bucket's native watcher, so
// every process connected to the same bucket sees the same tree.
package natskv

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/matheus3301/messenger/internal/docstore"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"
)

// DefaultConflictRetries bounds how often one Update re-reads after losing a
// revision race.
const DefaultConflictRetries = 8

// Options configures the connection and bucket.
type Options struct {
	URL             string
	Bucket          string
	ConflictRetries int
	ConnectTimeout  time.Duration
}

// Backend implements docstore.Backend on a JetStream KV bucket.
type Backend struct {
	nc      *nats.Conn
	kv      jetstream.KeyValue
	retries int
	logger  *zap.Logger
}

// Open connects to NATS and creates the bucket if needed.
func Open(ctx context.Context, opts Options, logger *zap.Logger) (*Backend, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Bucket == "" {
		return nil, errors.New("natskv: bucket name required")
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 5 * time.Second
	}
	nc, err := nats.Connect(opts.URL,
		nats.Name("messenger"),
		nats.Timeout(opts.ConnectTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream context: %w", err)
	}
	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      opts.Bucket,
		Description: "messenger document tree",
		History:     1,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("kv bucket %q: %w", opts.Bucket, err)
	}
	b := New(kv, opts.ConflictRetries, logger)
	b.nc = nc
	logger.Info("nats document store ready", zap.String("url", opts.URL), zap.String("bucket", opts.Bucket))
	return b, nil
}

// New wraps an existing bucket. The caller keeps ownership of its connection.
func New(kv jetstream.KeyValue, retries int, logger *zap.Logger) *Backend {
	if retries <= 0 {
		retries = DefaultConflictRetries
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Backend{kv: kv, retries: retries, logger: logger.Named("natskv")}
}

// EncodeKey maps a root key onto the KV key alphabet.
func EncodeKey(root string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(root))
}

// DecodeKey reverses EncodeKey.
func DecodeKey(key string) (string, error) {
	b, err := base64.RawURLEncoding.DecodeString(key)
	if err != nil {
		return "", fmt.Errorf("decode key %q: %w", key, err)
	}
	return string(b), nil
}

func isMissing(err error) bool {
	return errors.Is(err, jetstream.ErrKeyNotFound) || errors.Is(err, jetstream.ErrKeyDeleted)
}

func isConflict(err error) bool {
	if errors.Is(err, jetstream.ErrKeyExists) {
		return true
	}
	var apiErr *jetstream.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence
}

// Load implements docstore.Backend.
func (b *Backend) Load(ctx context.Context, root string) ([]byte, error) {
	entry, err := b.kv.Get(ctx, EncodeKey(root))
	if isMissing(err) {
		return nil, docstore.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load %q: %w", root, err)
	}
	return entry.Value(), nil
}

// Update implements docstore.Backend with optimistic concurrency on the key's
// revision. A lost race re-reads and re-applies fn.
func (b *Backend) Update(ctx context.Context, root string, fn docstore.UpdateFunc) error {
	key := EncodeKey(root)
	for attempt := 0; attempt < b.retries; attempt++ {
		var (
			cur []byte
			rev uint64
		)
		entry, err := b.kv.Get(ctx, key)
		switch {
		case isMissing(err):
		case err != nil:
			return fmt.Errorf("read %q: %w", root, err)
		default:
			cur, rev = entry.Value(), entry.Revision()
		}

		next, err := fn(cur)
		if err != nil {
			return err
		}

		switch {
		case next == nil && cur == nil:
			return nil
		case next == nil:
			err = b.kv.Delete(ctx, key, jetstream.LastRevision(rev))
		case rev == 0:
			_, err = b.kv.Create(ctx, key, next)
		default:
			_, err = b.kv.Update(ctx, key, next, rev)
		}
		if err == nil {
			return nil
		}
		if !isConflict(err) {
			return fmt.Errorf("write %q: %w", root, err)
		}
		b.logger.Debug("revision conflict, retrying", zap.String("root", root), zap.Int("attempt", attempt+1))
	}
	return fmt.Errorf("write %q: gave up after %d revision conflicts", root, b.retries)
}

// Watch implements docstore.Backend.
func (b *Backend) Watch(ctx context.Context, root string) (docstore.RootWatcher, error) {
	ctx, cancel := context.WithCancel(ctx)
	kw, err := b.kv.Watch(ctx, EncodeKey(root))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("watch %q: %w", root, err)
	}
	w := &watcher{changes: make(chan []byte), kw: kw, cancel: cancel}
	go w.run(ctx, root, b.logger)
	return w, nil
}

type watcher struct {
	changes chan []byte
	kw      jetstream.KeyWatcher
	cancel  context.CancelFunc
	once    sync.Once
}

func (w *watcher) run(ctx context.Context, root string, logger *zap.Logger) {
	defer close(w.changes)
	defer func() {
		if err := w.kw.Stop(); err != nil {
			logger.Debug("stop kv watcher", zap.String("root", root), zap.Error(err))
		}
	}()

	seen := false
	send := func(v []byte) bool {
		select {
		case w.changes <- v:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case entry, ok := <-w.kw.Updates():
			if !ok {
				return
			}
			// A nil entry marks the end of the initial values.
			if entry == nil {
				if !seen {
					seen = true
					if !send(nil) {
						return
					}
				}
				continue
			}
			seen = true
			var v []byte
			if op := entry.Operation(); op != jetstream.KeyValueDelete && op != jetstream.KeyValuePurge {
				v = entry.Value()
			}
			if !send(v) {
				return
			}
		}
	}
}

func (w *watcher) Changes() <-chan []byte { return w.changes }

func (w *watcher) Stop() { w.once.Do(w.cancel) }

// Close implements docstore.Backend.
func (b *Backend) Close() error {
	if b.nc == nil {
		return nil
	}
	return b.nc.Drain()
}
