package docstore

import (
	"context"
	"errors"
	"sync"

	"github.com/matheus3301/messenger/internal/bus"
	"go.uber.org/zap"
)

// ChangeKind is the bus event kind published after a root document commits.
func ChangeKind(root string) string {
	return "docstore/" + root + "/changed"
}

// PublishChange announces that root was written.
func PublishChange(b *bus.Bus, root string, revision int64) {
	if b == nil {
		return
	}
	b.Publish(bus.NewEvent(ChangeKind(root), revision))
}

// LoadFunc reads the current version of a root document.
type LoadFunc func(ctx context.Context) ([]byte, error)

// BusWatcher turns change notifications on the bus into a RootWatcher. Each
// notification reloads the document, so a coalesced notification still ends
// on the latest value.
type BusWatcher struct {
	changes chan []byte
	cancel  context.CancelFunc
	once    sync.Once
}

// WatchBus subscribes to change events of root and starts streaming versions.
func WatchBus(ctx context.Context, b *bus.Bus, root string, load LoadFunc, logger *zap.Logger) *BusWatcher {
	ctx, cancel := context.WithCancel(ctx)
	// Subscribe before the first load so no commit falls between the two.
	events, unsub := b.SubscribeWithPolicy("docstore/"+root+"/", 1, bus.DropOldest)
	w := &BusWatcher{changes: make(chan []byte), cancel: cancel}

	go func() {
		defer close(w.changes)
		defer unsub()

		send := func() bool {
			doc, err := load(ctx)
			if errors.Is(err, ErrNotFound) {
				doc, err = nil, nil
			}
			if err != nil {
				if ctx.Err() == nil {
					logger.Warn("reload watched document", zap.String("root", root), zap.Error(err))
				}
				return ctx.Err() == nil
			}
			select {
			case w.changes <- doc:
				return true
			case <-ctx.Done():
				return false
			}
		}

		if !send() {
			return
		}
		for {
			select {
			case <-ctx.Done():
				return
			case <-events:
				if !send() {
					return
				}
			}
		}
	}()
	return w
}

// Changes implements RootWatcher.
func (w *BusWatcher) Changes() <-chan []byte { return w.changes }

// Stop implements RootWatcher.
func (w *BusWatcher) Stop() {
	w.once.Do(w.cancel)
}
