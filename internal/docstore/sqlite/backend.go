package sqlite

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/matheus3301/messenger/internal/bus"
	"github.com/matheus3301/messenger/internal/docstore"
	"go.uber.org/zap"
)

// Backend keeps root documents in the documents table. Change notifications
// travel over the in-process bus, so watchers only see writes made through
// this process; the daemon's profile lock keeps it the only writer.
type Backend struct {
	db     *DB
	bus    *bus.Bus
	logger *zap.Logger
}

// NewBackend wraps a migrated database.
func NewBackend(db *DB, b *bus.Bus, logger *zap.Logger) *Backend {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Backend{db: db, bus: b, logger: logger.Named("sqlite")}
}

// Load implements docstore.Backend.
func (b *Backend) Load(ctx context.Context, root string) ([]byte, error) {
	var value []byte
	err := b.db.QueryRowContext(ctx, `SELECT value FROM documents WHERE key = ?`, root).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, docstore.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load %q: %w", root, err)
	}
	return value, nil
}

// Update implements docstore.Backend inside a single transaction.
func (b *Backend) Update(ctx context.Context, root string, fn docstore.UpdateFunc) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var (
		cur []byte
		rev int64
	)
	err = tx.QueryRowContext(ctx, `SELECT value FROM documents WHERE key = ?`, root).Scan(&cur)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("read %q: %w", root, err)
	}
	// Revisions keep growing across deletes, so they come from the history.
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(revision), 0) FROM document_history WHERE key = ?`, root).Scan(&rev); err != nil {
		return fmt.Errorf("read revision %q: %w", root, err)
	}

	next, err := fn(cur)
	if err != nil {
		return err
	}
	if bytes.Equal(cur, next) {
		return nil
	}

	now := time.Now().UnixMilli()
	rev++
	if next == nil {
		if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE key = ?`, root); err != nil {
			return fmt.Errorf("delete %q: %w", root, err)
		}
	} else {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO documents (key, value, revision, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET
				value = excluded.value,
				revision = excluded.revision,
				updated_at = excluded.updated_at`,
			root, next, rev, now); err != nil {
			return fmt.Errorf("write %q: %w", root, err)
		}
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO document_history (key, revision, deleted, changed_at)
		VALUES (?, ?, ?, ?)`, root, rev, next == nil, now); err != nil {
		return fmt.Errorf("record history %q: %w", root, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %q: %w", root, err)
	}
	docstore.PublishChange(b.bus, root, rev)
	return nil
}

// Watch implements docstore.Backend.
func (b *Backend) Watch(ctx context.Context, root string) (docstore.RootWatcher, error) {
	return docstore.WatchBus(ctx, b.bus, root, func(ctx context.Context) ([]byte, error) {
		return b.Load(ctx, root)
	}, b.logger), nil
}

// Revision returns the last committed revision of root, 0 if it was never written.
func (b *Backend) Revision(ctx context.Context, root string) (int64, error) {
	var rev int64
	err := b.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(revision), 0) FROM document_history WHERE key = ?`, root).Scan(&rev)
	if err != nil {
		return 0, fmt.Errorf("revision %q: %w", root, err)
	}
	return rev, nil
}

// Close implements docstore.Backend.
func (b *Backend) Close() error {
	return b.db.Close()
}
