// Package chat maps users, conversation summaries and message lists onto the
// document store.
//
// Layout:
//
//	{safeId}                 {first_name, last_name, conversations: [summary...]}
//	users                    [{name, email}...]
//	{conversationId}         {messages: [record...]}
//
// Each root is updated atomically on its own. Operations spanning roots are
// sequences of independent writes whose outcomes are reported step by step.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/matheus3301/messenger/internal/bus"
	"github.com/matheus3301/messenger/internal/docstore"
	"github.com/matheus3301/messenger/internal/identity"
	"github.com/matheus3301/messenger/internal/metrics"
	"github.com/matheus3301/messenger/internal/session"
	"go.uber.org/zap"
)

const directoryPath = "users"

func conversationsPath(safeID string) string { return safeID + "/conversations" }

func messagesPath(convID string) string { return convID + "/messages" }

// Store is the conversation store.
type Store struct {
	docs    *docstore.Store
	bus     *bus.Bus
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// New creates a conversation store. The bus and metrics may be nil.
func New(docs *docstore.Store, b *bus.Bus, m *metrics.Metrics, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{docs: docs, bus: b, metrics: m, logger: logger.Named("chat")}
}

// Docs returns the underlying document store.
func (s *Store) Docs() *docstore.Store { return s.docs }

func (s *Store) publish(kind string, payload any) {
	if s.bus != nil {
		s.bus.Publish(bus.NewEvent(kind, payload))
	}
}

// observe is deferred with a pointer to the named error result.
func (s *Store) observe(op string, started time.Time, errp *error) {
	err := *errp
	s.metrics.Observe(op, started, err)
	var partial *PartialError
	if errors.As(err, &partial) {
		s.metrics.Partial(op)
	}
}

func requireIdentity(me session.Identity) error {
	if me.Address == "" {
		return session.ErrNotAuthenticated
	}
	return nil
}

// UserExists reports whether address has signed up. A root that only holds
// summaries written by other users' conversations does not count.
func (s *Store) UserExists(ctx context.Context, address string) (bool, error) {
	_, err := s.readUser(ctx, address)
	if errors.Is(err, ErrUserNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("user exists: %w", err)
	}
	return true, nil
}

// GetUser reads the record stored for address.
func (s *Store) GetUser(ctx context.Context, address string) (identity.User, error) {
	rec, err := s.readUser(ctx, address)
	if err != nil {
		return identity.User{}, fmt.Errorf("get user: %w", err)
	}
	return identity.User{FirstName: *rec.FirstName, LastName: *rec.LastName, Address: address}, nil
}

// readUser returns ErrUserNotFound unless both name fields are present.
func (s *Store) readUser(ctx context.Context, address string) (storedUser, error) {
	raw, err := s.docs.Get(ctx, identity.SafeID(address))
	if errors.Is(err, docstore.ErrNotFound) {
		return storedUser{}, ErrUserNotFound
	}
	if err != nil {
		return storedUser{}, err
	}
	var rec storedUser
	if err := json.Unmarshal(raw, &rec); err != nil {
		return storedUser{}, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	if rec.FirstName == nil || rec.LastName == nil {
		return storedUser{}, ErrUserNotFound
	}
	return rec, nil
}

// InsertUser writes the user record and then adds the user to the directory.
// Existing summaries under the record are kept. When the directory write
// fails the record stays written and a *PartialError is returned; calling
// InsertUser again completes it without duplicating the directory entry.
func (s *Store) InsertUser(ctx context.Context, u identity.User) (err error) {
	defer s.observe("insert_user", time.Now(), &err)
	safe := u.SafeID()

	sg := newSaga("insert user", "user_record", "directory_entry")
	if err := sg.run("user_record", func() error {
		return s.docs.Update(ctx, safe, func(cur json.RawMessage) (any, error) {
			var fields map[string]json.RawMessage
			if cur != nil {
				if err := json.Unmarshal(cur, &fields); err != nil {
					return nil, fmt.Errorf("%w: user root: %v", ErrFetchFailed, err)
				}
			}
			if fields == nil {
				fields = map[string]json.RawMessage{}
			}
			fields["first_name"], _ = json.Marshal(u.FirstName)
			fields["last_name"], _ = json.Marshal(u.LastName)
			return fields, nil
		})
	}); err != nil {
		return fmt.Errorf("insert user: %w", err)
	}

	entry := DirectoryEntry{Name: u.FullName(), Email: safe}
	if err := sg.run("directory_entry", func() error {
		return s.docs.Update(ctx, directoryPath, func(cur json.RawMessage) (any, error) {
			return appendUnique(cur, "email", safe, entry)
		})
	}); err != nil {
		s.logger.Error("directory entry not written", zap.String("user", safe), zap.Error(err))
		return sg.partial(err)
	}

	s.logger.Info("user registered", zap.String("user", safe))
	s.publish(EventUserRegistered, UserRegistered{SafeID: safe, Name: entry.Name})
	return nil
}

// ListUsers returns the directory. Malformed entries are skipped.
func (s *Store) ListUsers(ctx context.Context) (users []DirectoryEntry, err error) {
	defer s.observe("list_users", time.Now(), &err)
	raw, err := s.docs.Get(ctx, directoryPath)
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, ErrFetchFailed
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	elems, err := decodeList(raw)
	if err != nil {
		return nil, err
	}
	users = make([]DirectoryEntry, 0, len(elems))
	for _, e := range elems {
		entry, err := decodeEntry(e)
		if err != nil {
			continue
		}
		users = append(users, entry)
	}
	return users, nil
}

// SearchUsers returns directory entries whose name starts with term, ignoring
// case. The acting user is never part of the result; an empty term matches
// nothing.
func (s *Store) SearchUsers(ctx context.Context, me session.Identity, term string) ([]DirectoryEntry, error) {
	if err := requireIdentity(me); err != nil {
		return nil, err
	}
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return nil, nil
	}
	users, err := s.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	self := me.SafeID()
	var hits []DirectoryEntry
	for _, u := range users {
		if u.Email == self {
			continue
		}
		if strings.HasPrefix(strings.ToLower(u.Name), term) {
			hits = append(hits, u)
		}
	}
	return hits, nil
}
