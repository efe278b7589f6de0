package chat_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/matheus3301/messenger/internal/bus"
	"github.com/matheus3301/messenger/internal/chat"
	"github.com/matheus3301/messenger/internal/docstore"
	"github.com/matheus3301/messenger/internal/feed"
	"github.com/matheus3301/messenger/internal/identity"
	"github.com/matheus3301/messenger/internal/message"
	"github.com/matheus3301/messenger/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errInjected = errors.New("injected write failure")

// faultyBackend fails updates of selected roots.
type faultyBackend struct {
	*docstore.Memory
	mu   sync.Mutex
	fail map[string]bool
}

func (f *faultyBackend) Update(ctx context.Context, root string, fn docstore.UpdateFunc) error {
	f.mu.Lock()
	failing := f.fail[root]
	f.mu.Unlock()
	if failing {
		return errInjected
	}
	return f.Memory.Update(ctx, root, fn)
}

func (f *faultyBackend) failRoot(root string, on bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[root] = on
}

type fixture struct {
	store   *chat.Store
	docs    *docstore.Store
	backend *faultyBackend
	bus     *bus.Bus
}

var (
	alice = session.Identity{Address: "alice@x.com", DisplayName: "Alice Smith"}
	bob   = session.Identity{Address: "bob@x.com", DisplayName: "Bob Jones"}
	at    = time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
)

func newFixture(t *testing.T) *fixture {
	t.Helper()
	b := bus.New()
	backend := &faultyBackend{Memory: docstore.NewMemory(b, nil), fail: map[string]bool{}}
	docs := docstore.New(backend, nil)
	t.Cleanup(func() { _ = docs.Close() })
	return &fixture{store: chat.New(docs, b, nil, nil), docs: docs, backend: backend, bus: b}
}

func (f *fixture) register(t *testing.T, ids ...session.Identity) {
	t.Helper()
	names := map[string][2]string{
		alice.Address: {"Alice", "Smith"},
		bob.Address:   {"Bob", "Jones"},
	}
	for _, id := range ids {
		n := names[id.Address]
		require.NoError(t, f.store.InsertUser(context.Background(), identity.User{FirstName: n[0], LastName: n[1], Address: id.Address}))
	}
}

func textFrom(me session.Identity, other string, body string, sentAt time.Time) message.Message {
	return message.Text(message.NewID(other, me.SafeID(), sentAt), me.Sender(), sentAt, body)
}

func (f *fixture) open(t *testing.T) (string, message.Message) {
	t.Helper()
	first := textFrom(alice, bob.SafeID(), "hi bob", at)
	convID, err := f.store.CreateConversation(context.Background(), alice, bob.SafeID(), bob.DisplayName, first)
	require.NoError(t, err)
	return convID, first
}

func (f *fixture) summaries(t *testing.T, owner string) []chat.Conversation {
	t.Helper()
	raw, err := f.docs.Get(context.Background(), owner+"/conversations")
	if errors.Is(err, docstore.ErrNotFound) {
		return nil
	}
	require.NoError(t, err)
	var elems []json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &elems))
	out := make([]chat.Conversation, 0, len(elems))
	for _, e := range elems {
		c, err := chat.DecodeConversation(e)
		require.NoError(t, err)
		out = append(out, c)
	}
	return out
}

func (f *fixture) records(t *testing.T, convID string) []message.Record {
	t.Helper()
	raw, err := f.docs.Get(context.Background(), convID+"/messages")
	if errors.Is(err, docstore.ErrNotFound) {
		return nil
	}
	require.NoError(t, err)
	var recs []message.Record
	require.NoError(t, json.Unmarshal(raw, &recs))
	return recs
}

func TestInsertUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	events, unsub := f.bus.Subscribe("chat.", 4)
	defer unsub()

	exists, err := f.store.UserExists(ctx, alice.Address)
	require.NoError(t, err)
	assert.False(t, exists)

	f.register(t, alice)

	exists, err = f.store.UserExists(ctx, alice.Address)
	require.NoError(t, err)
	assert.True(t, exists)

	u, err := f.store.GetUser(ctx, alice.Address)
	require.NoError(t, err)
	assert.Equal(t, "Alice Smith", u.FullName())

	users, err := f.store.ListUsers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []chat.DirectoryEntry{{Name: "Alice Smith", Email: "alice-x-com"}}, users)

	evt := <-events
	assert.Equal(t, chat.EventUserRegistered, evt.Kind)
}

func TestInsertUserTwiceKeepsOneDirectoryEntry(t *testing.T) {
	f := newFixture(t)
	f.register(t, alice, alice)

	users, err := f.store.ListUsers(context.Background())
	require.NoError(t, err)
	assert.Len(t, users, 1)
}

func TestInsertUserKeepsSummaries(t *testing.T) {
	f := newFixture(t)
	f.register(t, alice, bob)
	f.open(t)

	f.register(t, alice)
	assert.Len(t, f.summaries(t, alice.SafeID()), 1)
}

func TestInsertUserDirectoryFailureIsPartial(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.backend.failRoot("users", true)

	err := f.store.InsertUser(ctx, identity.User{FirstName: "Alice", LastName: "Smith", Address: alice.Address})
	var partial *chat.PartialError
	require.ErrorAs(t, err, &partial)
	assert.ErrorIs(t, err, errInjected)
	assert.Equal(t, []string{"user_record"}, partial.Applied())
	assert.Equal(t, chat.Failed, partial.Outcome("directory_entry"))

	exists, err := f.store.UserExists(ctx, alice.Address)
	require.NoError(t, err)
	assert.True(t, exists, "record stays written")
	_, err = f.store.ListUsers(ctx)
	assert.ErrorIs(t, err, chat.ErrFetchFailed)

	f.backend.failRoot("users", false)
	f.register(t, alice)
	users, err := f.store.ListUsers(ctx)
	require.NoError(t, err)
	assert.Len(t, users, 1)
}

func TestSummariesAloneAreNotASignup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, alice)
	f.open(t)

	exists, err := f.store.UserExists(ctx, bob.Address)
	require.NoError(t, err)
	assert.False(t, exists)
	_, err = f.store.GetUser(ctx, bob.Address)
	assert.ErrorIs(t, err, chat.ErrUserNotFound)

	_, err = f.store.CreateConversation(ctx, bob, alice.SafeID(), alice.DisplayName, textFrom(bob, alice.SafeID(), "hey", at.Add(time.Minute)))
	assert.ErrorIs(t, err, chat.ErrUserNotFound)

	f.register(t, bob)
	u, err := f.store.GetUser(ctx, bob.Address)
	require.NoError(t, err)
	assert.Equal(t, "Bob Jones", u.FullName())
	assert.Len(t, f.summaries(t, bob.SafeID()), 1)

	users, err := f.store.ListUsers(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []chat.DirectoryEntry{
		{Name: "Alice Smith", Email: alice.SafeID()},
		{Name: "Bob Jones", Email: bob.SafeID()},
	}, users)
}

func TestInsertUserRejectsMalformedRoot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.docs.Set(ctx, alice.SafeID(), []int{1, 2}))

	err := f.store.InsertUser(ctx, identity.User{FirstName: "Alice", LastName: "Smith", Address: alice.Address})
	assert.ErrorIs(t, err, chat.ErrFetchFailed)

	raw, err := f.docs.Get(ctx, alice.SafeID())
	require.NoError(t, err)
	assert.JSONEq(t, `[1,2]`, string(raw))
}

func TestGetUserMissing(t *testing.T) {
	f := newFixture(t)
	_, err := f.store.GetUser(context.Background(), "ghost@x.com")
	assert.ErrorIs(t, err, chat.ErrUserNotFound)
}

func TestListUsersFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.store.ListUsers(ctx)
	assert.ErrorIs(t, err, chat.ErrFetchFailed, "never written")

	require.NoError(t, f.docs.Set(ctx, "users", map[string]string{"name": "x"}))
	_, err = f.store.ListUsers(ctx)
	assert.ErrorIs(t, err, chat.ErrFetchFailed, "wrong shape")
}

func TestListUsersSkipsMalformedEntries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.docs.Set(ctx, "users", json.RawMessage(`[{"name":"A","email":"a"},{"name":1},"x",{"email":"b"}]`)))

	users, err := f.store.ListUsers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []chat.DirectoryEntry{{Name: "A", Email: "a"}}, users)
}

func TestSearchUsers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, alice, bob)
	require.NoError(t, f.store.InsertUser(ctx, identity.User{FirstName: "Bobby", LastName: "Tables", Address: "bobby@x.com"}))

	tests := []struct {
		name string
		me   session.Identity
		term string
		want []string
	}{
		{"prefix", alice, "bo", []string{"bob-x-com", "bobby-x-com"}},
		{"case insensitive", bob, "ALI", []string{"alice-x-com"}},
		{"excludes caller", bob, "bob", []string{"bobby-x-com"}},
		{"empty term", alice, "  ", nil},
		{"no match", alice, "zed", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hits, err := f.store.SearchUsers(ctx, tt.me, tt.term)
			require.NoError(t, err)
			var got []string
			for _, h := range hits {
				got = append(got, h.Email)
			}
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := f.store.SearchUsers(ctx, session.Identity{}, "bo")
	assert.ErrorIs(t, err, session.ErrNotAuthenticated)
}

func TestCreateConversation(t *testing.T) {
	f := newFixture(t)
	f.register(t, alice, bob)
	events, unsub := f.bus.Subscribe("chat.conversation", 1)
	defer unsub()

	convID, first := f.open(t)
	assert.Equal(t, "conversation_"+first.ID, convID)

	mine := f.summaries(t, alice.SafeID())
	require.Len(t, mine, 1)
	assert.Equal(t, convID, mine[0].ID)
	assert.Equal(t, "bob-x-com", mine[0].OtherUserEmail)
	assert.Equal(t, "Bob Jones", mine[0].Name)
	assert.Equal(t, "hi bob", mine[0].LatestMessage.Text)
	assert.False(t, mine[0].LatestMessage.IsRead)

	theirs := f.summaries(t, bob.SafeID())
	require.Len(t, theirs, 1)
	assert.Equal(t, convID, theirs[0].ID)
	assert.Equal(t, "alice-x-com", theirs[0].OtherUserEmail)
	assert.Equal(t, "Alice Smith", theirs[0].Name)
	assert.Equal(t, mine[0].LatestMessage, theirs[0].LatestMessage)

	recs := f.records(t, convID)
	require.Len(t, recs, 1)
	assert.Equal(t, first.ID, recs[0].ID)
	assert.Equal(t, "text", recs[0].Type)
	assert.Equal(t, "hi bob", recs[0].Content)
	assert.Equal(t, "alice-x-com", recs[0].SenderEmail)
	assert.Equal(t, "Alice Smith", recs[0].Name)

	sentAt, err := mine[0].LatestMessage.SentAt()
	require.NoError(t, err)
	assert.True(t, sentAt.Equal(at))

	evt := <-events
	assert.Equal(t, chat.ConversationCreated{ConversationID: convID, From: "alice-x-com", To: "bob-x-com"}, evt.Payload)
}

func TestCreateConversationRequiresCallerRecord(t *testing.T) {
	f := newFixture(t)
	f.register(t, bob)

	first := textFrom(alice, bob.SafeID(), "hi", at)
	_, err := f.store.CreateConversation(context.Background(), alice, bob.SafeID(), bob.DisplayName, first)
	assert.ErrorIs(t, err, chat.ErrUserNotFound)
	assert.Empty(t, f.summaries(t, bob.SafeID()))
	assert.Empty(t, f.records(t, chat.ConversationID(first.ID)))
}

func TestCreateConversationNotAuthenticated(t *testing.T) {
	f := newFixture(t)
	_, err := f.store.CreateConversation(context.Background(), session.Identity{}, bob.SafeID(), "Bob", message.Message{ID: "x"})
	assert.ErrorIs(t, err, session.ErrNotAuthenticated)
}

func TestCreateConversationStopsAtFailingStep(t *testing.T) {
	f := newFixture(t)
	f.register(t, alice, bob)
	f.backend.failRoot(bob.SafeID(), true)

	first := textFrom(alice, bob.SafeID(), "hi", at)
	convID, err := f.store.CreateConversation(context.Background(), alice, bob.SafeID(), bob.DisplayName, first)
	var partial *chat.PartialError
	require.ErrorAs(t, err, &partial)
	assert.ErrorIs(t, err, errInjected)
	assert.Equal(t, chat.ConversationID(first.ID), convID)
	assert.Equal(t, []string{chat.StepCallerSummary}, partial.Applied())
	assert.Equal(t, chat.Failed, partial.Outcome(chat.StepMirrorSummary))
	assert.Equal(t, chat.NotAttempted, partial.Outcome(chat.StepMessageList))

	assert.Len(t, f.summaries(t, alice.SafeID()), 1, "caller summary landed")
	assert.Empty(t, f.records(t, convID), "message list not written")
}

func TestSendMessage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, alice, bob)
	convID, _ := f.open(t)

	later := at.Add(time.Minute)
	reply := textFrom(bob, alice.SafeID(), "hey alice", later)
	report, err := f.store.SendMessage(ctx, bob, convID, alice.SafeID(), alice.DisplayName, reply)
	require.NoError(t, err)
	assert.Equal(t, reply.ID, report.MessageID)
	for _, step := range []string{chat.StepAppendMessage, chat.StepCallerLatest, chat.StepOtherLatest} {
		assert.Equal(t, chat.Applied, report.Outcome(step), step)
	}

	recs := f.records(t, convID)
	require.Len(t, recs, 2)
	assert.Equal(t, "hi bob", recs[0].Content)
	assert.Equal(t, "hey alice", recs[1].Content)
	assert.Equal(t, "bob-x-com", recs[1].SenderEmail)

	for _, owner := range []string{alice.SafeID(), bob.SafeID()} {
		s := f.summaries(t, owner)
		require.Len(t, s, 1)
		assert.Equal(t, "hey alice", s[0].LatestMessage.Text, owner)
		assert.Equal(t, message.FormatDate(later), s[0].LatestMessage.Date, owner)
	}
	assert.Equal(t, "Bob Jones", f.summaries(t, alice.SafeID())[0].Name, "title unchanged")
}

func TestSendMessageUnknownConversation(t *testing.T) {
	f := newFixture(t)
	f.register(t, alice)

	msg := textFrom(alice, bob.SafeID(), "hello?", at)
	_, err := f.store.SendMessage(context.Background(), alice, "conversation_nope", bob.SafeID(), bob.DisplayName, msg)
	assert.ErrorIs(t, err, chat.ErrConversationNotFound)
}

func TestSendMessageSkipsMissingSummary(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, alice, bob)
	convID, _ := f.open(t)

	removed, err := f.store.DeleteConversation(ctx, alice, convID)
	require.NoError(t, err)
	require.True(t, removed)

	msg := textFrom(alice, bob.SafeID(), "still there?", at.Add(time.Second))
	report, err := f.store.SendMessage(ctx, alice, convID, bob.SafeID(), bob.DisplayName, msg)
	require.NoError(t, err)
	assert.Equal(t, chat.Skipped, report.Outcome(chat.StepCallerLatest))
	assert.Equal(t, chat.Applied, report.Outcome(chat.StepOtherLatest))
	assert.Len(t, f.records(t, convID), 2)
	assert.Empty(t, f.summaries(t, alice.SafeID()), "summary is not recreated")
}

func TestSendMessageSummaryFailureIsPartial(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, alice, bob)
	convID, _ := f.open(t)
	f.backend.failRoot(bob.SafeID(), true)

	msg := textFrom(alice, bob.SafeID(), "second", at.Add(time.Second))
	report, err := f.store.SendMessage(ctx, alice, convID, bob.SafeID(), bob.DisplayName, msg)
	var partial *chat.PartialError
	require.ErrorAs(t, err, &partial)
	assert.ErrorIs(t, err, errInjected)
	assert.Equal(t, chat.Applied, report.Outcome(chat.StepAppendMessage))
	assert.Equal(t, chat.Applied, report.Outcome(chat.StepCallerLatest))
	assert.Equal(t, chat.Failed, report.Outcome(chat.StepOtherLatest))
	assert.Len(t, f.records(t, convID), 2, "message stays sent")
}

func TestConcurrentSendsKeepEveryMessage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, alice, bob)
	convID, _ := f.open(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			me, other := alice, bob
			if i%2 == 1 {
				me, other = bob, alice
			}
			msg := textFrom(me, other.SafeID(), fmt.Sprintf("m%d", i), at.Add(time.Duration(i)*time.Second))
			_, err := f.store.SendMessage(ctx, me, convID, other.SafeID(), other.DisplayName, msg)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.Len(t, f.records(t, convID), 21)
}

func TestSendPhotoStoresReference(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, alice, bob)
	convID, _ := f.open(t)

	id := message.NewID(bob.SafeID(), alice.SafeID(), at)
	photo := message.Photo(id, alice.Sender(), at, "https://cdn.example.com/message_images/x.png")
	_, err := f.store.SendMessage(ctx, alice, convID, bob.SafeID(), bob.DisplayName, photo)
	require.NoError(t, err)

	recs := f.records(t, convID)
	assert.Equal(t, "photo", recs[1].Type)
	assert.Equal(t, "https://cdn.example.com/message_images/x.png", recs[1].Content)
}

func nextSnapshot[T any](t *testing.T, fd *feed.Feed[T]) feed.Snapshot[T] {
	t.Helper()
	select {
	case snap := <-fd.Updates():
		return snap
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for snapshot")
		return feed.Snapshot[T]{}
	}
}

func TestFetchMessagesFollowsSends(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, alice, bob)
	convID, first := f.open(t)

	fd, err := f.store.FetchMessages(ctx, convID)
	require.NoError(t, err)
	require.NoError(t, fd.Start(ctx))
	defer fd.Close()

	snap := nextSnapshot(t, fd)
	require.NoError(t, snap.Err)
	require.Len(t, snap.Items, 1)
	assert.Equal(t, first.ID, snap.Items[0].ID)

	_, err = f.store.SendMessage(ctx, bob, convID, alice.SafeID(), alice.DisplayName, textFrom(bob, alice.SafeID(), "yo", at.Add(time.Second)))
	require.NoError(t, err)
	snap = nextSnapshot(t, fd)
	require.Len(t, snap.Items, 2)
	assert.Equal(t, "yo", snap.Items[1].Text)

	require.NoError(t, f.docs.Update(ctx, convID+"/messages", func(cur json.RawMessage) (any, error) {
		var elems []json.RawMessage
		require.NoError(t, json.Unmarshal(cur, &elems))
		return append(elems, json.RawMessage(`{"id":1}`)), nil
	}))
	snap = nextSnapshot(t, fd)
	assert.NoError(t, snap.Err)
	assert.Len(t, snap.Items, 2, "malformed record dropped")
}

func TestFetchConversations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, alice, bob)

	fd, err := f.store.FetchConversations(ctx, bob.SafeID())
	require.NoError(t, err)
	require.NoError(t, fd.Start(ctx))
	defer fd.Close()

	snap := nextSnapshot(t, fd)
	assert.ErrorIs(t, snap.Err, feed.ErrFetchFailed, "no summaries yet")

	convID, _ := f.open(t)
	snap = nextSnapshot(t, fd)
	require.NoError(t, snap.Err)
	require.Len(t, snap.Items, 1)
	assert.Equal(t, convID, snap.Items[0].ID)
	assert.Equal(t, "Alice Smith", snap.Items[0].Name)
}

func TestConversationExists(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, alice, bob)

	_, err := f.store.ConversationExists(ctx, alice, bob.Address)
	assert.ErrorIs(t, err, chat.ErrConversationNotFound, "no list")

	convID, _ := f.open(t)
	got, err := f.store.ConversationExists(ctx, alice, bob.Address)
	require.NoError(t, err)
	assert.Equal(t, convID, got)

	got, err = f.store.ConversationExists(ctx, bob, alice.Address)
	require.NoError(t, err)
	assert.Equal(t, convID, got)

	carol := session.Identity{Address: "carol@x.com", DisplayName: "Carol"}
	_, err = f.store.ConversationExists(ctx, carol, bob.Address)
	assert.ErrorIs(t, err, chat.ErrConversationNotFound, "no match")
}

func TestDeleteConversationLeavesOrphans(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, alice, bob)
	convID, _ := f.open(t)

	rep, err := f.store.Orphans(ctx, alice, convID, bob.SafeID())
	require.NoError(t, err)
	assert.False(t, rep.Orphaned())

	removed, err := f.store.DeleteConversation(ctx, alice, convID)
	require.NoError(t, err)
	assert.True(t, removed)
	assert.Empty(t, f.summaries(t, alice.SafeID()))

	rep, err = f.store.Orphans(ctx, alice, convID, bob.SafeID())
	require.NoError(t, err)
	assert.Equal(t, chat.OrphanReport{ConversationID: convID, MirrorSummary: true, Messages: true}, rep)
	assert.True(t, rep.Orphaned())

	removed, err = f.store.DeleteConversation(ctx, alice, convID)
	require.NoError(t, err)
	assert.False(t, removed, "second delete is a no-op")
}

func TestDeleteConversationNoMatchKeepsList(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, alice, bob)
	f.open(t)

	removed, err := f.store.DeleteConversation(ctx, alice, "conversation_other")
	require.NoError(t, err)
	assert.False(t, removed)
	assert.Len(t, f.summaries(t, alice.SafeID()), 1)
}
