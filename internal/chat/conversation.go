package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/matheus3301/messenger/internal/docstore"
	"github.com/matheus3301/messenger/internal/feed"
	"github.com/matheus3301/messenger/internal/identity"
	"github.com/matheus3301/messenger/internal/message"
	"github.com/matheus3301/messenger/internal/session"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Steps of CreateConversation, in order.
const (
	StepCallerSummary = "caller_summary"
	StepMirrorSummary = "mirror_summary"
	StepMessageList   = "message_list"
)

// Steps of SendMessage after the message itself is appended.
const (
	StepAppendMessage = "append_message"
	StepCallerLatest  = "caller_latest"
	StepOtherLatest   = "other_latest"
)

// CreateConversation opens a conversation with otherSafeID holding first as
// its only message. displayName titles the caller's summary; the mirrored
// summary is titled with the caller's display name. The three writes run in
// order and stop at the first failure, which is returned as a *PartialError.
func (s *Store) CreateConversation(ctx context.Context, me session.Identity, otherSafeID, displayName string, first message.Message) (convID string, err error) {
	defer s.observe("create_conversation", time.Now(), &err)
	if err := requireIdentity(me); err != nil {
		return "", err
	}
	self := me.SafeID()
	convID = ConversationID(first.ID)

	if _, err := s.readUser(ctx, me.Address); err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return "", ErrUserNotFound
		}
		return "", fmt.Errorf("create conversation: read caller: %w", err)
	}

	first.Sender = me.Sender()
	latest := latestOf(first)
	mine := Conversation{ID: convID, OtherUserEmail: otherSafeID, Name: displayName, LatestMessage: latest}
	theirs := Conversation{ID: convID, OtherUserEmail: self, Name: me.DisplayName, LatestMessage: latest}

	sg := newSaga("create conversation", StepCallerSummary, StepMirrorSummary, StepMessageList)
	steps := []struct {
		name string
		fn   func() error
	}{
		{StepCallerSummary, func() error { return s.appendSummary(ctx, self, mine) }},
		{StepMirrorSummary, func() error { return s.appendSummary(ctx, otherSafeID, theirs) }},
		{StepMessageList, func() error {
			return s.docs.Set(ctx, messagesPath(convID), []message.Record{message.Encode(first)})
		}},
	}
	for _, st := range steps {
		if err := sg.run(st.name, st.fn); err != nil {
			s.logger.Error("create conversation stopped",
				zap.String("conversation", convID), zap.String("step", st.name), zap.Error(err))
			return convID, sg.partial(err)
		}
	}

	s.logger.Info("conversation created", zap.String("conversation", convID), zap.String("with", otherSafeID))
	s.publish(EventConversationCreated, ConversationCreated{ConversationID: convID, From: self, To: otherSafeID})
	return convID, nil
}

func (s *Store) appendSummary(ctx context.Context, owner string, c Conversation) error {
	return s.docs.Update(ctx, conversationsPath(owner), func(cur json.RawMessage) (any, error) {
		return appendUnique(cur, "id", c.ID, c)
	})
}

// SendReport lists the outcome of each write of a send.
type SendReport struct {
	MessageID string `json:"message_id"`
	Steps     []Step `json:"steps"`
}

// Outcome returns the outcome of the named step.
func (r SendReport) Outcome(name string) Outcome {
	for _, s := range r.Steps {
		if s.Name == name {
			return s.Outcome
		}
	}
	return NotAttempted
}

// SendMessage appends msg to the conversation, then refreshes the latest
// message of the caller's summary and of the other participant's. The send
// succeeds once the append lands. A participant without a summary for the
// conversation is skipped; failed summary writes come back as a *PartialError
// next to a report showing the message applied.
func (s *Store) SendMessage(ctx context.Context, me session.Identity, convID, otherSafeID, displayName string, msg message.Message) (report SendReport, err error) {
	defer s.observe("send_message", time.Now(), &err)
	if err := requireIdentity(me); err != nil {
		return SendReport{}, err
	}
	self := me.SafeID()
	msg.Sender = me.Sender()
	record := message.Encode(msg)

	sg := newSaga("send message", StepAppendMessage, StepCallerLatest, StepOtherLatest)
	appendErr := sg.run(StepAppendMessage, func() error {
		return s.docs.Update(ctx, messagesPath(convID), func(cur json.RawMessage) (any, error) {
			if cur == nil {
				return nil, ErrConversationNotFound
			}
			elems, err := decodeList(cur)
			if err != nil {
				return nil, err
			}
			encoded, err := json.Marshal(record)
			if err != nil {
				return nil, err
			}
			return append(elems, encoded), nil
		})
	})
	if appendErr != nil {
		return SendReport{}, fmt.Errorf("send message: %w", appendErr)
	}

	latest := latestOf(msg)
	var summaryErr error
	for _, t := range []struct{ step, owner string }{
		{StepCallerLatest, self},
		{StepOtherLatest, otherSafeID},
	} {
		err := sg.run(t.step, func() error { return s.updateLatest(ctx, t.owner, convID, latest) })
		if err != nil {
			s.logger.Warn("summary not refreshed",
				zap.String("conversation", convID), zap.String("owner", t.owner), zap.Error(err))
			summaryErr = multierr.Append(summaryErr, fmt.Errorf("%s: %w", t.step, err))
		}
	}

	report = SendReport{MessageID: msg.ID, Steps: sg.partial(nil).Steps}
	s.publish(EventMessageSent, MessageSent{
		ConversationID: convID, MessageID: msg.ID, Kind: record.Type, From: self, To: otherSafeID,
	})
	s.logger.Debug("message sent",
		zap.String("conversation", convID), zap.String("title", displayName), zap.String("message", msg.ID))
	if summaryErr != nil {
		return report, sg.partial(summaryErr)
	}
	return report, nil
}

// updateLatest replaces latest_message on the owner's summary of convID,
// keeping every other field of the entry as stored.
func (s *Store) updateLatest(ctx context.Context, owner, convID string, latest LatestMessage) error {
	return s.docs.Update(ctx, conversationsPath(owner), func(cur json.RawMessage) (any, error) {
		if cur == nil {
			return nil, errSkip
		}
		elems, err := decodeList(cur)
		if err != nil {
			return nil, err
		}
		i := indexOf(elems, "id", convID)
		if i < 0 {
			return nil, errSkip
		}
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(elems[i], &fields); err != nil {
			return nil, err
		}
		if fields["latest_message"], err = json.Marshal(latest); err != nil {
			return nil, err
		}
		if elems[i], err = json.Marshal(fields); err != nil {
			return nil, err
		}
		return elems, nil
	})
}

// FetchMessages returns a stopped feed of the conversation's messages.
// Records that fail to decode are left out of each snapshot.
func (s *Store) FetchMessages(ctx context.Context, convID string) (*feed.Feed[message.Message], error) {
	if convID == "" {
		return nil, ErrConversationNotFound
	}
	decode := func(raw json.RawMessage) ([]message.Message, error) {
		elems, err := decodeList(raw)
		if err != nil {
			return nil, err
		}
		msgs, dropped := message.DecodeAll(elems)
		if dropped > 0 {
			s.logger.Debug("dropped malformed messages", zap.String("conversation", convID), zap.Int("count", dropped))
		}
		return msgs, nil
	}
	return feed.New(s.docs, messagesPath(convID), decode, s.logger), nil
}

// FetchConversations returns a stopped feed of the summaries of safeID.
func (s *Store) FetchConversations(ctx context.Context, safeID string) (*feed.Feed[Conversation], error) {
	if safeID == "" {
		return nil, ErrUserNotFound
	}
	return feed.New(s.docs, conversationsPath(safeID), feed.DecodeList(DecodeConversation), s.logger), nil
}

// ConversationExists looks up the conversation otherAddress holds with the
// acting user and returns its id.
func (s *Store) ConversationExists(ctx context.Context, me session.Identity, otherAddress string) (string, error) {
	if err := requireIdentity(me); err != nil {
		return "", err
	}
	raw, err := s.docs.Get(ctx, conversationsPath(identity.SafeID(otherAddress)))
	if errors.Is(err, docstore.ErrNotFound) {
		return "", ErrConversationNotFound
	}
	if err != nil {
		return "", fmt.Errorf("conversation exists: %w", err)
	}
	elems, err := decodeList(raw)
	if err != nil {
		return "", err
	}
	i := indexOf(elems, "other_user_email", me.SafeID())
	if i < 0 {
		return "", ErrConversationNotFound
	}
	var hit struct {
		ID *string `json:"id"`
	}
	if err := json.Unmarshal(elems[i], &hit); err != nil || hit.ID == nil {
		return "", fmt.Errorf("%w: summary without id", ErrFetchFailed)
	}
	return *hit.ID, nil
}

// DeleteConversation removes the caller's summary of convID and reports
// whether one was there. The other participant's summary and the message
// list are left in place; see Orphans.
func (s *Store) DeleteConversation(ctx context.Context, me session.Identity, convID string) (removed bool, err error) {
	defer s.observe("delete_conversation", time.Now(), &err)
	if err := requireIdentity(me); err != nil {
		return false, err
	}
	self := me.SafeID()
	err = s.docs.Update(ctx, conversationsPath(self), func(cur json.RawMessage) (any, error) {
		if cur == nil {
			return nil, errSkip
		}
		elems, err := decodeList(cur)
		if err != nil {
			return nil, err
		}
		i := indexOf(elems, "id", convID)
		if i < 0 {
			return nil, errSkip
		}
		elems = append(elems[:i], elems[i+1:]...)
		if len(elems) == 0 {
			return nil, nil
		}
		return elems, nil
	})
	if errors.Is(err, errSkip) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("delete conversation: %w", err)
	}
	s.logger.Info("conversation deleted", zap.String("conversation", convID), zap.String("user", self))
	s.publish(EventConversationDeleted, ConversationDeleted{ConversationID: convID, SafeID: self})
	return true, nil
}

// OrphanReport describes what remains of a conversation beyond the caller's
// own summary.
type OrphanReport struct {
	ConversationID string `json:"conversation_id"`
	CallerSummary  bool   `json:"caller_summary"`
	MirrorSummary  bool   `json:"mirror_summary"`
	Messages       bool   `json:"messages"`
}

// Orphaned reports whether data outlives a deleted caller summary.
func (r OrphanReport) Orphaned() bool {
	return !r.CallerSummary && (r.MirrorSummary || r.Messages)
}

// Orphans inspects the three places a conversation lives.
func (s *Store) Orphans(ctx context.Context, me session.Identity, convID, otherSafeID string) (OrphanReport, error) {
	if err := requireIdentity(me); err != nil {
		return OrphanReport{}, err
	}
	rep := OrphanReport{ConversationID: convID}
	var errs error
	var err error
	rep.CallerSummary, err = s.hasSummary(ctx, me.SafeID(), convID)
	errs = multierr.Append(errs, err)
	rep.MirrorSummary, err = s.hasSummary(ctx, otherSafeID, convID)
	errs = multierr.Append(errs, err)
	_, err = s.docs.Get(ctx, messagesPath(convID))
	switch {
	case err == nil:
		rep.Messages = true
	case !errors.Is(err, docstore.ErrNotFound):
		errs = multierr.Append(errs, err)
	}
	if errs != nil {
		return rep, fmt.Errorf("orphans: %w", errs)
	}
	return rep, nil
}

func (s *Store) hasSummary(ctx context.Context, owner, convID string) (bool, error) {
	raw, err := s.docs.Get(ctx, conversationsPath(owner))
	if errors.Is(err, docstore.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	var elems []json.RawMessage
	if json.Unmarshal(raw, &elems) != nil {
		return false, nil
	}
	return indexOf(elems, "id", convID) >= 0, nil
}
