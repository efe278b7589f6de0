package chat

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/matheus3301/messenger/internal/message"
)

// storedUser is the stored form of a user, without the embedded summaries.
// Nil names mean the root was never written by a signup.
type storedUser struct {
	FirstName *string `json:"first_name"`
	LastName  *string `json:"last_name"`
}

// DirectoryEntry is one element of the shared user directory.
type DirectoryEntry struct {
	Name  string `json:"name"`
	Email string `json:"email"` // safe id
}

// LatestMessage is the preview a summary carries of the last message sent.
type LatestMessage struct {
	Date   string `json:"date"`
	Text   string `json:"message"`
	IsRead bool   `json:"is_read"`
}

// SentAt parses Date.
func (l LatestMessage) SentAt() (time.Time, error) {
	return message.ParseDate(l.Date)
}

func latestOf(m message.Message) LatestMessage {
	return LatestMessage{Date: message.FormatDate(m.SentAt), Text: m.Content(), IsRead: false}
}

// Conversation is a participant's summary of one conversation.
type Conversation struct {
	ID             string        `json:"id"`
	OtherUserEmail string        `json:"other_user_email"` // safe id
	Name           string        `json:"name"`
	LatestMessage  LatestMessage `json:"latest_message"`
}

// ConversationID derives the id of a conversation from its first message.
func ConversationID(firstMessageID string) string {
	return "conversation_" + firstMessageID
}

type wireEntry struct {
	Name  *string `json:"name"`
	Email *string `json:"email"`
}

func decodeEntry(raw json.RawMessage) (DirectoryEntry, error) {
	var w wireEntry
	if err := json.Unmarshal(raw, &w); err != nil {
		return DirectoryEntry{}, err
	}
	if w.Name == nil || w.Email == nil {
		return DirectoryEntry{}, fmt.Errorf("directory entry missing fields")
	}
	return DirectoryEntry{Name: *w.Name, Email: *w.Email}, nil
}

type wireLatest struct {
	Date   *string `json:"date"`
	Text   *string `json:"message"`
	IsRead *bool   `json:"is_read"`
}

type wireConversation struct {
	ID             *string     `json:"id"`
	OtherUserEmail *string     `json:"other_user_email"`
	Name           *string     `json:"name"`
	LatestMessage  *wireLatest `json:"latest_message"`
}

// DecodeConversation parses one stored summary, rejecting entries with
// absent or mistyped fields.
func DecodeConversation(raw json.RawMessage) (Conversation, error) {
	var w wireConversation
	if err := json.Unmarshal(raw, &w); err != nil {
		return Conversation{}, err
	}
	if w.ID == nil || w.OtherUserEmail == nil || w.Name == nil || w.LatestMessage == nil {
		return Conversation{}, fmt.Errorf("conversation summary missing fields")
	}
	l := w.LatestMessage
	if l.Date == nil || l.Text == nil || l.IsRead == nil {
		return Conversation{}, fmt.Errorf("latest message missing fields")
	}
	return Conversation{
		ID:             *w.ID,
		OtherUserEmail: *w.OtherUserEmail,
		Name:           *w.Name,
		LatestMessage:  LatestMessage{Date: *l.Date, Text: *l.Text, IsRead: *l.IsRead},
	}, nil
}

// decodeList splits a stored array. Absent values and non-arrays are
// ErrFetchFailed.
func decodeList(raw json.RawMessage) ([]json.RawMessage, error) {
	if raw == nil {
		return nil, ErrFetchFailed
	}
	var elems []json.RawMessage
	if err := json.Unmarshal(raw, &elems); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	return elems, nil
}

// appendUnique appends item to the stored array in cur unless an element
// already carries the same id under key. Absent values start a new array.
func appendUnique(cur json.RawMessage, key, id string, item any) (any, error) {
	var elems []json.RawMessage
	if cur != nil {
		var err error
		if elems, err = decodeList(cur); err != nil {
			return nil, err
		}
	}
	if indexOf(elems, key, id) >= 0 {
		return nil, errSkip
	}
	encoded, err := json.Marshal(item)
	if err != nil {
		return nil, err
	}
	return append(elems, encoded), nil
}

// indexOf returns the position of the first element whose string field key
// equals id, or -1.
func indexOf(elems []json.RawMessage, key, id string) int {
	for i, e := range elems {
		var fields map[string]json.RawMessage
		if json.Unmarshal(e, &fields) != nil {
			continue
		}
		var v string
		if json.Unmarshal(fields[key], &v) == nil && v == id {
			return i
		}
	}
	return -1
}
