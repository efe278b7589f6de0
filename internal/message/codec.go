package message

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
)

// ErrMalformedRecord is returned when a persisted record cannot be decoded.
var ErrMalformedRecord = errors.New("malformed message record")

// Record is the flat form of a message as stored in a conversation's list.
type Record struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	Content     string `json:"content"`
	Date        string `json:"date"`
	SenderEmail string `json:"sender_email"`
	IsRead      bool   `json:"is_read"`
	Name        string `json:"name"`
}

// wireRecord detects absent fields on decode.
type wireRecord struct {
	ID          *string `json:"id"`
	Type        *string `json:"type"`
	Content     *string `json:"content"`
	Date        *string `json:"date"`
	SenderEmail *string `json:"sender_email"`
	IsRead      *bool   `json:"is_read"`
	Name        *string `json:"name"`
}

// Encode flattens m into a Record. Only text, photo and video persist their
// content; every other kind is stored as text with an empty body.
func Encode(m Message) Record {
	kind := m.Kind
	if !kind.HasMedia() {
		kind = KindText
	}
	return Record{
		ID:          m.ID,
		Type:        string(kind),
		Content:     m.Content(),
		Date:        FormatDate(m.SentAt),
		SenderEmail: m.Sender.ID,
		IsRead:      m.IsRead,
		Name:        m.Sender.DisplayName,
	}
}

// Decode parses a single stored record. An unrecognized type decodes as text
// with the raw content.
func Decode(data []byte) (Message, error) {
	var w wireRecord
	if err := json.Unmarshal(data, &w); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	if w.ID == nil || w.Type == nil || w.Content == nil || w.Date == nil ||
		w.SenderEmail == nil || w.IsRead == nil || w.Name == nil {
		return Message{}, fmt.Errorf("%w: missing field", ErrMalformedRecord)
	}
	at, err := ParseDate(*w.Date)
	if err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}

	m := Message{
		ID:     *w.ID,
		Sender: Sender{ID: *w.SenderEmail, DisplayName: *w.Name},
		SentAt: at,
		IsRead: *w.IsRead,
	}
	switch Kind(*w.Type) {
	case KindPhoto, KindVideo:
		u, err := url.Parse(*w.Content)
		if err != nil || !u.IsAbs() {
			return Message{}, fmt.Errorf("%w: bad media reference %q", ErrMalformedRecord, *w.Content)
		}
		m.Kind = Kind(*w.Type)
		m.MediaURL = *w.Content
	default:
		m.Kind = KindText
		m.Text = *w.Content
	}
	return m, nil
}

// DecodeAll decodes every record, dropping the ones that fail.
// It returns the decoded messages in order and the number dropped.
func DecodeAll(records []json.RawMessage) ([]Message, int) {
	msgs := make([]Message, 0, len(records))
	dropped := 0
	for _, r := range records {
		m, err := Decode(r)
		if err != nil {
			dropped++
			continue
		}
		msgs = append(msgs, m)
	}
	return msgs, dropped
}
