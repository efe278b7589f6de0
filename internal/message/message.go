package message

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind is the closed set of message kinds a chat thread can hold.
type Kind string

const (
	KindText           Kind = "text"
	KindAttributedText Kind = "attributedText"
	KindPhoto          Kind = "photo"
	KindVideo          Kind = "video"
	KindLocation       Kind = "location"
	KindEmoji          Kind = "emoji"
	KindAudio          Kind = "audio"
	KindContact        Kind = "contact"
	KindCustom         Kind = "custom"
)

// HasMedia reports whether the content of k is a blob reference.
func (k Kind) HasMedia() bool {
	return k == KindPhoto || k == KindVideo
}

// Sender identifies who sent a message.
type Sender struct {
	ID          string // safe id
	DisplayName string
	PhotoURL    string
}

// Message is a single chat message.
type Message struct {
	ID     string
	Sender Sender
	SentAt time.Time
	Kind   Kind
	// Text holds the body of text messages.
	Text string
	// MediaURL holds the resolved download reference of photo and video messages.
	MediaURL string
	IsRead   bool
}

// Content returns the value persisted in the record's content field.
// Kinds without persistence logic yield an empty string.
func (m Message) Content() string {
	switch m.Kind {
	case KindText:
		return m.Text
	case KindPhoto, KindVideo:
		return m.MediaURL
	default:
		return ""
	}
}

// Text builds a text message.
func Text(id string, from Sender, at time.Time, body string) Message {
	return Message{ID: id, Sender: from, SentAt: at, Kind: KindText, Text: body}
}

// Photo builds a photo message pointing at an uploaded image.
func Photo(id string, from Sender, at time.Time, ref string) Message {
	return Message{ID: id, Sender: from, SentAt: at, Kind: KindPhoto, MediaURL: ref}
}

// Video builds a video message pointing at an uploaded clip.
func Video(id string, from Sender, at time.Time, ref string) Message {
	return Message{ID: id, Sender: from, SentAt: at, Kind: KindVideo, MediaURL: ref}
}

// NewID allocates a message id from both participants and the send time.
// The random suffix keeps ids unique when two messages share a second.
func NewID(otherSafeID, selfSafeID string, at time.Time) string {
	return fmt.Sprintf("%s_%s_%s_%s", otherSafeID, selfSafeID, FormatDate(at), uuid.NewString()[:8])
}
