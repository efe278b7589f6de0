package api

import (
	"time"

	"github.com/matheus3301/messenger/internal/chat"
	"github.com/matheus3301/messenger/internal/message"
	"github.com/matheus3301/messenger/internal/session"
)

// IdentityView is the signed-in user as served to clients.
type IdentityView struct {
	Address     string `json:"address"`
	SafeID      string `json:"safe_id"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

func identityToView(id session.Identity) *IdentityView {
	return &IdentityView{Address: id.Address, SafeID: id.SafeID(), DisplayName: id.DisplayName, AvatarURL: id.AvatarURL}
}

// SessionView answers GET /v1/session.
type SessionView struct {
	Profile  string        `json:"profile"`
	Status   string        `json:"status"`
	UptimeMS int64         `json:"uptime_ms"`
	Identity *IdentityView `json:"identity,omitempty"`
}

// MessageView is one message of a feed frame.
type MessageView struct {
	ID         string    `json:"id"`
	Kind       string    `json:"kind"`
	Text       string    `json:"text,omitempty"`
	MediaURL   string    `json:"media_url,omitempty"`
	SenderID   string    `json:"sender_id"`
	SenderName string    `json:"sender_name"`
	SentAt     time.Time `json:"sent_at"`
	IsRead     bool      `json:"is_read"`
}

func messageToView(m message.Message) MessageView {
	return MessageView{
		ID:         m.ID,
		Kind:       string(m.Kind),
		Text:       m.Text,
		MediaURL:   m.MediaURL,
		SenderID:   m.Sender.ID,
		SenderName: m.Sender.DisplayName,
		SentAt:     m.SentAt,
		IsRead:     m.IsRead,
	}
}

// Frame is one feed snapshot sent over a WebSocket.
type Frame[T any] struct {
	Items []T       `json:"items"`
	Error string    `json:"error,omitempty"`
	At    time.Time `json:"at"`
}

// ExistsResponse answers GET /v1/users/{address}/exists.
type ExistsResponse struct {
	Exists bool `json:"exists"`
}

// ConversationRef answers GET /v1/conversations/with/{address}.
type ConversationRef struct {
	ID string `json:"id"`
}

// CreateConversationRequest is the body of POST /v1/conversations.
type CreateConversationRequest struct {
	OtherAddress string `json:"other_address"`
	DisplayName  string `json:"display_name"`
	Text         string `json:"text"`
}

// CreateConversationResponse answers POST /v1/conversations.
type CreateConversationResponse struct {
	ID        string      `json:"id"`
	MessageID string      `json:"message_id"`
	Steps     []chat.Step `json:"steps,omitempty"`
	Error     string      `json:"error,omitempty"`
}

// SendTextRequest is the body of POST /v1/conversations/{id}/messages.
type SendTextRequest struct {
	OtherID     string `json:"other_id"`
	DisplayName string `json:"display_name"`
	Text        string `json:"text"`
}

// SendResponse answers the send endpoints.
type SendResponse struct {
	MessageID string      `json:"message_id"`
	Steps     []chat.Step `json:"steps"`
	Error     string      `json:"error,omitempty"`
}

// DeleteResponse answers DELETE /v1/conversations/{id}.
type DeleteResponse struct {
	Removed bool `json:"removed"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
}
