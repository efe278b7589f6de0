package chat

// Domain events published on the bus.
const (
	EventUserRegistered      = "chat.user_registered"
	EventConversationCreated = "chat.conversation_created"
	EventMessageSent         = "chat.message_sent"
	EventConversationDeleted = "chat.conversation_deleted"
)

// UserRegistered is the payload of EventUserRegistered.
type UserRegistered struct {
	SafeID string
	Name   string
}

// ConversationCreated is the payload of EventConversationCreated.
type ConversationCreated struct {
	ConversationID string
	From           string
	To             string
}

// MessageSent is the payload of EventMessageSent.
type MessageSent struct {
	ConversationID string
	MessageID      string
	Kind           string
	From           string
	To             string
}

// ConversationDeleted is the payload of EventConversationDeleted.
type ConversationDeleted struct {
	ConversationID string
	SafeID         string
}
