package bus

import "time"

// Event is a notification published on the bus. Kind is a slash or dot
// separated name; subscribers match on a prefix of it.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// NewEvent stamps an event with the current time.
func NewEvent(kind string, payload any) Event {
	return Event{Kind: kind, Timestamp: time.Now(), Payload: payload}
}
