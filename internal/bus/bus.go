package bus

import (
	"strings"
	"sync"
)

// Policy decides what happens when a subscriber's buffer is full.
type Policy int

const (
	// DropNewest discards the event being published.
	DropNewest Policy = iota
	// DropOldest evicts the oldest buffered event so the newest one lands.
	// Subscribers that only care about the latest state use this.
	DropOldest
)

// Bus is an in-process publish/subscribe event bus with namespace filtering.
type Bus struct {
	mu   sync.RWMutex
	subs map[int]*subscription
	next int
}

type subscription struct {
	namespace string
	policy    Policy
	mu        sync.Mutex
	ch        chan Event
}

// New creates a new event bus.
func New() *Bus {
	return &Bus{
		subs: make(map[int]*subscription),
	}
}

// Publish sends an event to all subscribers whose namespace is a prefix of evt.Kind.
// It never blocks.
func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if strings.HasPrefix(evt.Kind, sub.namespace) {
			sub.deliver(evt)
		}
	}
}

func (s *subscription) deliver(evt Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case s.ch <- evt:
		return
	default:
	}
	if s.policy == DropNewest {
		return
	}
	select {
	case <-s.ch:
	default:
	}
	select {
	case s.ch <- evt:
	default:
	}
}

// Subscribe returns a channel that receives events matching the given namespace prefix.
// bufSize controls the channel buffer; full buffers drop the newest event.
// Returns the channel and an unsubscribe function.
func (b *Bus) Subscribe(namespace string, bufSize int) (<-chan Event, func()) {
	return b.SubscribeWithPolicy(namespace, bufSize, DropNewest)
}

// SubscribeWithPolicy is Subscribe with an explicit overflow policy.
func (b *Bus) SubscribeWithPolicy(namespace string, bufSize int, policy Policy) (<-chan Event, func()) {
	if bufSize < 1 {
		bufSize = 1
	}
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = &subscription{namespace: namespace, policy: policy, ch: ch}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
}

// Subscribers returns the number of live subscriptions.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
