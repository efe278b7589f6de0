package status

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/matheus3301/messenger/internal/bus"
)

// State represents the login state of a profile.
type State string

const (
	LoggedOut      State = "LOGGED_OUT"
	Authenticating State = "AUTHENTICATING"
	Provisioning   State = "PROVISIONING"
	Ready          State = "READY"
	Error          State = "ERROR"
)

// EventStatusChanged is published on every transition.
const EventStatusChanged = "session.status_changed"

// ErrInvalidTransition is wrapped by Transition when a move is not allowed.
var ErrInvalidTransition = errors.New("invalid transition")

// validTransitions defines allowed state transitions.
var validTransitions = map[State][]State{
	LoggedOut:      {Authenticating, Ready},
	Authenticating: {Provisioning, Ready, Error},
	Provisioning:   {Ready, Error},
	Ready:          {LoggedOut, Authenticating},
	Error:          {LoggedOut, Authenticating},
}

// Machine tracks and enforces login state transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

// NewMachine creates a new state machine starting in LoggedOut state.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current: LoggedOut,
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition attempts to move to a new state. Returns error if transition is invalid.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("%w from %s to %s", ErrInvalidTransition, m.current, to)
	}
	from := m.current
	m.current = to
	if m.bus != nil {
		m.bus.Publish(bus.NewEvent(EventStatusChanged, StatusChange{From: from, To: to}))
	}
	return nil
}

// Fail moves to Error from any state that allows it and reports whether it did.
func (m *Machine) Fail() bool {
	return m.Transition(Error) == nil
}

// StatusChange is the payload for status change events.
type StatusChange struct {
	From State
	To   State
}
