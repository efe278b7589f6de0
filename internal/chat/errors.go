package chat

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrFetchFailed is returned when a list was never written or holds a
	// value of the wrong shape.
	ErrFetchFailed = errors.New("chat: fetch failed")
	// ErrUserNotFound is returned when the acting user has no record.
	ErrUserNotFound = errors.New("chat: user not found")
	// ErrConversationNotFound is returned when a conversation has no message
	// list, or no summary links the two participants.
	ErrConversationNotFound = errors.New("chat: conversation not found")
)

// errSkip aborts a read-modify-write without writing.
var errSkip = errors.New("chat: nothing to update")

// Outcome is what happened to one step of a multi-step operation.
type Outcome string

const (
	Applied      Outcome = "applied"
	Failed       Outcome = "failed"
	Skipped      Outcome = "skipped"
	NotAttempted Outcome = "not_attempted"
)

// Step records the outcome of one write of a multi-step operation.
type Step struct {
	Name    string  `json:"name"`
	Outcome Outcome `json:"outcome"`
	Error   string  `json:"error,omitempty"`
	Err     error   `json:"-"`
}

// PartialError reports an operation that stopped with some of its writes
// landed. Steps lists every step in order.
type PartialError struct {
	Op    string
	Steps []Step
	Err   error
}

func (e *PartialError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "chat: %s partially applied", e.Op)
	if applied := e.Applied(); len(applied) > 0 {
		fmt.Fprintf(&b, " (applied: %s)", strings.Join(applied, ", "))
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *PartialError) Unwrap() error { return e.Err }

// Applied returns the names of the steps that landed.
func (e *PartialError) Applied() []string {
	var names []string
	for _, s := range e.Steps {
		if s.Outcome == Applied {
			names = append(names, s.Name)
		}
	}
	return names
}

// Outcome returns the outcome of the named step, or NotAttempted.
func (e *PartialError) Outcome(name string) Outcome {
	for _, s := range e.Steps {
		if s.Name == name {
			return s.Outcome
		}
	}
	return NotAttempted
}

// saga records step outcomes as an operation proceeds.
type saga struct {
	op    string
	steps []Step
}

func newSaga(op string, names ...string) *saga {
	s := &saga{op: op}
	for _, n := range names {
		s.steps = append(s.steps, Step{Name: n, Outcome: NotAttempted})
	}
	return s
}

func (s *saga) record(name string, err error) Outcome {
	out := Applied
	switch {
	case errors.Is(err, errSkip):
		out, err = Skipped, nil
	case err != nil:
		out = Failed
	}
	for i := range s.steps {
		if s.steps[i].Name == name {
			s.steps[i].Outcome = out
			s.steps[i].Err = err
			if err != nil {
				s.steps[i].Error = err.Error()
			}
			return out
		}
	}
	step := Step{Name: name, Outcome: out, Err: err}
	if err != nil {
		step.Error = err.Error()
	}
	s.steps = append(s.steps, step)
	return out
}

func (s *saga) run(name string, fn func() error) error {
	err := fn()
	if s.record(name, err) == Failed {
		return err
	}
	return nil
}

func (s *saga) partial(err error) *PartialError {
	steps := make([]Step, len(s.steps))
	copy(steps, s.steps)
	return &PartialError{Op: s.op, Steps: steps, Err: err}
}
