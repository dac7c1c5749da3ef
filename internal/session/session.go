// Package session holds the live state of in-progress lead conversations, one per identity.
package session

import (
	"fmt"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/models"
)

// Phase is the coarse position of a session in the conversation.
type Phase int

const (
	// PhaseIdle means no conversation is running.
	PhaseIdle Phase = iota
	// PhaseCollecting means the session is waiting for the answer to field Step.
	PhaseCollecting
	// PhaseCompleted means every field is answered and delivery is in progress.
	PhaseCompleted
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseCollecting:
		return "collecting"
	case PhaseCompleted:
		return "completed"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// State is a tagged state value: Step is only meaningful while collecting.
type State struct {
	Phase Phase
	Step  int
}

// Idle returns the idle state.
func Idle() State { return State{Phase: PhaseIdle} }

// Collecting returns the state waiting for field step.
func Collecting(step int) State { return State{Phase: PhaseCollecting, Step: step} }

// Completed returns the terminal delivery state.
func Completed() State { return State{Phase: PhaseCompleted} }

func (s State) String() string {
	if s.Phase == PhaseCollecting {
		return fmt.Sprintf("collecting[%d]", s.Step)
	}
	return s.Phase.String()
}

// Answer is one accepted value.
type Answer struct {
	Value   string
	Display string
}

// Session is the state of one conversation. It is only touched while the owning identity's lock
// is held.
type Session struct {
	ID       string
	ChatID   string
	Username string
	State    State
	// Answers is positional: Answers[i] answers field i. While collecting field Step,
	// len(Answers) == Step.
	Answers []Answer
	// PromptRef is the last prompt the bot sent, used to edit it on completion.
	PromptRef models.MessageRef
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Accept records the answer to the current step and advances. total is the number of fields in
// the form; the session moves to Completed after the last one.
func (s *Session) Accept(answer Answer, total int) error {
	if s.State.Phase != PhaseCollecting {
		return fmt.Errorf("session %s: cannot accept answer in state %s", s.ID, s.State)
	}
	if len(s.Answers) != s.State.Step {
		return fmt.Errorf("session %s: answers out of step (have %d, step %d)", s.ID, len(s.Answers), s.State.Step)
	}
	s.Answers = append(s.Answers, answer)
	next := s.State.Step + 1
	if next >= total {
		s.State = Completed()
	} else {
		s.State = Collecting(next)
	}
	s.UpdatedAt = time.Now()
	return nil
}
