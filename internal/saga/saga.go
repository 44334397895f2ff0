package saga

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound          = errors.New("saga not found")
	ErrInvalidTransition = errors.New("invalid saga transition")
	ErrHistoryMismatch   = errors.New("saga state does not match its history")
)

const (
	msgStarted              = "Saga started"
	msgStartingCompensation = "Starting compensation"
)

var now = func() time.Time { return time.Now().UTC() }

// Entry is one immutable record in a saga's history.
type Entry struct {
	Step      Step      `json:"step"`
	Outcome   Outcome   `json:"outcome"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Saga tracks the progress of one order through the pipeline.
// Status, CurrentStep and CompletedAt are always the result of replaying History.
type Saga struct {
	ID          string     `json:"id"`
	OrderID     string     `json:"orderId"`
	Status      Status     `json:"status"`
	CurrentStep Step       `json:"currentStep"`
	History     []Entry    `json:"history"`
	CreatedAt   time.Time  `json:"createdAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`

	// number of history entries already stored; the repository appends the rest
	persisted int
}

func Start(orderID string) *Saga {
	ts := now()
	s := &Saga{
		ID:        uuid.NewString(),
		OrderID:   orderID,
		CreatedAt: ts,
	}
	// the first entry is always valid against the zero state
	_ = s.record(Entry{Step: StepValidateInventory, Outcome: OutcomePending, Message: msgStarted, Timestamp: ts})
	return s
}

// Restore rebuilds a saga loaded from storage. The stored status and step must
// agree with what the history replays to.
func Restore(id, orderID string, status Status, step Step, history []Entry, createdAt time.Time, completedAt *time.Time) (*Saga, error) {
	st, err := replay(history)
	if err != nil {
		return nil, err
	}
	if st.status != status || st.step != step {
		return nil, fmt.Errorf("%w: saga %s stored %s/%s, history gives %s/%s",
			ErrHistoryMismatch, id, status, step, st.status, st.step)
	}
	return &Saga{
		ID:          id,
		OrderID:     orderID,
		Status:      status,
		CurrentStep: step,
		History:     history,
		CreatedAt:   createdAt,
		CompletedAt: completedAt,
		persisted:   len(history),
	}, nil
}

func (s *Saga) CompleteStep(step Step, message string) error {
	return s.record(Entry{Step: step, Outcome: OutcomeCompleted, Message: message, Timestamp: now()})
}

func (s *Saga) FailStep(step Step, reason string) error {
	return s.record(Entry{Step: step, Outcome: OutcomeFailed, Message: reason, Timestamp: now()})
}

func (s *Saga) StartCompensation() error {
	return s.record(Entry{Step: StepCompensating, Outcome: OutcomePending, Message: msgStartingCompensation, Timestamp: now()})
}

func (s *Saga) CompleteCompensation(message string) error {
	return s.record(Entry{Step: StepCompensating, Outcome: OutcomeCompleted, Message: message, Timestamp: now()})
}

// Awaiting reports whether an outcome for step would advance the saga.
// Anything else is a duplicate, late or out-of-order delivery.
func (s *Saga) Awaiting(step Step) bool {
	return s.Status.Active() && s.CurrentStep == step
}

// Unsaved returns the history entries not yet written by the repository.
func (s *Saga) Unsaved() []Entry {
	return s.History[s.persisted:]
}

func (s *Saga) record(e Entry) error {
	next, err := s.state().apply(e)
	if err != nil {
		return err
	}
	s.History = append(s.History, e)
	s.Status = next.status
	s.CurrentStep = next.step
	s.CompletedAt = next.completedAt
	return nil
}

func (s *Saga) state() state {
	return state{
		status:      s.Status,
		step:        s.CurrentStep,
		completedAt: s.CompletedAt,
		entries:     len(s.History),
	}
}
