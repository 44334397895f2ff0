package saga

import (
	"fmt"
	"time"
)

type state struct {
	status      Status
	step        Step
	completedAt *time.Time
	entries     int
}

// apply is the single transition function. Live transitions and replay both go
// through it, so a saga can never drift from its history.
func (st state) apply(e Entry) (state, error) {
	invalid := func() (state, error) {
		return st, fmt.Errorf("%w: %s %s in status %s at step %s",
			ErrInvalidTransition, e.Step, e.Outcome, st.status, st.step)
	}

	if st.entries == 0 {
		if e.Step != StepValidateInventory || e.Outcome != OutcomePending {
			return invalid()
		}
		return state{status: StatusStarted, step: StepValidateInventory, entries: 1}, nil
	}

	next := st
	next.entries++

	switch {
	case e.Step == StepCompensating && e.Outcome == OutcomePending:
		if st.status != StatusFailed || st.step != StepCompensating {
			return invalid()
		}
		next.status = StatusCompensating

	case e.Step == StepCompensating && e.Outcome == OutcomeCompleted:
		if st.status != StatusCompensating {
			return invalid()
		}
		ts := e.Timestamp
		next.status = StatusCompensated
		next.step = StepCompleted
		next.completedAt = &ts

	case e.Outcome == OutcomeCompleted:
		if !st.status.Active() || st.step != e.Step || e.Step == StepCompleted {
			return invalid()
		}
		next.step = e.Step.Next()
		next.status = StatusInProgress
		if next.step == StepCompleted {
			ts := e.Timestamp
			next.status = StatusCompleted
			next.completedAt = &ts
		}

	case e.Outcome == OutcomeFailed:
		if !st.status.Active() || st.step != e.Step || e.Step == StepCompleted {
			return invalid()
		}
		next.status = StatusFailed
		next.step = StepCompensating

	default:
		return invalid()
	}

	return next, nil
}

func replay(history []Entry) (state, error) {
	var st state
	for i, e := range history {
		var err error
		if st, err = st.apply(e); err != nil {
			return state{}, fmt.Errorf("history entry %d: %w", i, err)
		}
	}
	return st, nil
}

// Replay derives status and current step from a history alone.
func Replay(history []Entry) (Status, Step, error) {
	st, err := replay(history)
	if err != nil {
		return "", "", err
	}
	return st.status, st.step, nil
}
