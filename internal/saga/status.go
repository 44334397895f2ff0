package saga

type Status string

const (
	StatusStarted      Status = "started"
	StatusInProgress   Status = "in_progress"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
	StatusCompensating Status = "compensating"
	StatusCompensated  Status = "compensated"
)

// Active reports whether the saga is still waiting for a participant outcome.
func (s Status) Active() bool {
	return s == StatusStarted || s == StatusInProgress
}

type Step string

const (
	StepValidateInventory Step = "validate_inventory"
	StepReserveInventory  Step = "reserve_inventory"
	StepProcessPayment    Step = "process_payment"
	StepCompensating      Step = "compensating"
	StepCompleted         Step = "completed"
)

// Next returns the step that follows s on the happy path.
// Compensating and Completed have no successor and return Completed.
func (s Step) Next() Step {
	switch s {
	case StepValidateInventory:
		return StepReserveInventory
	case StepReserveInventory:
		return StepProcessPayment
	default:
		return StepCompleted
	}
}

type Outcome string

const (
	OutcomePending   Outcome = "pending"
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
)
