package core

import "time"

// OperationKind enumerates the long-running user requests the Operation
// Tracker (4.F) observes.
type OperationKind string

const (
	OperationDecompose OperationKind = "decompose"
	OperationDispatch  OperationKind = "dispatch"
)

// OperationStatus is the lifecycle state of an Operation.
type OperationStatus string

const (
	OperationRunning   OperationStatus = "running"
	OperationCompleted OperationStatus = "completed"
	OperationFailed    OperationStatus = "failed"
)

// Operation tracks one long-running user-initiated request as a
// first-class observable entity.
type Operation struct {
	ID            OperationID     `json:"id"`
	GoalID        GoalID          `json:"goal_id"`
	Kind          OperationKind   `json:"kind"`
	Status        OperationStatus `json:"status"`
	LatestMessage string          `json:"latest_message"`
	Result        map[string]any  `json:"result,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// NewOperation begins an Operation in status running (begin()).
func NewOperation(kind OperationKind, goalID GoalID) *Operation {
	now := time.Now()
	return &Operation{
		ID:        NewOperationID(),
		GoalID:    goalID,
		Kind:      kind,
		Status:    OperationRunning,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Progress records a running-status update (progress()). A no-op once the
// operation has reached a terminal state.
func (o *Operation) Progress(message string) {
	if o.Status != OperationRunning {
		return
	}
	o.LatestMessage = message
	o.UpdatedAt = time.Now()
}

// Complete performs the single terminal running->completed transition;
// further calls are ignored.
func (o *Operation) Complete(result map[string]any) {
	if o.Status != OperationRunning {
		return
	}
	o.Status = OperationCompleted
	o.Result = result
	o.UpdatedAt = time.Now()
}

// Fail performs the single terminal running->failed transition; further
// calls are ignored.
func (o *Operation) Fail(message string) {
	if o.Status != OperationRunning {
		return
	}
	o.Status = OperationFailed
	o.LatestMessage = message
	o.UpdatedAt = time.Now()
}

// IsTerminal reports whether the operation has reached completed or failed.
func (o *Operation) IsTerminal() bool {
	return o.Status == OperationCompleted || o.Status == OperationFailed
}

// OperationTrackerExpiry is how long a terminal Operation remains tracked
// in memory before auto-expiring.
const OperationTrackerExpiry = 30 * time.Second
