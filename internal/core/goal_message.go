package core

import "time"

// GoalMessageRole identifies the speaker in a planning conversation turn.
type GoalMessageRole string

const (
	RoleUser      GoalMessageRole = "user"
	RoleAssistant GoalMessageRole = "assistant"
	RoleSystem    GoalMessageRole = "system"
)

// GoalMessageKind distinguishes plain conversation from a structured
// proposal the user can accept into real Tasks.
type GoalMessageKind string

const (
	MessageKindText          GoalMessageKind = "text"
	MessageKindTaskProposal  GoalMessageKind = "task_proposal"
)

// GoalMessage is one turn in the planning conversation attached to a goal.
type GoalMessage struct {
	ID        GoalMessageID   `json:"id"`
	GoalID    GoalID          `json:"goal_id"`
	Role      GoalMessageRole `json:"role"`
	Content   string          `json:"content"`
	Kind      GoalMessageKind `json:"kind"`
	Metadata  map[string]any  `json:"metadata,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewGoalMessage creates a plain-text GoalMessage.
func NewGoalMessage(goalID GoalID, role GoalMessageRole, content string) *GoalMessage {
	return &GoalMessage{
		ID:        NewGoalMessageID(),
		GoalID:    goalID,
		Role:      role,
		Content:   content,
		Kind:      MessageKindText,
		Timestamp: time.Now(),
	}
}

// WithTaskProposal marks the message as a task_proposal carrying structured
// metadata (e.g. the proposed task list from a decompose operation).
func (m *GoalMessage) WithTaskProposal(metadata map[string]any) *GoalMessage {
	m.Kind = MessageKindTaskProposal
	m.Metadata = metadata
	return m
}

// GoalMessageRepository persists the planning conversation.
type GoalMessageRepository interface {
	Append(m *GoalMessage) error
	ListByGoal(goalID GoalID) ([]*GoalMessage, error)
}
