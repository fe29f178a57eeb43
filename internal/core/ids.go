package core

import "github.com/google/uuid"

// ProjectID identifies a Project.
type ProjectID string

// GoalID identifies a Goal.
type GoalID string

// TaskID identifies a Task.
type TaskID string

// AgentRunID identifies an AgentRun.
type AgentRunID string

// OperationID identifies an Operation.
type OperationID string

// GoalMessageID identifies a GoalMessage.
type GoalMessageID string

// newID mints a 128-bit UUID serialized as text, per the persisted state
// layout (identifiers are UUIDs stored as text).
func newID() string {
	return uuid.NewString()
}

// NewProjectID mints a fresh ProjectID.
func NewProjectID() ProjectID { return ProjectID(newID()) }

// NewGoalID mints a fresh GoalID.
func NewGoalID() GoalID { return GoalID(newID()) }

// NewTaskID mints a fresh TaskID.
func NewTaskID() TaskID { return TaskID(newID()) }

// NewAgentRunID mints a fresh AgentRunID.
func NewAgentRunID() AgentRunID { return AgentRunID(newID()) }

// NewOperationID mints a fresh OperationID.
func NewOperationID() OperationID { return OperationID(newID()) }

// NewGoalMessageID mints a fresh GoalMessageID.
func NewGoalMessageID() GoalMessageID { return GoalMessageID(newID()) }
