package core

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors for handling decisions.
type ErrorCategory string

const (
	ErrCatValidation ErrorCategory = "validation" // Invalid input
	ErrCatExecution  ErrorCategory = "execution"  // Runtime failure
	ErrCatTimeout    ErrorCategory = "timeout"    // Operation timed out
	ErrCatState      ErrorCategory = "state"      // State corruption/conflict
	ErrCatAuth       ErrorCategory = "auth"       // Authentication failure
	ErrCatNetwork    ErrorCategory = "network"    // Network connectivity
	ErrCatNotFound   ErrorCategory = "not_found"  // Resource not found
	ErrCatConflict   ErrorCategory = "conflict"   // Concurrent modification
	ErrCatInternal   ErrorCategory = "internal"   // Unexpected internal error
	ErrCatBudget     ErrorCategory = "budget"     // Cost budget exceeded
	ErrCatResource   ErrorCategory = "resource"   // Worktree/process resource exhaustion
)

// DomainError represents a structured error from the domain layer.
type DomainError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Retryable bool
	Cause     error
	Details   map[string]interface{}
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %s (%v)", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches a target.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Category == t.Category && e.Code == t.Code
}

// WithCause wraps an underlying error.
func (e *DomainError) WithCause(cause error) *DomainError {
	e.Cause = cause
	return e
}

// WithDetail adds contextual information.
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// ErrValidation creates a validation error.
func ErrValidation(code, message string) *DomainError {
	return &DomainError{
		Category:  ErrCatValidation,
		Code:      code,
		Message:   message,
		Retryable: false,
	}
}

// ErrExecution creates an execution error.
func ErrExecution(code, message string) *DomainError {
	return &DomainError{
		Category:  ErrCatExecution,
		Code:      code,
		Message:   message,
		Retryable: true,
	}
}

// ErrTimeout creates a timeout error.
func ErrTimeout(message string) *DomainError {
	return &DomainError{
		Category:  ErrCatTimeout,
		Code:      "TIMEOUT",
		Message:   message,
		Retryable: true,
	}
}

// ErrState creates a state error.
func ErrState(code, message string) *DomainError {
	return &DomainError{
		Category:  ErrCatState,
		Code:      code,
		Message:   message,
		Retryable: false,
	}
}

// ErrDAGCycle creates an invariant-violation error for a cyclic depends_on
// relation (I1); rejected at the API boundary, never mutates state.
func ErrDAGCycle(goalID string) *DomainError {
	return &DomainError{
		Category:  ErrCatValidation,
		Code:      CodeDAGCycle,
		Message:   fmt.Sprintf("depends_on relation for goal %s contains a cycle", goalID),
		Retryable: false,
	}
}

// ErrCrossGoalDependency creates an invariant-violation error for a
// dependency referencing a task outside the goal (I2).
func ErrCrossGoalDependency(taskID, depID string) *DomainError {
	return &DomainError{
		Category:  ErrCatValidation,
		Code:      CodeCrossGoalDependency,
		Message:   fmt.Sprintf("task %s depends on %s, which is not in the same goal", taskID, depID),
		Retryable: false,
	}
}

// ErrBusyRepo creates a resource-exhaustion error for acquire() against a
// repository currently in a rebase/merge state.
func ErrBusyRepo(repoPath string) *DomainError {
	return &DomainError{
		Category:  ErrCatResource,
		Code:      CodeBusyRepo,
		Message:   fmt.Sprintf("repository %s is mid-rebase or mid-merge", repoPath),
		Retryable: true,
	}
}

// ErrWorktreeExists creates a resource-exhaustion error for a label
// collision that persisted past the retry-with-fresh-suffix attempt.
func ErrWorktreeExists(label string) *DomainError {
	return &DomainError{
		Category:  ErrCatResource,
		Code:      CodeWorktreeExists,
		Message:   fmt.Sprintf("worktree for label %q already exists", label),
		Retryable: true,
	}
}

// ErrMergeConflict creates a merge-conflict error; the branch is retained
// for human review.
func ErrMergeConflict(branch string, files []string) *DomainError {
	return &DomainError{
		Category:  ErrCatConflict,
		Code:      CodeMergeConflict,
		Message:   fmt.Sprintf("merge of %s produced conflicts in %d file(s)", branch, len(files)),
		Retryable: false,
		Details: map[string]interface{}{
			"branch": branch,
			"files":  files,
		},
	}
}

// ErrAgentNotInteractive creates an error for nudge() against a run that is
// not running or stalled.
func ErrAgentNotInteractive(runID string) *DomainError {
	return &DomainError{
		Category:  ErrCatState,
		Code:      CodeAgentNotInteractive,
		Message:   fmt.Sprintf("agent run %s is not accepting input", runID),
		Retryable: false,
	}
}

// ErrAuth creates an authentication error.
func ErrAuth(message string) *DomainError {
	return &DomainError{
		Category:  ErrCatAuth,
		Code:      "AUTH_FAILED",
		Message:   message,
		Retryable: false,
	}
}

// ErrNotFound creates a not found error.
func ErrNotFound(resource, id string) *DomainError {
	return &DomainError{
		Category:  ErrCatNotFound,
		Code:      "NOT_FOUND",
		Message:   fmt.Sprintf("%s not found: %s", resource, id),
		Retryable: false,
	}
}

// ErrAgentRunBudgetExceeded creates an error when an AgentRun's accumulated
// cost reaches its configured budget cap (watchdog condition 3).
func ErrAgentRunBudgetExceeded(runID string, cost, limit float64) *DomainError {
	return &DomainError{
		Category:  ErrCatBudget,
		Code:      "AGENT_RUN_BUDGET_EXCEEDED",
		Message:   fmt.Sprintf("agent run %s cost $%.4f reached cap $%.2f", runID, cost, limit),
		Retryable: false,
		Details: map[string]interface{}{
			"run_id": runID,
			"cost":   cost,
			"limit":  limit,
		},
	}
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var domErr *DomainError
	if errors.As(err, &domErr) {
		return domErr.Retryable
	}
	return false
}

// GetCategory extracts the error category.
func GetCategory(err error) ErrorCategory {
	var domErr *DomainError
	if errors.As(err, &domErr) {
		return domErr.Category
	}
	return ErrCatInternal
}

// IsCategory checks if an error belongs to a category.
func IsCategory(err error, cat ErrorCategory) bool {
	return GetCategory(err) == cat
}

// Predefined error codes
const (
	CodeTaskNotFound      = "TASK_NOT_FOUND"
	CodeGoalNotFound      = "GOAL_NOT_FOUND"
	CodeProjectNotFound   = "PROJECT_NOT_FOUND"
	CodeAgentRunNotFound  = "AGENT_RUN_NOT_FOUND"
	CodeInvalidState      = "INVALID_STATE"
	CodeLockAcquireFailed = "LOCK_ACQUIRE_FAILED"
	CodeStateCorrupted    = "STATE_CORRUPTED"
	CodeMergeConflict     = "MERGE_CONFLICT"

	// Validation error codes
	CodeEmptyPrompt         = "EMPTY_PROMPT"
	CodePromptTooLong       = "PROMPT_TOO_LONG"
	CodeInvalidConfig       = "INVALID_CONFIG"
	CodeInvalidTimeout      = "INVALID_TIMEOUT"
	CodeMissingTasks        = "MISSING_TASKS"
	CodeDAGCycle            = "DAG_CYCLE"
	CodeCrossGoalDependency = "CROSS_GOAL_DEPENDENCY"
	CodeRetryNotFailed      = "RETRY_NOT_FAILED"

	// Execution error codes
	CodeAgentFailed         = "AGENT_FAILED"
	CodeExecutionStuck      = "EXECUTION_STUCK"
	CodeParseFailed         = "PARSE_FAILED"
	CodeBusyRepo            = "BUSY_REPO"
	CodeWorktreeExists      = "WORKTREE_EXISTS"
	CodeAgentNotInteractive = "AGENT_NOT_INTERACTIVE"
	CodeAcquireFailed       = "ACQUIRE_FAILED"
	CodeLost                = "LOST"
)

// MaxPromptLength is the maximum allowed prompt length for a task title +
// description handed to an agent process.
const MaxPromptLength = 100000
