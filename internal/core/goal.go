package core

import "time"

// GoalStatus is the lifecycle state of a Goal.
type GoalStatus string

const (
	GoalStatusActive    GoalStatus = "active"
	GoalStatusPaused    GoalStatus = "paused"
	GoalStatusCompleted GoalStatus = "completed"
	GoalStatusArchived  GoalStatus = "archived"
)

// Goal is a user intent against a project, decomposed into a task DAG.
type Goal struct {
	ID          GoalID     `json:"id"`
	ProjectID   ProjectID  `json:"project_id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Status      GoalStatus `json:"status"`
	Settings    Settings   `json:"settings"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// NewGoal creates a Goal in status active.
func NewGoal(projectID ProjectID, name, description string) *Goal {
	now := time.Now()
	return &Goal{
		ID:          NewGoalID(),
		ProjectID:   projectID,
		Name:        name,
		Description: description,
		Status:      GoalStatusActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// AcceptsDispatch reports whether the goal currently allows new dispatches.
// Paused and archived goals refuse all new dispatches; already-running
// agents are not interrupted by this check.
func (g *Goal) AcceptsDispatch() bool {
	return g.Status == GoalStatusActive
}

// Pause transitions an active goal to paused.
func (g *Goal) Pause() error {
	if g.Status != GoalStatusActive {
		return ErrState(CodeInvalidState, "goal must be active to pause")
	}
	g.Status = GoalStatusPaused
	g.UpdatedAt = time.Now()
	return nil
}

// Resume transitions a paused goal back to active.
func (g *Goal) Resume() error {
	if g.Status != GoalStatusPaused {
		return ErrState(CodeInvalidState, "goal must be paused to resume")
	}
	g.Status = GoalStatusActive
	g.UpdatedAt = time.Now()
	return nil
}

// Archive hides the goal from default listings regardless of prior status.
func (g *Goal) Archive() {
	g.Status = GoalStatusArchived
	g.UpdatedAt = time.Now()
}

// Complete marks the goal completed; callers must have already verified
// every task in the goal is done.
func (g *Goal) Complete() {
	g.Status = GoalStatusCompleted
	g.UpdatedAt = time.Now()
}

// GoalRepository persists Goals.
type GoalRepository interface {
	Create(g *Goal) error
	Get(id GoalID) (*Goal, error)
	ListByProject(projectID ProjectID) ([]*Goal, error)
	Update(g *Goal) error
	Delete(id GoalID) error
}
