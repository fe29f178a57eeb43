package core

import "time"

// TaskStatus is the lifecycle state of a Task within a goal's DAG.
type TaskStatus string

const (
	TaskStatusPending  TaskStatus = "pending"
	TaskStatusAssigned TaskStatus = "assigned"
	TaskStatusRunning  TaskStatus = "running"
	TaskStatusDone     TaskStatus = "done"
	TaskStatusFailed   TaskStatus = "failed"
	TaskStatusBlocked  TaskStatus = "blocked"
)

// Task is a node in a goal's dependency DAG.
//
// Invariants (I1-I5): depends_on forms an acyclic graph restricted to the
// same goal (I1, I2); Blocked holds iff some dependency is not Done (I3);
// Assigned and Running are reached only through the Supervisor (I4); at
// most one AgentRun is Running for a task at any time (I5) — enforced by
// the Task Scheduler, not by this struct.
type Task struct {
	ID          TaskID     `json:"id"`
	GoalID      GoalID     `json:"goal_id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Priority    int        `json:"priority"`
	Status      TaskStatus `json:"status"`
	DependsOn   []TaskID   `json:"depends_on"`
	Settings    *Settings  `json:"settings,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// NewTask creates a Task with no dependencies, immediately pending per the
// boundary behavior: a task with an empty depends_on is pending on creation.
func NewTask(goalID GoalID, title, description string) *Task {
	now := time.Now()
	return &Task{
		ID:          NewTaskID(),
		GoalID:      goalID,
		Title:       title,
		Description: description,
		Status:      TaskStatusPending,
		DependsOn:   nil,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// WithPriority sets the dispatch priority (higher dispatches earlier).
func (t *Task) WithPriority(p int) *Task {
	t.Priority = p
	return t
}

// WithDependsOn sets the task's dependency set and, if any dependency is
// present, marks the task blocked (I3).
func (t *Task) WithDependsOn(deps ...TaskID) *Task {
	t.DependsOn = deps
	if len(deps) > 0 {
		t.Status = TaskStatusBlocked
	}
	return t
}

// WithSettings attaches a task-level settings override.
func (t *Task) WithSettings(s Settings) *Task {
	t.Settings = &s
	return t
}

// IsBlocked evaluates I3 against a map of completed dependency ids.
func (t *Task) IsBlocked(done map[TaskID]bool) bool {
	for _, dep := range t.DependsOn {
		if !done[dep] {
			return true
		}
	}
	return false
}

// MarkAssigned transitions pending -> assigned (I4: only via the supervisor
// path, enforced by callers restricting who invokes this).
func (t *Task) MarkAssigned() error {
	if t.Status != TaskStatusPending {
		return ErrState(CodeInvalidState, "task must be pending to assign")
	}
	t.Status = TaskStatusAssigned
	t.UpdatedAt = time.Now()
	return nil
}

// MarkRunning transitions assigned -> running.
func (t *Task) MarkRunning() error {
	if t.Status != TaskStatusAssigned {
		return ErrState(CodeInvalidState, "task must be assigned to run")
	}
	t.Status = TaskStatusRunning
	t.UpdatedAt = time.Now()
	return nil
}

// MarkDone transitions the task to done.
func (t *Task) MarkDone() {
	t.Status = TaskStatusDone
	t.UpdatedAt = time.Now()
}

// MarkFailed transitions the task to failed.
func (t *Task) MarkFailed() {
	t.Status = TaskStatusFailed
	t.UpdatedAt = time.Now()
}

// MarkBlocked transitions the task to blocked.
func (t *Task) MarkBlocked() {
	t.Status = TaskStatusBlocked
	t.UpdatedAt = time.Now()
}

// MarkPending transitions the task to pending, e.g. on a blocked -> pending
// recompute, or on retry.
func (t *Task) MarkPending() {
	t.Status = TaskStatusPending
	t.UpdatedAt = time.Now()
}

// CanRetry reports whether the task is eligible for retry(task_id): current
// status must be failed.
func (t *Task) CanRetry() bool {
	return t.Status == TaskStatusFailed
}

// HasCycle reports whether the depends_on relation over the given tasks
// (all assumed to belong to the same goal) contains a cycle, via a
// straightforward DFS with a recursion stack.
func HasCycle(tasks []*Task) bool {
	byID := make(map[TaskID]*Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[TaskID]int, len(tasks))
	var visit func(id TaskID) bool
	visit = func(id TaskID) bool {
		color[id] = gray
		t := byID[id]
		if t != nil {
			for _, dep := range t.DependsOn {
				switch color[dep] {
				case gray:
					return true
				case white:
					if visit(dep) {
						return true
					}
				}
			}
		}
		color[id] = black
		return false
	}
	for _, t := range tasks {
		if color[t.ID] == white {
			if visit(t.ID) {
				return true
			}
		}
	}
	return false
}

// DependenciesWithinGoal reports whether every dependency id referenced by
// every task resolves to a task present in the same set (I2).
func DependenciesWithinGoal(tasks []*Task) bool {
	present := make(map[TaskID]bool, len(tasks))
	for _, t := range tasks {
		present[t.ID] = true
	}
	for _, t := range tasks {
		for _, dep := range t.DependsOn {
			if !present[dep] {
				return false
			}
		}
	}
	return true
}

// TaskRepository persists Tasks and their dependency edges.
type TaskRepository interface {
	Create(t *Task) error
	Get(id TaskID) (*Task, error)
	ListByGoal(goalID GoalID) ([]*Task, error)
	Update(t *Task) error
	Delete(id TaskID) error
}
