// Package scheduler implements the Task Scheduler (spec §4.E): holds the
// per-goal task DAG, maintains task states, and dispatches newly-unblocked
// tasks to the Agent Supervisor on every state transition.
package scheduler

import (
	"context"
	"sort"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/hugo-lorenzo-mato/quorum-ai/internal/core"
	"github.com/hugo-lorenzo-mato/quorum-ai/internal/logging"
)

// Dispatcher starts an Agent Supervisor for one task and returns once the
// supervisor has reached a terminal state, invoking onTerminal itself
// (spec §9: a plain callback resolves the supervisor/scheduler coupling,
// neither side holds a strong back-reference to the other).
type Dispatcher func(ctx context.Context, task *core.Task, settings core.Settings, onTerminal func(run *core.AgentRun, task *core.Task))

// Deps bundles the repository ports the Scheduler consults.
type Deps struct {
	Tasks      core.TaskRepository
	Goals      core.GoalRepository
	Projects   core.ProjectRepository
	Dispatch   Dispatcher
	Logger     *logging.Logger
}

// Scheduler holds a live view of task DAGs per goal; persistence remains
// authoritative (spec §3 Ownership note).
type Scheduler struct {
	deps Deps

	mu        sync.Mutex
	goalLocks map[core.GoalID]*sync.Mutex
	sems      map[core.GoalID]*semaphore.Weighted
}

// New constructs a Scheduler.
func New(deps Deps) *Scheduler {
	return &Scheduler{
		deps:      deps,
		goalLocks: make(map[core.GoalID]*sync.Mutex),
		sems:      make(map[core.GoalID]*semaphore.Weighted),
	}
}

// lockFor returns the per-goal mutex, serializing all scheduler mutations
// for one goal (spec §5: two scheduler operations on the same goal never
// interleave; cross-goal operations run in parallel).
func (s *Scheduler) lockFor(goalID core.GoalID) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.goalLocks[goalID]
	if !ok {
		l = &sync.Mutex{}
		s.goalLocks[goalID] = l
	}
	return l
}

func (s *Scheduler) semFor(goalID core.GoalID, cap int64) *semaphore.Weighted {
	s.mu.Lock()
	defer s.mu.Unlock()
	sem, ok := s.sems[goalID]
	if !ok && cap > 0 {
		sem = semaphore.NewWeighted(cap)
		s.sems[goalID] = sem
	}
	return sem
}

// Register loads tasks from persistence, verifies the DAG invariants
// (I1, I2), and computes the initial status map: every task with one or
// more non-done dependencies is blocked, else left as persisted (spec
// §4.E register).
func (s *Scheduler) Register(goalID core.GoalID) error {
	lock := s.lockFor(goalID)
	lock.Lock()
	defer lock.Unlock()

	tasks, err := s.deps.Tasks.ListByGoal(goalID)
	if err != nil {
		return err
	}
	if core.HasCycle(tasks) {
		return core.ErrDAGCycle(string(goalID))
	}
	if !core.DependenciesWithinGoal(tasks) {
		for _, t := range tasks {
			for _, dep := range t.DependsOn {
				if !taskPresent(tasks, dep) {
					return core.ErrCrossGoalDependency(string(t.ID), string(dep))
				}
			}
		}
	}

	done := doneSet(tasks)
	for _, t := range tasks {
		switch t.Status {
		case core.TaskStatusAssigned, core.TaskStatusRunning, core.TaskStatusDone, core.TaskStatusFailed:
			continue
		default:
			if t.IsBlocked(done) {
				t.MarkBlocked()
			} else {
				t.MarkPending()
			}
			_ = s.deps.Tasks.Update(t)
		}
	}
	return nil
}

func taskPresent(tasks []*core.Task, id core.TaskID) bool {
	for _, t := range tasks {
		if t.ID == id {
			return true
		}
	}
	return false
}

func doneSet(tasks []*core.Task) map[core.TaskID]bool {
	done := make(map[core.TaskID]bool, len(tasks))
	for _, t := range tasks {
		if t.Status == core.TaskStatusDone {
			done[t.ID] = true
		}
	}
	return done
}

// RecomputeAfter re-evaluates the blocked-ness of every task that depends
// on taskID; a blocked -> pending transition makes the task a dispatch
// candidate (spec §4.E recompute_after).
func (s *Scheduler) RecomputeAfter(goalID core.GoalID, taskID core.TaskID) ([]*core.Task, error) {
	lock := s.lockFor(goalID)
	lock.Lock()
	defer lock.Unlock()
	return s.recomputeAfterLocked(goalID, taskID)
}

func (s *Scheduler) recomputeAfterLocked(goalID core.GoalID, taskID core.TaskID) ([]*core.Task, error) {
	tasks, err := s.deps.Tasks.ListByGoal(goalID)
	if err != nil {
		return nil, err
	}
	done := doneSet(tasks)
	var unblocked []*core.Task
	for _, t := range tasks {
		if t.Status != core.TaskStatusBlocked {
			continue
		}
		if !dependsOn(t, taskID) {
			continue
		}
		if !t.IsBlocked(done) {
			t.MarkPending()
			_ = s.deps.Tasks.Update(t)
			unblocked = append(unblocked, t)
		}
	}
	return unblocked, nil
}

func dependsOn(t *core.Task, id core.TaskID) bool {
	for _, d := range t.DependsOn {
		if d == id {
			return true
		}
	}
	return false
}

// dispatchOrder sorts candidates descending priority, ascending creation
// time, ties broken by id (spec §4.E Ordering).
func dispatchOrder(tasks []*core.Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		if tasks[i].Priority != tasks[j].Priority {
			return tasks[i].Priority > tasks[j].Priority
		}
		if !tasks[i].CreatedAt.Equal(tasks[j].CreatedAt) {
			return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
		}
		return tasks[i].ID < tasks[j].ID
	})
}

// DispatchAll dispatches every pending task in the goal, provided the goal
// is active, respecting the per-goal concurrency cap if one is configured
// (spec §4.E dispatch_all). Returns the agent runs started.
func (s *Scheduler) DispatchAll(ctx context.Context, goalID core.GoalID) ([]*core.Task, error) {
	lock := s.lockFor(goalID)
	lock.Lock()
	defer lock.Unlock()

	goal, err := s.deps.Goals.Get(goalID)
	if err != nil {
		return nil, err
	}
	if !goal.AcceptsDispatch() {
		return nil, nil
	}

	tasks, err := s.deps.Tasks.ListByGoal(goalID)
	if err != nil {
		return nil, err
	}
	var pending []*core.Task
	for _, t := range tasks {
		if t.Status == core.TaskStatusPending {
			pending = append(pending, t)
		}
	}
	dispatchOrder(pending)

	project, err := s.deps.Projects.Get(goal.ProjectID)
	if err != nil {
		return nil, err
	}

	sem := s.semFor(goalID, int64(goal.Settings.MaxConcurrentAgents))
	var started []*core.Task
	for _, t := range pending {
		if sem != nil && !sem.TryAcquire(1) {
			continue
		}
		if err := t.MarkAssigned(); err != nil {
			if sem != nil {
				sem.Release(1)
			}
			continue
		}
		_ = s.deps.Tasks.Update(t)
		settings := core.ResolveSettings(t.Settings, &goal.Settings, &project.Settings)
		task := t
		s.deps.Dispatch(ctx, task, settings, func(run *core.AgentRun, finishedTask *core.Task) {
			if sem != nil {
				sem.Release(1)
			}
			s.OnAgentTerminal(ctx, run, finishedTask)
		})
		started = append(started, t)
	}
	return started, nil
}

// DispatchOne dispatches a single task; refuses if it is not pending
// (spec §4.E dispatch_one).
func (s *Scheduler) DispatchOne(ctx context.Context, taskID core.TaskID) error {
	task, err := s.deps.Tasks.Get(taskID)
	if err != nil {
		return err
	}
	lock := s.lockFor(task.GoalID)
	lock.Lock()
	defer lock.Unlock()

	if task.Status != core.TaskStatusPending {
		return core.ErrState(core.CodeInvalidState, "task is not pending")
	}
	goal, err := s.deps.Goals.Get(task.GoalID)
	if err != nil {
		return err
	}
	if !goal.AcceptsDispatch() {
		return core.ErrState(core.CodeInvalidState, "goal does not accept dispatch")
	}
	project, err := s.deps.Projects.Get(goal.ProjectID)
	if err != nil {
		return err
	}
	if err := task.MarkAssigned(); err != nil {
		return err
	}
	_ = s.deps.Tasks.Update(task)
	settings := core.ResolveSettings(task.Settings, &goal.Settings, &project.Settings)
	s.deps.Dispatch(ctx, task, settings, func(run *core.AgentRun, finishedTask *core.Task) {
		s.OnAgentTerminal(ctx, run, finishedTask)
	})
	return nil
}

// OnAgentTerminal maps an AgentRun's terminal status to the owning task's
// new status, recomputes downstream blocked-ness, and completes the goal
// if nothing remains runnable (spec §4.E on_agent_terminal).
func (s *Scheduler) OnAgentTerminal(ctx context.Context, run *core.AgentRun, task *core.Task) {
	lock := s.lockFor(task.GoalID)
	lock.Lock()
	defer lock.Unlock()

	if run.Status == core.AgentRunDone {
		task.MarkDone()
	} else {
		task.MarkFailed()
	}
	_ = s.deps.Tasks.Update(task)

	if _, err := s.recomputeAfterLocked(task.GoalID, task.ID); err != nil {
		s.deps.Logger.Warn("scheduler: recompute_after failed", "error", err, "task_id", string(task.ID))
	}

	s.maybeCompleteGoalLocked(task.GoalID)
}

func (s *Scheduler) maybeCompleteGoalLocked(goalID core.GoalID) {
	tasks, err := s.deps.Tasks.ListByGoal(goalID)
	if err != nil {
		return
	}
	for _, t := range tasks {
		switch t.Status {
		case core.TaskStatusPending, core.TaskStatusAssigned, core.TaskStatusRunning, core.TaskStatusBlocked:
			return
		}
	}
	goal, err := s.deps.Goals.Get(goalID)
	if err != nil || goal.Status != core.GoalStatusActive {
		return
	}
	goal.Complete()
	_ = s.deps.Goals.Update(goal)
}

// Retry resets a failed task to pending and dispatches it (spec §4.E
// retry); requires current status failed.
func (s *Scheduler) Retry(ctx context.Context, taskID core.TaskID) error {
	task, err := s.deps.Tasks.Get(taskID)
	if err != nil {
		return err
	}
	if !task.CanRetry() {
		return core.ErrValidation(core.CodeRetryNotFailed, "task is not failed")
	}
	lock := s.lockFor(task.GoalID)
	lock.Lock()
	task.MarkPending()
	_ = s.deps.Tasks.Update(task)
	lock.Unlock()

	return s.DispatchOne(ctx, taskID)
}

// RetryAllFailed bulk-retries every failed task in a goal in one pass,
// returning the count reset (spec §4.E retry_all_failed). Applying this
// twice in succession without an intervening dispatch is idempotent: the
// second pass finds no remaining failed tasks.
func (s *Scheduler) RetryAllFailed(ctx context.Context, goalID core.GoalID) (int, error) {
	lock := s.lockFor(goalID)
	lock.Lock()
	tasks, err := s.deps.Tasks.ListByGoal(goalID)
	if err != nil {
		lock.Unlock()
		return 0, err
	}
	var failed []*core.Task
	for _, t := range tasks {
		if t.Status == core.TaskStatusFailed {
			t.MarkPending()
			_ = s.deps.Tasks.Update(t)
			failed = append(failed, t)
		}
	}
	lock.Unlock()

	for _, t := range failed {
		_ = s.DispatchOne(ctx, t.ID)
	}
	return len(failed), nil
}
