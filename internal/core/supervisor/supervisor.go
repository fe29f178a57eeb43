// Package supervisor implements the Agent Supervisor (spec §4.D): for one
// task, owns the full lifecycle of one AgentRun from worktree acquisition
// through process spawn, stdout parsing, watchdog enforcement, and
// merge-or-abandon finalization.
package supervisor

import (
	"bufio"
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hugo-lorenzo-mato/quorum-ai/internal/adapters/agentcli"
	"github.com/hugo-lorenzo-mato/quorum-ai/internal/core"
	"github.com/hugo-lorenzo-mato/quorum-ai/internal/logging"
)

// Watchdog cadence and thresholds (spec §5).
const (
	WatchdogTick   = 10 * time.Second
	StallThreshold = 10 * time.Minute
	HardTimeout    = 20 * time.Minute
)

// Drain sequence timings (spec §4.D step 4).
const (
	DrainFlush    = 2 * time.Second
	DrainTermWait = 5 * time.Second
	DrainKillWait = 5 * time.Second
)

// Deps bundles the ports a Supervisor needs: the agent launcher, the
// Worktree Manager, the Event Bus, and the persistence ports for
// AgentRuns and AgentEvents.
type Deps struct {
	Launcher  core.AgentLauncher
	Worktrees core.WorktreeManager
	Bus       core.EventBus
	Runs      core.AgentRunRepository
	Events    core.AgentEventRepository
	Logger    *logging.Logger
}

// TerminalFunc is the plain callback the Scheduler supplies at spawn time.
// Resolves the cyclic supervisor/scheduler coupling (spec §9 design note)
// without either side holding a strong back-reference to the other.
type TerminalFunc func(run *core.AgentRun, task *core.Task)

type commandKind int

const (
	cmdKill commandKind = iota
	cmdNudge
	cmdSnapshot
)

type command struct {
	kind     commandKind
	text     string
	snapshot chan core.AgentRun
	errReply chan error
}

// Supervisor owns exactly one AgentRun from spawn to terminal. External
// callers (Kill, Nudge, Snapshot) never mutate the AgentRun directly; they
// enqueue a command processed by the Run goroutine, the aggregate's sole
// owner (spec §5: actor-style command channel).
type Supervisor struct {
	deps         Deps
	task         *core.Task
	settings     core.Settings
	repoPath     string
	originBranch string
	onTerminal   TerminalFunc

	cmdCh  chan command
	doneCh chan struct{}
}

// New constructs a Supervisor for one task execution attempt. Call Run to
// drive it to completion; Run is intended to be invoked in its own
// goroutine by the Task Scheduler's dispatch path.
func New(deps Deps, task *core.Task, settings core.Settings, repoPath, originBranch string, onTerminal TerminalFunc) *Supervisor {
	return &Supervisor{
		deps:         deps,
		task:         task,
		settings:     settings,
		repoPath:     repoPath,
		originBranch: originBranch,
		onTerminal:   onTerminal,
		cmdCh:        make(chan command, 4),
		doneCh:       make(chan struct{}),
	}
}

// Kill initiates the Draining transition with terminal status killed
// (spec §4.D Kill), regardless of what the process reports afterward. A
// no-op returning nil if the run has already reached Terminal.
func (s *Supervisor) Kill() error {
	reply := make(chan error, 1)
	select {
	case s.cmdCh <- command{kind: cmdKill, errReply: reply}:
	case <-s.doneCh:
		return nil
	}
	select {
	case err := <-reply:
		return err
	case <-s.doneCh:
		return nil
	}
}

// Nudge writes text to the agent's stdin if status is running or stalled
// (spec §4.D Nudge); fails with AgentNotInteractive otherwise.
func (s *Supervisor) Nudge(text string) error {
	reply := make(chan error, 1)
	select {
	case s.cmdCh <- command{kind: cmdNudge, text: text, errReply: reply}:
	case <-s.doneCh:
		return core.ErrAgentNotInteractive(string(s.task.ID))
	}
	select {
	case err := <-reply:
		return err
	case <-s.doneCh:
		return core.ErrAgentNotInteractive(string(s.task.ID))
	}
}

// Snapshot returns a copy of the current AgentRun aggregate.
func (s *Supervisor) Snapshot() (core.AgentRun, bool) {
	reply := make(chan core.AgentRun, 1)
	select {
	case s.cmdCh <- command{kind: cmdSnapshot, snapshot: reply}:
	case <-s.doneCh:
		return core.AgentRun{}, false
	}
	select {
	case run := <-reply:
		return run, true
	case <-s.doneCh:
		return core.AgentRun{}, false
	}
}

// Run drives the Supervisor through Init -> Acquired -> Running ->
// Draining -> Terminal (spec §4.D) and returns only once the AgentRun has
// reached a terminal status and the worktree has been released.
func (s *Supervisor) Run(ctx context.Context) error {
	defer close(s.doneCh)

	label := s.task.Title
	handle, err := s.deps.Worktrees.Acquire(ctx, s.repoPath, label, "")
	if err != nil {
		return s.finalizeAcquireFailure(err)
	}

	run := core.NewAgentRun(s.task.ID, s.task.GoalID, handle.Path, handle.Branch, s.settings)
	handle.OwnerRunID = run.ID
	if err := s.deps.Runs.Create(run); err != nil {
		s.deps.Logger.Warn("supervisor: failed to persist new agent run", "error", err, "task_id", string(s.task.ID))
	}
	s.publish(run)

	proc, err := s.deps.Launcher.Launch(ctx, core.LaunchOptions{
		Prompt:         s.task.Title + "\n\n" + s.task.Description,
		Model:          s.settings.Model,
		MaxTurns:       s.settings.MaxTurns,
		PermissionMode: s.settings.PermissionMode,
		AllowedTools:   s.settings.AllowedTools,
		SystemPrompt:   s.settings.SystemPromptSuffix,
		WorkDir:        handle.Path,
	})
	if err != nil {
		_ = s.deps.Worktrees.Release(ctx, handle, core.ReleaseDiscard)
		return s.finalizeSpawnFailure(run, err)
	}
	run.MarkRunning()
	_ = s.deps.Runs.Update(run)
	s.publish(run)

	outcome := s.runningPhase(ctx, run, proc)
	return s.finalize(ctx, run, handle, proc, outcome)
}

// runState tracks the reason Draining was entered.
type runState struct {
	failureKind core.AgentRunFailureKind
	sawCommit   bool
	sawError    bool
	resultOK    bool
	sawResult   bool
}

// runningPhase consumes stdout/stderr, services the command channel, and
// runs the watchdog until a terminal trigger fires, then drains the
// process per the §4.D step 4 sequence. Returns the determined outcome.
func (s *Supervisor) runningPhase(ctx context.Context, run *core.AgentRun, proc core.AgentProcess) runState {
	parser := agentcli.NewParser(run.ID)
	eventsCh := make(chan core.AgentEvent, 64)
	stderrCh := make(chan string, 16)

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		defer close(eventsCh)
		return parser.Stream(proc.Stdout(), func(ev core.AgentEvent) {
			select {
			case eventsCh <- ev:
			case <-gctx.Done():
			}
		})
	})
	group.Go(func() error {
		defer close(stderrCh)
		scanner := bufio.NewScanner(proc.Stderr())
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			select {
			case stderrCh <- scanner.Text():
			case <-gctx.Done():
				return nil
			}
		}
		return nil
	})

	waitCh := make(chan int, 1)
	go func() {
		code, _ := proc.Wait()
		waitCh <- code
	}()

	var state runState
	ticker := time.NewTicker(WatchdogTick)
	defer ticker.Stop()

	trigger := func(kind core.AgentRunFailureKind) {
		if state.failureKind == "" {
			state.failureKind = kind
		}
	}

loop:
	for {
		select {
		case ev, ok := <-eventsCh:
			if !ok {
				eventsCh = nil
				break
			}
			s.applyEvent(run, &state, ev)
			if ev.Kind == core.EventResult {
				break loop
			}
		case line, ok := <-stderrCh:
			if !ok {
				stderrCh = nil
				break
			}
			errEv := core.NewAgentEvent(run.ID, core.EventError, line)
			s.applyEvent(run, &state, errEv)
		case t := <-ticker.C:
			if run.Status == core.AgentRunRunning && t.Sub(run.LastActivityAt) > StallThreshold {
				run.MarkStalled()
				_ = s.deps.Runs.Update(run)
				s.publish(run)
				stallEv := core.NewAgentEvent(run.ID, core.EventStall, "no activity for "+StallThreshold.String())
				_ = s.deps.Events.Append(stallEv)
				s.broadcastEvent(run, stallEv)
			}
			if t.Sub(run.StartedAt) > HardTimeout {
				trigger(core.FailureKindTimeout)
				break loop
			}
			if run.BudgetExceeded() {
				trigger(core.FailureKindBudget)
				break loop
			}
		case cmd := <-s.cmdCh:
			if done := s.handleCommand(cmd, run, &trigger); done {
				break loop
			}
		case code := <-waitCh:
			waitCh = nil
			if code != 0 && !state.sawResult {
				trigger(core.FailureKindNone)
			}
			break loop
		}
	}

	s.drain(proc, waitCh, eventsCh, run, &state)
	_ = group.Wait()
	return state
}

// applyEvent performs the three-step ordered update (spec §4.D step 3):
// append to the persistent log, update the AgentRun aggregate, publish.
func (s *Supervisor) applyEvent(run *core.AgentRun, state *runState, ev core.AgentEvent) {
	_ = s.deps.Events.Append(ev)

	switch ev.Kind {
	case core.EventCommit:
		state.sawCommit = true
	case core.EventError:
		state.sawError = true
	case core.EventResult:
		state.sawResult = true
		state.resultOK = ev.Raw["subtype"] == "success"
	}

	tokensIn, tokensOut := 0, 0
	if ev.Raw != nil {
		if v, ok := ev.Raw["input_tokens"].(int); ok {
			tokensIn = v
		}
		if v, ok := ev.Raw["output_tokens"].(int); ok {
			tokensOut = v
		}
	}
	run.RecordActivity(tokensIn, tokensOut, ev.CostDelta)
	if sid, ok := ev.Raw["session_id"].(string); ok && sid != "" {
		run.SessionID = sid
	}
	_ = s.deps.Runs.Update(run)
	s.broadcastEvent(run, ev)
}

func (s *Supervisor) broadcastEvent(run *core.AgentRun, ev core.AgentEvent) {
	s.deps.Bus.Publish(core.AgentTopic(run.ID), core.PayloadAgentEvent, ev)
	s.deps.Bus.Publish(core.GlobalTopic, core.PayloadAgentEvent, ev)
	s.publish(run)
}

func (s *Supervisor) publish(run *core.AgentRun) {
	update := core.AgentUpdate{Run: run}
	s.deps.Bus.Publish(core.AgentTopic(run.ID), core.PayloadAgentUpdate, update)
	s.deps.Bus.Publish(core.GlobalTopic, core.PayloadAgentUpdate, update)
}

// handleCommand services one actor-channel command; returns true if it
// should end the running phase (a Kill request).
func (s *Supervisor) handleCommand(cmd command, run *core.AgentRun, trigger *func(core.AgentRunFailureKind)) bool {
	switch cmd.kind {
	case cmdKill:
		(*trigger)(core.FailureKindKilled)
		cmd.errReply <- nil
		return true
	case cmdNudge:
		cmd.errReply <- core.ErrAgentNotInteractive(string(run.ID))
		return false
	case cmdSnapshot:
		cmd.snapshot <- *run
		return false
	}
	return false
}

// drain implements the §4.D step 4 shutdown sequence: flush (2s), close
// stdin, SIGTERM (wait 5s), SIGKILL (wait 5s).
func (s *Supervisor) drain(proc core.AgentProcess, waitCh chan int, eventsCh chan core.AgentEvent, run *core.AgentRun, state *runState) {
	flushDeadline := time.After(DrainFlush)
	if eventsCh != nil {
	flush:
		for {
			select {
			case ev, ok := <-eventsCh:
				if !ok {
					break flush
				}
				s.applyEvent(run, state, ev)
			case <-flushDeadline:
				break flush
			case <-drained(waitCh):
				break flush
			}
		}
	}
	if waitCh == nil {
		return
	}
	_ = proc.CloseStdin()
	select {
	case <-waitCh:
		return
	case <-time.After(DrainTermWait):
	}
	_ = proc.Signal(core.SignalTerm)
	select {
	case <-waitCh:
		return
	case <-time.After(DrainKillWait):
	}
	_ = proc.Signal(core.SignalKill)
	<-waitCh
}

// drained turns a nil channel into one that never fires, so a closed/absent
// waitCh doesn't short-circuit the flush select spuriously.
func drained(ch chan int) <-chan int {
	if ch == nil {
		return nil
	}
	return ch
}

// terminalStatus maps the observed run state to a terminal AgentRunStatus
// and failure kind (spec §4.D step 5).
func terminalStatus(state runState) (core.AgentRunStatus, core.AgentRunFailureKind) {
	if state.failureKind == core.FailureKindKilled || state.failureKind == core.FailureKindTimeout || state.failureKind == core.FailureKindBudget {
		return core.AgentRunKilled, state.failureKind
	}
	if state.sawError || (state.sawResult && !state.resultOK) || state.failureKind == core.FailureKindNone && !state.sawResult {
		return core.AgentRunFailed, core.FailureKindNone
	}
	return core.AgentRunDone, core.FailureKindNone
}

// finalize determines the terminal status, runs merge-or-abandon, releases
// the worktree, persists and broadcasts the final state, and notifies the
// Scheduler (spec §4.D step 5).
func (s *Supervisor) finalize(ctx context.Context, run *core.AgentRun, handle *core.WorktreeHandle, proc core.AgentProcess, state runState) error {
	status, kind := terminalStatus(state)

	policy := core.ReleaseDiscard
	if status == core.AgentRunDone && state.sawCommit {
		result, err := s.deps.Worktrees.MergeInto(ctx, handle, s.originBranch)
		switch {
		case err != nil:
			status, kind = core.AgentRunFailed, core.FailureKindNone
		case result.Conflicted():
			status, kind = core.AgentRunFailed, core.FailureKindMergeConflict
			policy = core.ReleaseKeepBranch
		default:
			policy = core.ReleaseKeepBranch
		}
	}

	_ = s.deps.Worktrees.Release(ctx, handle, policy)

	if err := run.Finish(status, kind); err != nil {
		s.deps.Logger.Warn("supervisor: finish failed", "error", err, "run_id", string(run.ID))
	}
	_ = s.deps.Runs.Update(run)
	s.publish(run)

	if s.onTerminal != nil {
		s.onTerminal(run, s.task)
	}
	return nil
}

func (s *Supervisor) finalizeAcquireFailure(err error) error {
	run := core.NewAgentRun(s.task.ID, s.task.GoalID, "", "", s.settings)
	_ = run.Finish(core.AgentRunFailed, core.FailureKindAcquireFailed)
	_ = s.deps.Runs.Create(run)
	s.publish(run)
	if s.onTerminal != nil {
		s.onTerminal(run, s.task)
	}
	return err
}

func (s *Supervisor) finalizeSpawnFailure(run *core.AgentRun, err error) error {
	_ = run.Finish(core.AgentRunFailed, core.FailureKindAcquireFailed)
	_ = s.deps.Runs.Update(run)
	s.publish(run)
	if s.onTerminal != nil {
		s.onTerminal(run, s.task)
	}
	return err
}
