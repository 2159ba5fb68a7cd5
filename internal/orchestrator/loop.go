package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ShayCichocki/shepherd/internal/activity"
	"github.com/ShayCichocki/shepherd/internal/agent"
	"github.com/ShayCichocki/shepherd/internal/config"
	"github.com/ShayCichocki/shepherd/internal/signals"
	"github.com/ShayCichocki/shepherd/internal/supervisor"
	"github.com/ShayCichocki/shepherd/internal/taskstore"
	"github.com/ShayCichocki/shepherd/internal/workspace"
	"github.com/ShayCichocki/shepherd/pkg/models"
)

// heartbeatInterval is the minimum gap between heartbeats derived from
// worker events.
const heartbeatInterval = 10 * time.Second

// Phase selects which half of the task lifecycle a loop drives.
type Phase string

const (
	// PhaseAnalysis researches todo tasks into analysed ones.
	PhaseAnalysis Phase = "analysis"
	// PhaseExecution implements analysed (or todo) tasks in isolated workspaces.
	PhaseExecution Phase = "execution"
)

// ParsePhase validates a phase name.
func ParsePhase(s string) (Phase, error) {
	switch p := Phase(s); p {
	case PhaseAnalysis, PhaseExecution:
		return p, nil
	}
	return "", models.Validationf("unknown phase %q (want analysis or execution)", s)
}

func (p Phase) processType() models.ProcessType {
	if p == PhaseExecution {
		return models.ProcessTypeExecution
	}
	return models.ProcessTypeAnalysis
}

// Mode decides what the loop does when no task is eligible.
type Mode string

const (
	// ModeBatch stops the loop when the queue is empty.
	ModeBatch Mode = "batch"
	// ModeOnDemand polls until work appears or a stop arrives.
	ModeOnDemand Mode = "on-demand"
)

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeBatch, ModeOnDemand:
		return m, nil
	}
	return "", models.Validationf("unknown mode %q (want batch or on-demand)", s)
}

// Worker runs one worker invocation. *agent.Runner is the production Worker.
type Worker interface {
	Run(ctx context.Context, inv agent.Invocation, hooks agent.Hooks) (*agent.RunResult, error)
}

// Workspaces hands out isolated workspaces. *workspace.Manager is the
// production implementation.
type Workspaces interface {
	Acquire(task *models.Task) (*workspace.Workspace, error)
	Release(taskID string, out workspace.Outcome) (*models.Provenance, error)
}

// Options configures a Loop.
type Options struct {
	Phase Phase
	Mode  Mode

	Store      *taskstore.Store
	Supervisor *supervisor.Supervisor
	Worker     Worker
	// Workspaces is required for the execution phase.
	Workspaces Workspaces
	// Signals is consulted at every suspension point. Nil disables signals.
	Signals *signals.Checker
	Config  *config.Config
	// RepoPath is where analysis workers run.
	RepoPath string
	Logger   *DebugLogger
	Now      func() time.Time
}

// Loop drives one phase of the lifecycle, one task at a time.
type Loop struct {
	opts    Options
	id      string
	cfg     *config.Config
	checker *signals.Checker
	logger  *DebugLogger
	now     func() time.Time

	retry   *agent.RetryHandler
	usage   *agent.AggregateUsage
	exclude map[string]bool
	summary *Summary
}

// NewLoop validates opts and creates a Loop.
func NewLoop(opts Options) (*Loop, error) {
	if _, err := ParsePhase(string(opts.Phase)); err != nil {
		return nil, err
	}
	if _, err := ParseMode(string(opts.Mode)); err != nil {
		return nil, err
	}
	if opts.Store == nil || opts.Supervisor == nil || opts.Worker == nil {
		return nil, errors.New("loop needs a task store, a supervisor and a worker")
	}
	if opts.Phase == PhaseExecution && opts.Workspaces == nil {
		return nil, errors.New("execution loop needs a workspace manager")
	}

	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	checker := opts.Signals
	if checker == nil {
		checker = signals.NewChecker(nil, cfg.Loop.SignalCheckInterval, nil)
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = NopLogger()
	}

	return &Loop{
		opts:    opts,
		id:      "loop-" + uuid.NewString()[:8],
		cfg:     cfg,
		checker: checker,
		logger:  logger,
		now:     now,
		retry:   agent.NewRetryHandler(cfg.Loop.MaxAttempts),
		usage:   agent.NewAggregateUsage(),
		exclude: make(map[string]bool),
	}, nil
}

// ID returns the claimant id this loop records on the tasks it takes.
func (l *Loop) ID() string {
	return l.id
}

// Run processes tasks until the queue is empty (batch mode), a stop signal
// arrives, or ctx ends. Task failures never end the run; only store errors and
// cancellation are returned.
func (l *Loop) Run(ctx context.Context) (*Summary, error) {
	l.summary = &Summary{LoopID: l.id, Phase: l.opts.Phase, Mode: l.opts.Mode, StartedAt: l.now().UTC()}
	log.Printf("[loop] %s %s loop started (%s mode)", l.id, l.opts.Phase, l.opts.Mode)
	l.logger.Log("[loop] %s started phase=%s mode=%s", l.id, l.opts.Phase, l.opts.Mode)

	for {
		stopped, err := l.yield(ctx)
		if stopped || err != nil {
			return l.finish(stopped, err)
		}

		task, err := l.fetch()
		if err != nil {
			return l.finish(false, fmt.Errorf("fetch next task: %w", err))
		}
		if task == nil {
			if l.opts.Mode == ModeBatch {
				log.Printf("[loop] no eligible %s tasks; done", l.opts.Phase)
				return l.finish(false, nil)
			}
			l.logger.Log("[loop] queue empty; polling again in %s", l.cfg.Loop.PollInterval)
			st, err := l.checker.Sleep(ctx, l.cfg.Loop.PollInterval)
			if st.Stopped || err != nil {
				return l.finish(st.Stopped, err)
			}
			continue
		}

		outcome, err := l.runTask(ctx, task)
		if outcome == OutcomeStopped || err != nil {
			return l.finish(true, err)
		}

		st, err := l.checker.Sleep(ctx, l.cfg.Loop.AutoContinueDelay)
		if st.Stopped || err != nil {
			return l.finish(st.Stopped, err)
		}
	}
}

func (l *Loop) finish(stopped bool, err error) (*Summary, error) {
	s := l.summary
	s.Stopped = stopped || errors.Is(err, context.Canceled)
	s.Usage = l.usage.Total()
	s.CostUSD = l.usage.Cost()
	s.Duration = l.now().Sub(s.StartedAt)
	log.Printf("[loop] %s", s)
	l.logger.Log("[loop] %s finished: %s (err=%v)", l.id, s, err)
	return s, err
}

// yield honors pause and stop markers before fetching. It blocks while
// paused and reports whether the loop should stop.
func (l *Loop) yield(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	st := l.checker.Check()
	if st.Stopped {
		log.Printf("[loop] stop requested")
		return true, nil
	}
	if !st.Paused {
		return false, nil
	}
	log.Printf("[loop] paused; waiting for resume")
	st, err := l.checker.WaitWhilePaused(ctx)
	if err != nil {
		return false, err
	}
	if st.Stopped {
		log.Printf("[loop] stop requested while paused")
		return true, nil
	}
	log.Printf("[loop] resumed")
	return false, nil
}

// fetch atomically claims the next task for this phase, or returns nil.
func (l *Loop) fetch() (*models.Task, error) {
	exclude := l.excluded()
	store := l.opts.Store
	if l.opts.Phase == PhaseAnalysis {
		t, err := store.ClaimResumable(l.id, exclude)
		if err != nil || t != nil {
			return t, err
		}
		return store.Claim(taskstore.ClaimRequest{
			Sources:  []models.TaskStatus{models.TaskStatusTodo},
			Target:   models.TaskStatusAnalysing,
			Claimant: l.id,
			Exclude:  exclude,
		})
	}
	return store.Claim(taskstore.ClaimRequest{
		Sources:  taskstore.NextSources(true),
		Target:   models.TaskStatusInProgress,
		Claimant: l.id,
		Exclude:  exclude,
	})
}

func (l *Loop) excluded() []string {
	ids := make([]string, 0, len(l.exclude))
	for id := range l.exclude {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// attempt carries the invocation state that survives retries of one task.
type attempt struct {
	number    int
	sessionID string
	resume    bool
	lastError string
	workDir   string
}

// runTask takes one claimed task through invoke, outcome and transition.
func (l *Loop) runTask(ctx context.Context, task *models.Task) (Outcome, error) {
	l.summary.Processed++
	short := task.ShortID()
	log.Printf("[loop] task %s: %s (%s)", short, task.Name, task.Status)
	l.logger.Log("[loop] task %s claimed from %s", task.ID, task.Status)

	var ws *workspace.Workspace
	at := attempt{number: 1, sessionID: uuid.NewString(), workDir: l.opts.RepoPath}
	if l.opts.Phase == PhaseExecution {
		var err error
		ws, err = l.opts.Workspaces.Acquire(task)
		if err != nil {
			l.giveUp(task, nil, fmt.Sprintf("acquire workspace: %v", err))
			return OutcomeFailed, nil
		}
		at.workDir = ws.Path
		if updated, err := l.opts.Store.Update(task.ID, func(t *models.Task) error {
			t.Workspace = ws.Ref()
			return nil
		}); err != nil {
			log.Printf("[loop] task %s: record workspace: %v", short, err)
		} else {
			task = updated
		}
	}

	var res *agent.RunResult
	for {
		var err error
		res, err = l.invoke(ctx, task, at)
		if ctx.Err() != nil {
			log.Printf("[loop] task %s: cancelled; worker terminated", short)
			return OutcomeStopped, ctx.Err()
		}
		if err == nil && res != nil && res.Stopped {
			log.Printf("[loop] task %s: stop requested; worker terminated, task left %s", short, task.Status)
			l.summary.add(TaskResult{TaskID: task.ID, Name: task.Name, Outcome: OutcomeStopped, Status: task.Status})
			return OutcomeStopped, nil
		}
		if err == nil && res != nil && res.RateLimited() {
			l.summary.RateLimits++
			stopped, err := l.backoff(ctx, task, res.RateLimitMessage)
			if stopped || err != nil {
				return OutcomeStopped, err
			}
			if res.SessionID != "" {
				at.sessionID = res.SessionID
				at.resume = true
			}
			continue
		}

		failure := invocationFailure(res, err)
		if failure == "" {
			break
		}
		rc, decision := l.retry.HandleFailure(task.ID, failure)
		if decision == agent.GiveUp {
			l.giveUp(task, ws, rc.Summary())
			l.retry.Reset(task.ID)
			return OutcomeFailed, nil
		}
		log.Printf("[loop] task %s: attempt %d failed (%s); retrying", short, rc.Attempt, failure)
		at = attempt{
			number:    rc.Attempt + 1,
			sessionID: uuid.NewString(),
			lastError: failure,
			workDir:   at.workDir,
		}
	}

	l.retry.Reset(task.ID)
	return l.conclude(task, ws, res), nil
}

// invoke registers a process, runs the worker and finishes the process.
func (l *Loop) invoke(ctx context.Context, task *models.Task, at attempt) (*agent.RunResult, error) {
	sup := l.opts.Supervisor
	proc, err := sup.Register(ctx, l.opts.Phase.processType(), task.ID)
	if err != nil {
		return nil, fmt.Errorf("register process: %w", err)
	}

	w := l.cfg.Worker
	inv := agent.Invocation{
		Command:        w.Command,
		Model:          w.Model,
		PermissionMode: w.PermissionMode,
		SessionID:      at.sessionID,
		Resume:         at.resume,
		WorkDir:        at.workDir,
		ExtraArgs:      w.ExtraArgs,
		Env:            append(config.WorkerEnv(l.cfg), config.ProjectEnv+"="+l.opts.RepoPath),
		Payload: BuildPayload(PayloadInput{
			Phase:     l.opts.Phase,
			Task:      task,
			ProcessID: proc.ID,
			WorkDir:   at.workDir,
			Attempt:   at.number,
			LastError: at.lastError,
		}),
	}
	l.logger.Log("[loop] task %s: process %s session=%s resume=%v attempt=%d", task.ID, proc.ID, at.sessionID, at.resume, at.number)

	checker := l.checker.ForProcess(proc.ID)
	var lastBeat time.Time
	beat := func(status, next string) {
		if now := l.now(); now.Sub(lastBeat) >= heartbeatInterval {
			lastBeat = now
			if err := sup.Heartbeat(ctx, proc.ID, status, next); err != nil {
				l.logger.Log("[loop] heartbeat %s: %v", proc.ID, err)
			}
		}
	}
	record := func(typ activity.Type, msg string) {
		if err := sup.Record(proc.ID, typ, task.ID, msg); err != nil {
			l.logger.Log("[loop] activity %s for %s: %v", typ, proc.ID, err)
		}
	}

	hooks := agent.Hooks{
		OnStart: func(pid int) error {
			return sup.Attach(ctx, proc.ID, pid)
		},
		OnEvent: func(ev agent.Event) {
			switch ev.Kind {
			case agent.EventInit:
				beat("running", "session "+ev.SessionID)
			case agent.EventToolInvocation:
				record(activity.TypeTool, ev.String())
				beat("running", ev.String())
			case agent.EventToolResult:
				if !ev.OK {
					record(activity.TypeTool, ev.String())
				}
			case agent.EventRateLimited:
				record(activity.TypeRateLimit, ev.Message)
			case agent.EventTerminal:
				record(activity.TypeTerminal, ev.String())
			case agent.EventUnrecognized:
				if !ev.Throttled {
					l.logger.Log("[worker %s] %s", proc.ID, ev.String())
				}
			}
		},
		OnText: func(text string) {
			record(activity.TypeText, text)
			l.logger.Log("[worker %s] %s", proc.ID, text)
		},
		ShouldStop: func() bool {
			return checker.Check().Stopped
		},
	}

	res, runErr := l.opts.Worker.Run(ctx, inv, hooks)

	errMsg := ""
	switch {
	case runErr != nil && ctx.Err() == nil:
		errMsg = runErr.Error()
	case res != nil && res.ExitErr != nil && !res.RateLimited():
		errMsg = res.ExitErr.Error()
	}
	if err := sup.Finish(context.WithoutCancel(ctx), proc.ID, errMsg); err != nil {
		log.Printf("[loop] finish process %s: %v", proc.ID, err)
	}
	if res != nil {
		cost := 0.0
		if res.Terminal != nil {
			cost = res.Terminal.CostUSD
		}
		l.usage.Add(task.ID, res.Usage, cost)
	}
	return res, runErr
}

// backoff waits out a rate limit while honoring signals. It reports whether
// the loop should stop instead of retrying.
func (l *Loop) backoff(ctx context.Context, task *models.Task, message string) (bool, error) {
	rl := l.cfg.RateLimit
	wait, parsed := agent.ParseResetWait(message, l.now(), agent.ResetOptions{
		Buffer:       rl.Buffer,
		MaxWait:      rl.MaxWait,
		FallbackWait: rl.FallbackWait,
	})
	log.Printf("[loop] task %s: rate limited (%s); retrying the same task in %s", task.ShortID(), message, wait.Round(time.Second))
	l.logger.Log("[loop] task %s: rate limit %q wait=%s parsed=%v", task.ID, message, wait, parsed)

	st, err := l.checker.Sleep(ctx, wait)
	if err != nil || st.Stopped {
		return true, err
	}
	st, err = l.checker.WaitWhilePaused(ctx)
	if err != nil || st.Stopped {
		return true, err
	}
	return false, nil
}

// invocationFailure describes why a run counts as a failed attempt, or
// returns "" when the worker finished normally.
func invocationFailure(res *agent.RunResult, err error) string {
	switch {
	case err != nil:
		return err.Error()
	case res == nil:
		return "worker returned no result"
	case res.TimedOut && res.ExitErr != nil:
		return res.ExitErr.Error()
	case res.TimedOut:
		return "worker timed out"
	case res.Terminal == nil:
		msg := "worker exited without a result"
		if res.ExitErr != nil {
			msg = res.ExitErr.Error()
		}
		if tail := lastLine(res.StderrTail); tail != "" {
			msg += ": " + tail
		}
		return msg
	case res.Terminal.IsError:
		msg := "worker reported " + res.Terminal.Status
		if res.Terminal.Message != "" {
			msg += ": " + res.Terminal.Message
		}
		return msg
	}
	return ""
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	return s
}

// conclude re-reads the task after a finished run, classifies the outcome and
// releases the workspace. An execution task the worker marked done only
// becomes done once its work is merged; when merging fails it counts as
// failed and returns to analysed with its branch kept.
func (l *Loop) conclude(task *models.Task, ws *workspace.Workspace, res *agent.RunResult) Outcome {
	short := task.ShortID()
	current, err := l.opts.Store.Get(task.ID)
	if err != nil {
		log.Printf("[loop] task %s: re-read after run: %v", short, err)
		l.exclude[task.ID] = true
		l.summary.add(TaskResult{TaskID: task.ID, Name: task.Name, Outcome: OutcomeIncomplete, Reason: err.Error()})
		return OutcomeIncomplete
	}

	ready := current.Status == models.TaskStatusInProgress && current.ReadyToLand != nil
	outcome := classify(l.opts.Phase, current.Status)
	if ready {
		outcome = OutcomeSuccess
	}
	result := TaskResult{TaskID: task.ID, Name: task.Name, Outcome: outcome, Status: current.Status}

	var prov *models.Provenance
	var reason string
	if ws != nil {
		prov, reason = l.releaseWorkspace(current, ws, outcome == OutcomeSuccess)
	}
	switch {
	case reason != "" && outcome == OutcomeSuccess:
		outcome = OutcomeFailed
		result.Outcome = outcome
		result.Reason = reason
		result.Status = l.unland(current, ws, reason)
	case reason != "":
		result.Reason = reason
	case ready:
		landed, err := l.opts.Store.Land(current.ID, prov)
		if err != nil {
			log.Printf("[loop] task %s: mark done after merge: %v", short, err)
			outcome = OutcomeFailed
			result.Outcome = outcome
			result.Reason = "merged but not marked done: " + err.Error()
		} else {
			result.Status = landed.Status
		}
	}

	switch outcome {
	case OutcomeSuccess:
		log.Printf("[loop] task %s: %s complete (%s, %s)", short, l.opts.Phase, result.Status, res.Usage)
	case OutcomePartial:
		log.Printf("[loop] task %s: %s ended in %s", short, l.opts.Phase, current.Status)
	case OutcomeIncomplete:
		log.Printf("[loop] task %s: %s may be incomplete (still %s)", short, l.opts.Phase, current.Status)
		if result.Reason == "" {
			result.Reason = "worker finished without a transition"
		}
		l.leave(current)
	case OutcomeFailed:
		log.Printf("[loop] task %s: %s finished but failed to land: %s", short, l.opts.Phase, result.Reason)
	}
	l.summary.add(result)
	return outcome
}

// releaseWorkspace lands or discards the task's workspace. It returns the
// merge provenance, or a reason when landing failed. A discarded workspace
// is unbound from the task here; a landed one is unbound by Land.
func (l *Loop) releaseWorkspace(task *models.Task, ws *workspace.Workspace, success bool) (*models.Provenance, string) {
	short := task.ShortID()
	prov, err := l.opts.Workspaces.Release(task.ID, workspace.Outcome{
		Success:       success,
		CommitMessage: commitMessage(task),
	})
	if err != nil {
		log.Printf("[loop] task %s: release workspace: %v", short, err)
		l.logger.Log("[loop] task %s: release %s failed: %v", task.ID, ws.Branch, err)
		if errors.Is(err, models.ErrWorkspaceConflict) {
			return nil, fmt.Sprintf("work not merged; branch %s kept: %v", ws.Branch, err)
		}
		return nil, "release workspace: " + err.Error()
	}
	if prov != nil {
		log.Printf("[loop] task %s: merged %s as %.12s (%d files)", short, ws.Branch, prov.SHA, len(prov.FilesChanged))
	}
	if success {
		return prov, ""
	}
	if _, err := l.opts.Store.Update(task.ID, func(t *models.Task) error {
		t.Workspace = nil
		return nil
	}); err != nil {
		log.Printf("[loop] task %s: record release: %v", short, err)
	}
	return nil, ""
}

// unland discards the worktree of finished work that could not be merged,
// keeping its branch so the next execution run picks the work up again, and
// returns the task to analysed. It returns the task's resulting status.
func (l *Loop) unland(task *models.Task, ws *workspace.Workspace, reason string) models.TaskStatus {
	short := task.ShortID()
	l.exclude[task.ID] = true
	if _, err := l.opts.Workspaces.Release(task.ID, workspace.Outcome{KeepBranch: true}); err != nil {
		log.Printf("[loop] task %s: discard worktree of %s: %v", short, ws.Branch, err)
	}
	t, err := l.opts.Store.Unland(task.ID, reason)
	if err != nil {
		log.Printf("[loop] task %s: return to analysed: %v", short, err)
		return task.Status
	}
	return t.Status
}

// leave puts a task the loop is done with for this run back where another
// run can pick it up: analysis tasks stay analysing unclaimed, execution
// tasks return to analysed.
func (l *Loop) leave(task *models.Task) {
	l.exclude[task.ID] = true
	var err error
	switch {
	case task.Status == models.TaskStatusInProgress:
		_, err = l.opts.Store.Transition(task.ID, models.TaskStatusAnalysed, func(t *models.Task) error {
			t.ClaimedBy = ""
			t.Workspace = nil
			t.ReadyToLand = nil
			return nil
		})
	case !task.Status.Archived():
		_, err = l.opts.Store.Release(task.ID)
	}
	if err != nil {
		log.Printf("[loop] task %s: release claim: %v", task.ShortID(), err)
	}
}

// giveUp applies the failure policy once a task's attempts are spent.
func (l *Loop) giveUp(task *models.Task, ws *workspace.Workspace, reason string) {
	short := task.ShortID()
	policy := l.cfg.Loop.FailurePolicy
	log.Printf("[loop] task %s: giving up (%s): %s", short, policy, reason)
	l.logger.Log("[loop] task %s: failure policy %s: %s", task.ID, policy, reason)

	if ws != nil {
		l.releaseWorkspace(task, ws, false)
	}

	status := task.Status
	if policy == config.FailurePolicySkip {
		l.exclude[task.ID] = true
		if t, err := l.opts.Store.Skip(task.ID, reason); err != nil {
			log.Printf("[loop] task %s: skip: %v", short, err)
		} else {
			status = t.Status
		}
	} else {
		l.leave(task)
		if t, err := l.opts.Store.Get(task.ID); err == nil {
			status = t.Status
		}
	}
	l.summary.add(TaskResult{TaskID: task.ID, Name: task.Name, Outcome: OutcomeFailed, Status: status, Reason: reason})
}

func commitMessage(task *models.Task) string {
	return fmt.Sprintf("%s\n\nTask: %s", task.Name, task.ID)
}
