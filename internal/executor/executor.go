// Package executor runs a planned level sequence under a concurrency
// cap. Levels execute strictly in order; within a level every task runs,
// never more than the cap at once. Failure of one task never aborts its
// siblings, but dependents of a task that did not complete are reported
// as unstartable rather than run.
package executor

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/crewdev/crew/internal/graph"
	"github.com/crewdev/crew/internal/runner"
	"github.com/crewdev/crew/internal/tracker"
	"github.com/crewdev/crew/pkg/models"
)

// DefaultMaxParallel bounds concurrent task executions when no cap is
// configured.
const DefaultMaxParallel = 3

// Outcome classifies how a task left the executor.
type Outcome string

const (
	// OutcomeCompleted means the task ran and succeeded.
	OutcomeCompleted Outcome = "completed"
	// OutcomeFailed means the task ran and failed.
	OutcomeFailed Outcome = "failed"
	// OutcomeCancelled means the task was never admitted, or was
	// interrupted, because the run was cancelled.
	OutcomeCancelled Outcome = "cancelled"
	// OutcomeSkippedBlocked means the task had open blockers at
	// admission time and was not run.
	OutcomeSkippedBlocked Outcome = "skipped_blocked"
	// OutcomeUnstartable means a dependency did not reach complete, so
	// the task can never start.
	OutcomeUnstartable Outcome = "unstartable"
)

// TaskResult records the executor's verdict on one task.
type TaskResult struct {
	TaskID  string
	Level   int
	Outcome Outcome
	// Err describes failures and unstartable reasons.
	Err string
	// Outputs are the opaque artifacts the run-task collaborator
	// returned, present only on completed tasks.
	Outputs map[string]string
	// FailedGates lists quality gates still failing when the task
	// completed. Gate validation is advisory: it never blocks the
	// completion itself.
	FailedGates []string
	Duration    time.Duration
}

// Summary aggregates a full run.
type Summary struct {
	Total       int
	Completed   int
	Failed      int
	Cancelled   int
	Skipped     int
	Unstartable int
	// Results holds the per-task verdicts keyed by task ID.
	Results map[string]TaskResult
	// Errors maps task ID to error text for every task that did not
	// complete. A failed task never silently vanishes from the summary.
	Errors map[string]string
	// GateResults maps task ID to the gates still failing at
	// completion, for completed tasks only.
	GateResults map[string][]string
	// MaxObserved is the highest number of concurrently running tasks
	// seen during the run.
	MaxObserved int
}

// Success reports whether every task in the plan completed.
func (s *Summary) Success() bool {
	return s.Completed == s.Total
}

func newSummary() *Summary {
	return &Summary{
		Results:     make(map[string]TaskResult),
		Errors:      make(map[string]string),
		GateResults: make(map[string][]string),
	}
}

func (s *Summary) record(res TaskResult) {
	s.Total++
	s.Results[res.TaskID] = res
	switch res.Outcome {
	case OutcomeCompleted:
		s.Completed++
		if len(res.FailedGates) > 0 {
			s.GateResults[res.TaskID] = res.FailedGates
		}
	case OutcomeFailed:
		s.Failed++
		s.Errors[res.TaskID] = res.Err
	case OutcomeCancelled:
		s.Cancelled++
		if res.Err != "" {
			s.Errors[res.TaskID] = res.Err
		}
	case OutcomeSkippedBlocked:
		s.Skipped++
		s.Errors[res.TaskID] = res.Err
	case OutcomeUnstartable:
		s.Unstartable++
		s.Errors[res.TaskID] = res.Err
	}
}

// Gate pauses admission between tasks. The coordinator's pause
// controller implements it; the default never pauses.
type Gate interface {
	// WaitIfPaused blocks while paused and returns an error when the
	// run is stopped or the context ends.
	WaitIfPaused(ctx context.Context) error
}

type nopGate struct{}

func (nopGate) WaitIfPaused(ctx context.Context) error { return ctx.Err() }

// Reporter receives execution milestones as they commit. Implementations
// must be safe for concurrent use; TaskStarted and TaskFinished are
// called from worker goroutines.
type Reporter interface {
	LevelStarted(level int, taskIDs []string)
	TaskStarted(task *models.Task)
	TaskFinished(task *models.Task, res TaskResult)
}

type nopReporter struct{}

func (nopReporter) LevelStarted(int, []string)            {}
func (nopReporter) TaskStarted(*models.Task)              {}
func (nopReporter) TaskFinished(*models.Task, TaskResult) {}

// Option configures an Executor. Use With* functions to create Options.
type Option func(*execOptions)

type execOptions struct {
	maxParallel int
	gate        Gate
	reporter    Reporter
	debugLog    func(format string, args ...interface{})
}

// WithMaxParallel sets the concurrency cap. Values below one fall back
// to the default.
func WithMaxParallel(n int) Option {
	return func(o *execOptions) { o.maxParallel = n }
}

// WithGate installs a pause gate consulted before each admission.
func WithGate(g Gate) Option {
	return func(o *execOptions) {
		if g != nil {
			o.gate = g
		}
	}
}

// WithReporter installs a milestone reporter.
func WithReporter(r Reporter) Option {
	return func(o *execOptions) {
		if r != nil {
			o.reporter = r
		}
	}
}

// WithDebugLog sets the debug logging function.
func WithDebugLog(fn func(format string, args ...interface{})) Option {
	return func(o *execOptions) { o.debugLog = fn }
}

// Executor drives a plan through the run-task collaborator, moving each
// task through the tracker's state machine as it goes.
type Executor struct {
	tracker  *tracker.Tracker
	run      runner.Runner
	cap      int
	gate     Gate
	reporter Reporter
	debugLog func(format string, args ...interface{})
}

// New creates an Executor over the given tracker and runner.
func New(tr *tracker.Tracker, run runner.Runner, opts ...Option) *Executor {
	options := &execOptions{
		maxParallel: DefaultMaxParallel,
		gate:        nopGate{},
		reporter:    nopReporter{},
		debugLog:    func(format string, args ...interface{}) {},
	}
	for _, opt := range opts {
		opt(options)
	}
	if options.maxParallel < 1 {
		options.maxParallel = DefaultMaxParallel
	}
	return &Executor{
		tracker:  tr,
		run:      run,
		cap:      options.maxParallel,
		gate:     options.gate,
		reporter: options.reporter,
		debugLog: options.debugLog,
	}
}

// Execute runs every level of the plan in order. The returned summary
// covers every task in the plan: completed, failed, skipped,
// unstartable, or cancelled. When the run is cancelled mid-level,
// in-flight tasks still resolve one way or the other before Execute
// returns; only unadmitted work is marked cancelled.
func (e *Executor) Execute(ctx context.Context, plan *graph.ExecutionPlan) (*Summary, error) {
	summary := newSummary()
	// notCompleted collects IDs that went through a level without
	// reaching complete; their dependents can never start.
	notCompleted := make(map[string]bool)
	cancelled := false

	for levelIdx, level := range plan.Levels {
		if cancelled || ctx.Err() != nil {
			cancelled = true
			for _, id := range level {
				summary.record(TaskResult{TaskID: id, Level: levelIdx, Outcome: OutcomeCancelled})
			}
			continue
		}

		e.debugLog("[executor] level %d: %d tasks, cap %d", levelIdx, len(level), e.cap)
		e.reporter.LevelStarted(levelIdx, append([]string(nil), level...))

		results := make(chan TaskResult, len(level))
		slots := make(chan struct{}, e.cap)
		var wg sync.WaitGroup
		peak := newPeakCounter()

		launched := 0
		for i, id := range level {
			if err := e.gate.WaitIfPaused(ctx); err != nil {
				e.debugLog("[executor] admission stopped at level %d: %v", levelIdx, err)
				cancelled = true
				for _, rest := range level[i:] {
					summary.record(TaskResult{TaskID: rest, Level: levelIdx, Outcome: OutcomeCancelled})
				}
				break
			}

			task, err := e.tracker.Get(id)
			if err != nil {
				res := TaskResult{TaskID: id, Level: levelIdx, Outcome: OutcomeFailed, Err: err.Error()}
				summary.record(res)
				notCompleted[id] = true
				continue
			}

			if reason := unstartableReason(task, notCompleted); reason != "" {
				res := TaskResult{TaskID: id, Level: levelIdx, Outcome: OutcomeUnstartable, Err: reason}
				summary.record(res)
				notCompleted[id] = true
				e.reporter.TaskFinished(task, res)
				e.debugLog("[executor] task %s unstartable: %s", id, reason)
				continue
			}

			if task.Status == models.TaskStatusBlocked {
				res := TaskResult{
					TaskID:  id,
					Level:   levelIdx,
					Outcome: OutcomeSkippedBlocked,
					Err:     fmt.Sprintf("blocked: %s", strings.Join(task.Blockers, "; ")),
				}
				summary.record(res)
				notCompleted[id] = true
				e.reporter.TaskFinished(task, res)
				continue
			}

			if task.Status == models.TaskStatusComplete {
				// Completed in an earlier run; nothing to execute.
				summary.record(TaskResult{TaskID: id, Level: levelIdx, Outcome: OutcomeCompleted})
				continue
			}

			// Blocks while the cap is saturated, so admission order
			// follows the level's priority order.
			select {
			case slots <- struct{}{}:
				// A cancel that raced the acquire still wins: a slot
				// freed by a finishing task must not admit new work
				// once the run is cancelled.
				if ctx.Err() != nil {
					<-slots
					cancelled = true
				}
			case <-ctx.Done():
				cancelled = true
			}
			if cancelled {
				for _, rest := range level[i:] {
					summary.record(TaskResult{TaskID: rest, Level: levelIdx, Outcome: OutcomeCancelled})
				}
				break
			}

			launched++
			wg.Add(1)
			go func(task *models.Task, level int) {
				defer wg.Done()
				defer func() { <-slots }()
				defer peak.leave()
				peak.enter()

				results <- e.runOne(ctx, task, level)
			}(task, levelIdx)
		}

		// Level barrier: every admitted task resolves before the next
		// level is considered.
		wg.Wait()
		close(results)
		for res := range results {
			summary.record(res)
			if res.Outcome != OutcomeCompleted {
				notCompleted[res.TaskID] = true
			}
		}

		if p := peak.max(); p > summary.MaxObserved {
			summary.MaxObserved = p
		}
		e.debugLog("[executor] level %d drained: %d launched, peak concurrency %d", levelIdx, launched, peak.max())
	}

	if cancelled || ctx.Err() != nil {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		return summary, fmt.Errorf("execution stopped")
	}
	return summary, nil
}

// runOne executes a single task: admission transition, the external
// run, and the resulting terminal transition. The task argument is the
// pre-admission snapshot.
func (e *Executor) runOne(ctx context.Context, task *models.Task, level int) TaskResult {
	start := time.Now()
	id := task.ID
	preStatus := task.Status
	if preStatus == models.TaskStatusIteration {
		// Transitioning back into iteration would count another rework
		// cycle; iteration's own successor is the right restore target.
		preStatus = models.TaskStatusImplementing
	}

	admitted, err := e.tracker.Transition(id, models.TaskStatusImplementing, tracker.TransitionRequest{})
	if err != nil {
		return TaskResult{TaskID: id, Level: level, Outcome: OutcomeFailed, Err: err.Error(), Duration: time.Since(start)}
	}
	if admitted.Status == models.TaskStatusBlocked {
		// A blocker landed between readiness and admission.
		return TaskResult{
			TaskID:  id,
			Level:   level,
			Outcome: OutcomeSkippedBlocked,
			Err:     fmt.Sprintf("blocked: %s", strings.Join(admitted.Blockers, "; ")),
		}
	}

	e.reporter.TaskStarted(admitted)
	e.debugLog("[executor] task %s started (level %d)", id, level)

	res, runErr := e.run.Run(ctx, admitted)

	switch {
	case runErr != nil && ctx.Err() != nil:
		// Interrupted by cancellation: the task did not fail, it was
		// never finished. Hand the pre-admission state back so nothing
		// sits in implementing limbo.
		restored, _ := e.tracker.Transition(id, preStatus, tracker.TransitionRequest{})
		out := TaskResult{TaskID: id, Level: level, Outcome: OutcomeCancelled, Err: ctx.Err().Error(), Duration: time.Since(start)}
		if restored != nil {
			e.reporter.TaskFinished(restored, out)
		}
		e.debugLog("[executor] task %s cancelled in flight, restored to %s", id, preStatus)
		return out

	case runErr != nil || !res.Success:
		msg := res.Err
		if msg == "" && runErr != nil {
			msg = runErr.Error()
		}
		if msg == "" {
			msg = "task execution failed"
		}
		if err := e.tracker.SetError(id, msg); err != nil {
			e.debugLog("[executor] task %s: record error: %v", id, err)
		}
		failed, err := e.tracker.Transition(id, models.TaskStatusFailed, tracker.TransitionRequest{})
		if err != nil {
			e.debugLog("[executor] task %s: transition to failed: %v", id, err)
		}
		out := TaskResult{TaskID: id, Level: level, Outcome: OutcomeFailed, Err: msg, Duration: time.Since(start)}
		if failed != nil {
			e.reporter.TaskFinished(failed, out)
		}
		e.debugLog("[executor] task %s FAILED: %s", id, msg)
		return out

	default:
		if err := e.tracker.MergeContext(id, res.Outputs); err != nil {
			e.debugLog("[executor] task %s: merge outputs: %v", id, err)
		}
		completed, err := e.tracker.Transition(id, models.TaskStatusComplete, tracker.TransitionRequest{})
		if err != nil {
			return TaskResult{TaskID: id, Level: level, Outcome: OutcomeFailed, Err: err.Error(), Duration: time.Since(start)}
		}
		if completed.Status == models.TaskStatusBlocked {
			out := TaskResult{
				TaskID:  id,
				Level:   level,
				Outcome: OutcomeSkippedBlocked,
				Err:     fmt.Sprintf("blocked before completion: %s", strings.Join(completed.Blockers, "; ")),
			}
			e.reporter.TaskFinished(completed, out)
			return out
		}

		out := TaskResult{
			TaskID:      id,
			Level:       level,
			Outcome:     OutcomeCompleted,
			Outputs:     res.Outputs,
			FailedGates: completed.FailedGates(),
			Duration:    time.Since(start),
		}
		e.reporter.TaskFinished(completed, out)
		e.debugLog("[executor] task %s completed in %s", id, out.Duration)
		return out
	}
}

// unstartableReason names the dependencies that keep a task from ever
// starting, or returns "" when none do. The planner guarantees every
// dependency sits in an earlier level, so each one either completed or
// already has a recorded outcome by the time its dependent is admitted.
func unstartableReason(task *models.Task, notCompleted map[string]bool) string {
	var bad []string
	for _, dep := range task.Dependencies {
		if notCompleted[dep] {
			bad = append(bad, fmt.Sprintf("dependency %s did not complete", dep))
		}
	}
	return strings.Join(bad, "; ")
}

// peakCounter tracks the high-water mark of concurrent workers.
type peakCounter struct {
	mu      sync.Mutex
	current int
	peak    int
}

func newPeakCounter() *peakCounter {
	return &peakCounter{}
}

func (p *peakCounter) enter() {
	p.mu.Lock()
	p.current++
	if p.current > p.peak {
		p.peak = p.current
	}
	p.mu.Unlock()
}

func (p *peakCounter) leave() {
	p.mu.Lock()
	p.current--
	p.mu.Unlock()
}

func (p *peakCounter) max() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.peak
}
