// Package coordinator drives the multi-role pipeline end to end:
// decompose a requirement into tasks, plan dependency levels, execute
// them under a concurrency cap, and persist the registry at explicit
// checkpoints. It also exposes the facade operations the CLI and MCP
// surfaces run against the persisted snapshot.
package coordinator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/crewdev/crew/internal/config"
	"github.com/crewdev/crew/internal/decompose"
	"github.com/crewdev/crew/internal/executor"
	"github.com/crewdev/crew/internal/graph"
	"github.com/crewdev/crew/internal/runner"
	"github.com/crewdev/crew/internal/state"
	"github.com/crewdev/crew/internal/tracker"
	"github.com/crewdev/crew/pkg/models"
	"github.com/google/uuid"
)

// Store is the persistence surface the coordinator needs: the live
// snapshot plus run history. *state.DB satisfies it.
type Store interface {
	state.SnapshotStore
	state.RunStore
}

// Archiver is the long-term ledger for archived tasks and finished
// runs. *archive.Ledger satisfies it.
type Archiver interface {
	AppendTasks(tasks []*models.Task) error
	AppendRun(run *models.RunRecord) error
}

// Coordinator composes the tracker state machine, dependency planner,
// bounded executor, persistence, and run control behind one facade.
// Mutating operations load the persisted snapshot, apply the change
// through the tracker, and save the result; reads never observe a
// partially applied transition because the tracker commits under one
// lock and saves are all-or-nothing.
type Coordinator struct {
	cfg         *config.Config
	run         runner.Runner
	store       Store
	archive     Archiver
	logger      *DebugLogger
	emitter     *EventEmitter
	pause       *PauseController
	clock       func() time.Time
	maxParallel int
	trackerOpts []tracker.Option
	signalDir   string
}

// New creates a Coordinator over the given configuration. A store is
// required; every other collaborator has a default (noop runner, no
// archive, no-op logger).
func New(cfg *config.Config, opts ...Option) (*Coordinator, error) {
	if cfg == nil {
		cfg = config.Default()
	}

	options := &coordinatorOptions{
		runner:      runner.NoopRunner{},
		logger:      NopLogger(),
		clock:       time.Now,
		maxParallel: cfg.Defaults.MaxParallel,
	}
	for _, opt := range opts {
		opt(options)
	}
	if options.store == nil {
		return nil, fmt.Errorf("coordinator requires a store")
	}
	if options.maxParallel < 1 {
		options.maxParallel = executor.DefaultMaxParallel
	}

	setPackageLogger(options.logger)

	trackerOpts := []tracker.Option{tracker.WithDebugLog(options.logger.Log)}
	if !options.policy.Empty() {
		if len(options.policy.Roles) > 0 {
			roles := make([]models.Role, 0, len(options.policy.Roles))
			for _, r := range options.policy.Roles {
				roles = append(roles, models.Role(r))
			}
			trackerOpts = append(trackerOpts, tracker.WithExtraRoles(roles))
		}
		if len(options.policy.QualityGates) > 0 {
			trackerOpts = append(trackerOpts, tracker.WithDefaultGates(options.policy.QualityGates))
		}
		if options.policy.MaxIterations > 0 {
			trackerOpts = append(trackerOpts, tracker.WithMaxIterations(options.policy.MaxIterations))
		}
	}

	return &Coordinator{
		cfg:         cfg,
		run:         options.runner,
		store:       options.store,
		archive:     options.archive,
		logger:      options.logger,
		emitter:     NewEventEmitter(defaultEventBuffer),
		pause:       NewPauseController(),
		clock:       options.clock,
		maxParallel: options.maxParallel,
		trackerOpts: trackerOpts,
		signalDir:   options.signalDir,
	}, nil
}

// Events returns the coordination event stream. The channel stays open
// for the life of the coordinator; Close closes it.
func (c *Coordinator) Events() <-chan Event {
	return c.emitter.Events()
}

// DroppedEvents returns how many events were dropped because no
// subscriber drained the stream in time.
func (c *Coordinator) DroppedEvents() uint64 {
	return c.emitter.DroppedCount()
}

// Pause stops admitting new tasks in the live run. In-flight tasks
// finish normally.
func (c *Coordinator) Pause() { c.pause.Pause() }

// Resume lifts a pause.
func (c *Coordinator) Resume() { c.pause.Resume() }

// Stop ends the live run before its next admission. It cannot be
// undone; construct a new Coordinator for the next run.
func (c *Coordinator) Stop() { c.pause.Stop() }

// IsPaused reports whether admission is currently paused.
func (c *Coordinator) IsPaused() bool { return c.pause.IsPaused() }

// Close releases the event stream and the debug logger. The store and
// archive stay open; they belong to the caller.
func (c *Coordinator) Close() error {
	c.emitter.Close()
	return c.logger.Close()
}

func (c *Coordinator) emit(typ EventType, runID, taskID, message string) {
	c.emitter.Emit(Event{
		Type:    typ,
		RunID:   runID,
		TaskID:  taskID,
		Message: message,
		Time:    c.clock(),
	})
}

// loadTracker restores a tracker from the persisted snapshot.
func (c *Coordinator) loadTracker(ctx context.Context) (*tracker.Tracker, error) {
	snap, err := c.store.LoadSnapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	tr := tracker.New(c.trackerOpts...)
	tr.Restore(snap)
	return tr, nil
}

// persist is the single save path. Every checkpoint (task creation
// batches, post-transition, run completion) goes through here.
func (c *Coordinator) persist(ctx context.Context, tr *tracker.Tracker) error {
	if err := c.store.SaveSnapshot(ctx, tr.Snapshot()); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// withTracker runs one mutating operation against the persisted
// snapshot: load, apply, save.
func (c *Coordinator) withTracker(ctx context.Context, fn func(tr *tracker.Tracker) error) error {
	tr, err := c.loadTracker(ctx)
	if err != nil {
		return err
	}
	if err := fn(tr); err != nil {
		return err
	}
	return c.persist(ctx, tr)
}

// RunReport is the caller-facing outcome of one coordination run.
type RunReport struct {
	// RunID identifies the run in history and on the event stream.
	RunID string
	// Requirement is the text the run decomposed.
	Requirement string
	// Status is the overall outcome.
	Status models.RunStatus
	// Levels holds the planned task IDs per execution level.
	Levels [][]string
	// Unscheduled maps task ID to the reason the planner excluded it.
	Unscheduled map[string]string
	// Warnings carries graph build diagnostics, such as references to
	// dependencies outside the planned set.
	Warnings []string
	// Summary is the executor's per-task verdict set. Gate validation
	// results live in Summary.GateResults.
	Summary *executor.Summary
	// Archived lists tasks moved to the long-term ledger after the run.
	Archived []string
	// StartedAt and CompletedAt bound the run.
	StartedAt   time.Time
	CompletedAt time.Time
}

// Success reports whether every planned task completed and every task
// was scheduled. One failed or unscheduled task makes the whole run a
// failure.
func (r *RunReport) Success() bool {
	return r.Summary != nil && r.Summary.Success() && len(r.Unscheduled) == 0
}

// Run executes the full pipeline for one requirement: decompose into
// tasks, persist the batch, plan dependency levels, execute them under
// the concurrency cap, persist the outcome, archive eligible tasks, and
// record the run. Individual task failures are reported in the summary,
// not returned as errors; Run only errors when the pipeline itself
// cannot proceed.
func (c *Coordinator) Run(ctx context.Context, requirement string) (*RunReport, error) {
	requirement = strings.TrimSpace(requirement)
	if requirement == "" {
		return nil, fmt.Errorf("requirement must not be empty")
	}

	runID := uuid.New().String()[:8]
	startedAt := c.clock()
	c.logger.Log("[run %s] started: %s", runID, requirement)

	if c.signalDir != "" {
		watcher, err := NewSignalWatcher(c.signalDir, c.pause)
		if err != nil {
			c.logger.Log("[run %s] signal watcher disabled: %v", runID, err)
		} else {
			defer watcher.Close()
		}
	}

	c.emit(EventRunStarted, runID, "", requirement)

	tr, err := c.loadTracker(ctx)
	if err != nil {
		return nil, err
	}

	created, err := c.createFromRequirement(tr, requirement)
	if err != nil {
		return nil, err
	}
	if err := c.persist(ctx, tr); err != nil {
		return nil, err
	}
	c.logger.Log("[run %s] created %d tasks", runID, len(created))

	g := graph.New()
	g.SetDebugLog(c.logger.Log)
	build := g.Build(created)
	warnings := build.Warnings()
	for _, w := range warnings {
		c.emit(EventWarning, runID, "", w)
	}
	plan := g.Plan()

	unscheduled := make(map[string]string, len(plan.Unscheduled))
	for _, u := range plan.Unscheduled {
		unscheduled[u.TaskID] = u.Error()
		c.emit(EventWarning, runID, u.TaskID, u.Error())
	}

	record := &models.RunRecord{
		ID:          runID,
		Requirement: requirement,
		Status:      models.RunStatusRunning,
		TotalTasks:  len(created),
		Unscheduled: plan.UnscheduledIDs(),
		StartedAt:   startedAt,
	}
	if err := c.store.SaveRun(ctx, record); err != nil {
		return nil, fmt.Errorf("record run start: %w", err)
	}

	exec := executor.New(tr, c.run,
		executor.WithMaxParallel(c.maxParallel),
		executor.WithGate(c.pause),
		executor.WithReporter(&runReporter{emitter: c.emitter, clock: c.clock, runID: runID}),
		executor.WithDebugLog(c.logger.Log),
	)
	summary, execErr := exec.Execute(ctx, plan)
	if execErr != nil {
		c.logger.Log("[run %s] execution stopped: %v", runID, execErr)
	}

	// A cancelled run still gets its final state and history saved.
	final := context.WithoutCancel(ctx)

	if err := c.persist(final, tr); err != nil {
		return nil, err
	}

	archived, err := c.archiveEligible(final, tr)
	if err != nil {
		// The run itself finished; archiving is best effort.
		c.logger.Log("[run %s] archive step failed: %v", runID, err)
		c.emit(EventWarning, runID, "", fmt.Sprintf("archive step failed: %v", err))
	}

	completedAt := c.clock()
	record.Status = runStatus(summary, len(unscheduled), execErr)
	record.Completed = summary.Completed
	record.Failed = summary.Failed
	record.Cancelled = summary.Cancelled
	record.CompletedAt = &completedAt
	if err := c.store.SaveRun(final, record); err != nil {
		return nil, fmt.Errorf("record run completion: %w", err)
	}
	if c.archive != nil {
		if err := c.archive.AppendRun(record); err != nil {
			c.logger.Log("[run %s] archive run record: %v", runID, err)
		}
	}

	report := &RunReport{
		RunID:       runID,
		Requirement: requirement,
		Status:      record.Status,
		Levels:      plan.Levels,
		Unscheduled: unscheduled,
		Warnings:    warnings,
		Summary:     summary,
		Archived:    archived,
		StartedAt:   startedAt,
		CompletedAt: completedAt,
	}

	if record.Status == models.RunStatusCancelled {
		c.emit(EventRunCancelled, runID, "", fmt.Sprintf("completed %d of %d tasks before cancel", summary.Completed, summary.Total))
	} else {
		c.emit(EventRunCompleted, runID, "", fmt.Sprintf("%s: %d completed, %d failed, %d unscheduled", record.Status, summary.Completed, summary.Failed, len(unscheduled)))
	}
	c.logger.Log("[run %s] finished %s: %d/%d completed", runID, record.Status, summary.Completed, summary.Total)

	return report, nil
}

// createFromRequirement turns decomposed components into tracked tasks,
// mapping component-index dependencies onto the assigned task IDs.
func (c *Coordinator) createFromRequirement(tr *tracker.Tracker, requirement string) ([]*models.Task, error) {
	components := decompose.Requirement(requirement)
	created := make([]*models.Task, 0, len(components))
	ids := make([]string, len(components))
	for i, comp := range components {
		deps := make([]string, 0, len(comp.DependsOn))
		for _, idx := range comp.DependsOn {
			deps = append(deps, ids[idx])
		}
		task, err := tr.Create(tracker.CreateSpec{
			Title:        comp.Title,
			Description:  comp.Description,
			Priority:     comp.Priority,
			Assignee:     comp.Role,
			Dependencies: deps,
		})
		if err != nil {
			return nil, fmt.Errorf("create %s task: %w", comp.Type, err)
		}
		ids[i] = task.ID
		created = append(created, task)
	}
	return created, nil
}

// archiveEligible moves complete tasks with no open subtasks into the
// long-term ledger and out of the live registry. Removal happens only
// after the ledger write landed.
func (c *Coordinator) archiveEligible(ctx context.Context, tr *tracker.Tracker) ([]string, error) {
	if c.archive == nil {
		return nil, nil
	}
	ids := tr.Archivable()
	if len(ids) == 0 {
		return nil, nil
	}

	tasks := make([]*models.Task, 0, len(ids))
	for _, id := range ids {
		task, err := tr.Get(id)
		if err != nil {
			continue
		}
		tasks = append(tasks, task)
	}
	if err := c.archive.AppendTasks(tasks); err != nil {
		return nil, fmt.Errorf("archive tasks: %w", err)
	}
	for _, id := range ids {
		if _, err := tr.Remove(id); err != nil {
			c.logger.Log("[archive] remove %s: %v", id, err)
		}
	}
	if err := c.persist(ctx, tr); err != nil {
		return nil, err
	}
	c.logger.Log("[archive] moved %d tasks to the ledger", len(ids))
	return ids, nil
}

// runStatus maps an executor summary onto the run's overall status.
func runStatus(summary *executor.Summary, unscheduled int, execErr error) models.RunStatus {
	switch {
	case summary.Cancelled > 0 || execErr != nil:
		return models.RunStatusCancelled
	case summary.Success() && unscheduled == 0:
		return models.RunStatusCompleted
	default:
		return models.RunStatusFailed
	}
}

// runReporter bridges executor milestones onto the event stream.
type runReporter struct {
	emitter *EventEmitter
	clock   func() time.Time
	runID   string
}

var _ executor.Reporter = (*runReporter)(nil)

func (r *runReporter) LevelStarted(level int, taskIDs []string) {
	r.emitter.Emit(Event{
		Type:    EventLevelStarted,
		RunID:   r.runID,
		Message: fmt.Sprintf("level %d: %s", level, strings.Join(taskIDs, ", ")),
		Time:    r.clock(),
	})
}

func (r *runReporter) TaskStarted(task *models.Task) {
	r.emitter.Emit(Event{
		Type:    EventTaskStarted,
		RunID:   r.runID,
		TaskID:  task.ID,
		Message: task.Title,
		Time:    r.clock(),
	})
}

func (r *runReporter) TaskFinished(task *models.Task, res executor.TaskResult) {
	typ := EventTaskFailed
	msg := res.Err
	switch res.Outcome {
	case executor.OutcomeCompleted:
		typ = EventTaskCompleted
		msg = task.Title
	case executor.OutcomeCancelled:
		typ = EventTaskCancelled
	case executor.OutcomeSkippedBlocked:
		typ = EventTaskBlocked
	}
	r.emitter.Emit(Event{
		Type:    typ,
		RunID:   r.runID,
		TaskID:  task.ID,
		Message: msg,
		Time:    r.clock(),
	})
}
