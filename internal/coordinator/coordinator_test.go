package coordinator

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/crewdev/crew/internal/archive"
	"github.com/crewdev/crew/internal/config"
	"github.com/crewdev/crew/internal/runner"
	"github.com/crewdev/crew/internal/state"
	"github.com/crewdev/crew/internal/tracker"
	"github.com/crewdev/crew/pkg/models"
)

func openTestStore(t *testing.T) *state.DB {
	t.Helper()
	db, err := state.Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("failed to open state db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

func openTestLedger(t *testing.T) *archive.Ledger {
	t.Helper()
	ledger, err := archive.Open(filepath.Join(t.TempDir(), "archive.db"))
	if err != nil {
		t.Fatalf("failed to open archive: %v", err)
	}
	t.Cleanup(func() { ledger.Close() })
	return ledger
}

func newTestCoordinator(t *testing.T, opts ...Option) (*Coordinator, *state.DB) {
	t.Helper()
	db := openTestStore(t)
	co, err := New(nil, append([]Option{WithStore(db)}, opts...)...)
	if err != nil {
		t.Fatalf("failed to create coordinator: %v", err)
	}
	return co, db
}

// drainEvents collects everything currently buffered on the stream.
func drainEvents(co *Coordinator) []Event {
	var events []Event
	for {
		select {
		case e := <-co.Events():
			events = append(events, e)
		default:
			return events
		}
	}
}

func countEvents(events []Event, typ EventType) int {
	n := 0
	for _, e := range events {
		if e.Type == typ {
			n++
		}
	}
	return n
}

func TestNewRequiresStore(t *testing.T) {
	if _, err := New(nil); err == nil {
		t.Fatal("expected error when no store is configured")
	}
}

func TestRunFullStackRequirement(t *testing.T) {
	ledger := openTestLedger(t)
	co, db := newTestCoordinator(t, WithArchive(ledger))
	ctx := context.Background()

	report, err := co.Run(ctx, "build a frontend UI with backend API and database")
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if len(report.RunID) != 8 {
		t.Errorf("expected 8-char run id, got %q", report.RunID)
	}
	if report.Status != models.RunStatusCompleted {
		t.Errorf("expected status completed, got %s", report.Status)
	}
	if !report.Success() {
		t.Error("expected report to be a success")
	}

	// Components chain sequentially: database, backend, frontend.
	if len(report.Levels) != 3 {
		t.Fatalf("expected 3 levels, got %d", len(report.Levels))
	}
	for i, level := range report.Levels {
		if len(level) != 1 {
			t.Errorf("level %d: expected 1 task, got %d", i, len(level))
		}
	}
	if report.Summary.Completed != 3 {
		t.Errorf("expected 3 completed, got %d", report.Summary.Completed)
	}
	if len(report.Unscheduled) != 0 {
		t.Errorf("expected no unscheduled tasks, got %v", report.Unscheduled)
	}

	// Completed tasks were archived out of the live registry.
	if len(report.Archived) != 3 {
		t.Errorf("expected 3 archived tasks, got %v", report.Archived)
	}
	snap, err := db.LoadSnapshot(ctx)
	if err != nil {
		t.Fatalf("failed to load snapshot: %v", err)
	}
	if len(snap.Tasks) != 0 {
		t.Errorf("expected empty registry after archiving, got %d tasks", len(snap.Tasks))
	}
	if snap.NextID != 4 {
		t.Errorf("expected next id 4 after archiving, got %d", snap.NextID)
	}
	archived, err := ledger.Tasks(0)
	if err != nil {
		t.Fatalf("failed to list archived tasks: %v", err)
	}
	if len(archived) != 3 {
		t.Errorf("expected 3 tasks in the ledger, got %d", len(archived))
	}

	// The run is recorded in working history.
	rec, err := db.GetRun(ctx, report.RunID)
	if err != nil {
		t.Fatalf("failed to load run record: %v", err)
	}
	if rec == nil {
		t.Fatal("expected a run record")
	}
	if rec.Status != models.RunStatusCompleted {
		t.Errorf("expected recorded status completed, got %s", rec.Status)
	}
	if rec.TotalTasks != 3 || rec.Completed != 3 || rec.Failed != 0 {
		t.Errorf("unexpected recorded counts: total=%d completed=%d failed=%d", rec.TotalTasks, rec.Completed, rec.Failed)
	}
	if rec.CompletedAt == nil {
		t.Error("expected a completion timestamp")
	}

	// The archive keeps the finished run too.
	runs, err := ledger.Runs(0)
	if err != nil {
		t.Fatalf("failed to list archived runs: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != report.RunID {
		t.Errorf("expected the run in the archive ledger, got %v", runs)
	}

	events := drainEvents(co)
	if len(events) == 0 {
		t.Fatal("expected events on the stream")
	}
	if events[0].Type != EventRunStarted {
		t.Errorf("expected first event run_started, got %s", events[0].Type)
	}
	if events[len(events)-1].Type != EventRunCompleted {
		t.Errorf("expected last event run_completed, got %s", events[len(events)-1].Type)
	}
	if got := countEvents(events, EventLevelStarted); got != 3 {
		t.Errorf("expected 3 level_started events, got %d", got)
	}
	if got := countEvents(events, EventTaskCompleted); got != 3 {
		t.Errorf("expected 3 task_completed events, got %d", got)
	}
}

func TestRunFailureMarksDependentsUnstartable(t *testing.T) {
	failing := runner.RunnerFunc(func(ctx context.Context, task *models.Task) (runner.Result, error) {
		if task.Title == "Backend implementation" {
			return runner.Result{Success: false, Err: "compilation failed"}, nil
		}
		return runner.Result{Success: true}, nil
	})
	ledger := openTestLedger(t)
	co, db := newTestCoordinator(t, WithRunner(failing), WithArchive(ledger))
	ctx := context.Background()

	report, err := co.Run(ctx, "build a frontend UI with backend API and database")
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if report.Status != models.RunStatusFailed {
		t.Errorf("expected status failed, got %s", report.Status)
	}
	if report.Success() {
		t.Error("expected report to be a failure")
	}
	if report.Summary.Completed != 1 {
		t.Errorf("expected 1 completed, got %d", report.Summary.Completed)
	}
	if report.Summary.Failed != 1 {
		t.Errorf("expected 1 failed, got %d", report.Summary.Failed)
	}
	if report.Summary.Unstartable != 1 {
		t.Errorf("expected 1 unstartable, got %d", report.Summary.Unstartable)
	}

	// Database completed and was archived; the failed backend and the
	// unstartable frontend stay live.
	snap, err := db.LoadSnapshot(ctx)
	if err != nil {
		t.Fatalf("failed to load snapshot: %v", err)
	}
	if len(snap.Tasks) != 2 {
		t.Fatalf("expected 2 live tasks, got %d", len(snap.Tasks))
	}
	for _, task := range snap.Tasks {
		switch task.Title {
		case "Backend implementation":
			if task.Status != models.TaskStatusFailed {
				t.Errorf("expected backend failed, got %s", task.Status)
			}
			if task.Error != "compilation failed" {
				t.Errorf("expected recorded error, got %q", task.Error)
			}
		case "Frontend implementation":
			if task.Status != models.TaskStatusNew {
				t.Errorf("expected frontend untouched, got %s", task.Status)
			}
		default:
			t.Errorf("unexpected live task %q", task.Title)
		}
	}

	archived, err := ledger.Tasks(0)
	if err != nil {
		t.Fatalf("failed to list archived tasks: %v", err)
	}
	if len(archived) != 1 || archived[0].Title != "Database setup and operations" {
		t.Errorf("expected only the database task archived, got %v", archived)
	}

	events := drainEvents(co)
	if got := countEvents(events, EventTaskFailed); got != 2 {
		t.Errorf("expected 2 task_failed events (failed + unstartable), got %d", got)
	}
}

func TestRunEmptyRequirement(t *testing.T) {
	co, _ := newTestCoordinator(t)
	if _, err := co.Run(context.Background(), "   "); err == nil {
		t.Fatal("expected error for empty requirement")
	}
}

func TestRunCancelledPersistsPartialProgress(t *testing.T) {
	started := make(chan struct{})
	var once sync.Once
	blocking := runner.RunnerFunc(func(ctx context.Context, task *models.Task) (runner.Result, error) {
		once.Do(func() { close(started) })
		<-ctx.Done()
		return runner.Result{}, ctx.Err()
	})
	co, db := newTestCoordinator(t, WithRunner(blocking))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-started
		cancel()
	}()

	report, err := co.Run(ctx, "implement the api and test it")
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if report.Status != models.RunStatusCancelled {
		t.Errorf("expected status cancelled, got %s", report.Status)
	}
	if report.Summary.Cancelled != 2 {
		t.Errorf("expected 2 cancelled tasks, got %d", report.Summary.Cancelled)
	}

	// The final snapshot still landed even though the run context was
	// cancelled: the in-flight task was restored, the unadmitted one
	// never moved.
	snap, err := db.LoadSnapshot(context.Background())
	if err != nil {
		t.Fatalf("failed to load snapshot: %v", err)
	}
	if len(snap.Tasks) != 2 {
		t.Fatalf("expected 2 live tasks, got %d", len(snap.Tasks))
	}
	for _, task := range snap.Tasks {
		if task.Status != models.TaskStatusNew {
			t.Errorf("task %s: expected status new after cancel, got %s", task.ID, task.Status)
		}
	}

	rec, err := db.GetRun(context.Background(), report.RunID)
	if err != nil {
		t.Fatalf("failed to load run record: %v", err)
	}
	if rec == nil || rec.Status != models.RunStatusCancelled {
		t.Errorf("expected recorded status cancelled, got %+v", rec)
	}

	events := drainEvents(co)
	if got := countEvents(events, EventRunCancelled); got != 1 {
		t.Errorf("expected 1 run_cancelled event, got %d", got)
	}
}

func TestFacadeCreateAndTransitionPersistAcrossInstances(t *testing.T) {
	db := openTestStore(t)
	ctx := context.Background()

	first, err := New(nil, WithStore(db))
	if err != nil {
		t.Fatalf("failed to create coordinator: %v", err)
	}
	task, err := first.CreateTask(ctx, tracker.CreateSpec{
		Title:    "Design the payment schema",
		Assignee: models.RoleArchitect,
		Priority: models.PriorityHigh,
	})
	if err != nil {
		t.Fatalf("failed to create task: %v", err)
	}
	if task.Status != models.TaskStatusAnalyzing {
		t.Errorf("expected architect task to start analyzing, got %s", task.Status)
	}

	// A second coordinator over the same store sees the committed task.
	second, err := New(nil, WithStore(db))
	if err != nil {
		t.Fatalf("failed to create second coordinator: %v", err)
	}
	got, err := second.Task(ctx, task.ID)
	if err != nil {
		t.Fatalf("failed to load task: %v", err)
	}
	if got.Title != "Design the payment schema" {
		t.Errorf("expected persisted title, got %q", got.Title)
	}

	updated, err := second.Transition(ctx, task.ID, models.TaskStatusImplementing, tracker.TransitionRequest{
		Assignee: models.RoleCoder,
		Note:     "design approved",
	})
	if err != nil {
		t.Fatalf("failed to transition: %v", err)
	}
	if updated.Status != models.TaskStatusImplementing {
		t.Errorf("expected implementing, got %s", updated.Status)
	}
	if len(updated.Handoffs) != 1 {
		t.Fatalf("expected 1 handoff, got %d", len(updated.Handoffs))
	}
	h := updated.Handoffs[0]
	if h.FromRole != models.RoleArchitect || h.ToRole != models.RoleCoder {
		t.Errorf("expected architect -> coder handoff, got %s -> %s", h.FromRole, h.ToRole)
	}
	if h.StateAtHandoff != models.TaskStatusAnalyzing {
		t.Errorf("expected handoff to capture pre-transition state, got %s", h.StateAtHandoff)
	}

	events := drainEvents(second)
	if got := countEvents(events, EventHandoff); got != 1 {
		t.Errorf("expected 1 handoff event, got %d", got)
	}

	// The first instance observes the second's committed write.
	back, err := first.Task(ctx, task.ID)
	if err != nil {
		t.Fatalf("failed to reload task: %v", err)
	}
	if back.Status != models.TaskStatusImplementing || len(back.Handoffs) != 1 {
		t.Errorf("expected transition visible across instances, got status=%s handoffs=%d", back.Status, len(back.Handoffs))
	}
}

func TestFacadeBlockerLifecycle(t *testing.T) {
	co, _ := newTestCoordinator(t)
	ctx := context.Background()

	task, err := co.CreateTask(ctx, tracker.CreateSpec{
		Title:    "Implement the payment service",
		Assignee: models.RoleCoder,
	})
	if err != nil {
		t.Fatalf("failed to create task: %v", err)
	}
	if _, err := co.Transition(ctx, task.ID, models.TaskStatusImplementing, tracker.TransitionRequest{}); err != nil {
		t.Fatalf("failed to transition: %v", err)
	}

	blocked, err := co.AddBlocker(ctx, task.ID, "waiting on API credentials")
	if err != nil {
		t.Fatalf("failed to add blocker: %v", err)
	}
	if blocked.Status != models.TaskStatusBlocked {
		t.Errorf("expected blocked, got %s", blocked.Status)
	}

	ready, err := co.ReadyTasks(ctx)
	if err != nil {
		t.Fatalf("failed to list ready tasks: %v", err)
	}
	if len(ready) != 0 {
		t.Errorf("expected no ready tasks while blocked, got %d", len(ready))
	}

	restored, err := co.ResolveBlocker(ctx, task.ID, 0)
	if err != nil {
		t.Fatalf("failed to resolve blocker: %v", err)
	}
	if restored.Status != models.TaskStatusImplementing {
		t.Errorf("expected restore to implementing, got %s", restored.Status)
	}

	events := drainEvents(co)
	if got := countEvents(events, EventTaskBlocked); got != 1 {
		t.Errorf("expected 1 task_blocked event, got %d", got)
	}
}

func TestFacadeDependencyAndGateFlow(t *testing.T) {
	co, _ := newTestCoordinator(t)
	ctx := context.Background()

	design, err := co.CreateTask(ctx, tracker.CreateSpec{Title: "Design the schema", Assignee: models.RoleArchitect})
	if err != nil {
		t.Fatalf("failed to create design task: %v", err)
	}
	impl, err := co.CreateTask(ctx, tracker.CreateSpec{Title: "Implement the service", Assignee: models.RoleCoder})
	if err != nil {
		t.Fatalf("failed to create impl task: %v", err)
	}

	if err := co.AddDependency(ctx, impl.ID, design.ID); err != nil {
		t.Fatalf("failed to add dependency: %v", err)
	}

	ready, err := co.ReadyTasks(ctx)
	if err != nil {
		t.Fatalf("failed to list ready tasks: %v", err)
	}
	if len(ready) != 1 || ready[0].ID != design.ID {
		t.Errorf("expected only the design task ready, got %v", readyIDs(ready))
	}

	gated, err := co.SetQualityGate(ctx, impl.ID, "tests_passing", true)
	if err != nil {
		t.Fatalf("failed to set gate: %v", err)
	}
	if !gated.QualityGates["tests_passing"] {
		t.Error("expected tests_passing gate to be recorded")
	}

	if _, err := co.Transition(ctx, design.ID, models.TaskStatusComplete, tracker.TransitionRequest{}); err != nil {
		t.Fatalf("failed to complete design: %v", err)
	}
	ready, err = co.ReadyTasks(ctx)
	if err != nil {
		t.Fatalf("failed to list ready tasks: %v", err)
	}
	if len(ready) != 1 || ready[0].ID != impl.ID {
		t.Errorf("expected the impl task ready after its dependency completed, got %v", readyIDs(ready))
	}
}

func readyIDs(tasks []*models.Task) []string {
	ids := make([]string, 0, len(tasks))
	for _, task := range tasks {
		ids = append(ids, task.ID)
	}
	return ids
}

func TestFacadeTreeAndTeamStatus(t *testing.T) {
	co, _ := newTestCoordinator(t)
	ctx := context.Background()

	parent, err := co.CreateTask(ctx, tracker.CreateSpec{Title: "Build the billing module", Assignee: models.RoleCoder})
	if err != nil {
		t.Fatalf("failed to create parent: %v", err)
	}
	child, err := co.CreateSubtask(ctx, parent.ID, tracker.CreateSpec{Title: "Write the migration", Assignee: models.RoleCoder})
	if err != nil {
		t.Fatalf("failed to create subtask: %v", err)
	}

	tree, err := co.TaskTree(ctx, parent.ID)
	if err != nil {
		t.Fatalf("failed to load tree: %v", err)
	}
	if tree.Task.ID != parent.ID {
		t.Errorf("expected tree rooted at %s, got %s", parent.ID, tree.Task.ID)
	}
	if len(tree.Children) != 1 || tree.Children[0].Task.ID != child.ID {
		t.Fatalf("expected one child %s, got %+v", child.ID, tree.Children)
	}

	if err := co.SetParallelGroup(ctx, parent.ID, "billing"); err != nil {
		t.Fatalf("failed to set parallel group: %v", err)
	}
	groups, err := co.ParallelGroups(ctx)
	if err != nil {
		t.Fatalf("failed to list groups: %v", err)
	}
	if len(groups["billing"]) != 1 {
		t.Errorf("expected the billing group, got %v", groups)
	}

	status, err := co.TeamStatus(ctx)
	if err != nil {
		t.Fatalf("failed to load team status: %v", err)
	}
	if status.TotalTasks != 2 {
		t.Errorf("expected 2 tasks, got %d", status.TotalTasks)
	}
	if status.ByAssignee[models.RoleCoder] != 2 {
		t.Errorf("expected 2 coder tasks, got %d", status.ByAssignee[models.RoleCoder])
	}
	if status.ParallelGroups != 1 {
		t.Errorf("expected 1 parallel group, got %d", status.ParallelGroups)
	}
}

func TestPreviewPlanLeavesStateUntouched(t *testing.T) {
	co, _ := newTestCoordinator(t)
	ctx := context.Background()

	storage, err := co.CreateTask(ctx, tracker.CreateSpec{Title: "Set up storage", Assignee: models.RoleCoder, Priority: models.PriorityHigh})
	if err != nil {
		t.Fatalf("failed to create task: %v", err)
	}
	service, err := co.CreateTask(ctx, tracker.CreateSpec{
		Title:        "Build the service",
		Assignee:     models.RoleCoder,
		Dependencies: []string{storage.ID},
	})
	if err != nil {
		t.Fatalf("failed to create task: %v", err)
	}
	// A dependency on an unknown ID is externally satisfied and only
	// warned about.
	if _, err := co.CreateTask(ctx, tracker.CreateSpec{
		Title:        "Ship the release",
		Assignee:     models.RoleCoder,
		Dependencies: []string{"task_999"},
	}); err != nil {
		t.Fatalf("failed to create task: %v", err)
	}

	preview, err := co.PreviewPlan(ctx)
	if err != nil {
		t.Fatalf("failed to preview plan: %v", err)
	}
	if len(preview.Levels) != 2 {
		t.Fatalf("expected 2 levels, got %d", len(preview.Levels))
	}
	if len(preview.Levels[0]) != 2 {
		t.Errorf("expected 2 tasks in level 0, got %v", preview.Levels[0])
	}
	if len(preview.Levels[1]) != 1 || preview.Levels[1][0] != service.ID {
		t.Errorf("expected the service task alone in level 1, got %v", preview.Levels[1])
	}
	if len(preview.Unscheduled) != 0 {
		t.Errorf("expected no unscheduled tasks, got %v", preview.Unscheduled)
	}
	if len(preview.Warnings) != 1 {
		t.Errorf("expected 1 warning for the unknown dependency, got %v", preview.Warnings)
	}

	// Previewing never executes or mutates anything.
	got, err := co.Task(ctx, storage.ID)
	if err != nil {
		t.Fatalf("failed to reload task: %v", err)
	}
	if got.Status != models.TaskStatusNew {
		t.Errorf("expected task untouched by preview, got %s", got.Status)
	}
}

func TestRecentRunsNewestFirst(t *testing.T) {
	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	step := 0
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		step++
		return base.Add(time.Duration(step) * time.Minute)
	}

	co, _ := newTestCoordinator(t, WithClock(clock))
	ctx := context.Background()

	first, err := co.Run(ctx, "implement the api")
	if err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	second, err := co.Run(ctx, "test the new parser")
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}

	runs, err := co.RecentRuns(ctx, 0)
	if err != nil {
		t.Fatalf("failed to list runs: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}
	if runs[0].ID != second.RunID || runs[1].ID != first.RunID {
		t.Errorf("expected newest first, got [%s %s]", runs[0].ID, runs[1].ID)
	}

	rec, err := co.RunRecord(ctx, first.RunID)
	if err != nil {
		t.Fatalf("failed to load run record: %v", err)
	}
	if rec == nil || rec.Requirement != "implement the api" {
		t.Errorf("expected the first run record, got %+v", rec)
	}

	missing, err := co.RunRecord(ctx, "no-such-run")
	if err != nil {
		t.Fatalf("unexpected error for missing run: %v", err)
	}
	if missing != nil {
		t.Errorf("expected nil for missing run, got %+v", missing)
	}
}

func TestPolicyShapesNewTasks(t *testing.T) {
	policy := config.TeamPolicy{
		Roles:         []string{"security_reviewer"},
		QualityGates:  []string{"security_scan"},
		MaxIterations: 5,
	}
	co, _ := newTestCoordinator(t, WithPolicy(policy))
	ctx := context.Background()

	task, err := co.CreateTask(ctx, tracker.CreateSpec{Title: "Audit the login flow", Assignee: models.RoleCoder})
	if err != nil {
		t.Fatalf("failed to create task: %v", err)
	}
	if task.MaxIterations != 5 {
		t.Errorf("expected policy rework bound 5, got %d", task.MaxIterations)
	}
	if len(task.QualityGates) != 1 {
		t.Errorf("expected the policy gate set, got %v", task.QualityGates)
	}
	if _, ok := task.QualityGates["security_scan"]; !ok {
		t.Errorf("expected security_scan gate, got %v", task.QualityGates)
	}

	// Policy roles are valid transition targets.
	if _, err := co.Transition(ctx, task.ID, models.TaskStatusReviewing, tracker.TransitionRequest{
		Assignee: models.Role("security_reviewer"),
	}); err != nil {
		t.Errorf("expected policy role to be accepted, got %v", err)
	}
}
