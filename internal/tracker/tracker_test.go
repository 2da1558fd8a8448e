package tracker

import (
	"errors"
	"strings"
	"testing"

	"github.com/crewdev/crew/pkg/models"
)

func TestCreateAssignsSequentialIDs(t *testing.T) {
	tr := New()
	first, err := tr.Create(CreateSpec{Title: "first"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := tr.Create(CreateSpec{Title: "second"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if first.ID != "task_001" {
		t.Errorf("expected task_001, got %s", first.ID)
	}
	if second.ID != "task_002" {
		t.Errorf("expected task_002, got %s", second.ID)
	}
}

func TestCreateInitialStatusByAssignee(t *testing.T) {
	tr := New()

	architect, err := tr.Create(CreateSpec{Title: "design", Assignee: models.RoleArchitect})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if architect.Status != models.TaskStatusAnalyzing {
		t.Errorf("architect task should start analyzing, got %s", architect.Status)
	}

	coder, err := tr.Create(CreateSpec{Title: "build", Assignee: models.RoleCoder})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if coder.Status != models.TaskStatusNew {
		t.Errorf("coder task should start new, got %s", coder.Status)
	}
}

func TestCreateDefaults(t *testing.T) {
	tr := New()
	task, err := tr.Create(CreateSpec{Title: "defaults"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if task.Priority != models.PriorityMedium {
		t.Errorf("expected medium priority default, got %s", task.Priority)
	}
	if task.MaxIterations != DefaultMaxIterations {
		t.Errorf("expected max iterations %d, got %d", DefaultMaxIterations, task.MaxIterations)
	}
	for _, gate := range DefaultQualityGates() {
		passed, ok := task.QualityGates[gate]
		if !ok {
			t.Errorf("missing default gate %q", gate)
		}
		if passed {
			t.Errorf("gate %q should start failing", gate)
		}
	}
}

func TestCreateRejectsUnknownAssignee(t *testing.T) {
	tr := New()
	_, err := tr.Create(CreateSpec{Title: "bad", Assignee: "intern"})

	var invalidAssignee *InvalidAssigneeError
	if !errors.As(err, &invalidAssignee) {
		t.Fatalf("expected InvalidAssigneeError, got %v", err)
	}
}

func TestCreateAcceptsPolicyRole(t *testing.T) {
	tr := New(WithExtraRoles([]models.Role{"security_reviewer"}))
	task, err := tr.Create(CreateSpec{Title: "audit", Assignee: "security_reviewer"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if task.Assignee != "security_reviewer" {
		t.Errorf("expected policy role kept, got %s", task.Assignee)
	}
}

func TestCreateSubtaskLinksWithoutDependency(t *testing.T) {
	tr := New()
	parent, _ := tr.Create(CreateSpec{Title: "parent"})
	child, err := tr.CreateSubtask(parent.ID, CreateSpec{Title: "child"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if child.ParentTask != parent.ID {
		t.Errorf("expected parent %s, got %s", parent.ID, child.ParentTask)
	}
	if len(child.Dependencies) != 0 {
		t.Errorf("subtask must not depend on its parent, got %v", child.Dependencies)
	}

	got, _ := tr.Get(parent.ID)
	if len(got.Subtasks) != 1 || got.Subtasks[0] != child.ID {
		t.Errorf("parent should list child, got %v", got.Subtasks)
	}
}

func TestCreateSubtaskUnknownParent(t *testing.T) {
	tr := New()
	_, err := tr.CreateSubtask("task_999", CreateSpec{Title: "orphan"})

	var notFound *NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
	if notFound.ID != "task_999" {
		t.Errorf("expected task_999 in error, got %s", notFound.ID)
	}
}

func TestTransitionUnknownTask(t *testing.T) {
	tr := New()
	_, err := tr.Transition("task_404", models.TaskStatusPlanning, TransitionRequest{})

	var notFound *NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}

func TestTransitionInvalidState(t *testing.T) {
	tr := New()
	task, _ := tr.Create(CreateSpec{Title: "t"})
	_, err := tr.Transition(task.ID, "daydreaming", TransitionRequest{})

	var invalidState *InvalidStateError
	if !errors.As(err, &invalidState) {
		t.Fatalf("expected InvalidStateError, got %v", err)
	}
}

func TestTransitionInvalidAssignee(t *testing.T) {
	tr := New()
	task, _ := tr.Create(CreateSpec{Title: "t"})
	_, err := tr.Transition(task.ID, models.TaskStatusPlanning, TransitionRequest{Assignee: "ghost"})

	var invalidAssignee *InvalidAssigneeError
	if !errors.As(err, &invalidAssignee) {
		t.Fatalf("expected InvalidAssigneeError, got %v", err)
	}
}

func TestTransitionRoleChangeAppendsHandoff(t *testing.T) {
	tr := New()
	task, _ := tr.Create(CreateSpec{
		Title:    "feature",
		Assignee: models.RoleArchitect,
		Context:  models.Context{"design_doc": "v1"},
	})

	got, err := tr.Transition(task.ID, models.TaskStatusImplementing, TransitionRequest{
		Assignee: models.RoleCoder,
		Note:     "design approved",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(got.Handoffs) != 1 {
		t.Fatalf("expected 1 handoff, got %d", len(got.Handoffs))
	}
	h := got.Handoffs[0]
	if h.FromRole != models.RoleArchitect || h.ToRole != models.RoleCoder {
		t.Errorf("handoff roles wrong: %s -> %s", h.FromRole, h.ToRole)
	}
	if h.StateAtHandoff != models.TaskStatusAnalyzing {
		t.Errorf("handoff must capture pre-transition state, got %s", h.StateAtHandoff)
	}
	if h.ContextSnapshot["design_doc"] != "v1" {
		t.Errorf("handoff must snapshot context, got %v", h.ContextSnapshot)
	}
	if h.Notes != "design approved" {
		t.Errorf("handoff note missing, got %q", h.Notes)
	}
}

func TestTransitionStateChangeAloneNoHandoff(t *testing.T) {
	tr := New()
	task, _ := tr.Create(CreateSpec{Title: "t", Assignee: models.RoleCoder})

	got, err := tr.Transition(task.ID, models.TaskStatusImplementing, TransitionRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got.Handoffs) != 0 {
		t.Errorf("state change without role change must not record a handoff, got %d", len(got.Handoffs))
	}

	// Same role named explicitly is not a role change either.
	got, err = tr.Transition(task.ID, models.TaskStatusReviewing, TransitionRequest{Assignee: models.RoleCoder})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got.Handoffs) != 0 {
		t.Errorf("same-role transition must not record a handoff, got %d", len(got.Handoffs))
	}
}

func TestTransitionIterationIncrementsCount(t *testing.T) {
	tr := New()
	task, _ := tr.Create(CreateSpec{Title: "t", Assignee: models.RoleCoder})

	got, err := tr.Transition(task.ID, models.TaskStatusIteration, TransitionRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.IterationCount != 1 {
		t.Errorf("expected iteration count 1, got %d", got.IterationCount)
	}
	if got.Status != models.TaskStatusIteration {
		t.Errorf("expected iteration status, got %s", got.Status)
	}
}

func TestTransitionIterationOverflowBlocksAtomically(t *testing.T) {
	tr := New()
	task, _ := tr.Create(CreateSpec{Title: "t", Assignee: models.RoleCoder, MaxIterations: 2})

	for i := 0; i < 2; i++ {
		if _, err := tr.Transition(task.ID, models.TaskStatusIteration, TransitionRequest{}); err != nil {
			t.Fatalf("iteration %d failed: %v", i+1, err)
		}
		if _, err := tr.Transition(task.ID, models.TaskStatusImplementing, TransitionRequest{}); err != nil {
			t.Fatalf("rework %d failed: %v", i+1, err)
		}
	}

	// Third entry into iteration exceeds max_iterations=2: the task
	// must land in blocked with a blocker naming the limit, never sit
	// past the bound in iteration.
	got, err := tr.Transition(task.ID, models.TaskStatusIteration, TransitionRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != models.TaskStatusBlocked {
		t.Errorf("expected blocked after overflow, got %s", got.Status)
	}
	if got.IterationCount != 3 {
		t.Errorf("expected iteration count 3, got %d", got.IterationCount)
	}
	if len(got.Blockers) != 1 {
		t.Fatalf("expected 1 blocker, got %v", got.Blockers)
	}
	if !strings.Contains(got.Blockers[0], "iterations (2)") {
		t.Errorf("blocker should reference the limit, got %q", got.Blockers[0])
	}
}

func TestTransitionBlockedByOpenBlockers(t *testing.T) {
	tr := New()
	task, _ := tr.Create(CreateSpec{Title: "t", Assignee: models.RoleCoder})
	if _, err := tr.AddBlocker(task.ID, "waiting on credentials"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Any transition request while blockers are open lands in blocked.
	got, err := tr.Transition(task.ID, models.TaskStatusComplete, TransitionRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != models.TaskStatusBlocked {
		t.Errorf("open blockers must force blocked, got %s", got.Status)
	}
	if got.CompletedAt != nil {
		t.Error("blocked task must not record completion")
	}
}

func TestTransitionToBlockedWithoutBlockersRejected(t *testing.T) {
	tr := New()
	task, _ := tr.Create(CreateSpec{Title: "t"})

	if _, err := tr.Transition(task.ID, models.TaskStatusBlocked, TransitionRequest{}); err == nil {
		t.Error("blocked without open blockers should be rejected")
	}
}

func TestTransitionCompleteSetsTimestamp(t *testing.T) {
	tr := New()
	task, _ := tr.Create(CreateSpec{Title: "t"})

	got, err := tr.Transition(task.ID, models.TaskStatusComplete, TransitionRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != models.TaskStatusComplete {
		t.Errorf("expected complete, got %s", got.Status)
	}
	if got.CompletedAt == nil {
		t.Error("expected CompletedAt set")
	}
}

func TestTransitionCompleteIgnoresFailingGates(t *testing.T) {
	// Gate results never gate the state machine itself; callers decide
	// whether to honor them before requesting complete.
	tr := New()
	task, _ := tr.Create(CreateSpec{Title: "t"})

	got, err := tr.Transition(task.ID, models.TaskStatusComplete, TransitionRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != models.TaskStatusComplete {
		t.Errorf("complete must be accepted with failing gates, got %s", got.Status)
	}
	if got.GatesPassed() {
		t.Error("test expects default gates to be failing")
	}
}

func TestTransitionOutOfTerminalRejected(t *testing.T) {
	tr := New()
	task, _ := tr.Create(CreateSpec{Title: "t"})
	if _, err := tr.Transition(task.ID, models.TaskStatusComplete, TransitionRequest{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := tr.Transition(task.ID, models.TaskStatusImplementing, TransitionRequest{}); err == nil {
		t.Error("transition out of complete should be rejected")
	}
}

func TestResolveBlockerRestoresPreBlockState(t *testing.T) {
	tr := New()
	task, _ := tr.Create(CreateSpec{Title: "t", Assignee: models.RoleCoder})
	if _, err := tr.Transition(task.ID, models.TaskStatusReviewing, TransitionRequest{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	blocked, _ := tr.AddBlocker(task.ID, "reviewer out sick")
	if blocked.Status != models.TaskStatusBlocked {
		t.Fatalf("expected blocked, got %s", blocked.Status)
	}

	got, err := tr.ResolveBlocker(task.ID, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != models.TaskStatusReviewing {
		t.Errorf("expected restore to reviewing, got %s", got.Status)
	}
	if got.Status == models.TaskStatusNew {
		t.Error("restore must never reset to new")
	}
}

func TestResolveBlockerPartialKeepsBlocked(t *testing.T) {
	tr := New()
	task, _ := tr.Create(CreateSpec{Title: "t"})
	tr.AddBlocker(task.ID, "first")
	tr.AddBlocker(task.ID, "second")

	got, err := tr.ResolveBlocker(task.ID, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != models.TaskStatusBlocked {
		t.Errorf("task with remaining blockers must stay blocked, got %s", got.Status)
	}
	if len(got.Blockers) != 1 || got.Blockers[0] != "second" {
		t.Errorf("expected [second] remaining, got %v", got.Blockers)
	}
}

func TestResolveBlockerBadIndex(t *testing.T) {
	tr := New()
	task, _ := tr.Create(CreateSpec{Title: "t"})
	tr.AddBlocker(task.ID, "only")

	if _, err := tr.ResolveBlocker(task.ID, 5); err == nil {
		t.Error("expected error for out-of-range blocker index")
	}
}

func TestSetQualityGate(t *testing.T) {
	tr := New()
	task, _ := tr.Create(CreateSpec{Title: "t"})

	got, err := tr.SetQualityGate(task.ID, "tests_passing", true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.QualityGates["tests_passing"] {
		t.Error("gate should be passing after set")
	}
	if got.Status != models.TaskStatusNew {
		t.Errorf("setting a gate must not transition the task, got %s", got.Status)
	}

	if _, err := tr.SetQualityGate(task.ID, "vibes_good", true); err == nil {
		t.Error("expected error for unknown gate name")
	}
}

func TestAddDependencyValidation(t *testing.T) {
	tr := New()
	a, _ := tr.Create(CreateSpec{Title: "a"})
	b, _ := tr.Create(CreateSpec{Title: "b"})

	if err := tr.AddDependency(b.ID, a.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Duplicate is a no-op.
	if err := tr.AddDependency(b.ID, a.ID); err != nil {
		t.Fatalf("duplicate dependency should be ignored: %v", err)
	}
	got, _ := tr.Get(b.ID)
	if len(got.Dependencies) != 1 {
		t.Errorf("expected single dependency, got %v", got.Dependencies)
	}

	if err := tr.AddDependency(a.ID, a.ID); err == nil {
		t.Error("self-dependency must be rejected")
	}

	var notFound *NotFoundError
	if err := tr.AddDependency(a.ID, "task_404"); !errors.As(err, &notFound) {
		t.Errorf("expected NotFoundError for unknown dependency, got %v", err)
	}
}

func TestCanParallelize(t *testing.T) {
	tr := New()
	a, _ := tr.Create(CreateSpec{Title: "a"})
	b, _ := tr.Create(CreateSpec{Title: "b"})
	c, _ := tr.Create(CreateSpec{Title: "c", Dependencies: []string{a.ID}})

	if ok, err := tr.CanParallelize(a.ID, b.ID); err != nil || !ok {
		t.Errorf("independent tasks should parallelize, got %v %v", ok, err)
	}
	if ok, _ := tr.CanParallelize(a.ID, c.ID); ok {
		t.Error("dependent tasks must not parallelize")
	}
	if _, err := tr.CanParallelize(a.ID, "task_404"); err == nil {
		t.Error("expected error for unknown task")
	}
}

func TestTaskTree(t *testing.T) {
	tr := New()
	root, _ := tr.Create(CreateSpec{Title: "root"})
	child, _ := tr.CreateSubtask(root.ID, CreateSpec{Title: "child"})
	if _, err := tr.CreateSubtask(child.ID, CreateSpec{Title: "grandchild"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tree, err := tr.TaskTree(root.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tree.Task.ID != root.ID {
		t.Errorf("expected root %s, got %s", root.ID, tree.Task.ID)
	}
	if len(tree.Children) != 1 {
		t.Fatalf("expected 1 child, got %d", len(tree.Children))
	}
	if len(tree.Children[0].Children) != 1 {
		t.Fatalf("expected 1 grandchild, got %d", len(tree.Children[0].Children))
	}

	var notFound *NotFoundError
	if _, err := tr.TaskTree("task_404"); !errors.As(err, &notFound) {
		t.Errorf("expected NotFoundError, got %v", err)
	}
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	tr := New()
	a, _ := tr.Create(CreateSpec{Title: "a", Assignee: models.RoleArchitect, Context: models.Context{"k": "v"}})
	tr.Create(CreateSpec{Title: "b", Dependencies: []string{a.ID}})
	tr.Transition(a.ID, models.TaskStatusPlanning, TransitionRequest{Assignee: models.RoleCoder, Note: "go"})
	tr.AddBlocker(a.ID, "hold")
	tr.SetQualityGate(a.ID, "tests_passing", true)

	snap := tr.Snapshot()

	restored := New()
	restored.Restore(snap)

	if restored.Len() != tr.Len() {
		t.Fatalf("expected %d tasks after restore, got %d", tr.Len(), restored.Len())
	}
	want, _ := tr.Get(a.ID)
	got, err := restored.Get(a.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != want.Status || got.Assignee != want.Assignee {
		t.Errorf("restored task differs: %s/%s vs %s/%s", got.Status, got.Assignee, want.Status, want.Assignee)
	}
	if len(got.Handoffs) != 1 || got.Handoffs[0].Notes != "go" {
		t.Errorf("handoff history lost in round trip: %+v", got.Handoffs)
	}
	if len(got.Blockers) != 1 || got.Blockers[0] != "hold" {
		t.Errorf("blockers lost in round trip: %v", got.Blockers)
	}
	if !got.QualityGates["tests_passing"] {
		t.Error("gate results lost in round trip")
	}

	// The ID counter survives: new tasks never reuse IDs.
	next, _ := restored.Create(CreateSpec{Title: "c"})
	if next.ID != "task_003" {
		t.Errorf("expected task_003 after restore, got %s", next.ID)
	}
}

func TestArchivableAndRemove(t *testing.T) {
	tr := New()
	done, _ := tr.Create(CreateSpec{Title: "done"})
	parent, _ := tr.Create(CreateSpec{Title: "parent"})
	child, _ := tr.CreateSubtask(parent.ID, CreateSpec{Title: "child"})

	tr.Transition(done.ID, models.TaskStatusComplete, TransitionRequest{})
	tr.Transition(parent.ID, models.TaskStatusComplete, TransitionRequest{})

	// parent has an open subtask, so only the standalone task archives.
	ids := tr.Archivable()
	if len(ids) != 1 || ids[0] != done.ID {
		t.Fatalf("expected only %s archivable, got %v", done.ID, ids)
	}

	tr.Transition(child.ID, models.TaskStatusComplete, TransitionRequest{})
	ids = tr.Archivable()
	if len(ids) != 3 {
		t.Fatalf("expected all three archivable, got %v", ids)
	}

	removed, err := tr.Remove(done.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if removed.ID != done.ID {
		t.Errorf("expected removed task %s, got %s", done.ID, removed.ID)
	}
	if _, err := tr.Get(done.ID); err == nil {
		t.Error("removed task should be gone from the registry")
	}

	// IDs are never reused after removal.
	next, _ := tr.Create(CreateSpec{Title: "next"})
	if next.ID != "task_004" {
		t.Errorf("expected task_004, got %s", next.ID)
	}
}

func TestReadyTasksExcludesBlockedAndComplete(t *testing.T) {
	tr := New()
	a, _ := tr.Create(CreateSpec{Title: "a"})
	b, _ := tr.Create(CreateSpec{Title: "b", Dependencies: []string{a.ID}})
	c, _ := tr.Create(CreateSpec{Title: "c"})
	tr.Create(CreateSpec{Title: "d"})

	tr.Transition(a.ID, models.TaskStatusComplete, TransitionRequest{})
	tr.AddBlocker(c.ID, "stuck")

	ready := tr.ReadyTasks()
	ids := make([]string, len(ready))
	for i, task := range ready {
		ids[i] = task.ID
	}

	for _, id := range ids {
		if id == a.ID {
			t.Error("complete task must not be ready")
		}
		if id == c.ID {
			t.Error("blocked task must not be ready")
		}
	}
	found := false
	for _, id := range ids {
		if id == b.ID {
			found = true
		}
	}
	if !found {
		t.Errorf("task with satisfied dependency should be ready, got %v", ids)
	}
}

func TestReadyTasksDependencyUnsatisfied(t *testing.T) {
	tr := New()
	a, _ := tr.Create(CreateSpec{Title: "a"})
	b, _ := tr.Create(CreateSpec{Title: "b", Dependencies: []string{a.ID}})

	ready := tr.ReadyTasks()
	for _, task := range ready {
		if task.ID == b.ID {
			t.Error("task with incomplete dependency must not be ready")
		}
	}
}

func TestReadyTasksUnknownDependencySatisfied(t *testing.T) {
	// Dependencies on archived or external IDs never hold a task back.
	tr := New()
	b, _ := tr.Create(CreateSpec{Title: "b", Dependencies: []string{"task_archived"}})

	ready := tr.ReadyTasks()
	if len(ready) != 1 || ready[0].ID != b.ID {
		t.Errorf("expected task with unknown dep ready, got %d tasks", len(ready))
	}
}
