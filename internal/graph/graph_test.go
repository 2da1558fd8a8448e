package graph

import (
	"reflect"
	"sort"
	"testing"

	"github.com/crewdev/crew/pkg/models"
)

func TestNewGraph(t *testing.T) {
	g := New()
	if g == nil {
		t.Fatal("expected non-nil graph")
	}
	if g.Size() != 0 {
		t.Errorf("expected empty graph, got size %d", g.Size())
	}
}

func TestGraphBuildSimple(t *testing.T) {
	g := New()
	tasks := []*models.Task{
		{ID: "task_001", Title: "Task 1", Status: models.TaskStatusNew},
		{ID: "task_002", Title: "Task 2", Status: models.TaskStatusNew},
		{ID: "task_003", Title: "Task 3", Status: models.TaskStatusNew},
	}

	report := g.Build(tasks)
	if warnings := report.Warnings(); len(warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", warnings)
	}

	if g.Size() != 3 {
		t.Errorf("expected size 3, got %d", g.Size())
	}
}

func TestGraphBuildWithDependencies(t *testing.T) {
	g := New()
	tasks := []*models.Task{
		{ID: "task_001", Title: "Task 1", Status: models.TaskStatusNew},
		{ID: "task_002", Title: "Task 2", Status: models.TaskStatusNew, Dependencies: []string{"task_001"}},
		{ID: "task_003", Title: "Task 3", Status: models.TaskStatusNew, Dependencies: []string{"task_001", "task_002"}},
	}

	g.Build(tasks)

	deps := g.GetDependencies("task_003")
	if len(deps) != 2 {
		t.Errorf("expected 2 dependencies for task_003, got %d", len(deps))
	}

	dependents := g.GetDependents("task_001")
	if len(dependents) != 2 {
		t.Errorf("expected 2 dependents of task_001, got %d", len(dependents))
	}
}

func TestGraphBuildUnknownDependency(t *testing.T) {
	// A dependency outside the build set is externally satisfied: no
	// edge, a warning, and the task still plans into level zero.
	g := New()
	tasks := []*models.Task{
		{ID: "task_001", Title: "Task 1", Status: models.TaskStatusNew, Dependencies: []string{"task_999"}},
	}

	report := g.Build(tasks)
	warnings := report.Warnings()
	if len(warnings) != 1 {
		t.Fatalf("expected 1 warning, got %v", warnings)
	}
	if got := report.UnknownDeps["task_001"]; len(got) != 1 || got[0] != "task_999" {
		t.Errorf("expected unknown dep task_999 recorded for task_001, got %v", got)
	}

	if deps := g.GetDependencies("task_001"); len(deps) != 0 {
		t.Errorf("unknown dependency should not produce an edge, got %v", deps)
	}

	plan := g.Plan()
	if len(plan.Levels) != 1 || len(plan.Levels[0]) != 1 || plan.Levels[0][0] != "task_001" {
		t.Errorf("task with unknown dep should be schedulable, got levels %v", plan.Levels)
	}
	if len(plan.Unscheduled) != 0 {
		t.Errorf("expected no unscheduled tasks, got %v", plan.UnscheduledIDs())
	}
}

func TestGraphBuildIdempotent(t *testing.T) {
	tasks := []*models.Task{
		{ID: "A", Title: "Task A", Status: models.TaskStatusNew},
		{ID: "B", Title: "Task B", Status: models.TaskStatusNew, Dependencies: []string{"A", "ghost"}},
	}

	g := New()
	first := g.Build(tasks)
	second := g.Build(tasks)

	if !reflect.DeepEqual(first.Warnings(), second.Warnings()) {
		t.Errorf("warnings changed between identical builds: %v vs %v", first.Warnings(), second.Warnings())
	}
	if deps := g.GetDependencies("B"); len(deps) != 1 || deps[0] != "A" {
		t.Errorf("expected single edge B->A after rebuild, got %v", deps)
	}
	if dependents := g.GetDependents("A"); len(dependents) != 1 {
		t.Errorf("rebuild duplicated successor edges: %v", dependents)
	}
}

func TestGraphRebuildDropsStaleState(t *testing.T) {
	g := New()
	g.Build([]*models.Task{
		{ID: "A", Status: models.TaskStatusNew},
		{ID: "B", Status: models.TaskStatusNew, Dependencies: []string{"A"}},
	})
	g.MarkComplete("A")

	// B's dependency moves from A to C; A leaves the set entirely.
	g.Build([]*models.Task{
		{ID: "B", Status: models.TaskStatusNew, Dependencies: []string{"C"}},
		{ID: "C", Status: models.TaskStatusNew},
	})

	if g.GetTask("A") != nil {
		t.Error("rebuild kept a task that was removed from the set")
	}
	if ids := g.GetCompletedIDs(); len(ids) != 0 {
		t.Errorf("rebuild kept stale completion marks: %v", ids)
	}
	if deps := g.GetDependencies("B"); len(deps) != 1 || deps[0] != "C" {
		t.Errorf("rebuild kept stale dependency edges: %v", deps)
	}
}

func TestGraphCycleDetectionSimple(t *testing.T) {
	// A -> B -> A (direct cycle)
	g := New()
	g.Build([]*models.Task{
		{ID: "A", Title: "Task A", Status: models.TaskStatusNew, Dependencies: []string{"B"}},
		{ID: "B", Title: "Task B", Status: models.TaskStatusNew, Dependencies: []string{"A"}},
	})

	if !g.HasCycle() {
		t.Error("expected cycle for A<->B")
	}
}

func TestGraphCycleDetectionThreeNodes(t *testing.T) {
	// A -> B -> C -> A (three node cycle)
	g := New()
	g.Build([]*models.Task{
		{ID: "A", Title: "Task A", Status: models.TaskStatusNew, Dependencies: []string{"B"}},
		{ID: "B", Title: "Task B", Status: models.TaskStatusNew, Dependencies: []string{"C"}},
		{ID: "C", Title: "Task C", Status: models.TaskStatusNew, Dependencies: []string{"A"}},
	})

	if !g.HasCycle() {
		t.Error("expected cycle for A->B->C->A")
	}
}

func TestGraphCycleDetectionSelfLoop(t *testing.T) {
	// A -> A (self loop)
	g := New()
	g.Build([]*models.Task{
		{ID: "A", Title: "Task A", Status: models.TaskStatusNew, Dependencies: []string{"A"}},
	})

	if !g.HasCycle() {
		t.Error("expected cycle for self-loop")
	}
}

func TestGraphNoCycle(t *testing.T) {
	// A -> B -> C (linear, no cycle)
	g := New()
	g.Build([]*models.Task{
		{ID: "A", Title: "Task A", Status: models.TaskStatusNew},
		{ID: "B", Title: "Task B", Status: models.TaskStatusNew, Dependencies: []string{"A"}},
		{ID: "C", Title: "Task C", Status: models.TaskStatusNew, Dependencies: []string{"B"}},
	})

	if g.HasCycle() {
		t.Error("expected no cycle in linear graph")
	}
}

func TestGraphGetTask(t *testing.T) {
	g := New()
	g.Build([]*models.Task{
		{ID: "task_001", Title: "Task 1", Status: models.TaskStatusNew},
	})

	got := g.GetTask("task_001")
	if got == nil {
		t.Fatal("expected task, got nil")
	}
	if got.ID != "task_001" {
		t.Errorf("expected task_001, got %s", got.ID)
	}

	if got := g.GetTask("non-existent"); got != nil {
		t.Errorf("expected nil for non-existent task, got %v", got)
	}
}

func TestGraphGetDependents(t *testing.T) {
	g := New()
	g.Build([]*models.Task{
		{ID: "A", Title: "Task A", Status: models.TaskStatusNew},
		{ID: "B", Title: "Task B", Status: models.TaskStatusNew, Dependencies: []string{"A"}},
		{ID: "C", Title: "Task C", Status: models.TaskStatusNew, Dependencies: []string{"A"}},
	})

	dependents := g.GetDependents("A")
	if len(dependents) != 2 {
		t.Fatalf("expected 2 dependents of A, got %d", len(dependents))
	}

	sort.Strings(dependents)
	if dependents[0] != "B" || dependents[1] != "C" {
		t.Errorf("expected B and C as dependents, got %v", dependents)
	}
}

func TestGraphEmptyGraph(t *testing.T) {
	g := New()

	report := g.Build([]*models.Task{})
	if len(report.Warnings()) != 0 {
		t.Errorf("unexpected warnings for empty build: %v", report.Warnings())
	}

	if g.HasCycle() {
		t.Error("empty graph should not have cycle")
	}

	plan := g.Plan()
	if len(plan.Levels) != 0 || len(plan.Unscheduled) != 0 {
		t.Errorf("expected empty plan, got %+v", plan)
	}
}
