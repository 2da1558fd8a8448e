package tracker

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/crewdev/crew/pkg/models"
)

// DefaultMaxIterations bounds rework cycles when a task does not set
// its own limit.
const DefaultMaxIterations = 3

// DefaultQualityGates returns the gates attached to every new task.
func DefaultQualityGates() []string {
	return []string{
		"architecture_approved",
		"tests_passing",
		"review_approved",
		"qa_validated",
	}
}

// Option configures a Tracker. Use With* functions to create Options.
type Option func(*trackerOptions)

type trackerOptions struct {
	extraRoles    []models.Role
	defaultGates  []string
	maxIterations int
	debugLog      func(format string, args ...interface{})
}

// WithExtraRoles registers team-policy roles beyond the built-in set.
func WithExtraRoles(roles []models.Role) Option {
	return func(o *trackerOptions) { o.extraRoles = roles }
}

// WithDefaultGates replaces the default quality gate set for new tasks.
func WithDefaultGates(gates []string) Option {
	return func(o *trackerOptions) { o.defaultGates = gates }
}

// WithMaxIterations sets the default rework bound for new tasks.
func WithMaxIterations(n int) Option {
	return func(o *trackerOptions) { o.maxIterations = n }
}

// WithDebugLog sets the debug logging function.
func WithDebugLog(fn func(format string, args ...interface{})) Option {
	return func(o *trackerOptions) { o.debugLog = fn }
}

// Tracker is the in-memory task registry and state machine. All reads
// and writes go through one lock, so readers always observe committed
// transitions, never partial ones. Persistence happens through explicit
// Snapshot and Restore calls, not as a side effect of mutation.
type Tracker struct {
	mu     sync.RWMutex
	tasks  map[string]*models.Task
	nextID int
	// roles holds every recognized assignee, built-ins plus policy.
	roles map[models.Role]bool
	// defaultGates seeds the quality gate map of each new task.
	defaultGates  []string
	maxIterations int
	debugLog      func(format string, args ...interface{})
}

// New creates an empty Tracker.
func New(opts ...Option) *Tracker {
	options := &trackerOptions{
		defaultGates:  DefaultQualityGates(),
		maxIterations: DefaultMaxIterations,
		debugLog:      func(format string, args ...interface{}) {},
	}
	for _, opt := range opts {
		opt(options)
	}

	roles := make(map[models.Role]bool)
	for _, r := range models.Roles() {
		roles[r] = true
	}
	for _, r := range options.extraRoles {
		roles[r] = true
	}

	return &Tracker{
		tasks:         make(map[string]*models.Task),
		nextID:        1,
		roles:         roles,
		defaultGates:  options.defaultGates,
		maxIterations: options.maxIterations,
		debugLog:      options.debugLog,
	}
}

// CreateSpec carries the caller-supplied fields for a new task.
type CreateSpec struct {
	Title         string
	Description   string
	Priority      models.Priority
	Assignee      models.Role
	Dependencies  []string
	MaxIterations int
	ParallelGroup string
	Context       models.Context
}

// Create registers a new task and returns a copy of it. The ID is
// assigned from a monotonic counter and never reused. Tasks assigned to
// the architect start in analyzing; everything else starts in new.
func (t *Tracker) Create(spec CreateSpec) (*models.Task, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.createLocked(spec, "")
}

// CreateSubtask registers a new task linked under a parent. The link is
// containment only: the subtask does not depend on its parent.
func (t *Tracker) CreateSubtask(parentID string, spec CreateSpec) (*models.Task, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	parent, ok := t.tasks[parentID]
	if !ok {
		return nil, &NotFoundError{ID: parentID}
	}
	task, err := t.createLocked(spec, parentID)
	if err != nil {
		return nil, err
	}
	parent.Subtasks = append(parent.Subtasks, task.ID)
	parent.UpdatedAt = time.Now()
	return task, nil
}

func (t *Tracker) createLocked(spec CreateSpec, parentID string) (*models.Task, error) {
	priority := spec.Priority
	if priority == "" {
		priority = models.PriorityMedium
	}
	if !priority.Valid() {
		return nil, fmt.Errorf("invalid priority %q", priority)
	}
	assignee := spec.Assignee
	if assignee == "" {
		assignee = models.RoleCoordinator
	}
	if !t.roles[assignee] {
		return nil, &InvalidAssigneeError{Assignee: assignee}
	}

	id := fmt.Sprintf("task_%03d", t.nextID)
	t.nextID++

	status := models.TaskStatusNew
	if assignee == models.RoleArchitect {
		status = models.TaskStatusAnalyzing
	}

	maxIter := spec.MaxIterations
	if maxIter <= 0 {
		maxIter = t.maxIterations
	}

	gates := make(map[string]bool, len(t.defaultGates))
	for _, g := range t.defaultGates {
		gates[g] = false
	}

	var deps []string
	for _, dep := range spec.Dependencies {
		if dep == id {
			continue // a task never depends on itself
		}
		deps = append(deps, dep)
	}

	now := time.Now()
	task := &models.Task{
		ID:            id,
		Title:         spec.Title,
		Description:   spec.Description,
		Dependencies:  deps,
		Status:        status,
		Assignee:      assignee,
		Priority:      priority,
		MaxIterations: maxIter,
		QualityGates:  gates,
		ParentTask:    parentID,
		ParallelGroup: spec.ParallelGroup,
		Context:       spec.Context.Clone(),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	t.tasks[id] = task
	t.debugLog("[tracker.Create] %s %q assignee=%s status=%s deps=%v", id, spec.Title, assignee, status, deps)
	return task.Clone(), nil
}

// Get returns a copy of the task, or NotFoundError.
func (t *Tracker) Get(taskID string) (*models.Task, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	task, ok := t.tasks[taskID]
	if !ok {
		return nil, &NotFoundError{ID: taskID}
	}
	return task.Clone(), nil
}

// TransitionRequest carries the optional parts of a transition.
type TransitionRequest struct {
	// Assignee, when set, moves responsibility to a new role and
	// records a handoff.
	Assignee models.Role
	// Note is attached to the handoff record, if one is written.
	Note string
}

// Transition moves a task to a new lifecycle state, applying the side
// channel rules:
//
//   - Open blockers force the outcome to blocked no matter which state
//     was requested; the blocked-restore target is left untouched.
//   - Entering iteration increments the iteration counter. Exceeding
//     the task's bound appends a blocker and forces blocked in the same
//     atomic step.
//   - A role change always appends a handoff capturing the
//     pre-transition state, assignee, and context; a state change alone
//     never does.
//
// Quality gates are never consulted here: complete is accepted whether
// or not gates pass, and gate checking belongs to the caller.
func (t *Tracker) Transition(taskID string, newState models.TaskStatus, req TransitionRequest) (*models.Task, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	task, ok := t.tasks[taskID]
	if !ok {
		return nil, &NotFoundError{ID: taskID}
	}
	if !newState.Valid() {
		return nil, &InvalidStateError{State: newState}
	}
	if req.Assignee != "" && !t.roles[req.Assignee] {
		return nil, &InvalidAssigneeError{Assignee: req.Assignee}
	}
	if task.Status.Terminal() {
		return nil, fmt.Errorf("task %s is %s and accepts no further transitions", taskID, task.Status)
	}
	if newState == models.TaskStatusBlocked && len(task.Blockers) == 0 {
		return nil, fmt.Errorf("task %s has no open blockers: add a blocker instead of requesting blocked", taskID)
	}

	now := time.Now()
	preState := task.Status
	preAssignee := task.Assignee

	// Role change first so the handoff captures the task as it was.
	if req.Assignee != "" && req.Assignee != preAssignee {
		task.Handoffs = append(task.Handoffs, models.HandoffRecord{
			FromRole:        preAssignee,
			ToRole:          req.Assignee,
			Timestamp:       now,
			StateAtHandoff:  preState,
			ContextSnapshot: task.Context.Clone(),
			Notes:           req.Note,
		})
		task.Assignee = req.Assignee
	}

	switch {
	case len(task.Blockers) > 0:
		// Open blockers pin the task to blocked regardless of the
		// requested state. The restore target stays what it was.
		task.Status = models.TaskStatusBlocked

	case newState == models.TaskStatusIteration:
		task.IterationCount++
		if task.IterationCount > task.MaxIterations {
			blocker := fmt.Sprintf("Maximum iterations (%d) exceeded", task.MaxIterations)
			task.Blockers = append(task.Blockers, blocker)
			task.StatusBeforeBlock = models.TaskStatusIteration
			task.Status = models.TaskStatusBlocked
			t.debugLog("[tracker.Transition] %s iteration overflow (%d/%d): blocked", taskID, task.IterationCount, task.MaxIterations)
		} else {
			task.Status = models.TaskStatusIteration
			task.StatusBeforeBlock = ""
		}

	default:
		task.Status = newState
		task.StatusBeforeBlock = ""
		if newState == models.TaskStatusComplete {
			done := now
			task.CompletedAt = &done
		}
	}

	task.UpdatedAt = now
	t.debugLog("[tracker.Transition] %s %s -> %s (requested %s)", taskID, preState, task.Status, newState)
	return task.Clone(), nil
}

// AddBlocker appends an obstruction note and forces the task into
// blocked, remembering the state to restore once blockers clear.
func (t *Tracker) AddBlocker(taskID, blocker string) (*models.Task, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	task, ok := t.tasks[taskID]
	if !ok {
		return nil, &NotFoundError{ID: taskID}
	}
	if task.Status.Terminal() {
		return nil, fmt.Errorf("task %s is %s and cannot be blocked", taskID, task.Status)
	}

	task.Blockers = append(task.Blockers, blocker)
	if task.Status != models.TaskStatusBlocked {
		task.StatusBeforeBlock = task.Status
		task.Status = models.TaskStatusBlocked
	}
	task.UpdatedAt = time.Now()
	t.debugLog("[tracker.AddBlocker] %s: %q (%d open)", taskID, blocker, len(task.Blockers))
	return task.Clone(), nil
}

// ResolveBlocker removes the blocker at the given index. When the last
// blocker clears, the task returns to the state it held before it was
// blocked, never to new.
func (t *Tracker) ResolveBlocker(taskID string, index int) (*models.Task, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	task, ok := t.tasks[taskID]
	if !ok {
		return nil, &NotFoundError{ID: taskID}
	}
	if index < 0 || index >= len(task.Blockers) {
		return nil, fmt.Errorf("task %s has no blocker at index %d", taskID, index)
	}

	task.Blockers = append(task.Blockers[:index], task.Blockers[index+1:]...)
	if len(task.Blockers) == 0 && task.Status == models.TaskStatusBlocked {
		restored := task.StatusBeforeBlock
		if restored == "" {
			restored = models.TaskStatusImplementing
		}
		task.Status = restored
		task.StatusBeforeBlock = ""
		t.debugLog("[tracker.ResolveBlocker] %s unblocked, restored to %s", taskID, restored)
	}
	task.UpdatedAt = time.Now()
	return task.Clone(), nil
}

// SetQualityGate records a gate result. Gates never trigger state
// transitions; they only feed progress and validation reporting.
func (t *Tracker) SetQualityGate(taskID, gate string, passed bool) (*models.Task, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	task, ok := t.tasks[taskID]
	if !ok {
		return nil, &NotFoundError{ID: taskID}
	}
	if _, known := task.QualityGates[gate]; !known {
		return nil, fmt.Errorf("task %s has no quality gate %q", taskID, gate)
	}
	task.QualityGates[gate] = passed
	task.UpdatedAt = time.Now()
	return task.Clone(), nil
}

// AddDependency declares that a task must wait for another. Both tasks
// must exist, a task cannot depend on itself, and duplicates are
// ignored.
func (t *Tracker) AddDependency(taskID, dependsOn string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	task, ok := t.tasks[taskID]
	if !ok {
		return &NotFoundError{ID: taskID}
	}
	if _, ok := t.tasks[dependsOn]; !ok {
		return &NotFoundError{ID: dependsOn}
	}
	if taskID == dependsOn {
		return fmt.Errorf("task %s cannot depend on itself", taskID)
	}
	for _, dep := range task.Dependencies {
		if dep == dependsOn {
			return nil
		}
	}
	task.Dependencies = append(task.Dependencies, dependsOn)
	task.UpdatedAt = time.Now()
	return nil
}

// MergeContext folds key/value pairs into a task's context, where later
// handoffs snapshot them. Used by the executor to record run outputs.
func (t *Tracker) MergeContext(taskID string, kv map[string]string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	task, ok := t.tasks[taskID]
	if !ok {
		return &NotFoundError{ID: taskID}
	}
	if len(kv) == 0 {
		return nil
	}
	if task.Context == nil {
		task.Context = models.Context{}
	}
	for k, v := range kv {
		task.Context[k] = v
	}
	task.UpdatedAt = time.Now()
	return nil
}

// SetError records a failure message. Used by the executor when the
// run-task collaborator reports failure.
func (t *Tracker) SetError(taskID, msg string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	task, ok := t.tasks[taskID]
	if !ok {
		return &NotFoundError{ID: taskID}
	}
	task.Error = msg
	task.UpdatedAt = time.Now()
	return nil
}

// isDepSatisfiedLocked treats dependencies on unknown IDs as satisfied:
// they were either archived after completing or belong to an external
// system.
func (t *Tracker) isDepSatisfiedLocked(depID string) bool {
	dep, ok := t.tasks[depID]
	if !ok {
		return true
	}
	return dep.Status == models.TaskStatusComplete
}

// ReadyTasks returns copies of tasks whose declared dependencies have
// all completed, excluding tasks that are blocked or already terminal.
// Results are ordered by priority, then ID.
func (t *Tracker) ReadyTasks() []*models.Task {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var ready []*models.Task
	for _, task := range t.tasks {
		if task.Status == models.TaskStatusBlocked || task.Status.Terminal() {
			continue
		}
		ok := true
		for _, dep := range task.Dependencies {
			if !t.isDepSatisfiedLocked(dep) {
				ok = false
				break
			}
		}
		if ok {
			ready = append(ready, task.Clone())
		}
	}
	sortTasks(ready)
	return ready
}

// CanParallelize reports whether two tasks may run at the same time:
// neither directly depends on the other.
func (t *Tracker) CanParallelize(firstID, secondID string) (bool, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	first, ok := t.tasks[firstID]
	if !ok {
		return false, &NotFoundError{ID: firstID}
	}
	second, ok := t.tasks[secondID]
	if !ok {
		return false, &NotFoundError{ID: secondID}
	}
	for _, dep := range first.Dependencies {
		if dep == secondID {
			return false, nil
		}
	}
	for _, dep := range second.Dependencies {
		if dep == firstID {
			return false, nil
		}
	}
	return true, nil
}

// ParallelGroups returns task IDs grouped by their advisory
// parallel-group label. Tasks without a label are omitted. This
// grouping is independent of the levels the planner computes.
func (t *Tracker) ParallelGroups() map[string][]string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	groups := make(map[string][]string)
	for id, task := range t.tasks {
		if task.ParallelGroup == "" {
			continue
		}
		groups[task.ParallelGroup] = append(groups[task.ParallelGroup], id)
	}
	for _, ids := range groups {
		sort.Strings(ids)
	}
	return groups
}

// SetParallelGroup sets the advisory grouping label on a task.
func (t *Tracker) SetParallelGroup(taskID, group string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	task, ok := t.tasks[taskID]
	if !ok {
		return &NotFoundError{ID: taskID}
	}
	task.ParallelGroup = group
	task.UpdatedAt = time.Now()
	return nil
}

// TreeNode is one task in a parent/subtask traversal.
type TreeNode struct {
	Task     *models.Task
	Children []*TreeNode
}

// TaskTree returns the recursive subtask tree rooted at a task.
func (t *Tracker) TaskTree(taskID string) (*TreeNode, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if _, ok := t.tasks[taskID]; !ok {
		return nil, &NotFoundError{ID: taskID}
	}
	return t.treeLocked(taskID, make(map[string]bool)), nil
}

func (t *Tracker) treeLocked(taskID string, seen map[string]bool) *TreeNode {
	task, ok := t.tasks[taskID]
	if !ok || seen[taskID] {
		return nil
	}
	seen[taskID] = true

	node := &TreeNode{Task: task.Clone()}
	for _, childID := range task.Subtasks {
		if child := t.treeLocked(childID, seen); child != nil {
			node.Children = append(node.Children, child)
		}
	}
	return node
}

// All returns copies of every task, ordered by ID.
func (t *Tracker) All() []*models.Task {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]*models.Task, 0, len(t.tasks))
	for _, task := range t.tasks {
		out = append(out, task.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of live tasks.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.tasks)
}

// Archivable returns IDs of tasks that finished and have no open
// subtasks: complete, and every still-registered subtask complete.
func (t *Tracker) Archivable() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var ids []string
	for id, task := range t.tasks {
		if task.Status != models.TaskStatusComplete {
			continue
		}
		open := false
		for _, sub := range task.Subtasks {
			if child, ok := t.tasks[sub]; ok && child.Status != models.TaskStatusComplete {
				open = true
				break
			}
		}
		if !open {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Remove drops a task from the live registry. The ID stays consumed:
// the creation counter never reuses it. Dependents treat the missing
// dependency as satisfied, which is correct because only complete
// tasks are archived.
func (t *Tracker) Remove(taskID string) (*models.Task, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	task, ok := t.tasks[taskID]
	if !ok {
		return nil, &NotFoundError{ID: taskID}
	}
	delete(t.tasks, taskID)
	return task, nil
}

// Snapshot captures the full registry for persistence.
type Snapshot struct {
	// Tasks holds copies of every live task.
	Tasks []*models.Task
	// NextID is the creation counter, persisted so archived IDs are
	// never reassigned.
	NextID int
}

// Snapshot returns a deep copy of the current registry state.
func (t *Tracker) Snapshot() *Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	tasks := make([]*models.Task, 0, len(t.tasks))
	for _, task := range t.tasks {
		tasks = append(tasks, task.Clone())
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].ID < tasks[j].ID })
	return &Snapshot{Tasks: tasks, NextID: t.nextID}
}

// Restore replaces the registry with a previously saved snapshot.
func (t *Tracker) Restore(snap *Snapshot) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.tasks = make(map[string]*models.Task, len(snap.Tasks))
	for _, task := range snap.Tasks {
		t.tasks[task.ID] = task.Clone()
	}
	t.nextID = snap.NextID
	if t.nextID < 1 {
		t.nextID = 1
	}
}

// sortTasks orders tasks by priority rank (highest first), then ID.
func sortTasks(tasks []*models.Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		if tasks[i].Priority.Rank() != tasks[j].Priority.Rank() {
			return tasks[i].Priority.Rank() > tasks[j].Priority.Rank()
		}
		return tasks[i].ID < tasks[j].ID
	})
}
