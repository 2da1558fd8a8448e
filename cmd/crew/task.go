package main

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/crewdev/crew/internal/tracker"
	"github.com/crewdev/crew/pkg/models"
)

var (
	taskDescription   string
	taskAssignee      string
	taskPriority      string
	taskDependencies  []string
	taskGroup         string
	taskMaxIterations int
	taskNote          string
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Manage tasks directly",
	Long: `Create, inspect, and move tasks without running the pipeline.

Every subcommand works against the persisted registry: it loads the
snapshot, applies the change through the state machine, and saves the
result. Other crew processes (including 'crew serve') see the change
immediately.`,
}

var taskCreateCmd = &cobra.Command{
	Use:   "create <title>",
	Short: "Create a task",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runTaskCreate,
}

var taskSubtaskCmd = &cobra.Command{
	Use:   "subtask <parent-id> <title>",
	Short: "Create a subtask under a parent",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runTaskSubtask,
}

var taskUpdateCmd = &cobra.Command{
	Use:   "update <task-id> <state>",
	Short: "Move a task to a new state",
	Long: `Move a task through the pipeline state machine.

States: new, analyzing, planning, implementing, reviewing, testing,
iteration, blocked, complete, failed.

Passing --assignee with a different role records a handoff carrying
the task's accumulated context. Completing a task with unpassed
quality gates prints a warning but is never refused.`,
	Args: cobra.ExactArgs(2),
	RunE: runTaskUpdate,
}

var taskShowCmd = &cobra.Command{
	Use:   "show <task-id>",
	Short: "Show one task in full",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskShow,
}

var taskDependCmd = &cobra.Command{
	Use:   "depend <task-id> <depends-on>",
	Short: "Declare that a task waits for another",
	Args:  cobra.ExactArgs(2),
	RunE:  runTaskDepend,
}

var taskBlockerCmd = &cobra.Command{
	Use:   "blocker <task-id> <reason>",
	Short: "Record an obstruction on a task",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runTaskBlocker,
}

var taskUnblockCmd = &cobra.Command{
	Use:   "unblock <task-id> [index]",
	Short: "Clear a blocker by index",
	Long: `Clear the blocker at the given index (default 0). Clearing the last
blocker returns the task to the state it held when it became blocked.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runTaskUnblock,
}

var taskGateCmd = &cobra.Command{
	Use:   "gate <task-id> <gate> [true|false]",
	Short: "Record a quality gate verdict",
	Args:  cobra.RangeArgs(2, 3),
	RunE:  runTaskGate,
}

var taskReadyCmd = &cobra.Command{
	Use:   "ready",
	Short: "List tasks whose dependencies are all complete",
	Args:  cobra.NoArgs,
	RunE:  runTaskReady,
}

var taskParallelCmd = &cobra.Command{
	Use:   "parallel [task-id] [group]",
	Short: "List parallel groups, or assign a task to one",
	Args:  cobra.MaximumNArgs(2),
	RunE:  runTaskParallel,
}

func init() {
	for _, c := range []*cobra.Command{taskCreateCmd, taskSubtaskCmd} {
		c.Flags().StringVar(&taskDescription, "desc", "", "Task description")
		c.Flags().StringVar(&taskAssignee, "assignee", "", "Role: architect, coder, pr_reviewer, qa_tester, coordinator")
		c.Flags().StringVar(&taskPriority, "priority", "", "Priority: low, medium, high, critical")
		c.Flags().StringSliceVar(&taskDependencies, "depends", nil, "Task IDs this task waits for")
		c.Flags().StringVar(&taskGroup, "group", "", "Parallel group label")
		c.Flags().IntVar(&taskMaxIterations, "max-iterations", 0, "Rework cycle bound (0 uses default)")
	}
	taskUpdateCmd.Flags().StringVar(&taskAssignee, "assignee", "", "Hand the task to this role")
	taskUpdateCmd.Flags().StringVar(&taskNote, "note", "", "Note recorded on the handoff")

	taskCmd.AddCommand(taskCreateCmd)
	taskCmd.AddCommand(taskSubtaskCmd)
	taskCmd.AddCommand(taskUpdateCmd)
	taskCmd.AddCommand(taskShowCmd)
	taskCmd.AddCommand(taskDependCmd)
	taskCmd.AddCommand(taskBlockerCmd)
	taskCmd.AddCommand(taskUnblockCmd)
	taskCmd.AddCommand(taskGateCmd)
	taskCmd.AddCommand(taskReadyCmd)
	taskCmd.AddCommand(taskParallelCmd)
}

// createSpecFromFlags assembles the CreateSpec shared by create and subtask.
func createSpecFromFlags(title string) tracker.CreateSpec {
	return tracker.CreateSpec{
		Title:         title,
		Description:   taskDescription,
		Priority:      models.Priority(taskPriority),
		Assignee:      models.Role(taskAssignee),
		Dependencies:  taskDependencies,
		MaxIterations: taskMaxIterations,
		ParallelGroup: taskGroup,
	}
}

func runTaskCreate(cmd *cobra.Command, args []string) error {
	co, cleanup, err := openFacade()
	if err != nil {
		return err
	}
	defer cleanup()

	task, err := co.CreateTask(context.Background(), createSpecFromFlags(strings.Join(args, " ")))
	if err != nil {
		return err
	}
	printTaskLine(task)
	return nil
}

func runTaskSubtask(cmd *cobra.Command, args []string) error {
	co, cleanup, err := openFacade()
	if err != nil {
		return err
	}
	defer cleanup()

	task, err := co.CreateSubtask(context.Background(), args[0], createSpecFromFlags(strings.Join(args[1:], " ")))
	if err != nil {
		return err
	}
	printTaskLine(task)
	return nil
}

func runTaskUpdate(cmd *cobra.Command, args []string) error {
	co, cleanup, err := openFacade()
	if err != nil {
		return err
	}
	defer cleanup()

	newState := models.TaskStatus(args[1])
	task, err := co.Transition(context.Background(), args[0], newState, tracker.TransitionRequest{
		Assignee: models.Role(taskAssignee),
		Note:     taskNote,
	})
	if err != nil {
		return err
	}
	printTaskLine(task)

	// Gates are advisory: completing past them works, but say so.
	if newState == models.TaskStatusComplete {
		if failed := task.FailedGates(); len(failed) > 0 {
			color.Yellow("warning: completed with unpassed gates: %s", strings.Join(failed, ", "))
		}
	}
	return nil
}

func runTaskShow(cmd *cobra.Command, args []string) error {
	co, cleanup, err := openFacade()
	if err != nil {
		return err
	}
	defer cleanup()

	task, err := co.Task(context.Background(), args[0])
	if err != nil {
		return err
	}
	printTaskDetail(task)
	return nil
}

func runTaskDepend(cmd *cobra.Command, args []string) error {
	co, cleanup, err := openFacade()
	if err != nil {
		return err
	}
	defer cleanup()

	if err := co.AddDependency(context.Background(), args[0], args[1]); err != nil {
		return err
	}
	fmt.Printf("%s now waits for %s\n", args[0], args[1])
	return nil
}

func runTaskBlocker(cmd *cobra.Command, args []string) error {
	co, cleanup, err := openFacade()
	if err != nil {
		return err
	}
	defer cleanup()

	task, err := co.AddBlocker(context.Background(), args[0], strings.Join(args[1:], " "))
	if err != nil {
		return err
	}
	printTaskLine(task)
	return nil
}

func runTaskUnblock(cmd *cobra.Command, args []string) error {
	co, cleanup, err := openFacade()
	if err != nil {
		return err
	}
	defer cleanup()

	index := 0
	if len(args) == 2 {
		index, err = strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid blocker index %q: %w", args[1], err)
		}
	}

	task, err := co.ResolveBlocker(context.Background(), args[0], index)
	if err != nil {
		return err
	}
	printTaskLine(task)
	return nil
}

func runTaskGate(cmd *cobra.Command, args []string) error {
	co, cleanup, err := openFacade()
	if err != nil {
		return err
	}
	defer cleanup()

	passed := true
	if len(args) == 3 {
		passed, err = strconv.ParseBool(args[2])
		if err != nil {
			return fmt.Errorf("invalid gate verdict %q: %w", args[2], err)
		}
	}

	task, err := co.SetQualityGate(context.Background(), args[0], args[1], passed)
	if err != nil {
		return err
	}
	verdict := "passed"
	if !passed {
		verdict = "not passed"
	}
	fmt.Printf("%s: gate %s %s (%d/%d gates passed)\n", task.ID, args[1], verdict, passedGateCount(task), len(task.QualityGates))
	return nil
}

func runTaskReady(cmd *cobra.Command, args []string) error {
	co, cleanup, err := openFacade()
	if err != nil {
		return err
	}
	defer cleanup()

	tasks, err := co.ReadyTasks(context.Background())
	if err != nil {
		return err
	}
	if len(tasks) == 0 {
		fmt.Println("No tasks are ready to start.")
		return nil
	}
	for _, task := range tasks {
		printTaskLine(task)
	}
	return nil
}

func runTaskParallel(cmd *cobra.Command, args []string) error {
	co, cleanup, err := openFacade()
	if err != nil {
		return err
	}
	defer cleanup()

	switch len(args) {
	case 2:
		if err := co.SetParallelGroup(context.Background(), args[0], args[1]); err != nil {
			return err
		}
		fmt.Printf("%s joined group %q\n", args[0], args[1])
		return nil
	case 1:
		return fmt.Errorf("parallel needs a task id and a group, or no arguments to list groups")
	}

	groups, err := co.ParallelGroups(context.Background())
	if err != nil {
		return err
	}
	if len(groups) == 0 {
		fmt.Println("No parallel groups.")
		return nil
	}
	names := make([]string, 0, len(groups))
	for name := range groups {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Printf("%s: %s\n", name, strings.Join(groups[name], ", "))
	}
	return nil
}

func passedGateCount(task *models.Task) int {
	return len(task.QualityGates) - len(task.FailedGates())
}

// printTaskLine prints the one-line form used in lists.
func printTaskLine(task *models.Task) {
	status := statusColor(task.Status).Sprint(task.Status)
	fmt.Printf("%s [%s] %s (%s, %s, %d%%)\n", task.ID, status, task.Title, task.Assignee, task.Priority, task.Progress())
}

// printTaskDetail prints the full record for one task.
func printTaskDetail(task *models.Task) {
	printTaskLine(task)
	if task.Description != "" {
		fmt.Printf("  Description: %s\n", task.Description)
	}
	if len(task.Dependencies) > 0 {
		fmt.Printf("  Depends on: %s\n", strings.Join(task.Dependencies, ", "))
	}
	if task.ParentTask != "" {
		fmt.Printf("  Parent: %s\n", task.ParentTask)
	}
	if len(task.Subtasks) > 0 {
		fmt.Printf("  Subtasks: %s\n", strings.Join(task.Subtasks, ", "))
	}
	if task.ParallelGroup != "" {
		fmt.Printf("  Parallel group: %s\n", task.ParallelGroup)
	}
	if len(task.Blockers) > 0 {
		fmt.Printf("  Blockers (%d):\n", len(task.Blockers))
		for i, b := range task.Blockers {
			fmt.Printf("    [%d] %s\n", i, b)
		}
	}
	if len(task.QualityGates) > 0 {
		names := make([]string, 0, len(task.QualityGates))
		for name := range task.QualityGates {
			names = append(names, name)
		}
		sort.Strings(names)
		fmt.Printf("  Gates (%d/%d passed):\n", passedGateCount(task), len(task.QualityGates))
		for _, name := range names {
			mark := "✗"
			if task.QualityGates[name] {
				mark = "✓"
			}
			fmt.Printf("    %s %s\n", mark, name)
		}
	}
	if task.IterationCount > 0 || task.MaxIterations > 0 {
		fmt.Printf("  Iterations: %d of %d\n", task.IterationCount, task.MaxIterations)
	}
	if task.Error != "" {
		fmt.Printf("  Error: %s\n", task.Error)
	}
	if len(task.Handoffs) > 0 {
		fmt.Printf("  Handoffs (%d):\n", len(task.Handoffs))
		for _, h := range task.Handoffs {
			line := fmt.Sprintf("    %s → %s during %s", h.FromRole, h.ToRole, h.StateAtHandoff)
			if h.Notes != "" {
				line += ": " + h.Notes
			}
			fmt.Println(line)
		}
	}
}
