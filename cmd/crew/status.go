package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/crewdev/crew/internal/archive"
	"github.com/crewdev/crew/internal/config"
	"github.com/crewdev/crew/internal/tracker"
	"github.com/crewdev/crew/pkg/models"
)

var (
	statusHistory bool
	statusLimit   int
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the team's current state",
	Long: `Display the current state of the tracked team.

Shows:
  - Task counts by state, role, and priority
  - Ready tasks, active blockers, and parallel groups
  - Per-task progress
  - The most recent runs

Use --history for runs and tasks already moved to the archive.`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusHistory, "history", false, "Show archived runs and tasks")
	statusCmd.Flags().IntVar(&statusLimit, "limit", 10, "How many history entries to show")
}

func runStatus(cmd *cobra.Command, args []string) error {
	if statusHistory {
		return runStatusHistory()
	}

	co, cleanup, err := openFacade()
	if err != nil {
		return err
	}
	defer cleanup()

	ctx := context.Background()
	status, err := co.TeamStatus(ctx)
	if err != nil {
		return fmt.Errorf("team status: %w", err)
	}

	if status.TotalTasks == 0 {
		fmt.Println("No tasks tracked. Run 'crew run \"<requirement>\"' to start.")
		return displayRecentRuns(ctx, co)
	}

	displayTeamStatus(status)

	tasks, err := co.Tasks(ctx)
	if err != nil {
		return fmt.Errorf("list tasks: %w", err)
	}
	displayTaskProgress(tasks)

	fmt.Println()
	return displayRecentRuns(ctx, co)
}

// pipelineOrder lists task states in pipeline order for display.
var pipelineOrder = []models.TaskStatus{
	models.TaskStatusNew,
	models.TaskStatusAnalyzing,
	models.TaskStatusPlanning,
	models.TaskStatusImplementing,
	models.TaskStatusReviewing,
	models.TaskStatusTesting,
	models.TaskStatusIteration,
	models.TaskStatusBlocked,
	models.TaskStatusComplete,
	models.TaskStatusFailed,
}

// roleOrder lists the built-in roles in handoff order for display.
// Policy roles not listed here are appended after.
var roleOrder = []models.Role{
	models.RoleCoordinator,
	models.RoleArchitect,
	models.RoleCoder,
	models.RolePRReviewer,
	models.RoleQATester,
}

var priorityOrder = []models.Priority{
	models.PriorityCritical,
	models.PriorityHigh,
	models.PriorityMedium,
	models.PriorityLow,
}

func displayTeamStatus(status *tracker.TeamStatus) {
	bold := color.New(color.Bold)
	bold.Println("Team Status")
	fmt.Printf("  Tasks: %d (%.1f%% complete)\n", status.TotalTasks, status.CompletionRate)
	fmt.Printf("  Ready to start: %d\n", status.ReadyTasks)
	if status.ActiveBlockers > 0 {
		color.Yellow("  Active blockers: %d", status.ActiveBlockers)
	} else {
		fmt.Printf("  Active blockers: 0\n")
	}
	fmt.Printf("  Parallel groups: %d\n", status.ParallelGroups)

	fmt.Println("\nBy state:")
	for _, s := range pipelineOrder {
		if n := status.ByStatus[s]; n > 0 {
			fmt.Printf("  %s: %d\n", statusColor(s).Sprint(s), n)
		}
	}

	fmt.Println("\nBy role:")
	printed := make(map[models.Role]bool, len(status.ByAssignee))
	for _, r := range roleOrder {
		if n := status.ByAssignee[r]; n > 0 {
			fmt.Printf("  %s: %d\n", r, n)
			printed[r] = true
		}
	}
	for r, n := range status.ByAssignee {
		if !printed[r] && n > 0 {
			fmt.Printf("  %s: %d\n", r, n)
		}
	}

	fmt.Println("\nBy priority:")
	for _, p := range priorityOrder {
		if n := status.ByPriority[p]; n > 0 {
			fmt.Printf("  %s: %d\n", p, n)
		}
	}
}

func displayTaskProgress(tasks []*models.Task) {
	if len(tasks) == 0 {
		return
	}
	fmt.Println("\nTasks:")
	for _, task := range tasks {
		pct := task.Progress()
		status := statusColor(task.Status).Sprintf("%-12s", task.Status)
		fmt.Printf("  %s [%s] %3d%% %s %-12s %s\n",
			task.ID, progressBar(pct, 20), pct, status, task.Assignee, task.Title)
	}
}

func displayRecentRuns(ctx context.Context, co recentRunLister) error {
	runs, err := co.RecentRuns(ctx, 5)
	if err != nil {
		return fmt.Errorf("list runs: %w", err)
	}
	if len(runs) == 0 {
		return nil
	}

	fmt.Println("Recent runs:")
	for _, r := range runs {
		printRunLine(r)
	}
	return nil
}

// recentRunLister is the slice of the coordinator facade the status
// display needs, kept narrow so tests can fake it.
type recentRunLister interface {
	RecentRuns(ctx context.Context, limit int) ([]models.RunRecord, error)
}

func printRunLine(r models.RunRecord) {
	status := runStatusColor(r.Status).Sprint(r.Status)
	line := fmt.Sprintf("  %s %s %d/%d %q", r.ID, status, r.Completed, r.TotalTasks, r.Requirement)
	if r.CompletedAt != nil {
		line += fmt.Sprintf(" (%s ago, took %s)",
			formatDuration(time.Since(*r.CompletedAt)),
			formatDuration(r.CompletedAt.Sub(r.StartedAt)))
	} else {
		line += fmt.Sprintf(" (started %s ago)", formatDuration(time.Since(r.StartedAt)))
	}
	fmt.Println(line)
}

func runStatusColor(status models.RunStatus) *color.Color {
	switch status {
	case models.RunStatusCompleted:
		return color.New(color.FgGreen)
	case models.RunStatusFailed:
		return color.New(color.FgRed)
	case models.RunStatusCancelled:
		return color.New(color.FgYellow)
	default:
		return color.New(color.FgCyan)
	}
}

// runStatusHistory reads the long-term archive directly.
func runStatusHistory() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	archivePath := cfg.ArchivePath()
	if _, err := os.Stat(archivePath); os.IsNotExist(err) {
		fmt.Println("No archive yet. Finished runs land there after 'crew run'.")
		return nil
	}

	ledger, err := archive.Open(archivePath)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer ledger.Close()

	runs, err := ledger.Runs(statusLimit)
	if err != nil {
		return fmt.Errorf("list archived runs: %w", err)
	}
	if len(runs) == 0 {
		fmt.Println("No archived runs yet.")
	} else {
		color.New(color.Bold).Println("Archived runs:")
		for _, r := range runs {
			printRunLine(r)
		}
	}

	tasks, err := ledger.Tasks(statusLimit)
	if err != nil {
		return fmt.Errorf("list archived tasks: %w", err)
	}
	if len(tasks) > 0 {
		fmt.Println()
		color.New(color.Bold).Println("Recently archived tasks:")
		for _, t := range tasks {
			line := fmt.Sprintf("  %s %s (%s, %s", t.TaskID, t.Title, t.Assignee, t.Priority)
			if t.IterationCount > 0 {
				line += fmt.Sprintf(", %d iterations", t.IterationCount)
			}
			line += ")"
			fmt.Println(line)
		}
	}
	return nil
}

// progressBar renders a percentage as a fixed-width bar.
func progressBar(pct, width int) string {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	filled := pct * width / 100
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	if d < 24*time.Hour {
		h := int(d.Hours())
		m := int(d.Minutes()) % 60
		if m > 0 {
			return fmt.Sprintf("%dh%dm", h, m)
		}
		return fmt.Sprintf("%dh", h)
	}
	days := int(d.Hours()) / 24
	return fmt.Sprintf("%dd", days)
}
