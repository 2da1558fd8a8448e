package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/crewdev/crew/internal/archive"
	"github.com/crewdev/crew/internal/config"
	"github.com/crewdev/crew/internal/coordinator"
	"github.com/crewdev/crew/internal/state"
	"github.com/crewdev/crew/pkg/models"
)

var (
	runMaxParallel int
	runRunnerKind  string
	runCommand     string
	runJSON        bool
)

var runCmd = &cobra.Command{
	Use:   "run <requirement>",
	Short: "Run a requirement through the full pipeline",
	Long: `Run a requirement through the coordination pipeline.

The requirement is decomposed into role-assigned tasks, the dependency
graph is planned into execution levels, and each level runs under the
concurrency cap. Results are persisted, finished tasks are archived,
and the run lands in history.

Runners (--runner):
  - noop:      mark every task complete without doing work (default)
  - command:   run a shell command per task (--command or config)
  - claude:    send each task to the Anthropic API

While a run is live, marker files in the signals directory pause,
resume, or stop admission:
  touch <data-dir>/signals/pause
  touch <data-dir>/signals/resume
  touch <data-dir>/signals/stop`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().IntVar(&runMaxParallel, "max-parallel", 0, "Concurrency cap per level (0 uses config)")
	runCmd.Flags().StringVar(&runRunnerKind, "runner", "", "Task runner: noop, command, or claude (default from config)")
	runCmd.Flags().StringVar(&runCommand, "command", "", "Shell command for --runner command")
	runCmd.Flags().BoolVar(&runJSON, "json", false, "Print the run report as JSON")
}

func runRun(cmd *cobra.Command, args []string) (retErr error) {
	// Recover from panics and report them
	defer func() {
		if r := recover(); r != nil {
			retErr = fmt.Errorf("PANIC in runRun: %v", r)
		}
	}()

	requirement := args[0]

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	taskRunner, err := buildRunner(cfg, runRunnerKind, runCommand)
	if err != nil {
		return err
	}

	db, err := state.Open(cfg.StatePath())
	if err != nil {
		return fmt.Errorf("open state database: %w", err)
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	// The archive is best effort: a run without a ledger still works.
	ledger, err := archive.Open(cfg.ArchivePath())
	if err != nil {
		fmt.Printf("Warning: archive unavailable: %v\n", err)
		ledger = nil
	} else {
		defer ledger.Close()
	}

	logger := coordinator.NewDebugLoggerForDataDir(cfg.Storage.DataDir)

	opts := []coordinator.Option{
		coordinator.WithStore(db),
		coordinator.WithRunner(taskRunner),
		coordinator.WithLogger(logger),
		coordinator.WithSignalDir(cfg.SignalDir()),
	}
	if ledger != nil {
		opts = append(opts, coordinator.WithArchive(ledger))
	}
	if runMaxParallel > 0 {
		opts = append(opts, coordinator.WithMaxParallel(runMaxParallel))
	}
	opts = append(opts, policyOptions()...)

	co, err := coordinator.New(cfg, opts...)
	if err != nil {
		return err
	}
	defer co.Close()

	// Handle signals for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		fmt.Println("\nReceived interrupt, shutting down...")
		cancel()
	}()

	if !runJSON {
		go consumeEventsHeadless(co.Events())

		fmt.Printf("Starting run: %s\n", requirement)
		fmt.Printf("  Runner: %s\n", runnerName(cfg, runRunnerKind))
		fmt.Printf("  Max parallel: %d\n", effectiveMaxParallel(cfg, runMaxParallel))
		fmt.Println()
	}

	report, err := co.Run(ctx, requirement)
	if err != nil {
		return fmt.Errorf("run failed: %w", err)
	}

	if runJSON {
		out, err := json.MarshalIndent(reportToJSON(report), "", "  ")
		if err != nil {
			return fmt.Errorf("encode report: %w", err)
		}
		fmt.Println(string(out))
	} else {
		printRunReport(report)
	}

	if report.Status == models.RunStatusFailed {
		return fmt.Errorf("run %s failed: %d of %d tasks completed", report.RunID, report.Summary.Completed, report.Summary.Total)
	}
	return nil
}

// runnerName resolves the runner kind for display.
func runnerName(cfg *config.Config, flagKind string) string {
	if flagKind != "" {
		return flagKind
	}
	if cfg.Runner.Kind != "" {
		return cfg.Runner.Kind
	}
	return "noop"
}

// effectiveMaxParallel resolves the concurrency cap for display.
func effectiveMaxParallel(cfg *config.Config, flagValue int) int {
	if flagValue > 0 {
		return flagValue
	}
	return cfg.Defaults.MaxParallel
}

// consumeEventsHeadless prints coordination events to stdout.
func consumeEventsHeadless(events <-chan coordinator.Event) {
	for event := range events {
		switch event.Type {
		case coordinator.EventLevelStarted:
			fmt.Printf("[LEVEL] %s\n", event.Message)
		case coordinator.EventTaskStarted:
			fmt.Printf("[STARTED] %s: %s\n", event.TaskID, event.Message)
		case coordinator.EventTaskCompleted:
			fmt.Printf("[DONE] %s: %s\n", event.TaskID, event.Message)
		case coordinator.EventTaskFailed:
			fmt.Printf("[FAILED] %s: %s\n", event.TaskID, event.Message)
		case coordinator.EventTaskBlocked:
			fmt.Printf("[BLOCKED] %s: %s\n", event.TaskID, event.Message)
		case coordinator.EventHandoff:
			fmt.Printf("[HANDOFF] %s: %s\n", event.TaskID, event.Message)
		case coordinator.EventWarning:
			fmt.Printf("[WARN] %s\n", event.Message)
		}
	}
}

// printRunReport renders the run outcome for the terminal.
func printRunReport(report *coordinator.RunReport) {
	s := report.Summary

	fmt.Println()
	switch report.Status {
	case models.RunStatusCompleted:
		color.Green("Run %s completed in %s", report.RunID, formatDuration(report.CompletedAt.Sub(report.StartedAt)))
	case models.RunStatusCancelled:
		color.Yellow("Run %s cancelled after %s", report.RunID, formatDuration(report.CompletedAt.Sub(report.StartedAt)))
	default:
		color.Red("Run %s failed after %s", report.RunID, formatDuration(report.CompletedAt.Sub(report.StartedAt)))
	}

	fmt.Printf("  Tasks: %d total, %d completed", s.Total, s.Completed)
	if s.Failed > 0 {
		fmt.Printf(", %d failed", s.Failed)
	}
	if s.Cancelled > 0 {
		fmt.Printf(", %d cancelled", s.Cancelled)
	}
	if s.Skipped > 0 {
		fmt.Printf(", %d blocked", s.Skipped)
	}
	if s.Unstartable > 0 {
		fmt.Printf(", %d unstartable", s.Unstartable)
	}
	fmt.Println()

	if len(report.Levels) > 0 {
		fmt.Printf("  Levels: %d\n", len(report.Levels))
	}
	if len(report.Archived) > 0 {
		fmt.Printf("  Archived: %d tasks\n", len(report.Archived))
	}

	if len(s.Errors) > 0 {
		fmt.Println("\nProblems:")
		for _, id := range sortedTaskIDs(s.Errors) {
			fmt.Printf("  %s: %s\n", id, s.Errors[id])
		}
	}
	if len(s.GateResults) > 0 {
		fmt.Println("\nGates still failing:")
		for _, id := range sortedGateIDs(s.GateResults) {
			fmt.Printf("  %s: %v\n", id, s.GateResults[id])
		}
	}
	if len(report.Unscheduled) > 0 {
		fmt.Println("\nUnscheduled:")
		for _, id := range sortedTaskIDs(report.Unscheduled) {
			fmt.Printf("  %s: %s\n", id, report.Unscheduled[id])
		}
	}
	for _, w := range report.Warnings {
		color.Yellow("  warning: %s", w)
	}
}

func sortedTaskIDs(m map[string]string) []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func sortedGateIDs(m map[string][]string) []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// runReportJSON is the machine-readable shape of a run report.
type runReportJSON struct {
	RunID        string              `json:"run_id"`
	Requirement  string              `json:"requirement"`
	Status       models.RunStatus    `json:"status"`
	Levels       [][]string          `json:"levels"`
	Total        int                 `json:"total"`
	Completed    int                 `json:"completed"`
	Failed       int                 `json:"failed"`
	Cancelled    int                 `json:"cancelled"`
	Blocked      int                 `json:"blocked"`
	Unstartable  int                 `json:"unstartable"`
	Errors       map[string]string   `json:"errors,omitempty"`
	FailingGates map[string][]string `json:"failing_gates,omitempty"`
	Unscheduled  map[string]string   `json:"unscheduled,omitempty"`
	Warnings     []string            `json:"warnings,omitempty"`
	Archived     []string            `json:"archived,omitempty"`
	StartedAt    time.Time           `json:"started_at"`
	CompletedAt  time.Time           `json:"completed_at"`
}

func reportToJSON(report *coordinator.RunReport) runReportJSON {
	return runReportJSON{
		RunID:        report.RunID,
		Requirement:  report.Requirement,
		Status:       report.Status,
		Levels:       report.Levels,
		Total:        report.Summary.Total,
		Completed:    report.Summary.Completed,
		Failed:       report.Summary.Failed,
		Cancelled:    report.Summary.Cancelled,
		Blocked:      report.Summary.Skipped,
		Unstartable:  report.Summary.Unstartable,
		Errors:       report.Summary.Errors,
		FailingGates: report.Summary.GateResults,
		Unscheduled:  report.Unscheduled,
		Warnings:     report.Warnings,
		Archived:     report.Archived,
		StartedAt:    report.StartedAt,
		CompletedAt:  report.CompletedAt,
	}
}
