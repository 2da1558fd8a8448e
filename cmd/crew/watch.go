package main

import (
	"context"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/crewdev/crew/internal/archive"
	"github.com/crewdev/crew/internal/config"
	"github.com/crewdev/crew/internal/coordinator"
	"github.com/crewdev/crew/internal/state"
	"github.com/crewdev/crew/internal/tui"
	"github.com/crewdev/crew/pkg/models"
)

var (
	watchMaxParallel int
	watchRunnerKind  string
	watchCommand     string
)

var watchCmd = &cobra.Command{
	Use:   "watch <requirement>",
	Short: "Run a requirement with a live dashboard",
	Long: `Run a requirement through the pipeline with a full-screen dashboard:
per-state counts, a task table with progress, and the event stream as
it happens.

Press q to leave the dashboard. Quitting while the run is still going
cancels it; progress made so far stays persisted.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().IntVar(&watchMaxParallel, "max-parallel", 0, "Concurrency cap per level (0 uses config)")
	watchCmd.Flags().StringVar(&watchRunnerKind, "runner", "", "Task runner: noop, command, or claude (default from config)")
	watchCmd.Flags().StringVar(&watchCommand, "command", "", "Shell command for --runner command")
}

type runOutcome struct {
	report *coordinator.RunReport
	err    error
}

func runWatch(cmd *cobra.Command, args []string) (retErr error) {
	// A panic here would leave the terminal in alt-screen mode.
	defer func() {
		if r := recover(); r != nil {
			retErr = fmt.Errorf("PANIC in runWatch: %v", r)
		}
	}()

	requirement := args[0]

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	taskRunner, err := buildRunner(cfg, watchRunnerKind, watchCommand)
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
	if watchMaxParallel > 0 {
		opts = append(opts, coordinator.WithMaxParallel(watchMaxParallel))
	}
	opts = append(opts, policyOptions()...)

	co, err := coordinator.New(cfg, opts...)
	if err != nil {
		return err
	}
	defer co.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The dashboard learns the run id from the first event.
	program, _ := tui.NewWatchProgram("")

	go forwardEventsToTUI(program, co.Events())
	go refreshTasks(ctx, program, co, cfg.TUI.RefreshRate)

	runDone := make(chan runOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				err := fmt.Errorf("PANIC in run: %v", r)
				runDone <- runOutcome{err: err}
				program.Send(tui.DoneMsg{Status: models.RunStatusFailed, Message: err.Error()})
			}
		}()
		report, err := co.Run(ctx, requirement)
		runDone <- runOutcome{report: report, err: err}
		if err != nil {
			program.Send(tui.DoneMsg{Status: models.RunStatusFailed, Message: err.Error()})
			return
		}
		program.Send(tui.DoneMsg{Status: report.Status, Message: doneMessage(report)})
	}()

	// The dashboard owns the terminal until the user quits. The run
	// finishing does not close it; the result stays on screen.
	if _, err := program.Run(); err != nil {
		cancel()
		<-runDone
		return fmt.Errorf("dashboard failed: %w", err)
	}

	// Quitting early cancels the run; a finished run ignores this.
	cancel()
	outcome := <-runDone
	if outcome.err != nil {
		return fmt.Errorf("run failed: %w", outcome.err)
	}

	printRunReport(outcome.report)
	if outcome.report.Status == models.RunStatusFailed {
		return fmt.Errorf("run %s failed: %d of %d tasks completed",
			outcome.report.RunID, outcome.report.Summary.Completed, outcome.report.Summary.Total)
	}
	return nil
}

// forwardEventsToTUI converts coordination events to dashboard messages.
func forwardEventsToTUI(program *tea.Program, events <-chan coordinator.Event) {
	for event := range events {
		program.Send(tui.EventMsg{Event: event})
	}
}

// refreshTasks periodically snapshots the registry into the dashboard.
func refreshTasks(ctx context.Context, program *tea.Program, co *coordinator.Coordinator, every time.Duration) {
	if every <= 0 {
		every = 100 * time.Millisecond
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tasks, err := co.Tasks(ctx)
			if err != nil {
				continue
			}
			program.Send(tui.TasksMsg{Tasks: tasks})
		}
	}
}

// doneMessage summarizes a finished run for the dashboard footer.
func doneMessage(report *coordinator.RunReport) string {
	s := report.Summary
	switch report.Status {
	case models.RunStatusCompleted:
		return fmt.Sprintf("all %d tasks completed", s.Total)
	case models.RunStatusCancelled:
		return fmt.Sprintf("cancelled, %d of %d tasks completed", s.Completed, s.Total)
	default:
		return fmt.Sprintf("%d of %d tasks completed, %d failed", s.Completed, s.Total, s.Failed)
	}
}
