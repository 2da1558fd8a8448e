// Package tui renders the live run dashboard for crew watch.
//
// The dashboard is read-only: it shows the run header, per-state task
// counts, the task table, and recent pipeline events. Users can only
// quit with 'q' or Ctrl+C.
//
// Usage:
//
//	program, _ := tui.NewWatchProgram(runID)
//	go program.Run()
//
//	// Bridge coordinator output into the dashboard
//	program.Send(tui.EventMsg{Event: event})
//	program.Send(tui.TasksMsg{Tasks: tasks})
//
//	// Signal completion
//	program.Send(tui.DoneMsg{Status: report.Status, Message: "3 completed"})
package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/crewdev/crew/internal/coordinator"
	"github.com/crewdev/crew/pkg/models"
)

// Status icons for the task table.
const (
	iconPending = "[○]"
	iconRunning = "[●]"
	iconBlocked = "[◐]"
	iconDone    = "[✓]"
	iconFailed  = "[✗]"
)

// maxEventBacklog bounds the event list kept in memory.
const maxEventBacklog = 100

// eventPaneLines is how many recent events the pane shows.
const eventPaneLines = 8

// EventMsg wraps a coordinator event for the dashboard.
type EventMsg struct {
	Event coordinator.Event
}

// TasksMsg replaces the task table contents.
type TasksMsg struct {
	Tasks []*models.Task
}

// DoneMsg signals that the watched run has finished.
type DoneMsg struct {
	Status  models.RunStatus
	Message string
}

// Watch is the bubbletea model for the live run dashboard.
type Watch struct {
	runID  string
	spin   spinner.Model
	tasks  []*models.Task
	events []coordinator.Event

	width  int
	height int

	done       bool
	doneStatus models.RunStatus
	doneMsg    string
	quitting   bool

	// Styles
	headerStyle  lipgloss.Style
	runIDStyle   lipgloss.Style
	paneStyle    lipgloss.Style
	dimStyle     lipgloss.Style
	pendingStyle lipgloss.Style
	runningStyle lipgloss.Style
	blockedStyle lipgloss.Style
	doneStyle    lipgloss.Style
	failedStyle  lipgloss.Style
}

// NewWatch creates the dashboard model for a run.
func NewWatch(runID string) *Watch {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	return &Watch{
		runID: runID,
		spin:  sp,
		width: 80,

		headerStyle: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")),

		runIDStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("75")).
			Bold(true),

		paneStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")).
			Italic(true),

		dimStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("243")),

		pendingStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("244")), // Gray

		runningStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("34")), // Green

		blockedStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")), // Orange

		doneStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("28")), // Dark green

		failedStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")), // Red
	}
}

// NewWatchProgram creates a dashboard program that can receive messages
// via Send().
func NewWatchProgram(runID string) (*tea.Program, *Watch) {
	w := NewWatch(runID)
	p := tea.NewProgram(w, tea.WithAltScreen())
	return p, w
}

// Init implements tea.Model.
func (w *Watch) Init() tea.Cmd {
	return w.spin.Tick
}

// Update implements tea.Model.
func (w *Watch) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			w.quitting = true
			return w, tea.Quit
		}

	case tea.WindowSizeMsg:
		w.width = msg.Width
		w.height = msg.Height

	case spinner.TickMsg:
		if w.done {
			return w, nil
		}
		var cmd tea.Cmd
		w.spin, cmd = w.spin.Update(msg)
		return w, cmd

	case EventMsg:
		if w.runID == "" && msg.Event.RunID != "" {
			w.runID = msg.Event.RunID
		}
		w.events = append(w.events, msg.Event)
		if len(w.events) > maxEventBacklog {
			w.events = w.events[len(w.events)-maxEventBacklog:]
		}

	case TasksMsg:
		w.tasks = msg.Tasks

	case DoneMsg:
		w.done = true
		w.doneStatus = msg.Status
		w.doneMsg = msg.Message
	}

	return w, nil
}

// View implements tea.Model.
func (w *Watch) View() string {
	if w.quitting {
		return ""
	}

	sections := []string{
		w.viewHeader(),
		w.viewCounts(),
		w.viewTasks(),
		w.viewEvents(),
		w.viewFooter(),
	}
	return strings.Join(sections, "\n\n") + "\n"
}

// viewHeader renders the run line with the spinner while running.
func (w *Watch) viewHeader() string {
	title := w.headerStyle.Render("crew run ") + w.runIDStyle.Render(w.runID)
	if w.done {
		mark := w.doneStyle.Render("done")
		switch w.doneStatus {
		case models.RunStatusFailed:
			mark = w.failedStyle.Render("failed")
		case models.RunStatusCancelled:
			mark = w.blockedStyle.Render("cancelled")
		}
		return fmt.Sprintf("%s  %s", title, mark)
	}
	return fmt.Sprintf("%s  %s", title, w.spin.View())
}

// viewCounts renders the per-state counts row.
func (w *Watch) viewCounts() string {
	counts := countByStatus(w.tasks)
	if len(counts) == 0 {
		return w.dimStyle.Render("no tasks yet")
	}

	parts := make([]string, 0, len(counts))
	for _, c := range counts {
		label := fmt.Sprintf("%s %d", c.Status, c.Count)
		parts = append(parts, w.statusStyle(c.Status).Render(label))
	}
	return strings.Join(parts, w.dimStyle.Render("  |  "))
}

// viewTasks renders the task table.
func (w *Watch) viewTasks() string {
	if len(w.tasks) == 0 {
		return w.dimStyle.Render("  waiting for tasks")
	}

	titleWidth := w.width - 40
	if titleWidth < 16 {
		titleWidth = 16
	}

	var b strings.Builder
	b.WriteString(w.paneStyle.Render("Tasks"))
	b.WriteString("\n")
	for _, task := range w.tasks {
		icon := w.statusStyle(task.Status).Render(statusIcon(task.Status))
		b.WriteString(fmt.Sprintf("  %s %-8s %-*s %-12s %3d%%\n",
			icon, task.ID, titleWidth, truncate(task.Title, titleWidth), task.Assignee, task.Progress()))
	}
	return strings.TrimRight(b.String(), "\n")
}

// viewEvents renders the recent events pane.
func (w *Watch) viewEvents() string {
	var b strings.Builder
	b.WriteString(w.paneStyle.Render("Recent events"))
	b.WriteString("\n")

	if len(w.events) == 0 {
		b.WriteString(w.dimStyle.Render("  none yet"))
		return b.String()
	}

	start := 0
	if len(w.events) > eventPaneLines {
		start = len(w.events) - eventPaneLines
	}
	for _, e := range w.events[start:] {
		b.WriteString("  " + w.dimStyle.Render(e.Time.Format("15:04:05")) + " " + eventLine(e) + "\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// viewFooter renders the quit hint or the final run message.
func (w *Watch) viewFooter() string {
	if w.done {
		return w.dimStyle.Render(fmt.Sprintf("%s | press q to exit", w.doneMsg))
	}
	return w.dimStyle.Render("press q to quit")
}

// statusStyle maps a lifecycle state to its display style.
func (w *Watch) statusStyle(status models.TaskStatus) lipgloss.Style {
	switch status {
	case models.TaskStatusNew:
		return w.pendingStyle
	case models.TaskStatusBlocked:
		return w.blockedStyle
	case models.TaskStatusComplete:
		return w.doneStyle
	case models.TaskStatusFailed:
		return w.failedStyle
	default:
		return w.runningStyle
	}
}

// statusIcon returns the table icon for a lifecycle state.
func statusIcon(status models.TaskStatus) string {
	switch status {
	case models.TaskStatusNew:
		return iconPending
	case models.TaskStatusBlocked:
		return iconBlocked
	case models.TaskStatusComplete:
		return iconDone
	case models.TaskStatusFailed:
		return iconFailed
	default:
		return iconRunning
	}
}

// statusCount is one entry of the per-state counts row.
type statusCount struct {
	Status models.TaskStatus
	Count  int
}

// displayOrder is the pipeline order used by the counts row.
var displayOrder = []models.TaskStatus{
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

// countByStatus aggregates tasks per lifecycle state, in pipeline order,
// skipping states with no tasks.
func countByStatus(tasks []*models.Task) []statusCount {
	byStatus := make(map[models.TaskStatus]int)
	for _, task := range tasks {
		byStatus[task.Status]++
	}

	var counts []statusCount
	for _, status := range displayOrder {
		if n := byStatus[status]; n > 0 {
			counts = append(counts, statusCount{Status: status, Count: n})
		}
	}
	return counts
}

// eventLine renders one event for the events pane.
func eventLine(e coordinator.Event) string {
	parts := []string{string(e.Type)}
	if e.TaskID != "" {
		parts = append(parts, e.TaskID)
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	}
	return strings.Join(parts, " ")
}

// truncate shortens s to max runes, ending with an ellipsis when cut.
func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	if max <= 1 {
		return string(runes[:max])
	}
	return string(runes[:max-1]) + "…"
}
