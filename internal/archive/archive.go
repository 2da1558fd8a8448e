// Package archive keeps an append-only ledger of archived tasks and
// finished runs. Completed tasks leave the live registry but never
// disappear; they land here, in a separate database file from the
// working snapshot.
package archive

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/crewdev/crew/pkg/models"
)

// ArchivedTask is one ledger row for a task moved out of the registry.
type ArchivedTask struct {
	TaskID         string
	Title          string
	Assignee       models.Role
	Priority       models.Priority
	IterationCount int
	CreatedAt      time.Time
	CompletedAt    *time.Time
	ArchivedAt     time.Time
}

// Ledger manages the archive database.
type Ledger struct {
	db   *sql.DB
	path string
}

// Open opens the ledger at the given path, creating the schema and any
// parent directories on first use.
func Open(dbPath string) (*Ledger, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create archive directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS archived_tasks (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			task_id TEXT NOT NULL,
			title TEXT NOT NULL,
			assignee TEXT NOT NULL,
			priority TEXT NOT NULL,
			iteration_count INT,
			created_at DATETIME,
			completed_at DATETIME,
			archived_at DATETIME NOT NULL,
			task_json TEXT
		);
		CREATE TABLE IF NOT EXISTS archived_runs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			requirement TEXT NOT NULL,
			status TEXT NOT NULL,
			total_tasks INT,
			completed INT,
			failed INT,
			cancelled INT,
			started_at DATETIME,
			completed_at DATETIME,
			archived_at DATETIME NOT NULL
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create archive tables: %w", err)
	}

	return &Ledger{db: db, path: dbPath}, nil
}

// AppendTasks adds archived tasks to the ledger. The full task is kept
// as JSON alongside the indexed columns, so nothing is lost when a task
// leaves the registry.
func (l *Ledger) AppendTasks(tasks []*models.Task) error {
	now := time.Now()
	for _, task := range tasks {
		taskJSON, err := json.Marshal(task)
		if err != nil {
			return fmt.Errorf("encode task %s: %w", task.ID, err)
		}

		_, err = l.db.Exec(`
			INSERT INTO archived_tasks (task_id, title, assignee, priority, iteration_count,
				created_at, completed_at, archived_at, task_json)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, task.ID, task.Title, string(task.Assignee), string(task.Priority),
			task.IterationCount, task.CreatedAt, task.CompletedAt, now, string(taskJSON))
		if err != nil {
			return fmt.Errorf("archive task %s: %w", task.ID, err)
		}
	}
	return nil
}

// AppendRun adds a finished run summary to the ledger.
func (l *Ledger) AppendRun(run *models.RunRecord) error {
	_, err := l.db.Exec(`
		INSERT INTO archived_runs (run_id, requirement, status, total_tasks, completed,
			failed, cancelled, started_at, completed_at, archived_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.Requirement, string(run.Status), run.TotalTasks, run.Completed,
		run.Failed, run.Cancelled, run.StartedAt, run.CompletedAt, time.Now())
	if err != nil {
		return fmt.Errorf("archive run %s: %w", run.ID, err)
	}
	return nil
}

// Tasks returns archived tasks, newest first. A non-positive limit
// returns all of them.
func (l *Ledger) Tasks(limit int) ([]ArchivedTask, error) {
	if limit <= 0 {
		limit = -1
	}

	rows, err := l.db.Query(`
		SELECT task_id, title, assignee, priority, iteration_count,
			created_at, completed_at, archived_at
		FROM archived_tasks ORDER BY archived_at DESC, id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list archived tasks: %w", err)
	}
	defer rows.Close()

	var tasks []ArchivedTask
	for rows.Next() {
		var at ArchivedTask
		var createdAt, completedAt sql.NullTime
		if err := rows.Scan(&at.TaskID, &at.Title, &at.Assignee, &at.Priority,
			&at.IterationCount, &createdAt, &completedAt, &at.ArchivedAt); err != nil {
			return nil, fmt.Errorf("scan archived task: %w", err)
		}
		if createdAt.Valid {
			at.CreatedAt = createdAt.Time
		}
		if completedAt.Valid {
			done := completedAt.Time
			at.CompletedAt = &done
		}
		tasks = append(tasks, at)
	}
	return tasks, rows.Err()
}

// Task returns the full archived task record by ID, decoded from the
// stored JSON. Returns nil when the task was never archived. When a
// task somehow appears twice, the most recent row wins.
func (l *Ledger) Task(taskID string) (*models.Task, error) {
	row := l.db.QueryRow(`
		SELECT task_json FROM archived_tasks
		WHERE task_id = ? ORDER BY id DESC LIMIT 1
	`, taskID)

	var taskJSON string
	err := row.Scan(&taskJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get archived task: %w", err)
	}

	var task models.Task
	if err := json.Unmarshal([]byte(taskJSON), &task); err != nil {
		return nil, fmt.Errorf("decode archived task %s: %w", taskID, err)
	}
	return &task, nil
}

// Runs returns archived run summaries, newest first. A non-positive
// limit returns all of them.
func (l *Ledger) Runs(limit int) ([]models.RunRecord, error) {
	if limit <= 0 {
		limit = -1
	}

	rows, err := l.db.Query(`
		SELECT run_id, requirement, status, total_tasks, completed, failed,
			cancelled, started_at, completed_at
		FROM archived_runs ORDER BY archived_at DESC, id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list archived runs: %w", err)
	}
	defer rows.Close()

	var runs []models.RunRecord
	for rows.Next() {
		var r models.RunRecord
		var startedAt, completedAt sql.NullTime
		if err := rows.Scan(&r.ID, &r.Requirement, &r.Status, &r.TotalTasks,
			&r.Completed, &r.Failed, &r.Cancelled, &startedAt, &completedAt); err != nil {
			return nil, fmt.Errorf("scan archived run: %w", err)
		}
		if startedAt.Valid {
			r.StartedAt = startedAt.Time
		}
		if completedAt.Valid {
			done := completedAt.Time
			r.CompletedAt = &done
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Path returns the path to the ledger database file.
func (l *Ledger) Path() string {
	return l.path
}

// Close closes the database connection.
func (l *Ledger) Close() error {
	return l.db.Close()
}
