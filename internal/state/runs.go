package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/crewdev/crew/pkg/models"
)

// SaveRun inserts or replaces a run record. The coordinator saves once
// when a run starts and again with the final counts when it ends.
func (db *DB) SaveRun(ctx context.Context, run *models.RunRecord) error {
	unscheduled, _ := json.Marshal(run.Unscheduled)

	var completedAt *string
	if run.CompletedAt != nil {
		s := formatTime(*run.CompletedAt)
		completedAt = &s
	}

	db.mu.Lock()
	defer db.mu.Unlock()
	_, err := db.conn.ExecContext(ctx, `
		INSERT OR REPLACE INTO runs (id, requirement, status, total_tasks,
			completed, failed, cancelled, unscheduled, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.Requirement, string(run.Status), run.TotalTasks, run.Completed,
		run.Failed, run.Cancelled, string(unscheduled), formatTime(run.StartedAt), completedAt)
	if err != nil {
		return fmt.Errorf("save run: %w", err)
	}
	return nil
}

// GetRun retrieves a run record by ID. Returns nil when no such run
// exists.
func (db *DB) GetRun(ctx context.Context, id string) (*models.RunRecord, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	row := db.conn.QueryRowContext(ctx, `
		SELECT id, requirement, status, total_tasks, completed, failed,
			cancelled, unscheduled, started_at, completed_at
		FROM runs WHERE id = ?
	`, id)

	run, err := scanRun(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// ListRuns returns run records newest first. A non-positive limit
// returns all of them.
func (db *DB) ListRuns(ctx context.Context, limit int) ([]models.RunRecord, error) {
	if limit <= 0 {
		limit = -1
	}

	db.mu.RLock()
	defer db.mu.RUnlock()

	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, requirement, status, total_tasks, completed, failed,
			cancelled, unscheduled, started_at, completed_at
		FROM runs ORDER BY started_at DESC, id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []models.RunRecord
	for rows.Next() {
		run, err := scanRun(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// scanRun reads a run record with either a Row or Rows scan function.
func scanRun(scan func(dest ...any) error) (*models.RunRecord, error) {
	var r models.RunRecord
	var unscheduled sql.NullString
	var startedAt string
	var completedAt sql.NullString

	err := scan(&r.ID, &r.Requirement, &r.Status, &r.TotalTasks, &r.Completed,
		&r.Failed, &r.Cancelled, &unscheduled, &startedAt, &completedAt)
	if err != nil {
		return nil, err
	}

	if unscheduled.Valid {
		json.Unmarshal([]byte(unscheduled.String), &r.Unscheduled)
	}
	r.StartedAt, _ = parseTime(startedAt)
	r.CompletedAt = parseNullableTime(completedAt)
	return &r, nil
}
