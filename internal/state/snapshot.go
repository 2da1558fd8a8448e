package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/crewdev/crew/internal/tracker"
	"github.com/crewdev/crew/pkg/models"
)

// registryNextIDKey is the registry row holding the tracker's creation
// counter, persisted so archived IDs are never reassigned.
const registryNextIDKey = "next_id"

// SaveSnapshot replaces the stored registry with the given snapshot.
// The write is all-or-nothing: the previous snapshot survives intact if
// any part of it fails.
func (db *DB) SaveSnapshot(ctx context.Context, snap *tracker.Snapshot) error {
	return db.Transaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM handoffs"); err != nil {
			return fmt.Errorf("clear handoffs: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM tasks"); err != nil {
			return fmt.Errorf("clear tasks: %w", err)
		}

		for _, task := range snap.Tasks {
			if err := insertTask(ctx, tx, task); err != nil {
				return err
			}
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO registry (key, value) VALUES (?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value
		`, registryNextIDKey, snap.NextID)
		if err != nil {
			return fmt.Errorf("save registry counter: %w", err)
		}
		return nil
	})
}

// LoadSnapshot reads the stored registry. A fresh database yields an
// empty snapshot with the counter at its starting value.
func (db *DB) LoadSnapshot(ctx context.Context) (*tracker.Snapshot, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, title, description, dependencies, status, assignee, priority,
			iteration_count, max_iterations, blockers, status_before_block,
			quality_gates, parent_task, subtasks, parallel_group, context,
			error, created_at, updated_at, completed_at
		FROM tasks ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("load tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*models.Task
	byID := make(map[string]*models.Task)
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
		byID[task.ID] = task
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load tasks: %w", err)
	}

	if err := db.attachHandoffs(ctx, byID); err != nil {
		return nil, err
	}

	nextID := 1
	row := db.conn.QueryRowContext(ctx, "SELECT value FROM registry WHERE key = ?", registryNextIDKey)
	if err := row.Scan(&nextID); err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("load registry counter: %w", err)
	}

	return &tracker.Snapshot{Tasks: tasks, NextID: nextID}, nil
}

// insertTask writes one task row plus its handoff history.
func insertTask(ctx context.Context, tx *sql.Tx, task *models.Task) error {
	contextJSON, err := json.Marshal(task.Context)
	if err != nil {
		return fmt.Errorf("encode context for %s: %w", task.ID, err)
	}
	dependencies, _ := json.Marshal(task.Dependencies)
	blockers, _ := json.Marshal(task.Blockers)
	gates, _ := json.Marshal(task.QualityGates)
	subtasks, _ := json.Marshal(task.Subtasks)

	var completedAt *string
	if task.CompletedAt != nil {
		s := formatTime(*task.CompletedAt)
		completedAt = &s
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO tasks (id, title, description, dependencies, status, assignee,
			priority, iteration_count, max_iterations, blockers, status_before_block,
			quality_gates, parent_task, subtasks, parallel_group, context, error,
			created_at, updated_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, task.ID, task.Title, task.Description, string(dependencies), string(task.Status),
		string(task.Assignee), string(task.Priority), task.IterationCount, task.MaxIterations,
		string(blockers), string(task.StatusBeforeBlock), string(gates), task.ParentTask,
		string(subtasks), task.ParallelGroup, string(contextJSON), task.Error,
		formatTime(task.CreatedAt), formatTime(task.UpdatedAt), completedAt)
	if err != nil {
		return fmt.Errorf("save task %s: %w", task.ID, err)
	}

	for seq, h := range task.Handoffs {
		snapshot, err := json.Marshal(h.ContextSnapshot)
		if err != nil {
			return fmt.Errorf("encode handoff context for %s: %w", task.ID, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO handoffs (task_id, seq, from_role, to_role, timestamp,
				state_at_handoff, context_snapshot, notes)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, task.ID, seq, string(h.FromRole), string(h.ToRole), formatTime(h.Timestamp),
			string(h.StateAtHandoff), string(snapshot), h.Notes)
		if err != nil {
			return fmt.Errorf("save handoff for %s: %w", task.ID, err)
		}
	}
	return nil
}

// scanTask reads one task row.
func scanTask(rows *sql.Rows) (*models.Task, error) {
	var t models.Task
	var dependencies, blockers, gates, subtasks, contextJSON sql.NullString
	var createdAt, updatedAt string
	var completedAt sql.NullString

	err := rows.Scan(&t.ID, &t.Title, &t.Description, &dependencies, &t.Status,
		&t.Assignee, &t.Priority, &t.IterationCount, &t.MaxIterations, &blockers,
		&t.StatusBeforeBlock, &gates, &t.ParentTask, &subtasks, &t.ParallelGroup,
		&contextJSON, &t.Error, &createdAt, &updatedAt, &completedAt)
	if err != nil {
		return nil, fmt.Errorf("scan task: %w", err)
	}

	if dependencies.Valid {
		json.Unmarshal([]byte(dependencies.String), &t.Dependencies)
	}
	if blockers.Valid {
		json.Unmarshal([]byte(blockers.String), &t.Blockers)
	}
	if gates.Valid {
		json.Unmarshal([]byte(gates.String), &t.QualityGates)
	}
	if subtasks.Valid {
		json.Unmarshal([]byte(subtasks.String), &t.Subtasks)
	}
	if contextJSON.Valid {
		json.Unmarshal([]byte(contextJSON.String), &t.Context)
	}
	t.CreatedAt, _ = parseTime(createdAt)
	t.UpdatedAt, _ = parseTime(updatedAt)
	t.CompletedAt = parseNullableTime(completedAt)
	return &t, nil
}

// attachHandoffs restores each task's handoff history in order.
func (db *DB) attachHandoffs(ctx context.Context, byID map[string]*models.Task) error {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT task_id, from_role, to_role, timestamp, state_at_handoff,
			context_snapshot, notes
		FROM handoffs ORDER BY task_id, seq
	`)
	if err != nil {
		return fmt.Errorf("load handoffs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var taskID, timestamp string
		var snapshot sql.NullString
		var h models.HandoffRecord
		if err := rows.Scan(&taskID, &h.FromRole, &h.ToRole, &timestamp,
			&h.StateAtHandoff, &snapshot, &h.Notes); err != nil {
			return fmt.Errorf("scan handoff: %w", err)
		}
		h.Timestamp, _ = parseTime(timestamp)
		if snapshot.Valid {
			json.Unmarshal([]byte(snapshot.String), &h.ContextSnapshot)
		}
		if task, ok := byID[taskID]; ok {
			task.Handoffs = append(task.Handoffs, h)
		}
	}
	return rows.Err()
}
