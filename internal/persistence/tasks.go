package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aristath/hq/internal/queue"
)

const taskColumns = `id, title, description, type, priority, status, assigned_to, created_by, parent_id,
	created_at, updated_at, started_at, completed_at, due_at, retry_count, max_retries,
	result, error, cost, active, metadata, context`

// InsertTask stores a new task and its dependencies.
func (s *SQLiteStore) InsertTask(ctx context.Context, task *queue.Task) error {
	return s.writeTask(ctx, task, true)
}

// UpdateTask rewrites an existing task and its dependencies.
func (s *SQLiteStore) UpdateTask(ctx context.Context, task *queue.Task) error {
	return s.writeTask(ctx, task, false)
}

func (s *SQLiteStore) writeTask(ctx context.Context, task *queue.Task, insert bool) error {
	metadata, err := encodeJSON(task.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}
	execCtx, err := encodeJSON(task.Context)
	if err != nil {
		return fmt.Errorf("failed to encode context: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	args := []any{
		task.Title, task.Description, string(task.Type), int(task.Priority), int(task.Status),
		task.AssignedTo, task.CreatedBy, task.ParentID,
		toNanos(task.CreatedAt), toNanos(task.UpdatedAt), toNanos(task.StartedAt),
		toNanos(task.CompletedAt), toNanos(task.DueAt),
		task.RetryCount, task.MaxRetries, task.Result, task.Error, task.Cost,
		boolInt(task.Active), metadata, execCtx,
	}

	if insert {
		_, err = tx.ExecContext(ctx, `INSERT INTO tasks (`+taskColumns+`)
			VALUES (?, `+placeholders(len(args))+`)`, append([]any{task.ID}, args...)...)
		if err != nil {
			return fmt.Errorf("failed to insert task: %w", err)
		}
	} else {
		res, err := tx.ExecContext(ctx, `
			UPDATE tasks SET
				title = ?, description = ?, type = ?, priority = ?, status = ?,
				assigned_to = ?, created_by = ?, parent_id = ?,
				created_at = ?, updated_at = ?, started_at = ?, completed_at = ?, due_at = ?,
				retry_count = ?, max_retries = ?, result = ?, error = ?, cost = ?,
				active = ?, metadata = ?, context = ?
			WHERE id = ?
		`, append(args, task.ID)...)
		if err != nil {
			return fmt.Errorf("failed to update task: %w", err)
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if rows == 0 {
			return fmt.Errorf("%w: %s", queue.ErrNotFound, task.ID)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM task_dependencies WHERE task_id = ?`, task.ID); err != nil {
			return fmt.Errorf("failed to delete old dependencies: %w", err)
		}
	}

	for i, depID := range task.DependsOn {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO task_dependencies (task_id, depends_on_id, position)
			VALUES (?, ?, ?)
		`, task.ID, depID, i)
		if err != nil {
			return fmt.Errorf("failed to insert dependency %s -> %s: %w", task.ID, depID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetTask retrieves a task by ID, including its dependencies.
func (s *SQLiteStore) GetTask(ctx context.Context, id string) (*queue.Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", queue.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query task: %w", err)
	}
	if err := s.loadDependencies(ctx, []*queue.Task{task}); err != nil {
		return nil, err
	}
	return task, nil
}

// GetTasks returns the tasks with the given ids. Unknown ids are skipped.
func (s *SQLiteStore) GetTasks(ctx context.Context, ids []string) ([]*queue.Task, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return s.queryTasks(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id IN (`+placeholders(len(ids))+`)`, args)
}

// ListTasks returns tasks matching f.
func (s *SQLiteStore) ListTasks(ctx context.Context, f queue.Filter) ([]*queue.Task, error) {
	where, args := taskWhere(f)

	var order string
	switch f.Order {
	case queue.OrderNewest:
		order = "created_at DESC, rowid DESC"
	case queue.OrderCompleted:
		order = "completed_at DESC, rowid DESC"
	default:
		order = "priority DESC, created_at ASC, rowid ASC"
	}

	query := `SELECT ` + taskColumns + ` FROM tasks` + where + ` ORDER BY ` + order
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	return s.queryTasks(ctx, query, args)
}

// CountTasks returns the number of tasks matching f. Order and Limit are
// ignored.
func (s *SQLiteStore) CountTasks(ctx context.Context, f queue.Filter) (int, error) {
	where, args := taskWhere(f)
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks`+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count tasks: %w", err)
	}
	return n, nil
}

// SumTaskCost sums the cost of tasks completed at or after since.
func (s *SQLiteStore) SumTaskCost(ctx context.Context, since time.Time) (float64, error) {
	var total float64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(cost), 0) FROM tasks WHERE completed_at >= ? AND completed_at > 0
	`, toNanos(since)).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to sum task cost: %w", err)
	}
	return total, nil
}

func taskWhere(f queue.Filter) (string, []any) {
	var conds []string
	var args []any

	if len(f.Statuses) > 0 {
		conds = append(conds, `status IN (`+placeholders(len(f.Statuses))+`)`)
		for _, st := range f.Statuses {
			args = append(args, int(st))
		}
	}
	if f.AssignedTo != "" {
		conds = append(conds, `assigned_to = ?`)
		args = append(args, f.AssignedTo)
	}
	if f.AssignableTo != "" {
		conds = append(conds, `(assigned_to = ? OR assigned_to = '')`)
		args = append(args, f.AssignableTo)
	}
	if f.ParentID != "" {
		conds = append(conds, `parent_id = ?`)
		args = append(args, f.ParentID)
	}
	if f.ActiveOnly {
		conds = append(conds, `active = 1`)
	}
	if !f.CreatedAfter.IsZero() {
		conds = append(conds, `created_at > ?`)
		args = append(args, toNanos(f.CreatedAfter))
	}
	if !f.StartedBefore.IsZero() {
		conds = append(conds, `started_at > 0 AND started_at < ?`)
		args = append(args, toNanos(f.StartedBefore))
	}
	if !f.CompletedAfter.IsZero() {
		conds = append(conds, `completed_at >= ?`)
		args = append(args, toNanos(f.CompletedAfter))
	}

	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (s *SQLiteStore) queryTasks(ctx context.Context, query string, args []any) ([]*queue.Task, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}

	var tasks []*queue.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("error iterating tasks: %w", err)
	}
	rows.Close()

	if err := s.loadDependencies(ctx, tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

// loadDependencies fills DependsOn for tasks with a single query.
func (s *SQLiteStore) loadDependencies(ctx context.Context, tasks []*queue.Task) error {
	if len(tasks) == 0 {
		return nil
	}
	byID := make(map[string]*queue.Task, len(tasks))
	args := make([]any, 0, len(tasks))
	for _, t := range tasks {
		if _, dup := byID[t.ID]; !dup {
			args = append(args, t.ID)
		}
		byID[t.ID] = t
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT task_id, depends_on_id
		FROM task_dependencies
		WHERE task_id IN (`+placeholders(len(args))+`)
		ORDER BY task_id, position
	`, args...)
	if err != nil {
		return fmt.Errorf("failed to query dependencies: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var taskID, depID string
		if err := rows.Scan(&taskID, &depID); err != nil {
			return fmt.Errorf("failed to scan dependency: %w", err)
		}
		if t := byID[taskID]; t != nil {
			t.DependsOn = append(t.DependsOn, depID)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating dependencies: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(sc scanner) (*queue.Task, error) {
	var t queue.Task
	var typ, metadata, execCtx string
	var priority, status, active int
	var created, updated, started, done, due int64
	err := sc.Scan(&t.ID, &t.Title, &t.Description, &typ, &priority, &status,
		&t.AssignedTo, &t.CreatedBy, &t.ParentID,
		&created, &updated, &started, &done, &due,
		&t.RetryCount, &t.MaxRetries, &t.Result, &t.Error, &t.Cost,
		&active, &metadata, &execCtx)
	if err != nil {
		return nil, err
	}

	t.Type = queue.Type(typ)
	t.Priority = queue.Priority(priority)
	t.Status = queue.Status(status)
	t.Active = active != 0
	t.CreatedAt = fromNanos(created)
	t.UpdatedAt = fromNanos(updated)
	t.StartedAt = fromNanos(started)
	t.CompletedAt = fromNanos(done)
	t.DueAt = fromNanos(due)
	if err := decodeJSON(metadata, &t.Metadata); err != nil {
		return nil, fmt.Errorf("decode metadata of %s: %w", t.ID, err)
	}
	if err := decodeJSON(execCtx, &t.Context); err != nil {
		return nil, fmt.Errorf("decode context of %s: %w", t.ID, err)
	}
	return &t, nil
}
