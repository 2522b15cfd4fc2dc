package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aristath/hq/internal/scheduler"
)

const tickColumns = `id, triggered_by, status, started_at, finished_at, duration,
	processed, completed, failed, actions, metadata`

// InsertTick records the start of a tick.
func (s *SQLiteStore) InsertTick(ctx context.Context, t *scheduler.TickExecution) error {
	args, err := tickArgs(t)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO tick_executions (`+tickColumns+`)
		VALUES (?, `+placeholders(len(args))+`)`, append([]any{t.ID}, args...)...)
	if err != nil {
		return fmt.Errorf("failed to insert tick: %w", err)
	}
	return nil
}

// UpdateTick rewrites a tick record, typically when it finishes.
func (s *SQLiteStore) UpdateTick(ctx context.Context, t *scheduler.TickExecution) error {
	args, err := tickArgs(t)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE tick_executions SET
			triggered_by = ?, status = ?, started_at = ?, finished_at = ?, duration = ?,
			processed = ?, completed = ?, failed = ?, actions = ?, metadata = ?
		WHERE id = ?
	`, append(args, t.ID)...)
	if err != nil {
		return fmt.Errorf("failed to update tick: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("tick not found: %s", t.ID)
	}
	return nil
}

// ListTicks returns ticks matching f, newest first.
func (s *SQLiteStore) ListTicks(ctx context.Context, f scheduler.TickFilter) ([]*scheduler.TickExecution, error) {
	var conds []string
	var args []any
	if f.Status != nil {
		conds = append(conds, `status = ?`)
		args = append(args, int(*f.Status))
	}
	if !f.Since.IsZero() {
		conds = append(conds, `started_at >= ?`)
		args = append(args, toNanos(f.Since))
	}

	query := `SELECT ` + tickColumns + ` FROM tick_executions`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY started_at DESC, rowid DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query ticks: %w", err)
	}
	defer rows.Close()

	var ticks []*scheduler.TickExecution
	for rows.Next() {
		t, err := scanTick(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan tick: %w", err)
		}
		ticks = append(ticks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating ticks: %w", err)
	}
	return ticks, nil
}

// LastTick returns the most recently started tick, or nil when none exists.
func (s *SQLiteStore) LastTick(ctx context.Context) (*scheduler.TickExecution, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+tickColumns+` FROM tick_executions
		ORDER BY started_at DESC, rowid DESC LIMIT 1`)
	t, err := scanTick(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query last tick: %w", err)
	}
	return t, nil
}

func tickArgs(t *scheduler.TickExecution) ([]any, error) {
	actions := t.Actions
	if actions == nil {
		actions = []string{}
	}
	actionsJSON, err := encodeJSON(actions)
	if err != nil {
		return nil, fmt.Errorf("failed to encode tick actions: %w", err)
	}
	metadata, err := encodeJSON(t.Metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to encode tick metadata: %w", err)
	}
	return []any{
		t.Trigger, int(t.Status), toNanos(t.StartedAt), toNanos(t.FinishedAt), int64(t.Duration),
		t.Processed, t.Completed, t.Failed, actionsJSON, metadata,
	}, nil
}

func scanTick(sc scanner) (*scheduler.TickExecution, error) {
	var t scheduler.TickExecution
	var status int
	var started, finished, duration int64
	var actions, metadata string
	err := sc.Scan(&t.ID, &t.Trigger, &status, &started, &finished, &duration,
		&t.Processed, &t.Completed, &t.Failed, &actions, &metadata)
	if err != nil {
		return nil, err
	}
	t.Status = scheduler.TickStatus(status)
	t.StartedAt = fromNanos(started)
	t.FinishedAt = fromNanos(finished)
	t.Duration = time.Duration(duration)
	if err := decodeJSON(actions, &t.Actions); err != nil {
		return nil, fmt.Errorf("decode actions of tick %s: %w", t.ID, err)
	}
	if err := decodeJSON(metadata, &t.Metadata); err != nil {
		return nil, fmt.Errorf("decode metadata of tick %s: %w", t.ID, err)
	}
	return &t, nil
}
