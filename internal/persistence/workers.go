package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/aristath/hq/internal/roster"
)

const workerColumns = `code, name, role, profile, status, active, current_task, premium,
	provider, model, completed, failed, last_active_at, updated_at`

// UpsertWorker inserts or replaces a worker row.
func (s *SQLiteStore) UpsertWorker(ctx context.Context, w *roster.Worker) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workers (`+workerColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(code) DO UPDATE SET
			name = excluded.name,
			role = excluded.role,
			profile = excluded.profile,
			status = excluded.status,
			active = excluded.active,
			current_task = excluded.current_task,
			premium = excluded.premium,
			provider = excluded.provider,
			model = excluded.model,
			completed = excluded.completed,
			failed = excluded.failed,
			last_active_at = excluded.last_active_at,
			updated_at = excluded.updated_at
	`, w.Code, w.Name, string(w.Role), string(w.Profile), int(w.Status), boolInt(w.Active),
		w.CurrentTask, boolInt(w.Premium), w.Provider, w.Model,
		w.Stats.Completed, w.Stats.Failed, toNanos(w.Stats.LastActiveAt), toNanos(w.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to upsert worker: %w", err)
	}
	return nil
}

// GetWorker retrieves a worker by code.
func (s *SQLiteStore) GetWorker(ctx context.Context, code string) (*roster.Worker, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+workerColumns+` FROM workers WHERE code = ?`, code)
	w, err := scanWorker(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", roster.ErrNotFound, code)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query worker: %w", err)
	}
	return w, nil
}

// ListWorkers returns workers ordered by code.
func (s *SQLiteStore) ListWorkers(ctx context.Context, activeOnly bool) ([]*roster.Worker, error) {
	query := `SELECT ` + workerColumns + ` FROM workers`
	if activeOnly {
		query += ` WHERE active = 1`
	}
	query += ` ORDER BY code`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query workers: %w", err)
	}
	defer rows.Close()

	var workers []*roster.Worker
	for rows.Next() {
		w, err := scanWorker(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan worker: %w", err)
		}
		workers = append(workers, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating workers: %w", err)
	}
	return workers, nil
}

func scanWorker(sc scanner) (*roster.Worker, error) {
	var w roster.Worker
	var role, profile string
	var status, active, premium int
	var lastActive, updated int64
	err := sc.Scan(&w.Code, &w.Name, &role, &profile, &status, &active, &w.CurrentTask, &premium,
		&w.Provider, &w.Model, &w.Stats.Completed, &w.Stats.Failed, &lastActive, &updated)
	if err != nil {
		return nil, err
	}
	w.Role = roster.Role(role)
	w.Profile = roster.Profile(profile)
	w.Status = roster.Status(status)
	w.Active = active != 0
	w.Premium = premium != 0
	w.Stats.LastActiveAt = fromNanos(lastActive)
	w.UpdatedAt = fromNanos(updated)
	return &w, nil
}
