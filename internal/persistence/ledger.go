package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/aristath/hq/internal/budget"
)

// AppendLedger records one usage entry.
func (s *SQLiteStore) AppendLedger(ctx context.Context, e budget.Entry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ledger (worker, model, input_units, output_units, cost, at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, e.Worker, e.Model, e.InputUnits, e.OutputUnits, e.Cost, toNanos(e.At))
	if err != nil {
		return fmt.Errorf("failed to append ledger entry: %w", err)
	}
	return nil
}

// LedgerSince returns entries recorded at or after since, oldest first.
func (s *SQLiteStore) LedgerSince(ctx context.Context, since time.Time) ([]budget.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT worker, model, input_units, output_units, cost, at
		FROM ledger
		WHERE at >= ?
		ORDER BY at, id
	`, toNanos(since))
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger: %w", err)
	}
	defer rows.Close()

	var entries []budget.Entry
	for rows.Next() {
		var e budget.Entry
		var at int64
		if err := rows.Scan(&e.Worker, &e.Model, &e.InputUnits, &e.OutputUnits, &e.Cost, &at); err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		e.At = fromNanos(at)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating ledger: %w", err)
	}
	return entries, nil
}
