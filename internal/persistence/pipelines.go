package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/aristath/hq/internal/orchestrator"
)

const pipelineColumns = `id, template, name, status, stages, context, created_by, created_at, updated_at, completed_at`

// InsertPipeline stores a new pipeline instance.
func (s *SQLiteStore) InsertPipeline(ctx context.Context, p *orchestrator.Pipeline) error {
	stages, pctx, err := encodePipeline(p)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO pipelines (`+pipelineColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, p.ID, p.Template, p.Name, string(p.Status), stages, pctx, p.CreatedBy,
		toNanos(p.CreatedAt), toNanos(p.UpdatedAt), toNanos(p.CompletedAt))
	if err != nil {
		return fmt.Errorf("failed to insert pipeline: %w", err)
	}
	return nil
}

// UpdatePipeline rewrites the status and stages of a pipeline.
func (s *SQLiteStore) UpdatePipeline(ctx context.Context, p *orchestrator.Pipeline) error {
	stages, pctx, err := encodePipeline(p)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE pipelines SET
			status = ?, stages = ?, context = ?, updated_at = ?, completed_at = ?
		WHERE id = ?
	`, string(p.Status), stages, pctx, toNanos(p.UpdatedAt), toNanos(p.CompletedAt), p.ID)
	if err != nil {
		return fmt.Errorf("failed to update pipeline: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", orchestrator.ErrPipelineNotFound, p.ID)
	}
	return nil
}

// GetPipeline retrieves a pipeline by id.
func (s *SQLiteStore) GetPipeline(ctx context.Context, id string) (*orchestrator.Pipeline, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+pipelineColumns+` FROM pipelines WHERE id = ?`, id)
	p, err := scanPipeline(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", orchestrator.ErrPipelineNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query pipeline: %w", err)
	}
	return p, nil
}

// ListPipelines returns pipelines newest first. activeOnly drops completed
// ones.
func (s *SQLiteStore) ListPipelines(ctx context.Context, activeOnly bool) ([]*orchestrator.Pipeline, error) {
	query := `SELECT ` + pipelineColumns + ` FROM pipelines`
	var args []any
	if activeOnly {
		query += ` WHERE status != ?`
		args = append(args, string(orchestrator.PipelineCompleted))
	}
	query += ` ORDER BY created_at DESC, rowid DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query pipelines: %w", err)
	}
	defer rows.Close()

	var out []*orchestrator.Pipeline
	for rows.Next() {
		p, err := scanPipeline(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan pipeline: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating pipelines: %w", err)
	}
	return out, nil
}

func encodePipeline(p *orchestrator.Pipeline) (stages, pctx string, err error) {
	stages, err = encodeJSON(p.Stages)
	if err != nil {
		return "", "", fmt.Errorf("failed to encode stages: %w", err)
	}
	pctx, err = encodeJSON(p.Context)
	if err != nil {
		return "", "", fmt.Errorf("failed to encode pipeline context: %w", err)
	}
	return stages, pctx, nil
}

func scanPipeline(sc scanner) (*orchestrator.Pipeline, error) {
	var p orchestrator.Pipeline
	var status, stages, pctx string
	var created, updated, done int64
	err := sc.Scan(&p.ID, &p.Template, &p.Name, &status, &stages, &pctx, &p.CreatedBy, &created, &updated, &done)
	if err != nil {
		return nil, err
	}
	p.Status = orchestrator.PipelineStatus(status)
	p.CreatedAt = fromNanos(created)
	p.UpdatedAt = fromNanos(updated)
	p.CompletedAt = fromNanos(done)
	if err := decodeJSON(stages, &p.Stages); err != nil {
		return nil, fmt.Errorf("decode stages of pipeline %s: %w", p.ID, err)
	}
	if err := decodeJSON(pctx, &p.Context); err != nil {
		return nil, fmt.Errorf("decode context of pipeline %s: %w", p.ID, err)
	}
	return &p, nil
}
