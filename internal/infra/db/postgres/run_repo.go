package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	domain "github.com/bryanwahyu/certimed/internal/domain/reports"
)

// Schema:
//
// CREATE TABLE report_runs (
//   id             UUID         PRIMARY KEY,
//   state          VARCHAR(16)  NOT NULL,
//   media_type     VARCHAR(32)  NOT NULL,
//   filename       VARCHAR(255) NOT NULL DEFAULT '',
//   started_at     TIMESTAMPTZ  NOT NULL,
//   finished_at    TIMESTAMPTZ  NULL,
//   extracted_json JSONB        NULL,
//   summary_json   JSONB        NULL,
//   failure_stage  VARCHAR(16)  NOT NULL DEFAULT '',
//   failure_reason VARCHAR(255) NOT NULL DEFAULT ''
// );
// CREATE INDEX idx_report_runs_started ON report_runs (started_at DESC);
type RunRepository struct {
	db *sql.DB
}

func NewRunRepository(db *sql.DB) *RunRepository {
	return &RunRepository{db: db}
}

func (r *RunRepository) Save(ctx context.Context, run *domain.PipelineRun) error {
	extracted, summary, err := marshalArtifacts(run)
	if err != nil {
		return err
	}

	const q = `
INSERT INTO report_runs
(id, state, media_type, filename, started_at, finished_at, extracted_json, summary_json, failure_stage, failure_reason)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
ON CONFLICT (id) DO UPDATE SET
 state=EXCLUDED.state,
 finished_at=EXCLUDED.finished_at,
 extracted_json=EXCLUDED.extracted_json,
 summary_json=EXCLUDED.summary_json,
 failure_stage=EXCLUDED.failure_stage,
 failure_reason=EXCLUDED.failure_reason;
`
	_, err = r.db.ExecContext(ctx, q,
		run.ID, run.State, run.MediaType, run.Filename,
		run.StartedAt.UTC(), nullTime(run.FinishedAt),
		extracted, summary,
		run.FailureStage, run.FailureReason,
	)
	if err != nil {
		return fmt.Errorf("save run: %w", err)
	}
	return nil
}

const runColumns = `id, state, media_type, filename, started_at, finished_at, extracted_json, summary_json, failure_stage, failure_reason`

func (r *RunRepository) Get(ctx context.Context, id domain.RunID) (*domain.PipelineRun, error) {
	const q = `SELECT ` + runColumns + ` FROM report_runs WHERE id=$1;`
	return scanRun(r.db.QueryRowContext(ctx, q, id))
}

func (r *RunRepository) Latest(ctx context.Context, limit int) ([]*domain.PipelineRun, error) {
	if limit <= 0 {
		limit = 20
	}
	const q = `SELECT ` + runColumns + ` FROM report_runs ORDER BY started_at DESC LIMIT $1;`
	rows, err := r.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.PipelineRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*domain.PipelineRun, error) {
	var (
		run       domain.PipelineRun
		finished  sql.NullTime
		extracted sql.NullString
		summary   sql.NullString
	)
	if err := row.Scan(
		&run.ID, &run.State, &run.MediaType, &run.Filename,
		&run.StartedAt, &finished, &extracted, &summary,
		&run.FailureStage, &run.FailureReason,
	); err != nil {
		return nil, err
	}
	if finished.Valid {
		run.FinishedAt = finished.Time
	}
	if extracted.Valid && extracted.String != "" {
		var t domain.ExtractedText
		if err := json.Unmarshal([]byte(extracted.String), &t); err != nil {
			return nil, fmt.Errorf("decode extracted_json: %w", err)
		}
		run.Extracted = &t
	}
	if summary.Valid && summary.String != "" {
		var s domain.Summary
		if err := json.Unmarshal([]byte(summary.String), &s); err != nil {
			return nil, fmt.Errorf("decode summary_json: %w", err)
		}
		run.Summary = &s
	}
	return &run, nil
}

func marshalArtifacts(run *domain.PipelineRun) (extracted, summary sql.NullString, err error) {
	if run.Extracted != nil {
		b, err := json.Marshal(run.Extracted)
		if err != nil {
			return extracted, summary, fmt.Errorf("encode extracted_json: %w", err)
		}
		extracted = sql.NullString{String: string(b), Valid: true}
	}
	if run.Summary != nil {
		b, err := json.Marshal(run.Summary)
		if err != nil {
			return extracted, summary, fmt.Errorf("encode summary_json: %w", err)
		}
		summary = sql.NullString{String: string(b), Valid: true}
	}
	return extracted, summary, nil
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
