package mysql

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
//   id             CHAR(36)     PRIMARY KEY,
//   state          VARCHAR(16)  NOT NULL,
//   media_type     VARCHAR(32)  NOT NULL,
//   filename       VARCHAR(255) NOT NULL DEFAULT '',
//   started_at     DATETIME     NOT NULL,
//   finished_at    DATETIME     NULL,
//   extracted_json TEXT         NULL,
//   summary_json   TEXT         NULL,
//   failure_stage  VARCHAR(16)  NOT NULL DEFAULT '',
//   failure_reason VARCHAR(255) NOT NULL DEFAULT '',
//   KEY idx_started (started_at)
// );
type RunRepository struct {
	db *sql.DB
}

func NewRunRepository(db *sql.DB) *RunRepository {
	return &RunRepository{db: db}
}

// Save upserts the run row; the orchestrator calls it at every transition.
func (r *RunRepository) Save(ctx context.Context, run *domain.PipelineRun) error {
	extracted, summary, err := marshalArtifacts(run)
	if err != nil {
		return err
	}

	const q = `
INSERT INTO report_runs
(id, state, media_type, filename, started_at, finished_at, extracted_json, summary_json, failure_stage, failure_reason)
VALUES (?,?,?,?,?,?,?,?,?,?)
ON DUPLICATE KEY UPDATE
 state=VALUES(state),
 finished_at=VALUES(finished_at),
 extracted_json=VALUES(extracted_json),
 summary_json=VALUES(summary_json),
 failure_stage=VALUES(failure_stage),
 failure_reason=VALUES(failure_reason);
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
	const q = `SELECT ` + runColumns + ` FROM report_runs WHERE id=? LIMIT 1;`
	return scanRun(r.db.QueryRowContext(ctx, q, id))
}

func (r *RunRepository) Latest(ctx context.Context, limit int) ([]*domain.PipelineRun, error) {
	if limit <= 0 {
		limit = 20
	}
	const q = `SELECT ` + runColumns + ` FROM report_runs ORDER BY started_at DESC LIMIT ?;`
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
