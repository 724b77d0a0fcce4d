package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	domain "github.com/bryanwahyu/certimed/internal/domain/certificates"
)

// Schema:
//
// CREATE TABLE report_certificates (
//   fingerprint    CHAR(64)     PRIMARY KEY,
//   tx_id          VARCHAR(128) NOT NULL UNIQUE,
//   run_id         UUID         NOT NULL,
//   certificate_id VARCHAR(32)  NOT NULL,
//   anchored_at    TIMESTAMPTZ  NOT NULL,
//   artifact_url   VARCHAR(512) NOT NULL DEFAULT ''
// );
// CREATE INDEX idx_report_certificates_run ON report_certificates (run_id);
type CertificateRepository struct {
	db *sql.DB
}

func NewCertificateRepository(db *sql.DB) *CertificateRepository {
	return &CertificateRepository{db: db}
}

// Insert writes at most one row per fingerprint; ON CONFLICT DO NOTHING
// lets the primary key arbitrate concurrent runs of the same document.
func (r *CertificateRepository) Insert(ctx context.Context, rec *domain.CertificateRecord) (*domain.CertificateRecord, bool, error) {
	const q = `
INSERT INTO report_certificates
(fingerprint, tx_id, run_id, certificate_id, anchored_at, artifact_url)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (fingerprint) DO NOTHING;
`
	res, err := r.db.ExecContext(ctx, q,
		rec.Fingerprint, rec.TxID, rec.RunID, rec.CertificateID, rec.AnchoredAt.UTC(), rec.ArtifactURL,
	)
	if err != nil {
		return nil, false, fmt.Errorf("insert certificate: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, err
	}
	if n == 0 {
		existing, err := r.FindByFingerprint(ctx, rec.Fingerprint)
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}
	return rec, true, nil
}

const certColumns = `fingerprint, tx_id, run_id, certificate_id, anchored_at, artifact_url`

func (r *CertificateRepository) FindByFingerprint(ctx context.Context, fp domain.Fingerprint) (*domain.CertificateRecord, error) {
	const q = `SELECT ` + certColumns + ` FROM report_certificates WHERE fingerprint=$1;`
	return scanCertificate(r.db.QueryRowContext(ctx, q, fp))
}

func (r *CertificateRepository) FindByTxID(ctx context.Context, tx domain.TxID) (*domain.CertificateRecord, error) {
	const q = `SELECT ` + certColumns + ` FROM report_certificates WHERE tx_id=$1;`
	return scanCertificate(r.db.QueryRowContext(ctx, q, tx))
}

func (r *CertificateRepository) FindByRunID(ctx context.Context, runID string) (*domain.CertificateRecord, error) {
	const q = `SELECT ` + certColumns + ` FROM report_certificates WHERE run_id=$1;`
	return scanCertificate(r.db.QueryRowContext(ctx, q, runID))
}

func (r *CertificateRepository) SetArtifactURL(ctx context.Context, fp domain.Fingerprint, url string) error {
	const q = `UPDATE report_certificates SET artifact_url=$1 WHERE fingerprint=$2;`
	_, err := r.db.ExecContext(ctx, q, url, fp)
	return err
}

func scanCertificate(row *sql.Row) (*domain.CertificateRecord, error) {
	var rec domain.CertificateRecord
	err := row.Scan(&rec.Fingerprint, &rec.TxID, &rec.RunID, &rec.CertificateID, &rec.AnchoredAt, &rec.ArtifactURL)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}
