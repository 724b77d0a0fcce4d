package mysql

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
//   tx_id          VARCHAR(128) NOT NULL,
//   run_id         CHAR(36)     NOT NULL,
//   certificate_id VARCHAR(32)  NOT NULL,
//   anchored_at    DATETIME     NOT NULL,
//   artifact_url   VARCHAR(512) NOT NULL DEFAULT '',
//   UNIQUE KEY uq_tx (tx_id),
//   KEY idx_run (run_id)
// );
type CertificateRepository struct {
	db *sql.DB
}

func NewCertificateRepository(db *sql.DB) *CertificateRepository {
	return &CertificateRepository{db: db}
}

// Insert persists the record with at-most-one-write-per-fingerprint
// semantics. INSERT IGNORE makes the primary key the arbiter: when a
// concurrent run already inserted this fingerprint, no row is written and
// the existing record is returned instead.
func (r *CertificateRepository) Insert(ctx context.Context, rec *domain.CertificateRecord) (*domain.CertificateRecord, bool, error) {
	const q = `
INSERT IGNORE INTO report_certificates
(fingerprint, tx_id, run_id, certificate_id, anchored_at, artifact_url)
VALUES (?,?,?,?,?,?);
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
	const q = `SELECT ` + certColumns + ` FROM report_certificates WHERE fingerprint=? LIMIT 1;`
	return scanCertificate(r.db.QueryRowContext(ctx, q, fp))
}

func (r *CertificateRepository) FindByTxID(ctx context.Context, tx domain.TxID) (*domain.CertificateRecord, error) {
	const q = `SELECT ` + certColumns + ` FROM report_certificates WHERE tx_id=? LIMIT 1;`
	return scanCertificate(r.db.QueryRowContext(ctx, q, tx))
}

func (r *CertificateRepository) FindByRunID(ctx context.Context, runID string) (*domain.CertificateRecord, error) {
	const q = `SELECT ` + certColumns + ` FROM report_certificates WHERE run_id=? LIMIT 1;`
	return scanCertificate(r.db.QueryRowContext(ctx, q, runID))
}

func (r *CertificateRepository) SetArtifactURL(ctx context.Context, fp domain.Fingerprint, url string) error {
	const q = `UPDATE report_certificates SET artifact_url=? WHERE fingerprint=?;`
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
