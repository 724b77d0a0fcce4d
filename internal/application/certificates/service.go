package certificates

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/bryanwahyu/certimed/internal/application"
	"github.com/bryanwahyu/certimed/internal/certificate"
	domain "github.com/bryanwahyu/certimed/internal/domain/certificates"
)

// Service implements use-cases untuk certification dan verification.
// Safe for concurrent use: all shared state lives behind the repository's
// unique-fingerprint insert.
type Service struct {
	Repo      domain.Repository
	Chain     domain.ChainClient
	Artifacts domain.ArtifactStore
	Clock     application.Clock
	Logger    *slog.Logger
}

func (s *Service) log() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

// Certify anchors the result's fingerprint at most once.
//
// Ordering discipline: local store lookup → chain lookup by fingerprint
// (crash recovery: a prior process may have submitted without persisting) →
// submit → persist in one atomic insert. Once submission starts the work is
// externally irreversible, so everything from the anchor call on runs on a
// context detached from caller cancellation.
func (s *Service) Certify(ctx context.Context, result domain.Result, runID string) (*domain.CertificateRecord, error) {
	fp := result.ComputeFingerprint()

	if rec, err := s.Repo.FindByFingerprint(ctx, fp); err == nil {
		s.log().Info("certify.idempotent_hit", "fingerprint", fp, "tx_id", rec.TxID)
		return rec, nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("certificate lookup: %w", err)
	}

	anchorCtx := context.WithoutCancel(ctx)

	txID, err := s.Chain.TxForFingerprint(ctx, fp)
	switch {
	case err == nil:
		s.log().Warn("certify.recovered_anchor", "fingerprint", fp, "tx_id", txID)
	case errors.Is(err, domain.ErrFingerprintNotAnchored):
		txID, err = s.Chain.Anchor(anchorCtx, fp)
		if err != nil {
			return nil, err
		}
		s.log().Info("certify.anchored", "fingerprint", fp, "tx_id", txID)
	default:
		return nil, err
	}

	rec := &domain.CertificateRecord{
		Fingerprint:   fp,
		TxID:          txID,
		RunID:         runID,
		CertificateID: NewCertificateID(),
		AnchoredAt:    s.Clock.Now(),
	}
	stored, inserted, err := s.Repo.Insert(anchorCtx, rec)
	if err != nil {
		return nil, fmt.Errorf("persist certificate: %w", err)
	}
	if !inserted {
		// A concurrent run with identical content won the insert race.
		s.log().Info("certify.lost_insert_race", "fingerprint", fp, "tx_id", stored.TxID)
		return stored, nil
	}

	s.uploadArtifact(anchorCtx, stored, result)
	return stored, nil
}

// uploadArtifact renders the printable certificate and stores it. Failure is
// non-fatal: the record is already anchored and persisted.
func (s *Service) uploadArtifact(ctx context.Context, rec *domain.CertificateRecord, result domain.Result) {
	if s.Artifacts == nil {
		return
	}
	doc := certificate.Build(rec, result)
	html, err := doc.HTML()
	if err != nil {
		s.log().Warn("certify.render_failed", "fingerprint", rec.Fingerprint, "error", err)
		return
	}
	key := fmt.Sprintf("certificates/%s.html", rec.Fingerprint)
	url, err := s.Artifacts.UploadBytes(ctx, key, html, "text/html")
	if err != nil {
		s.log().Warn("certify.artifact_upload_failed", "fingerprint", rec.Fingerprint, "error", err)
		return
	}
	if err := s.Repo.SetArtifactURL(ctx, rec.Fingerprint, url); err != nil {
		s.log().Warn("certify.artifact_url_save_failed", "fingerprint", rec.Fingerprint, "error", err)
		return
	}
	rec.ArtifactURL = url
}

// Verify recomputes the result's fingerprint and compares it against the
// fingerprint anchored at txID. Read-only: never mutates the ledger or the
// store. The error return is non-nil only for the inconclusive
// network-failure outcome.
func (s *Service) Verify(ctx context.Context, result domain.Result, txID domain.TxID) (domain.VerificationOutcome, error) {
	fp := result.ComputeFingerprint()

	anchored, err := s.Chain.FingerprintAt(ctx, txID)
	if errors.Is(err, domain.ErrTxNotFound) {
		return domain.OutcomeNotFound, nil
	}
	if err != nil {
		return domain.OutcomeNetworkFailure, err
	}
	if anchored == fp {
		return domain.OutcomeMatch, nil
	}
	return domain.OutcomeMismatch, nil
}

// Get returns the record for a fingerprint or run id.
func (s *Service) Get(ctx context.Context, fp domain.Fingerprint) (*domain.CertificateRecord, error) {
	return s.Repo.FindByFingerprint(ctx, fp)
}

func (s *Service) GetByRun(ctx context.Context, runID string) (*domain.CertificateRecord, error) {
	return s.Repo.FindByRunID(ctx, runID)
}

// NewCertificateID generates a human-facing certificate id, e.g.
// MED-CERT-3F2A9C01.
func NewCertificateID() string {
	return "MED-CERT-" + strings.ToUpper(uuid.New().String()[:8])
}
