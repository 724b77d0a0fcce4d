package certificates

import "context"

// Repository port for the certificate store, the only durable state the
// core requires. Keyed uniquely by fingerprint; also queryable by
// transaction id and by run id.
type Repository interface {
	// Insert persists the record atomically. If a record with the same
	// fingerprint already exists, the existing record is returned and
	// inserted is false; callers must treat that record as authoritative.
	Insert(ctx context.Context, rec *CertificateRecord) (stored *CertificateRecord, inserted bool, err error)

	FindByFingerprint(ctx context.Context, fp Fingerprint) (*CertificateRecord, error)
	FindByTxID(ctx context.Context, tx TxID) (*CertificateRecord, error)
	FindByRunID(ctx context.Context, runID string) (*CertificateRecord, error)

	SetArtifactURL(ctx context.Context, fp Fingerprint, url string) error
}

// ChainClient port for the blockchain network. The chain is treated purely
// as an append-only fingerprint ledger.
type ChainClient interface {
	// Anchor submits a fingerprint and returns the transaction id.
	// Fails with *AnchoringError.
	Anchor(ctx context.Context, fp Fingerprint) (TxID, error)

	// FingerprintAt returns the fingerprint anchored at the transaction.
	// Fails with ErrTxNotFound or *AnchoringError (network failures are
	// inconclusive, never a mismatch).
	FingerprintAt(ctx context.Context, tx TxID) (Fingerprint, error)

	// TxForFingerprint looks up an existing anchor for the fingerprint.
	// Used to avoid duplicate anchors after a crash between submission and
	// local persistence. Fails with ErrFingerprintNotAnchored or
	// *AnchoringError.
	TxForFingerprint(ctx context.Context, fp Fingerprint) (TxID, error)
}

// ArtifactStore port for the printable certificate document.
type ArtifactStore interface {
	UploadBytes(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// VerificationOutcome is the verification service's four-state result.
type VerificationOutcome string

const (
	OutcomeMatch          VerificationOutcome = "match"
	OutcomeMismatch       VerificationOutcome = "mismatch"
	OutcomeNotFound       VerificationOutcome = "not_found"
	OutcomeNetworkFailure VerificationOutcome = "network_failure"
)
