package certificates

import "time"

// Fingerprint is the hex-encoded SHA3-256 digest of a canonical result.
type Fingerprint string

// TxID identifies the ledger transaction that anchored a fingerprint.
type TxID string

// CertificateRecord maps a fingerprint to its on-chain anchor. Created
// exactly once per anchored fingerprint; immutable apart from ArtifactURL,
// which is filled in after the printable document is uploaded.
type CertificateRecord struct {
	Fingerprint   Fingerprint `json:"fingerprint"`
	TxID          TxID        `json:"tx_id"`
	RunID         string      `json:"run_id"`
	CertificateID string      `json:"certificate_id"`
	AnchoredAt    time.Time   `json:"anchored_at"`
	ArtifactURL   string      `json:"artifact_url,omitempty"`
}
