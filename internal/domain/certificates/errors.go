package certificates

import (
	"errors"
	"fmt"
)

// ErrNotFound indicates no certificate record exists for the given key.
var ErrNotFound = errors.New("certificate record not found")

// ErrTxNotFound indicates the transaction id is unknown to the chain.
var ErrTxNotFound = errors.New("transaction not found on chain")

// ErrFingerprintNotAnchored indicates the chain holds no anchor for the
// fingerprint.
var ErrFingerprintNotAnchored = errors.New("fingerprint not anchored")

// AnchoringReason classifies why anchoring failed.
type AnchoringReason string

const (
	AnchoringNetworkFailure AnchoringReason = "network_failure"
	AnchoringRejected       AnchoringReason = "rejected"
	AnchoringTimeout        AnchoringReason = "timeout"
)

// AnchoringError is the chain client's failure type.
type AnchoringError struct {
	Reason AnchoringReason
	Err    error
}

func (e *AnchoringError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("anchoring failed (%s): %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("anchoring failed (%s)", e.Reason)
}

func (e *AnchoringError) Unwrap() error { return e.Err }

func NewAnchoringError(reason AnchoringReason, err error) *AnchoringError {
	return &AnchoringError{Reason: reason, Err: err}
}
