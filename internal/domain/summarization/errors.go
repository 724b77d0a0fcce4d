package summarization

import "fmt"

// Reason classifies why summarization failed.
type Reason string

const (
	ReasonTimeout            Reason = "timeout"
	ReasonServiceUnavailable Reason = "service_unavailable"
	ReasonMalformedResponse  Reason = "malformed_response"
	ReasonRateLimited        Reason = "rate_limited"
)

// Retryable reports whether the adapter may retry this reason.
// MalformedResponse is a service-contract violation and is never retried.
func (r Reason) Retryable() bool {
	switch r {
	case ReasonTimeout, ReasonServiceUnavailable, ReasonRateLimited:
		return true
	}
	return false
}

// Error is the summarization adapter's failure type.
type Error struct {
	Reason Reason
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("summarization failed (%s): %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("summarization failed (%s)", e.Reason)
}

func (e *Error) Unwrap() error { return e.Err }

func NewError(reason Reason, err error) *Error {
	return &Error{Reason: reason, Err: err}
}
