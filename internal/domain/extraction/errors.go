package extraction

import "fmt"

// Reason classifies why text extraction failed.
type Reason string

const (
	ReasonUnsupportedFormat Reason = "unsupported_format"
	ReasonEngineTimeout     Reason = "engine_timeout"
	ReasonEngineFailure     Reason = "engine_failure"
	ReasonEmptyResult       Reason = "empty_result"
)

// Error is the extraction adapter's failure type. EmptyResult is a distinct,
// non-fatal-to-caller outcome the orchestrator branches on.
type Error struct {
	Reason Reason
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("extraction failed (%s): %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("extraction failed (%s)", e.Reason)
}

func (e *Error) Unwrap() error { return e.Err }

func NewError(reason Reason, err error) *Error {
	return &Error{Reason: reason, Err: err}
}
