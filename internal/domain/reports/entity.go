package reports

import (
	"fmt"
	"strings"
	"time"

	"github.com/bryanwahyu/certimed/internal/domain/certificates"
)

// RunID tipe untuk PipelineRun
type RunID string

// MediaType enum: declared type of the uploaded document
type MediaType string

const (
	MediaTypePDF  MediaType = "application/pdf"
	MediaTypePNG  MediaType = "image/png"
	MediaTypeJPEG MediaType = "image/jpeg"
)

// ParseMediaType normalizes a declared media type to a supported one.
func ParseMediaType(s string) (MediaType, error) {
	switch MediaType(strings.ToLower(strings.TrimSpace(s))) {
	case MediaTypePDF:
		return MediaTypePDF, nil
	case MediaTypePNG:
		return MediaTypePNG, nil
	case MediaTypeJPEG, MediaType("image/jpg"):
		return MediaTypeJPEG, nil
	}
	return "", fmt.Errorf("unsupported media type: %q", s)
}

// Document is the raw upload. Immutable once received; the raw bytes are
// discarded after the pipeline run finishes.
type Document struct {
	Bytes     []byte
	MediaType MediaType
	Filename  string
}

// ExtractedText is the OCR/text-extraction output for a single run.
type ExtractedText struct {
	Text      string    `json:"text"`
	MediaType MediaType `json:"media_type"`
	Pages     int       `json:"pages"`
	Method    string    `json:"method"` // "pdf-text" | "pdf-ocr" | "image-ocr"
}

// TermExplanation pairs a medical term with its plain-language explanation.
type TermExplanation struct {
	Term        string `json:"term"`
	Explanation string `json:"explanation"`
}

// Summary is the structured summarization result. Term order is kept as
// returned by the service for presentation; it does not affect the
// fingerprint (the canonical form sorts terms).
type Summary struct {
	Synopsis string            `json:"synopsis"`
	Terms    []TermExplanation `json:"terms"`
}

// State enum for a pipeline run
type State string

const (
	StateReceived    State = "received"
	StateExtracting  State = "extracting"
	StateSummarizing State = "summarizing"
	StateCertifying  State = "certifying"
	StateCompleted   State = "completed"
	StateDegraded    State = "degraded"
	StateFailed      State = "failed"
)

// Terminal reports whether a run in this state is finished.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateDegraded || s == StateFailed
}

// Aggregate root: PipelineRun. Owned exclusively by the orchestrator for
// its lifetime; persisted at every transition so callers can poll.
type PipelineRun struct {
	ID         RunID     `json:"id"`
	State      State     `json:"state"`
	MediaType  MediaType `json:"media_type"`
	Filename   string    `json:"filename,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitzero"`

	Extracted *ExtractedText `json:"extracted,omitempty"`
	Summary   *Summary       `json:"summary,omitempty"`

	Certificate *certificates.CertificateRecord `json:"certificate,omitempty"`

	// FailureStage names the stage that ended the run early
	// ("extracting" | "summarizing" | "certifying"); FailureReason carries
	// the adapter-level reason surfaced to the caller.
	FailureStage  string `json:"failure_stage,omitempty"`
	FailureReason string `json:"failure_reason,omitempty"`
}

// CanonicalResult builds the fingerprint input for this run's artifacts.
func (r *PipelineRun) CanonicalResult() certificates.Result {
	res := certificates.Result{}
	if r.Extracted != nil {
		res.Text = r.Extracted.Text
	}
	if r.Summary != nil {
		res.Synopsis = r.Summary.Synopsis
		for _, t := range r.Summary.Terms {
			res.Terms = append(res.Terms, certificates.Term{Term: t.Term, Explanation: t.Explanation})
		}
	}
	return res
}
