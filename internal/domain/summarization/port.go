package summarization

import (
	"context"

	"github.com/bryanwahyu/certimed/internal/domain/reports"
)

// Summarizer port: extracted text -> structured summary. The adapter must
// validate the response shape before returning; an unvalidated response
// never enters the pipeline's data model.
type Summarizer interface {
	Summarize(ctx context.Context, text reports.ExtractedText) (reports.Summary, error)
}
