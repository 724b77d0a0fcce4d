package extraction

import (
	"context"

	"github.com/bryanwahyu/certimed/internal/domain/reports"
)

// Extractor port: document bytes -> plain text. Implementations are
// stateless; retry policy lives in the orchestrator, not here.
type Extractor interface {
	Extract(ctx context.Context, doc reports.Document) (reports.ExtractedText, error)
}
