package reports

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/bryanwahyu/certimed/internal/application"
	certdomain "github.com/bryanwahyu/certimed/internal/domain/certificates"
	"github.com/bryanwahyu/certimed/internal/domain/extraction"
	domain "github.com/bryanwahyu/certimed/internal/domain/reports"
	"github.com/bryanwahyu/certimed/internal/domain/summarization"
)

// Certifier is the slice of the certification service the pipeline needs.
type Certifier interface {
	Certify(ctx context.Context, result certdomain.Result, runID string) (*certdomain.CertificateRecord, error)
}

// Service is the pipeline orchestrator. It exclusively owns a PipelineRun
// for its lifetime; the adapters it calls are stateless transformations
// over data it passes in. Safe for concurrent use across independent runs.
type Service struct {
	Runs         domain.Repository
	Certificates certdomain.Repository
	Extractor    extraction.Extractor
	Summarizer   summarization.Summarizer
	Certifier    Certifier
	Clock        application.Clock
	Logger       *slog.Logger

	// ExtractRetries bounds extra extraction attempts after an engine
	// timeout. Retry policy for extraction lives here, not in the adapter.
	ExtractRetries int
	// Backoff between extraction retries; overridable in tests.
	Backoff time.Duration
}

func (s *Service) log() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

// Submit registers a new run in state Received and returns its id. The
// caller is expected to drive the pipeline afterwards, normally via
// ProcessUntilDone from a background goroutine.
func (s *Service) Submit(ctx context.Context, doc domain.Document) (*domain.PipelineRun, error) {
	run := &domain.PipelineRun{
		ID:        domain.RunID(uuid.New().String()),
		State:     domain.StateReceived,
		MediaType: doc.MediaType,
		Filename:  doc.Filename,
		StartedAt: s.Clock.Now(),
	}
	if err := s.Runs.Save(ctx, run); err != nil {
		return nil, err
	}
	return run, nil
}

// ProcessUntilDone runs the pipeline detached from any request context so a
// client disconnect cannot abandon a run that already reached certification.
func (s *Service) ProcessUntilDone(run *domain.PipelineRun, doc domain.Document) *domain.PipelineRun {
	return s.Process(context.Background(), run, doc)
}

// Process drives a run through Extracting → Summarizing → Certifying and
// leaves it in exactly one terminal state. No transition revisits an
// earlier state. The run row is persisted at every transition so callers
// can poll progress.
func (s *Service) Process(ctx context.Context, run *domain.PipelineRun, doc domain.Document) *domain.PipelineRun {
	s.advance(ctx, run, domain.StateExtracting)
	text, err := s.extractWithRetry(ctx, doc)
	if err != nil {
		s.finish(ctx, run, domain.StateFailed, "extracting", err)
		return run
	}
	run.Extracted = &text
	s.log().Info("pipeline.extract.ok", "run_id", run.ID, "method", text.Method, "pages", text.Pages, "chars", len(text.Text))

	s.advance(ctx, run, domain.StateSummarizing)
	summary, err := s.Summarizer.Summarize(ctx, text)
	if err != nil {
		// Extracted text is still useful to the caller: degrade, don't fail.
		s.finish(ctx, run, domain.StateDegraded, "summarizing", err)
		return run
	}
	run.Summary = &summary
	s.log().Info("pipeline.summarize.ok", "run_id", run.ID, "terms", len(summary.Terms))

	s.advance(ctx, run, domain.StateCertifying)
	// Anchoring is externally irreversible once submitted; detach from
	// caller cancellation for the remainder of the run.
	certCtx := context.WithoutCancel(ctx)
	rec, err := s.Certifier.Certify(certCtx, run.CanonicalResult(), string(run.ID))
	if err != nil {
		s.finish(certCtx, run, domain.StateDegraded, "certifying", err)
		return run
	}
	run.Certificate = rec
	s.log().Info("pipeline.certify.ok", "run_id", run.ID, "fingerprint", rec.Fingerprint, "tx_id", rec.TxID)

	s.finish(certCtx, run, domain.StateCompleted, "", nil)
	return run
}

func (s *Service) extractWithRetry(ctx context.Context, doc domain.Document) (domain.ExtractedText, error) {
	attempts := 1 + s.ExtractRetries
	var lastErr error
	for i := 0; i < attempts; i++ {
		text, err := s.Extractor.Extract(ctx, doc)
		if err == nil {
			return text, nil
		}
		lastErr = err

		var exErr *extraction.Error
		if !errors.As(err, &exErr) || exErr.Reason != extraction.ReasonEngineTimeout {
			// Structural failures (unsupported format, empty result, hard
			// engine failure) surface immediately.
			return domain.ExtractedText{}, err
		}
		if i+1 < attempts {
			s.log().Warn("pipeline.extract.retry", "attempt", i+1, "error", err)
			s.sleep(ctx)
		}
	}
	return domain.ExtractedText{}, lastErr
}

func (s *Service) sleep(ctx context.Context) {
	d := s.Backoff
	if d <= 0 {
		d = 2 * time.Second
	}
	select {
	case <-time.After(d):
	case <-ctx.Done():
	}
}

func (s *Service) advance(ctx context.Context, run *domain.PipelineRun, next domain.State) {
	run.State = next
	if err := s.Runs.Save(ctx, run); err != nil {
		s.log().Warn("pipeline.save_failed", "run_id", run.ID, "state", next, "error", err)
	}
}

func (s *Service) finish(ctx context.Context, run *domain.PipelineRun, terminal domain.State, stage string, cause error) {
	run.State = terminal
	run.FinishedAt = s.Clock.Now()
	if cause != nil {
		run.FailureStage = stage
		run.FailureReason = failureReason(cause)
		s.log().Error("pipeline.finished", "run_id", run.ID, "state", terminal, "stage", stage, "reason", run.FailureReason)
	} else {
		s.log().Info("pipeline.finished", "run_id", run.ID, "state", terminal)
	}
	if err := s.Runs.Save(ctx, run); err != nil {
		s.log().Error("pipeline.save_failed", "run_id", run.ID, "state", terminal, "error", err)
	}
}

// failureReason surfaces the adapter-level reason tag to the caller.
func failureReason(err error) string {
	var exErr *extraction.Error
	if errors.As(err, &exErr) {
		return "extraction_" + string(exErr.Reason)
	}
	var suErr *summarization.Error
	if errors.As(err, &suErr) {
		return "summarization_" + string(suErr.Reason)
	}
	var anErr *certdomain.AnchoringError
	if errors.As(err, &anErr) {
		return "anchoring_" + string(anErr.Reason)
	}
	return err.Error()
}

// Get returns a run with its certificate attached when one exists.
func (s *Service) Get(ctx context.Context, id domain.RunID) (*domain.PipelineRun, error) {
	run, err := s.Runs.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if run.Certificate == nil && s.Certificates != nil {
		if rec, err := s.Certificates.FindByRunID(ctx, string(id)); err == nil {
			run.Certificate = rec
		}
	}
	return run, nil
}

// Latest returns the most recent runs.
func (s *Service) Latest(ctx context.Context, limit int) ([]*domain.PipelineRun, error) {
	return s.Runs.Latest(ctx, limit)
}
