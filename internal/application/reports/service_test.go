package reports

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	certdomain "github.com/bryanwahyu/certimed/internal/domain/certificates"
	"github.com/bryanwahyu/certimed/internal/domain/extraction"
	domain "github.com/bryanwahyu/certimed/internal/domain/reports"
	"github.com/bryanwahyu/certimed/internal/domain/summarization"
)

type fakeClock struct{ t time.Time }

func (c fakeClock) Now() time.Time { return c.t }

type memRuns struct {
	mu     sync.Mutex
	runs   map[domain.RunID]*domain.PipelineRun
	states []domain.State // every state persisted, in order
}

func newMemRuns() *memRuns {
	return &memRuns{runs: map[domain.RunID]*domain.PipelineRun{}}
}

func (r *memRuns) Save(_ context.Context, run *domain.PipelineRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *run
	r.runs[run.ID] = &cp
	r.states = append(r.states, run.State)
	return nil
}

func (r *memRuns) Get(_ context.Context, id domain.RunID) (*domain.PipelineRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if run, ok := r.runs[id]; ok {
		return run, nil
	}
	return nil, errors.New("run not found")
}

func (r *memRuns) Latest(_ context.Context, limit int) ([]*domain.PipelineRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.PipelineRun
	for _, run := range r.runs {
		out = append(out, run)
	}
	return out, nil
}

type stubExtractor struct {
	results []func() (domain.ExtractedText, error)
	calls   int
}

func (s *stubExtractor) Extract(_ context.Context, _ domain.Document) (domain.ExtractedText, error) {
	i := s.calls
	s.calls++
	if i >= len(s.results) {
		i = len(s.results) - 1
	}
	return s.results[i]()
}

func okExtract() (domain.ExtractedText, error) {
	return domain.ExtractedText{
		Text:   "Patient: Jane Doe. Hemoglobin 10.2 g/dL, below normal range.",
		Pages:  1,
		Method: "image-ocr",
	}, nil
}

type stubSummarizer struct {
	summary domain.Summary
	err     error
}

func (s *stubSummarizer) Summarize(_ context.Context, _ domain.ExtractedText) (domain.Summary, error) {
	if s.err != nil {
		return domain.Summary{}, s.err
	}
	return s.summary, nil
}

type stubCertifier struct {
	rec *certdomain.CertificateRecord
	err error
}

func (s *stubCertifier) Certify(_ context.Context, _ certdomain.Result, runID string) (*certdomain.CertificateRecord, error) {
	if s.err != nil {
		return nil, s.err
	}
	rec := *s.rec
	rec.RunID = runID
	return &rec, nil
}

func testSummary() domain.Summary {
	return domain.Summary{
		Synopsis: "Blood test shows mild anemia; hemoglobin is slightly low.",
		Terms: []domain.TermExplanation{
			{Term: "Hemoglobin", Explanation: "The protein in red blood cells that carries oxygen."},
		},
	}
}

func newPipeline(runs *memRuns, ex *stubExtractor, su *stubSummarizer, ce *stubCertifier) *Service {
	return &Service{
		Runs:       runs,
		Extractor:  ex,
		Summarizer: su,
		Certifier:  ce,
		Clock:      fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)},
		Backoff:    time.Millisecond,
	}
}

func submit(t *testing.T, svc *Service) (*domain.PipelineRun, domain.Document) {
	t.Helper()
	doc := domain.Document{Bytes: []byte("fake-image"), MediaType: domain.MediaTypePNG, Filename: "report.png"}
	run, err := svc.Submit(context.Background(), doc)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if run.State != domain.StateReceived {
		t.Fatalf("state after submit = %q, want received", run.State)
	}
	return run, doc
}

func TestProcessHappyPath(t *testing.T) {
	runs := newMemRuns()
	svc := newPipeline(runs,
		&stubExtractor{results: []func() (domain.ExtractedText, error){okExtract}},
		&stubSummarizer{summary: testSummary()},
		&stubCertifier{rec: &certdomain.CertificateRecord{
			Fingerprint:   "ab12",
			TxID:          "tx-1",
			CertificateID: "MED-CERT-TEST0001",
		}},
	)

	run, doc := submit(t, svc)
	got := svc.Process(context.Background(), run, doc)

	if got.State != domain.StateCompleted {
		t.Fatalf("state = %q, want completed", got.State)
	}
	if got.Extracted == nil || got.Summary == nil || got.Certificate == nil {
		t.Fatalf("completed run missing artifacts: %+v", got)
	}
	if got.Certificate.RunID != string(run.ID) {
		t.Fatalf("certificate run_id = %q, want %q", got.Certificate.RunID, run.ID)
	}
	if got.FinishedAt.IsZero() {
		t.Fatal("completed run must carry finished_at")
	}

	want := []domain.State{
		domain.StateReceived,
		domain.StateExtracting,
		domain.StateSummarizing,
		domain.StateCertifying,
		domain.StateCompleted,
	}
	if len(runs.states) != len(want) {
		t.Fatalf("persisted states = %v, want %v", runs.states, want)
	}
	for i := range want {
		if runs.states[i] != want[i] {
			t.Fatalf("persisted states = %v, want %v", runs.states, want)
		}
	}
}

func TestProcessExtractionFailure(t *testing.T) {
	runs := newMemRuns()
	svc := newPipeline(runs,
		&stubExtractor{results: []func() (domain.ExtractedText, error){
			func() (domain.ExtractedText, error) {
				return domain.ExtractedText{}, extraction.NewError(extraction.ReasonEmptyResult, errors.New("no legible text"))
			},
		}},
		&stubSummarizer{summary: testSummary()},
		&stubCertifier{},
	)

	run, doc := submit(t, svc)
	got := svc.Process(context.Background(), run, doc)

	if got.State != domain.StateFailed {
		t.Fatalf("state = %q, want failed", got.State)
	}
	if got.FailureStage != "extracting" {
		t.Fatalf("failure_stage = %q, want extracting", got.FailureStage)
	}
	if got.FailureReason != "extraction_empty_result" {
		t.Fatalf("failure_reason = %q", got.FailureReason)
	}
	if got.Extracted != nil || got.Summary != nil {
		t.Fatal("failed extraction must not leave artifacts")
	}
}

func TestProcessRetriesEngineTimeoutOnly(t *testing.T) {
	timeoutErr := func() (domain.ExtractedText, error) {
		return domain.ExtractedText{}, extraction.NewError(extraction.ReasonEngineTimeout, context.DeadlineExceeded)
	}

	t.Run("timeout then success", func(t *testing.T) {
		runs := newMemRuns()
		ex := &stubExtractor{results: []func() (domain.ExtractedText, error){timeoutErr, okExtract}}
		svc := newPipeline(runs, ex, &stubSummarizer{summary: testSummary()},
			&stubCertifier{rec: &certdomain.CertificateRecord{TxID: "tx-1"}})
		svc.ExtractRetries = 1

		run, doc := submit(t, svc)
		got := svc.Process(context.Background(), run, doc)
		if got.State != domain.StateCompleted {
			t.Fatalf("state = %q, want completed after retry", got.State)
		}
		if ex.calls != 2 {
			t.Fatalf("extract calls = %d, want 2", ex.calls)
		}
	})

	t.Run("engine failure is not retried", func(t *testing.T) {
		runs := newMemRuns()
		ex := &stubExtractor{results: []func() (domain.ExtractedText, error){
			func() (domain.ExtractedText, error) {
				return domain.ExtractedText{}, extraction.NewError(extraction.ReasonEngineFailure, errors.New("exit 1"))
			},
			okExtract,
		}}
		svc := newPipeline(runs, ex, &stubSummarizer{summary: testSummary()}, &stubCertifier{})
		svc.ExtractRetries = 2

		run, doc := submit(t, svc)
		got := svc.Process(context.Background(), run, doc)
		if got.State != domain.StateFailed {
			t.Fatalf("state = %q, want failed", got.State)
		}
		if ex.calls != 1 {
			t.Fatalf("extract calls = %d, want 1 (no retry)", ex.calls)
		}
	})

	t.Run("retries exhausted", func(t *testing.T) {
		runs := newMemRuns()
		ex := &stubExtractor{results: []func() (domain.ExtractedText, error){timeoutErr, timeoutErr}}
		svc := newPipeline(runs, ex, &stubSummarizer{summary: testSummary()}, &stubCertifier{})
		svc.ExtractRetries = 1

		run, doc := submit(t, svc)
		got := svc.Process(context.Background(), run, doc)
		if got.State != domain.StateFailed {
			t.Fatalf("state = %q, want failed", got.State)
		}
		if got.FailureReason != "extraction_engine_timeout" {
			t.Fatalf("failure_reason = %q", got.FailureReason)
		}
	})
}

func TestProcessSummarizationFailureDegrades(t *testing.T) {
	runs := newMemRuns()
	svc := newPipeline(runs,
		&stubExtractor{results: []func() (domain.ExtractedText, error){okExtract}},
		&stubSummarizer{err: summarization.NewError(summarization.ReasonServiceUnavailable, errors.New("503"))},
		&stubCertifier{},
	)

	run, doc := submit(t, svc)
	got := svc.Process(context.Background(), run, doc)

	if got.State != domain.StateDegraded {
		t.Fatalf("state = %q, want degraded", got.State)
	}
	if got.Extracted == nil {
		t.Fatal("degraded run must keep the extracted text")
	}
	if got.Summary != nil || got.Certificate != nil {
		t.Fatal("degraded summarization must not certify")
	}
	if got.FailureStage != "summarizing" || got.FailureReason != "summarization_service_unavailable" {
		t.Fatalf("failure = %q/%q", got.FailureStage, got.FailureReason)
	}
}

func TestProcessAnchoringFailureDegrades(t *testing.T) {
	runs := newMemRuns()
	svc := newPipeline(runs,
		&stubExtractor{results: []func() (domain.ExtractedText, error){okExtract}},
		&stubSummarizer{summary: testSummary()},
		&stubCertifier{err: certdomain.NewAnchoringError(certdomain.AnchoringTimeout, errors.New("gateway timeout"))},
	)

	run, doc := submit(t, svc)
	got := svc.Process(context.Background(), run, doc)

	if got.State != domain.StateDegraded {
		t.Fatalf("state = %q, want degraded", got.State)
	}
	// Partial output survives: text and summary stay, only the certificate
	// is missing.
	if got.Extracted == nil || got.Summary == nil {
		t.Fatal("degraded anchoring must keep text and summary")
	}
	if got.Certificate != nil {
		t.Fatal("degraded anchoring must not attach a certificate")
	}
	if got.FailureStage != "certifying" || got.FailureReason != "anchoring_timeout" {
		t.Fatalf("failure = %q/%q", got.FailureStage, got.FailureReason)
	}
}

func TestTerminalStatesAreFinal(t *testing.T) {
	for _, s := range []domain.State{domain.StateCompleted, domain.StateDegraded, domain.StateFailed} {
		if !s.Terminal() {
			t.Errorf("%q must be terminal", s)
		}
	}
	for _, s := range []domain.State{domain.StateReceived, domain.StateExtracting, domain.StateSummarizing, domain.StateCertifying} {
		if s.Terminal() {
			t.Errorf("%q must not be terminal", s)
		}
	}
}
