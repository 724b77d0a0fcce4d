package certificates

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	domain "github.com/bryanwahyu/certimed/internal/domain/certificates"
)

type fakeClock struct{ t time.Time }

func (c fakeClock) Now() time.Time { return c.t }

type memRepo struct {
	mu   sync.Mutex
	byFP map[domain.Fingerprint]*domain.CertificateRecord
}

func newMemRepo() *memRepo {
	return &memRepo{byFP: map[domain.Fingerprint]*domain.CertificateRecord{}}
}

func (r *memRepo) Insert(_ context.Context, rec *domain.CertificateRecord) (*domain.CertificateRecord, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.byFP[rec.Fingerprint]; ok {
		return existing, false, nil
	}
	cp := *rec
	r.byFP[rec.Fingerprint] = &cp
	return &cp, true, nil
}

func (r *memRepo) FindByFingerprint(_ context.Context, fp domain.Fingerprint) (*domain.CertificateRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.byFP[fp]; ok {
		return rec, nil
	}
	return nil, domain.ErrNotFound
}

func (r *memRepo) FindByTxID(_ context.Context, tx domain.TxID) (*domain.CertificateRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.byFP {
		if rec.TxID == tx {
			return rec, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *memRepo) FindByRunID(_ context.Context, runID string) (*domain.CertificateRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.byFP {
		if rec.RunID == runID {
			return rec, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *memRepo) SetArtifactURL(_ context.Context, fp domain.Fingerprint, url string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.byFP[fp]; ok {
		rec.ArtifactURL = url
	}
	return nil
}

type fakeChain struct {
	mu       sync.Mutex
	anchors  map[domain.Fingerprint]domain.TxID
	calls    int
	anchorFn func(domain.Fingerprint) (domain.TxID, error)
	lookupFn func(domain.TxID) (domain.Fingerprint, error)
}

func newFakeChain() *fakeChain {
	return &fakeChain{anchors: map[domain.Fingerprint]domain.TxID{}}
}

func (c *fakeChain) Anchor(_ context.Context, fp domain.Fingerprint) (domain.TxID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.anchorFn != nil {
		return c.anchorFn(fp)
	}
	tx := domain.TxID("tx-" + string(fp[:8]))
	c.anchors[fp] = tx
	return tx, nil
}

func (c *fakeChain) FingerprintAt(_ context.Context, tx domain.TxID) (domain.Fingerprint, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lookupFn != nil {
		return c.lookupFn(tx)
	}
	for fp, got := range c.anchors {
		if got == tx {
			return fp, nil
		}
	}
	return "", domain.ErrTxNotFound
}

func (c *fakeChain) TxForFingerprint(_ context.Context, fp domain.Fingerprint) (domain.TxID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if tx, ok := c.anchors[fp]; ok {
		return tx, nil
	}
	return "", domain.ErrFingerprintNotAnchored
}

func newService(repo *memRepo, chain *fakeChain) *Service {
	return &Service{
		Repo:  repo,
		Chain: chain,
		Clock: fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)},
	}
}

func testResult() domain.Result {
	return domain.Result{
		Text:     "Hemoglobin: 10.2 g/dL",
		Synopsis: "Mild anemia.",
		Terms:    []domain.Term{{Term: "Anemia", Explanation: "Low red blood cells."}},
	}
}

func TestCertifyAnchorsOnce(t *testing.T) {
	repo := newMemRepo()
	chain := newFakeChain()
	svc := newService(repo, chain)

	rec1, err := svc.Certify(context.Background(), testResult(), "run-1")
	if err != nil {
		t.Fatalf("first certify: %v", err)
	}
	rec2, err := svc.Certify(context.Background(), testResult(), "run-2")
	if err != nil {
		t.Fatalf("second certify: %v", err)
	}

	if chain.calls != 1 {
		t.Fatalf("anchor calls = %d, want 1", chain.calls)
	}
	if rec1.TxID != rec2.TxID || rec1.Fingerprint != rec2.Fingerprint {
		t.Fatalf("repeat certify returned different record: %+v vs %+v", rec1, rec2)
	}
	// The first run owns the record; the second must not overwrite it.
	if rec2.RunID != "run-1" {
		t.Fatalf("repeat certify run_id = %q, want run-1", rec2.RunID)
	}
}

func TestCertifyRecoversExistingAnchor(t *testing.T) {
	repo := newMemRepo()
	chain := newFakeChain()
	// Simulate a crash after submission but before persistence: the chain
	// holds the anchor, the store does not.
	fp := testResult().ComputeFingerprint()
	chain.anchors[fp] = "tx-prior"

	svc := newService(repo, chain)
	rec, err := svc.Certify(context.Background(), testResult(), "run-1")
	if err != nil {
		t.Fatalf("certify: %v", err)
	}
	if chain.calls != 0 {
		t.Fatalf("anchor calls = %d, want 0 (recovered)", chain.calls)
	}
	if rec.TxID != "tx-prior" {
		t.Fatalf("tx_id = %q, want tx-prior", rec.TxID)
	}
	if _, err := repo.FindByFingerprint(context.Background(), fp); err != nil {
		t.Fatalf("recovered anchor not persisted: %v", err)
	}
}

func TestCertifyPropagatesAnchoringError(t *testing.T) {
	repo := newMemRepo()
	chain := newFakeChain()
	chain.anchorFn = func(domain.Fingerprint) (domain.TxID, error) {
		return "", domain.NewAnchoringError(domain.AnchoringNetworkFailure, errors.New("connection refused"))
	}

	svc := newService(repo, chain)
	_, err := svc.Certify(context.Background(), testResult(), "run-1")

	var anErr *domain.AnchoringError
	if !errors.As(err, &anErr) {
		t.Fatalf("error = %v, want *AnchoringError", err)
	}
	if anErr.Reason != domain.AnchoringNetworkFailure {
		t.Fatalf("reason = %q, want network_failure", anErr.Reason)
	}
	if len(repo.byFP) != 0 {
		t.Fatal("failed anchoring must not persist a record")
	}
}

// racingRepo makes the initial lookup miss so Certify reaches Insert, then
// lets the underlying repo arbitrate — simulating a concurrent run that
// persisted the same fingerprint between lookup and insert.
type racingRepo struct {
	*memRepo
	missed bool
}

func (r *racingRepo) FindByFingerprint(ctx context.Context, fp domain.Fingerprint) (*domain.CertificateRecord, error) {
	if !r.missed {
		r.missed = true
		return nil, domain.ErrNotFound
	}
	return r.memRepo.FindByFingerprint(ctx, fp)
}

func TestCertifyLostInsertRace(t *testing.T) {
	inner := newMemRepo()
	chain := newFakeChain()

	fp := testResult().ComputeFingerprint()
	winner := &domain.CertificateRecord{
		Fingerprint:   fp,
		TxID:          "tx-winner",
		RunID:         "run-other",
		CertificateID: "MED-CERT-AAAA0000",
		AnchoredAt:    time.Now(),
	}
	chain.anchors[fp] = "tx-winner"
	if _, _, err := inner.Insert(context.Background(), winner); err != nil {
		t.Fatal(err)
	}

	svc := newService(inner, chain)
	svc.Repo = &racingRepo{memRepo: inner}

	rec, err := svc.Certify(context.Background(), testResult(), "run-mine")
	if err != nil {
		t.Fatalf("certify: %v", err)
	}
	// The loser must adopt the winner's record wholesale.
	if rec.TxID != "tx-winner" || rec.RunID != "run-other" {
		t.Fatalf("got %+v, want winner's record", rec)
	}
}

func TestVerifyOutcomes(t *testing.T) {
	repo := newMemRepo()
	chain := newFakeChain()
	svc := newService(repo, chain)

	rec, err := svc.Certify(context.Background(), testResult(), "run-1")
	if err != nil {
		t.Fatal(err)
	}

	t.Run("match", func(t *testing.T) {
		out, err := svc.Verify(context.Background(), testResult(), rec.TxID)
		if err != nil || out != domain.OutcomeMatch {
			t.Fatalf("outcome = %q err = %v, want match/nil", out, err)
		}
	})

	t.Run("mismatch on tampered content", func(t *testing.T) {
		tampered := testResult()
		tampered.Synopsis = "Severe anemia."
		out, err := svc.Verify(context.Background(), tampered, rec.TxID)
		if err != nil || out != domain.OutcomeMismatch {
			t.Fatalf("outcome = %q err = %v, want mismatch/nil", out, err)
		}
	})

	t.Run("not found", func(t *testing.T) {
		out, err := svc.Verify(context.Background(), testResult(), "tx-unknown")
		if err != nil || out != domain.OutcomeNotFound {
			t.Fatalf("outcome = %q err = %v, want not_found/nil", out, err)
		}
	})

	t.Run("network failure is inconclusive", func(t *testing.T) {
		chain.lookupFn = func(domain.TxID) (domain.Fingerprint, error) {
			return "", domain.NewAnchoringError(domain.AnchoringNetworkFailure, errors.New("timeout"))
		}
		defer func() { chain.lookupFn = nil }()

		out, err := svc.Verify(context.Background(), testResult(), rec.TxID)
		if out != domain.OutcomeNetworkFailure {
			t.Fatalf("outcome = %q, want network_failure", out)
		}
		if err == nil {
			t.Fatal("network failure must surface a non-nil error")
		}
	})
}

func TestNewCertificateIDFormat(t *testing.T) {
	id := NewCertificateID()
	if len(id) != len("MED-CERT-")+8 {
		t.Fatalf("certificate id %q has wrong length", id)
	}
	if id[:9] != "MED-CERT-" {
		t.Fatalf("certificate id %q missing prefix", id)
	}
	if NewCertificateID() == id {
		t.Fatal("certificate ids must be unique")
	}
}
