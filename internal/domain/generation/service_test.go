package generation_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/randari3d/randari3d-api/internal/domain/generation"
	"github.com/randari3d/randari3d-api/internal/domain/ledger"
	"github.com/randari3d/randari3d-api/internal/pkg/provider"
)

type fakeLedger struct {
	mu      sync.Mutex
	balance int
	debits  int
	debited map[uuid.UUID]bool
	refunds map[uuid.UUID]int
}

func newFakeLedger(balance int) *fakeLedger {
	return &fakeLedger{
		balance: balance,
		debited: make(map[uuid.UUID]bool),
		refunds: make(map[uuid.UUID]int),
	}
}

func (l *fakeLedger) Debit(_ context.Context, _ uuid.UUID, amount int, jobID uuid.UUID) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.balance < amount {
		return 0, &ledger.InsufficientCreditsError{Required: amount, Available: l.balance}
	}
	l.balance -= amount
	l.debits++
	l.debited[jobID] = true
	return l.balance, nil
}

// Refund mirrors the real ledger: idempotent per job, and a no-op for jobs
// without a recorded debit.
func (l *fakeLedger) Refund(_ context.Context, _ uuid.UUID, amount int, jobID uuid.UUID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.debited[jobID] {
		return nil
	}
	if _, done := l.refunds[jobID]; done {
		return nil
	}
	l.refunds[jobID] = amount
	l.balance += amount
	return nil
}

func (l *fakeLedger) refundCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.refunds)
}

type fakeStore struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*generation.Job
}

func newFakeStore() *fakeStore {
	return &fakeStore{jobs: make(map[uuid.UUID]*generation.Job)}
}

func (s *fakeStore) Create(_ context.Context, job *generation.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *job
	s.jobs[job.ID] = &copied
	return nil
}

func (s *fakeStore) SetStatus(_ context.Context, id uuid.UUID, status generation.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[id].Status = status
	return nil
}

func (s *fakeStore) MarkDispatched(_ context.Context, id uuid.UUID, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[id].Status = generation.StatusDispatched
	s.jobs[id].VendorTaskID = taskID
	return nil
}

func (s *fakeStore) Complete(_ context.Context, id uuid.UUID, model, video, thumb string, seconds int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job := s.jobs[id]
	job.Status = generation.StatusCompleted
	job.ModelURL = model
	job.VideoURL = video
	job.ThumbnailURL = thumb
	job.ProcessingSeconds = seconds
	return nil
}

func (s *fakeStore) Fail(_ context.Context, id uuid.UUID, msg string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job := s.jobs[id]
	if job.Status.Terminal() {
		return false, nil
	}
	job.Status = generation.StatusFailed
	job.ErrorMessage = msg
	return true, nil
}

func (s *fakeStore) GetByIDForUser(_ context.Context, id, userID uuid.UUID) (*generation.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok || job.UserID != userID {
		return nil, generation.ErrJobNotFound
	}
	copied := *job
	return &copied, nil
}

func (s *fakeStore) ListByUser(_ context.Context, userID uuid.UUID, _, _ int) ([]generation.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var jobs []generation.Job
	for _, job := range s.jobs {
		if job.UserID == userID {
			jobs = append(jobs, *job)
		}
	}
	return jobs, nil
}

func (s *fakeStore) CountByUser(_ context.Context, userID uuid.UUID) (int, error) {
	jobs, _ := s.ListByUser(context.Background(), userID, 0, 0)
	return len(jobs), nil
}

func (s *fakeStore) ListStale(_ context.Context, _ time.Time) ([]generation.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var jobs []generation.Job
	for _, job := range s.jobs {
		if !job.Status.Terminal() {
			jobs = append(jobs, *job)
		}
	}
	return jobs, nil
}

func (s *fakeStore) get(id uuid.UUID) generation.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.jobs[id]
}

// fakeGateway plays back a script of poll results after a configurable
// submit outcome.
type fakeGateway struct {
	mu        sync.Mutex
	submitErr error
	script    []pollResult
	polls     int
}

type pollResult struct {
	status provider.Status
	err    error
}

func (g *fakeGateway) Name() string { return "meshy" }

func (g *fakeGateway) Submit(context.Context, string, string, provider.Quality) (provider.Handle, error) {
	if g.submitErr != nil {
		return provider.Handle{}, g.submitErr
	}
	return provider.Handle{TaskID: "task-1"}, nil
}

func (g *fakeGateway) Poll(context.Context, string) (provider.Status, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.polls >= len(g.script) {
		return provider.Status{State: provider.StateProcessing}, nil
	}
	result := g.script[g.polls]
	g.polls++
	return result.status, result.err
}

func (g *fakeGateway) Cost(q provider.Quality) int {
	return provider.CostTable{Standard: 1, High: 2, Ultra: 3}.Credits(q)
}

func (g *fakeGateway) PollSpec() provider.PollSpec {
	return provider.PollSpec{Interval: time.Millisecond, MaxAttempts: 5}
}

type fakeResolver struct{ gw provider.Gateway }

func (r *fakeResolver) Get(name string) (provider.Gateway, error) {
	if name != r.gw.Name() {
		return nil, provider.ErrUnknownProvider
	}
	return r.gw, nil
}

func newService(gw provider.Gateway, l *fakeLedger) (*generation.Service, *fakeStore) {
	store := newFakeStore()
	svc := generation.NewService(store, l, &fakeResolver{gw: gw}, nil, nil)
	return svc, store
}

func TestGenerateSuccess(t *testing.T) {
	gw := &fakeGateway{script: []pollResult{
		{status: provider.Status{State: provider.StateProcessing, Progress: 40}},
		{status: provider.Status{
			State:        provider.StateCompleted,
			ModelURL:     "https://cdn.vendor/model.glb",
			ThumbnailURL: "https://cdn.vendor/thumb.png",
		}},
	}}
	l := newFakeLedger(10)
	svc, store := newService(gw, l)

	job, remaining, err := svc.Generate(context.Background(), uuid.New(), generation.GenerateRequest{
		ImageURL: "https://example.com/chair.png",
		Quality:  "HIGH",
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if job.Status != generation.StatusCompleted {
		t.Errorf("status = %s, want completed", job.Status)
	}
	if job.ModelURL != "https://cdn.vendor/model.glb" {
		t.Errorf("model_url = %q", job.ModelURL)
	}
	if job.CreditsCost != 2 {
		t.Errorf("credits_cost = %d, want 2 for HIGH", job.CreditsCost)
	}
	if remaining != 8 {
		t.Errorf("remaining = %d, want 8", remaining)
	}
	if l.refundCount() != 0 {
		t.Errorf("successful generation triggered %d refunds", l.refundCount())
	}
	if stored := store.get(job.ID); stored.Status != generation.StatusCompleted {
		t.Errorf("stored status = %s", stored.Status)
	}
}

func TestGenerateSubmitRejectedRefunds(t *testing.T) {
	gw := &fakeGateway{submitErr: &provider.RejectedError{Vendor: "meshy", StatusCode: 422, Reason: "bad image"}}
	l := newFakeLedger(10)
	svc, store := newService(gw, l)

	_, _, err := svc.Generate(context.Background(), uuid.New(), generation.GenerateRequest{
		ImageURL: "https://example.com/chair.png",
	})

	var rejectedErr *provider.RejectedError
	if !errors.As(err, &rejectedErr) {
		t.Fatalf("expected RejectedError, got %v", err)
	}
	if l.balance != 10 {
		t.Errorf("balance = %d, want full refund to 10", l.balance)
	}
	if l.refundCount() != 1 {
		t.Errorf("refunds = %d, want 1", l.refundCount())
	}
	for id := range store.jobs {
		if job := store.get(id); job.Status != generation.StatusFailed {
			t.Errorf("job status = %s, want failed", job.Status)
		}
	}
}

func TestGenerateVendorFailureRefunds(t *testing.T) {
	gw := &fakeGateway{script: []pollResult{
		{status: provider.Status{State: provider.StateProcessing}},
		{status: provider.Status{State: provider.StateFailed, ErrorMessage: "mesh reconstruction failed"}},
	}}
	l := newFakeLedger(5)
	svc, _ := newService(gw, l)

	_, _, err := svc.Generate(context.Background(), uuid.New(), generation.GenerateRequest{
		ImageURL: "https://example.com/chair.png",
	})
	if !errors.Is(err, generation.ErrGenerationFailed) {
		t.Fatalf("expected ErrGenerationFailed, got %v", err)
	}
	if l.balance != 5 {
		t.Errorf("balance = %d, want 5 after refund", l.balance)
	}
}

func TestGeneratePollBudgetExhausted(t *testing.T) {
	// Script never reaches a terminal state; the 5-attempt budget runs out.
	gw := &fakeGateway{}
	l := newFakeLedger(5)
	svc, store := newService(gw, l)

	_, _, err := svc.Generate(context.Background(), uuid.New(), generation.GenerateRequest{
		ImageURL: "https://example.com/chair.png",
	})
	if !errors.Is(err, generation.ErrPollTimeout) {
		t.Fatalf("expected ErrPollTimeout, got %v", err)
	}
	if l.balance != 5 {
		t.Errorf("balance = %d, want 5 after timeout refund", l.balance)
	}
	for id := range store.jobs {
		if job := store.get(id); job.ErrorMessage != "generation timed out" {
			t.Errorf("error_message = %q", job.ErrorMessage)
		}
	}
}

func TestGenerateInsufficientCreditsNoRefund(t *testing.T) {
	gw := &fakeGateway{}
	l := newFakeLedger(0)
	svc, store := newService(gw, l)

	_, _, err := svc.Generate(context.Background(), uuid.New(), generation.GenerateRequest{
		ImageURL: "https://example.com/chair.png",
		Quality:  "ULTRA",
	})

	var insufficientErr *ledger.InsufficientCreditsError
	if !errors.As(err, &insufficientErr) {
		t.Fatalf("expected InsufficientCreditsError, got %v", err)
	}
	if insufficientErr.Required != 3 {
		t.Errorf("required = %d, want 3 for ULTRA", insufficientErr.Required)
	}
	if l.refundCount() != 0 {
		t.Errorf("failed debit produced %d refunds, want 0", l.refundCount())
	}
	for id := range store.jobs {
		if job := store.get(id); job.Status != generation.StatusFailed {
			t.Errorf("job status = %s, want failed", job.Status)
		}
	}
}

func TestGenerateTransientPollErrorsRecover(t *testing.T) {
	gw := &fakeGateway{script: []pollResult{
		{err: provider.ErrUnavailable},
		{err: provider.ErrUnavailable},
		{status: provider.Status{State: provider.StateCompleted, ModelURL: "https://cdn.vendor/m.glb"}},
	}}
	l := newFakeLedger(5)
	svc, _ := newService(gw, l)

	job, _, err := svc.Generate(context.Background(), uuid.New(), generation.GenerateRequest{
		ImageURL: "https://example.com/chair.png",
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if job.Status != generation.StatusCompleted {
		t.Errorf("status = %s, want completed despite transient poll errors", job.Status)
	}
	if l.refundCount() != 0 {
		t.Errorf("refunds = %d, want 0", l.refundCount())
	}
}

func TestGenerateUnknownProvider(t *testing.T) {
	gw := &fakeGateway{}
	l := newFakeLedger(5)
	svc, store := newService(gw, l)

	_, _, err := svc.Generate(context.Background(), uuid.New(), generation.GenerateRequest{
		ImageURL: "https://example.com/chair.png",
		Provider: "other",
	})
	if !errors.Is(err, provider.ErrUnknownProvider) {
		t.Fatalf("expected ErrUnknownProvider, got %v", err)
	}
	if len(store.jobs) != 0 {
		t.Errorf("unknown provider created %d jobs", len(store.jobs))
	}
	if l.debits != 0 {
		t.Errorf("unknown provider debited credits")
	}
}

func TestReaperRefundsStaleJobs(t *testing.T) {
	store := newFakeStore()
	l := newFakeLedger(10)
	userID := uuid.New()

	stale := &generation.Job{
		ID:          uuid.New(),
		UserID:      userID,
		Provider:    "meshy",
		CreditsCost: 2,
		Status:      generation.StatusPolling,
	}
	store.Create(context.Background(), stale)
	if _, err := l.Debit(context.Background(), userID, 2, stale.ID); err != nil {
		t.Fatalf("debit failed: %v", err)
	}

	neverDebited := &generation.Job{
		ID:          uuid.New(),
		UserID:      userID,
		Provider:    "meshy",
		CreditsCost: 2,
		Status:      generation.StatusCreated,
	}
	store.Create(context.Background(), neverDebited)

	reaper := generation.NewReaper(store, l, 30*time.Minute)
	reaper.Run(context.Background())

	if job := store.get(stale.ID); job.Status != generation.StatusFailed {
		t.Errorf("stale job status = %s, want failed", job.Status)
	}
	if l.balance != 10 {
		t.Errorf("balance = %d, want 10 after refund", l.balance)
	}
	if l.refundCount() != 1 {
		t.Errorf("refunds = %d, want 1 (created job never debited)", l.refundCount())
	}

	// A second sweep must not refund again.
	reaper.Run(context.Background())
	if l.balance != 10 {
		t.Errorf("balance after second sweep = %d, want 10", l.balance)
	}
}

func TestReaperRefundsDebitedCreatedJob(t *testing.T) {
	// A crash between the debit commit and the reserved write leaves the job
	// in created with credits taken. The reaper must still refund it.
	store := newFakeStore()
	l := newFakeLedger(5)
	userID := uuid.New()

	job := &generation.Job{
		ID:          uuid.New(),
		UserID:      userID,
		Provider:    "meshy",
		CreditsCost: 3,
		Status:      generation.StatusCreated,
	}
	store.Create(context.Background(), job)
	if _, err := l.Debit(context.Background(), userID, 3, job.ID); err != nil {
		t.Fatalf("debit failed: %v", err)
	}

	reaper := generation.NewReaper(store, l, 30*time.Minute)
	reaper.Run(context.Background())

	if got := store.get(job.ID); got.Status != generation.StatusFailed {
		t.Errorf("status = %s, want failed", got.Status)
	}
	if l.balance != 5 {
		t.Errorf("balance = %d, want 5 with the debit returned", l.balance)
	}
	if l.refundCount() != 1 {
		t.Errorf("refunds = %d, want 1", l.refundCount())
	}
}
