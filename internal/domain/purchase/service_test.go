package purchase_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/randari3d/randari3d-api/internal/domain/purchase"
	"github.com/randari3d/randari3d-api/internal/pkg/checkout"
)

type fakeStore struct {
	mu        sync.Mutex
	purchases map[uuid.UUID]*purchase.Purchase
}

func newFakeStore() *fakeStore {
	return &fakeStore{purchases: make(map[uuid.UUID]*purchase.Purchase)}
}

func (s *fakeStore) Create(_ context.Context, p *purchase.Purchase) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *p
	s.purchases[p.ID] = &copied
	return nil
}

func (s *fakeStore) GetByID(_ context.Context, id uuid.UUID) (*purchase.Purchase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.purchases[id]
	if !ok {
		return nil, purchase.ErrPurchaseNotFound
	}
	copied := *p
	return &copied, nil
}

func (s *fakeStore) GetBySessionID(_ context.Context, sessionID string) (*purchase.Purchase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.purchases {
		if p.SessionID == sessionID && sessionID != "" {
			copied := *p
			return &copied, nil
		}
	}
	return nil, purchase.ErrPurchaseNotFound
}

func (s *fakeStore) SetSession(_ context.Context, id uuid.UUID, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purchases[id].SessionID = sessionID
	return nil
}

func (s *fakeStore) MarkCompleted(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p := s.purchases[id]; p.Status != purchase.StatusCompleted {
		p.Status = purchase.StatusCompleted
	}
	return nil
}

func (s *fakeStore) MarkFailed(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p := s.purchases[id]; p.Status == purchase.StatusPending {
		p.Status = purchase.StatusFailed
	}
	return nil
}

func (s *fakeStore) get(id uuid.UUID) purchase.Purchase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.purchases[id]
}

type fakeGranter struct {
	mu      sync.Mutex
	grants  map[uuid.UUID]int
	granted int
}

func newFakeGranter() *fakeGranter {
	return &fakeGranter{grants: make(map[uuid.UUID]int)}
}

func (g *fakeGranter) CreditPurchase(_ context.Context, _ uuid.UUID, amount int, purchaseID uuid.UUID) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, done := g.grants[purchaseID]; done {
		return nil
	}
	g.grants[purchaseID] = amount
	g.granted += amount
	return nil
}

type fakeSessions struct {
	session *checkout.Session
	err     error
}

func (f *fakeSessions) CreateSession(_ context.Context, req checkout.CreateSessionRequest) (*checkout.Session, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &checkout.Session{
		ID:                "cs_test_1",
		URL:               "https://pay.example.com/cs_test_1",
		ClientReferenceID: req.ClientReferenceID,
		Metadata:          req.Metadata,
	}, nil
}

func (f *fakeSessions) GetSession(_ context.Context, sessionID string) (*checkout.Session, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.session == nil || f.session.ID != sessionID {
		return nil, checkout.ErrSessionNotFound
	}
	return f.session, nil
}

func newService(store *fakeStore, granter *fakeGranter, sessions *fakeSessions) *purchase.Service {
	return purchase.NewService(store, granter, sessions, purchase.URLs{
		Success: "https://app.example.com/success",
		Cancel:  "https://app.example.com/cancel",
	})
}

func completedEvent(p *purchase.Purchase, paymentStatus string) *checkout.Event {
	var ev checkout.Event
	ev.ID = "evt_" + p.ID.String()[:8]
	ev.Type = checkout.EventCheckoutCompleted
	ev.Data.Object = checkout.Session{
		ID:            p.SessionID,
		PaymentStatus: paymentStatus,
		Metadata:      map[string]string{"purchase_id": p.ID.String()},
	}
	return &ev
}

func createPendingPurchase(t *testing.T, svc *purchase.Service, store *fakeStore, userID uuid.UUID) *purchase.Purchase {
	t.Helper()
	result, err := svc.CreateCheckout(context.Background(), userID, "professional")
	if err != nil {
		t.Fatalf("create checkout failed: %v", err)
	}
	p := store.get(result.PurchaseID)
	return &p
}

func TestWebhookReplayCreditsOnce(t *testing.T) {
	store := newFakeStore()
	granter := newFakeGranter()
	svc := newService(store, granter, &fakeSessions{})

	p := createPendingPurchase(t, svc, store, uuid.New())
	ev := completedEvent(p, checkout.PaymentStatusPaid)

	for i := 0; i < 3; i++ {
		if err := svc.HandleEvent(context.Background(), ev); err != nil {
			t.Fatalf("delivery %d failed: %v", i, err)
		}
	}

	if granter.granted != 50 {
		t.Errorf("granted = %d, want 50 for professional package", granter.granted)
	}
	if got := store.get(p.ID); got.Status != purchase.StatusCompleted {
		t.Errorf("status = %s, want completed", got.Status)
	}
}

func TestWebhookUnpaidCompletedEventIgnored(t *testing.T) {
	store := newFakeStore()
	granter := newFakeGranter()
	svc := newService(store, granter, &fakeSessions{})

	p := createPendingPurchase(t, svc, store, uuid.New())

	if err := svc.HandleEvent(context.Background(), completedEvent(p, checkout.PaymentStatusUnpaid)); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}

	if granter.granted != 0 {
		t.Errorf("unpaid event granted %d credits", granter.granted)
	}
	if got := store.get(p.ID); got.Status != purchase.StatusPending {
		t.Errorf("status = %s, want pending", got.Status)
	}
}

func TestWebhookExpiredMarksFailed(t *testing.T) {
	store := newFakeStore()
	granter := newFakeGranter()
	svc := newService(store, granter, &fakeSessions{})

	p := createPendingPurchase(t, svc, store, uuid.New())

	var ev checkout.Event
	ev.Type = checkout.EventCheckoutExpired
	ev.Data.Object = checkout.Session{ID: p.SessionID, Metadata: map[string]string{"purchase_id": p.ID.String()}}

	if err := svc.HandleEvent(context.Background(), &ev); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}

	if got := store.get(p.ID); got.Status != purchase.StatusFailed {
		t.Errorf("status = %s, want failed", got.Status)
	}
	if granter.granted != 0 {
		t.Errorf("expired event granted %d credits", granter.granted)
	}
}

func TestLateFailureAfterCompletionIsNoOp(t *testing.T) {
	store := newFakeStore()
	granter := newFakeGranter()
	svc := newService(store, granter, &fakeSessions{})

	p := createPendingPurchase(t, svc, store, uuid.New())

	if err := svc.HandleEvent(context.Background(), completedEvent(p, checkout.PaymentStatusPaid)); err != nil {
		t.Fatalf("completed event failed: %v", err)
	}

	var failEv checkout.Event
	failEv.Type = checkout.EventPaymentFailed
	failEv.Data.Object = checkout.Session{Metadata: map[string]string{"purchase_id": p.ID.String()}}
	if err := svc.HandleEvent(context.Background(), &failEv); err != nil {
		t.Fatalf("late failure event errored: %v", err)
	}

	if got := store.get(p.ID); got.Status != purchase.StatusCompleted {
		t.Errorf("status = %s, completed purchase must not fail retroactively", got.Status)
	}
}

func TestPaidCompletionAfterExpiryOverridesFailed(t *testing.T) {
	store := newFakeStore()
	granter := newFakeGranter()
	svc := newService(store, granter, &fakeSessions{})

	p := createPendingPurchase(t, svc, store, uuid.New())

	// Expiry lands first and marks the purchase failed.
	var expireEv checkout.Event
	expireEv.Type = checkout.EventCheckoutExpired
	expireEv.Data.Object = checkout.Session{ID: p.SessionID, Metadata: map[string]string{"purchase_id": p.ID.String()}}
	if err := svc.HandleEvent(context.Background(), &expireEv); err != nil {
		t.Fatalf("expired event failed: %v", err)
	}
	if got := store.get(p.ID); got.Status != purchase.StatusFailed {
		t.Fatalf("status = %s, want failed after expiry", got.Status)
	}

	// The out-of-order paid completion then arrives: it credits and the
	// purchase ends up completed, never credited-but-failed.
	if err := svc.HandleEvent(context.Background(), completedEvent(p, checkout.PaymentStatusPaid)); err != nil {
		t.Fatalf("completed event failed: %v", err)
	}
	if got := store.get(p.ID); got.Status != purchase.StatusCompleted {
		t.Errorf("status = %s, want completed", got.Status)
	}
	if granter.granted != 50 {
		t.Errorf("granted = %d, want 50", granter.granted)
	}
}

func TestWebhookMissingMetadata(t *testing.T) {
	store := newFakeStore()
	svc := newService(store, newFakeGranter(), &fakeSessions{})

	var ev checkout.Event
	ev.Type = checkout.EventCheckoutCompleted
	ev.Data.Object = checkout.Session{PaymentStatus: checkout.PaymentStatusPaid}

	err := svc.HandleEvent(context.Background(), &ev)
	if !errors.Is(err, purchase.ErrMissingMetadata) {
		t.Fatalf("expected ErrMissingMetadata, got %v", err)
	}
}

func TestVerifySessionNeverCredits(t *testing.T) {
	store := newFakeStore()
	granter := newFakeGranter()
	sessions := &fakeSessions{}
	svc := newService(store, granter, sessions)

	userID := uuid.New()
	p := createPendingPurchase(t, svc, store, userID)
	sessions.session = &checkout.Session{ID: p.SessionID, PaymentStatus: checkout.PaymentStatusPaid}

	// Paid at the provider but the webhook hasn't landed: the purchase reads
	// as pending and nothing is credited from this path.
	verified, err := svc.VerifySession(context.Background(), userID, p.SessionID)
	if err != nil {
		t.Fatalf("VerifySession: %v", err)
	}
	if verified.Status != purchase.StatusPending {
		t.Errorf("status = %s, want pending until the webhook settles", verified.Status)
	}
	if granter.granted != 0 {
		t.Errorf("verify-session granted %d credits, crediting is webhook-only", granter.granted)
	}

	// Webhook settles the purchase; verify afterwards reports completed.
	if err := svc.HandleEvent(context.Background(), completedEvent(p, checkout.PaymentStatusPaid)); err != nil {
		t.Fatalf("webhook failed: %v", err)
	}
	verified, err = svc.VerifySession(context.Background(), userID, p.SessionID)
	if err != nil {
		t.Fatalf("VerifySession after webhook: %v", err)
	}
	if verified.Status != purchase.StatusCompleted {
		t.Errorf("status = %s, want completed", verified.Status)
	}
	if granter.granted != 50 {
		t.Errorf("granted = %d, want 50", granter.granted)
	}
}

func TestVerifySessionUnpaid(t *testing.T) {
	store := newFakeStore()
	granter := newFakeGranter()
	sessions := &fakeSessions{}
	svc := newService(store, granter, sessions)

	userID := uuid.New()
	p := createPendingPurchase(t, svc, store, userID)
	sessions.session = &checkout.Session{ID: p.SessionID, PaymentStatus: checkout.PaymentStatusUnpaid}

	_, err := svc.VerifySession(context.Background(), userID, p.SessionID)
	if !errors.Is(err, purchase.ErrNotPaid) {
		t.Fatalf("expected ErrNotPaid, got %v", err)
	}
	if granter.granted != 0 {
		t.Errorf("unpaid verify granted %d credits", granter.granted)
	}
}

func TestVerifySessionForeignUser(t *testing.T) {
	store := newFakeStore()
	sessions := &fakeSessions{}
	svc := newService(store, newFakeGranter(), sessions)

	p := createPendingPurchase(t, svc, store, uuid.New())
	sessions.session = &checkout.Session{ID: p.SessionID, PaymentStatus: checkout.PaymentStatusPaid}

	_, err := svc.VerifySession(context.Background(), uuid.New(), p.SessionID)
	if !errors.Is(err, purchase.ErrPurchaseNotFound) {
		t.Fatalf("expected ErrPurchaseNotFound for foreign user, got %v", err)
	}
}

func TestCreateCheckoutUnknownPackage(t *testing.T) {
	svc := newService(newFakeStore(), newFakeGranter(), &fakeSessions{})

	_, err := svc.CreateCheckout(context.Background(), uuid.New(), "mega")
	if !errors.Is(err, purchase.ErrPackageNotFound) {
		t.Fatalf("expected ErrPackageNotFound, got %v", err)
	}
}
