package purchase

import (
	"context"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/randari3d/randari3d-api/internal/pkg/checkout"
)

// CreditGranter is the slice of the ledger service the reconciler needs.
// CreditPurchase is idempotent per purchase id.
type CreditGranter interface {
	CreditPurchase(ctx context.Context, userID uuid.UUID, amount int, purchaseID uuid.UUID) error
}

// SessionClient talks to the payment provider.
type SessionClient interface {
	CreateSession(ctx context.Context, req checkout.CreateSessionRequest) (*checkout.Session, error)
	GetSession(ctx context.Context, sessionID string) (*checkout.Session, error)
}

// Store is the persistence contract for purchases.
type Store interface {
	Create(ctx context.Context, p *Purchase) error
	GetByID(ctx context.Context, id uuid.UUID) (*Purchase, error)
	GetBySessionID(ctx context.Context, sessionID string) (*Purchase, error)
	SetSession(ctx context.Context, id uuid.UUID, sessionID string) error
	MarkCompleted(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID) error
}

// URLs are the redirect targets a checkout session sends the buyer back to.
type URLs struct {
	Success string
	Cancel  string
}

// Service reconciles purchases against payment-provider events. Crediting is
// driven by verified webhooks; the verify-session path exists only as a
// client-initiated nudge and re-checks payment state with the provider.
type Service struct {
	store    Store
	ledger   CreditGranter
	sessions SessionClient
	urls     URLs
}

func NewService(store Store, ledger CreditGranter, sessions SessionClient, urls URLs) *Service {
	return &Service{store: store, ledger: ledger, sessions: sessions, urls: urls}
}

// CheckoutResult is what the client needs to send the buyer to the hosted
// checkout page.
type CheckoutResult struct {
	PurchaseID  uuid.UUID `json:"purchase_id"`
	SessionID   string    `json:"session_id"`
	CheckoutURL string    `json:"checkout_url"`
}

// CreateCheckout opens a checkout session for a catalog package.
func (s *Service) CreateCheckout(ctx context.Context, userID uuid.UUID, packageID string) (*CheckoutResult, error) {
	pkg, err := FindPackage(packageID)
	if err != nil {
		return nil, err
	}

	p := &Purchase{
		ID:             uuid.New(),
		UserID:         userID,
		PackageID:      pkg.ID,
		Amount:         pkg.Price,
		Currency:       pkg.Currency,
		CreditsGranted: pkg.TotalCredits(),
		Status:         StatusPending,
	}
	if err := s.store.Create(ctx, p); err != nil {
		return nil, err
	}

	session, err := s.sessions.CreateSession(ctx, checkout.CreateSessionRequest{
		ClientReferenceID: p.ID.String(),
		SuccessURL:        s.urls.Success,
		CancelURL:         s.urls.Cancel,
		LineItem: checkout.LineItem{
			Name:        pkg.Name,
			Description: fmt.Sprintf("%d credits", pkg.TotalCredits()),
			AmountCents: int64(pkg.Price * 100),
			Currency:    pkg.Currency,
			Quantity:    1,
		},
		Metadata: map[string]string{
			"purchase_id": p.ID.String(),
			"user_id":     userID.String(),
			"credits":     strconv.Itoa(pkg.TotalCredits()),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create checkout session: %w", err)
	}

	if err := s.store.SetSession(ctx, p.ID, session.ID); err != nil {
		return nil, err
	}

	log.Info().
		Str("purchase_id", p.ID.String()).
		Str("session_id", session.ID).
		Str("package_id", pkg.ID).
		Msg("Checkout session created")

	return &CheckoutResult{PurchaseID: p.ID, SessionID: session.ID, CheckoutURL: session.URL}, nil
}

// HandleEvent processes one verified webhook event. Redelivered and unordered
// events are safe: crediting is idempotent per purchase and state transitions
// only move pending purchases.
func (s *Service) HandleEvent(ctx context.Context, ev *checkout.Event) error {
	switch ev.Type {
	case checkout.EventCheckoutCompleted:
		return s.handleCompleted(ctx, &ev.Data.Object)
	case checkout.EventCheckoutExpired, checkout.EventPaymentFailed:
		return s.handleFailed(ctx, &ev.Data.Object, ev.Type)
	default:
		log.Debug().Str("type", ev.Type).Msg("Ignoring unhandled event type")
		return nil
	}
}

func (s *Service) handleCompleted(ctx context.Context, session *checkout.Session) error {
	if session.PaymentStatus != checkout.PaymentStatusPaid {
		log.Warn().
			Str("session_id", session.ID).
			Str("payment_status", session.PaymentStatus).
			Msg("Completed event without paid status, skipping")
		return nil
	}

	p, err := s.resolvePurchase(ctx, session)
	if err != nil {
		return err
	}

	return s.settle(ctx, p)
}

func (s *Service) handleFailed(ctx context.Context, session *checkout.Session, eventType string) error {
	p, err := s.resolvePurchase(ctx, session)
	if err != nil {
		return err
	}

	if err := s.store.MarkFailed(ctx, p.ID); err != nil {
		return err
	}

	log.Info().
		Str("purchase_id", p.ID.String()).
		Str("event_type", eventType).
		Msg("Purchase marked failed")
	return nil
}

// settle grants the purchase's credits and completes it. The grant comes
// first: if the process dies between the two writes, the purchase stays
// pending and the next delivery finishes the transition without re-crediting.
func (s *Service) settle(ctx context.Context, p *Purchase) error {
	if err := s.ledger.CreditPurchase(ctx, p.UserID, p.CreditsGranted, p.ID); err != nil {
		return err
	}
	if err := s.store.MarkCompleted(ctx, p.ID); err != nil {
		return err
	}

	log.Info().
		Str("purchase_id", p.ID.String()).
		Str("user_id", p.UserID.String()).
		Int("credits", p.CreditsGranted).
		Msg("Purchase settled")
	return nil
}

// resolvePurchase finds the purchase an event refers to, preferring the
// metadata purchase_id and falling back to the session id.
func (s *Service) resolvePurchase(ctx context.Context, session *checkout.Session) (*Purchase, error) {
	raw := session.Metadata["purchase_id"]
	if raw == "" {
		raw = session.ClientReferenceID
	}
	if raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: bad purchase_id %q", ErrMissingMetadata, raw)
		}
		return s.store.GetByID(ctx, id)
	}

	p, err := s.store.GetBySessionID(ctx, session.ID)
	if err != nil {
		if session.ID == "" {
			return nil, ErrMissingMetadata
		}
		return nil, err
	}
	return p, nil
}

// VerifySession is the success-page fallback: the client returns from
// checkout before the webhook lands and asks us to check. The provider is
// re-queried for the authoritative payment state, but crediting stays the
// webhook's sole responsibility; a paid-but-pending purchase reads as pending
// until the webhook settles it.
func (s *Service) VerifySession(ctx context.Context, userID uuid.UUID, sessionID string) (*Purchase, error) {
	p, err := s.store.GetBySessionID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if p.UserID != userID {
		return nil, ErrPurchaseNotFound
	}

	if p.Status == StatusCompleted {
		return p, nil
	}

	session, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.PaymentStatus != checkout.PaymentStatusPaid {
		return nil, ErrNotPaid
	}

	return p, nil
}
