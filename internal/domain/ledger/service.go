package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

type Service struct {
	repo        *Repository
	dailyRefill map[string]int
}

func NewService(repo *Repository, dailyRefill map[string]int) *Service {
	return &Service{repo: repo, dailyRefill: dailyRefill}
}

// GetAccount returns the account after applying any pending daily refill.
// Refills are lazy: they land the first time the account is touched once a
// full day has passed since the previous refill.
func (s *Service) GetAccount(ctx context.Context, userID uuid.UUID) (*Account, error) {
	if err := s.maybeRefill(ctx, userID); err != nil {
		return nil, err
	}
	return s.repo.GetAccount(ctx, userID)
}

func (s *Service) History(ctx context.Context, userID uuid.UUID, limit, offset int) ([]Entry, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.ListEntries(ctx, userID, limit, offset)
}

// Debit reserves amount credits for a generation job and returns the
// remaining balance. Fails with *InsufficientCreditsError without recording
// anything when the balance cannot cover the amount.
func (s *Service) Debit(ctx context.Context, userID uuid.UUID, amount int, jobID uuid.UUID) (int, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}
	if err := s.maybeRefill(ctx, userID); err != nil {
		return 0, err
	}

	remaining, err := s.repo.Debit(ctx, userID, amount, jobID)
	if err != nil {
		return 0, err
	}

	log.Info().
		Str("user_id", userID.String()).
		Str("job_id", jobID.String()).
		Int("amount", amount).
		Int("remaining", remaining).
		Msg("Credits debited")
	return remaining, nil
}

// Refund returns a job's reserved credits. Idempotent per job: retries and
// concurrent callers apply at most one refund.
func (s *Service) Refund(ctx context.Context, userID uuid.UUID, amount int, jobID uuid.UUID) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}

	applied, err := s.repo.Refund(ctx, userID, amount, jobID)
	if err != nil {
		return err
	}

	if applied {
		log.Info().
			Str("user_id", userID.String()).
			Str("job_id", jobID.String()).
			Int("amount", amount).
			Msg("Credits refunded")
	} else {
		log.Debug().
			Str("user_id", userID.String()).
			Str("job_id", jobID.String()).
			Msg("Refund already applied, skipping")
	}
	return nil
}

// CreditPurchase grants the credits of a paid purchase, at most once per
// purchase regardless of webhook redelivery.
func (s *Service) CreditPurchase(ctx context.Context, userID uuid.UUID, amount int, purchaseID uuid.UUID) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}

	applied, err := s.repo.CreditPurchase(ctx, userID, amount, purchaseID)
	if err != nil {
		return err
	}

	if applied {
		log.Info().
			Str("user_id", userID.String()).
			Str("purchase_id", purchaseID.String()).
			Int("amount", amount).
			Msg("Purchase credits granted")
	} else {
		log.Debug().
			Str("purchase_id", purchaseID.String()).
			Msg("Purchase already credited, skipping")
	}
	return nil
}

func (s *Service) maybeRefill(ctx context.Context, userID uuid.UUID) error {
	amount, err := s.repo.ApplyRefill(ctx, userID, s.dailyRefill, time.Now())
	if err != nil {
		return err
	}
	if amount > 0 {
		log.Info().Str("user_id", userID.String()).Int("amount", amount).Msg("Daily refill applied")
	}
	return nil
}
