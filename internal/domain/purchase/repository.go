package purchase

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

type Repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Create(ctx context.Context, p *Purchase) error {
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO purchases
			(id, user_id, package_id, amount, currency, credits_granted, status, session_id)
		VALUES
			(:id, :user_id, :package_id, :amount, :currency, :credits_granted, :status, :session_id)
	`, p)
	return err
}

func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*Purchase, error) {
	var p Purchase
	err := r.db.GetContext(ctx, &p, `SELECT * FROM purchases WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPurchaseNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *Repository) GetBySessionID(ctx context.Context, sessionID string) (*Purchase, error) {
	if sessionID == "" {
		return nil, ErrPurchaseNotFound
	}
	var p Purchase
	err := r.db.GetContext(ctx, &p, `SELECT * FROM purchases WHERE session_id = $1`, sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPurchaseNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *Repository) SetSession(ctx context.Context, id uuid.UUID, sessionID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE purchases SET session_id = $1 WHERE id = $2`, sessionID, id)
	return err
}

// MarkCompleted transitions the purchase to completed. A paid completion
// overrides an earlier failed mark: expiry and failure events can arrive
// before the completed event they lost the race to, and the payment-provider
// verdict that money actually moved wins. completed itself is terminal.
func (r *Repository) MarkCompleted(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE purchases SET status = 'completed', completed_at = now()
		WHERE id = $1 AND status <> 'completed'
	`, id)
	return err
}

// MarkFailed transitions pending -> failed. A purchase that already completed
// stays completed even if a late failure event arrives.
func (r *Repository) MarkFailed(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE purchases SET status = 'failed', completed_at = now()
		WHERE id = $1 AND status = 'pending'
	`, id)
	return err
}
