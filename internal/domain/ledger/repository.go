package ledger

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

type Repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) GetAccount(ctx context.Context, userID uuid.UUID) (*Account, error) {
	var account Account
	err := r.db.GetContext(ctx, &account, `SELECT * FROM accounts WHERE user_id = $1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	return &account, nil
}

func (r *Repository) ListEntries(ctx context.Context, userID uuid.UUID, limit, offset int) ([]Entry, error) {
	entries := []Entry{}
	err := r.db.SelectContext(ctx, &entries, `
		SELECT * FROM ledger_entries
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	return entries, err
}

func (r *Repository) beginTx(ctx context.Context) (*sqlx.Tx, error) {
	return r.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
}

// lockAccount takes the account's row lock and returns the current balance.
// Every balance mutation goes through this lock, so concurrent debits
// serialize and the balance CHECK can never be hit by a lost update.
func (r *Repository) lockAccount(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID) (int, error) {
	var balance int
	err := tx.GetContext(ctx, &balance, `SELECT balance FROM accounts WHERE user_id = $1 FOR UPDATE`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrAccountNotFound
	}
	return balance, err
}

// Debit atomically deducts amount from the balance and records a
// generation_use entry for the job. Returns the remaining balance.
func (r *Repository) Debit(ctx context.Context, userID uuid.UUID, amount int, jobID uuid.UUID) (int, error) {
	tx, err := r.beginTx(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	balance, err := r.lockAccount(ctx, tx, userID)
	if err != nil {
		return 0, err
	}
	if balance < amount {
		return 0, &InsufficientCreditsError{Required: amount, Available: balance}
	}

	remaining := balance - amount
	if _, err := tx.ExecContext(ctx, `
		UPDATE accounts
		SET balance = $1, total_spent = total_spent + $2, updated_at = now()
		WHERE user_id = $3
	`, remaining, amount, userID); err != nil {
		return 0, err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO ledger_entries (user_id, amount, kind, related_job_id)
		VALUES ($1, $2, $3, $4)
	`, userID, -amount, KindGenerationUse, jobID); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return remaining, nil
}

// CreditPurchase adds amount for a completed purchase. The partial unique
// index on related_purchase_id makes retries no-ops: the entry insert and the
// balance update commit together or not at all, so a replayed webhook can
// never credit twice. Returns false when the purchase was already credited.
func (r *Repository) CreditPurchase(ctx context.Context, userID uuid.UUID, amount int, purchaseID uuid.UUID) (bool, error) {
	return r.creditOnce(ctx, userID, amount, `
		INSERT INTO ledger_entries (user_id, amount, kind, related_purchase_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (related_purchase_id) WHERE kind = 'purchase' DO NOTHING
	`, KindPurchase, purchaseID)
}

// Refund returns amount to the balance for a failed job, at most once per
// job, and only when the job actually debited something: a refund with no
// matching generation_use entry is a no-op. That makes it safe for both the
// orchestrator and the reaper to attempt a refund without knowing whether the
// debit ever committed.
func (r *Repository) Refund(ctx context.Context, userID uuid.UUID, amount int, jobID uuid.UUID) (bool, error) {
	tx, err := r.beginTx(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	if _, err := r.lockAccount(ctx, tx, userID); err != nil {
		return false, err
	}

	var debited bool
	if err := tx.GetContext(ctx, &debited, `
		SELECT EXISTS (
			SELECT 1 FROM ledger_entries
			WHERE related_job_id = $1 AND kind = 'generation_use'
		)
	`, jobID); err != nil {
		return false, err
	}
	if !debited {
		return false, tx.Commit()
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO ledger_entries (user_id, amount, kind, related_job_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (related_job_id) WHERE kind = 'refund' DO NOTHING
	`, userID, amount, KindRefund, jobID)
	if err != nil {
		return false, err
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if inserted == 0 {
		return false, tx.Commit()
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE accounts SET balance = balance + $1, updated_at = now() WHERE user_id = $2
	`, amount, userID); err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

func (r *Repository) creditOnce(ctx context.Context, userID uuid.UUID, amount int, insertQuery string, kind EntryKind, relatedID uuid.UUID) (bool, error) {
	tx, err := r.beginTx(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	if _, err := r.lockAccount(ctx, tx, userID); err != nil {
		return false, err
	}

	res, err := tx.ExecContext(ctx, insertQuery, userID, amount, kind, relatedID)
	if err != nil {
		return false, err
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if inserted == 0 {
		// Already applied by an earlier delivery.
		return false, tx.Commit()
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE accounts SET balance = balance + $1, updated_at = now() WHERE user_id = $2
	`, amount, userID); err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

// ApplyRefill grants the account's daily tier refill once a full day has
// elapsed since the last one. Returns the credited amount, or 0 when the
// account is not due yet.
func (r *Repository) ApplyRefill(ctx context.Context, userID uuid.UUID, amounts map[string]int, now time.Time) (int, error) {
	tx, err := r.beginTx(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var account struct {
		Tier         string    `db:"tier"`
		LastRefillAt time.Time `db:"last_refill_at"`
	}
	err = tx.GetContext(ctx, &account, `
		SELECT tier, last_refill_at FROM accounts WHERE user_id = $1 FOR UPDATE
	`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrAccountNotFound
	}
	if err != nil {
		return 0, err
	}

	if now.Sub(account.LastRefillAt) < 24*time.Hour {
		return 0, nil
	}

	amount := amounts[account.Tier]
	if amount <= 0 {
		return 0, nil
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE accounts
		SET balance = balance + $1, last_refill_at = $2, updated_at = now()
		WHERE user_id = $3
	`, amount, now.UTC(), userID); err != nil {
		return 0, err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO ledger_entries (user_id, amount, kind, note)
		VALUES ($1, $2, $3, $4)
	`, userID, amount, KindDailyRefill, account.Tier); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return amount, nil
}
