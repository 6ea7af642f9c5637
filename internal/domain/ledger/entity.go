package ledger

import (
	"time"

	"github.com/google/uuid"
)

// Subscription tiers. Each tier maps to a daily credit refill amount.
const (
	TierFree    = "FREE"
	TierBasic   = "BASIC"
	TierPro     = "PRO"
	TierPremium = "PREMIUM"
)

// EntryKind classifies a ledger entry.
type EntryKind string

const (
	KindPurchase      EntryKind = "purchase"
	KindGenerationUse EntryKind = "generation_use"
	KindRefund        EntryKind = "refund"
	KindDailyRefill   EntryKind = "daily_refill"
)

// Account is a user's credit balance. The balance is derived state: it always
// equals the sum of the account's ledger entries.
type Account struct {
	UserID       uuid.UUID `db:"user_id" json:"user_id"`
	Balance      int       `db:"balance" json:"balance"`
	TotalSpent   int       `db:"total_spent" json:"total_spent"`
	Tier         string    `db:"tier" json:"tier"`
	LastRefillAt time.Time `db:"last_refill_at" json:"last_refill_at"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// Entry is a single immutable ledger record. Amount is signed: credits are
// positive, debits negative.
type Entry struct {
	ID                uuid.UUID  `db:"id" json:"id"`
	UserID            uuid.UUID  `db:"user_id" json:"-"`
	Amount            int        `db:"amount" json:"amount"`
	Kind              EntryKind  `db:"kind" json:"kind"`
	Note              string     `db:"note" json:"note,omitempty"`
	RelatedJobID      *uuid.UUID `db:"related_job_id" json:"related_job_id,omitempty"`
	RelatedPurchaseID *uuid.UUID `db:"related_purchase_id" json:"related_purchase_id,omitempty"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
}
