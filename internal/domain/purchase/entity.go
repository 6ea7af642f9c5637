package purchase

import (
	"time"

	"github.com/google/uuid"
)

// Status is a purchase's reconciliation state. pending purchases have an open
// checkout session; completed ones have been paid and credited exactly once.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Purchase records one checkout attempt for a credit package. The package's
// price and credit grant are frozen into the row at creation, so catalog
// changes never affect in-flight checkouts.
type Purchase struct {
	ID             uuid.UUID  `db:"id" json:"id"`
	UserID         uuid.UUID  `db:"user_id" json:"-"`
	PackageID      string     `db:"package_id" json:"package_id"`
	Amount         float64    `db:"amount" json:"amount"`
	Currency       string     `db:"currency" json:"currency"`
	CreditsGranted int        `db:"credits_granted" json:"credits_granted"`
	Status         Status     `db:"status" json:"status"`
	SessionID      string     `db:"session_id" json:"-"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	CompletedAt    *time.Time `db:"completed_at" json:"completed_at,omitempty"`
}
