package ledger

import (
	"errors"
	"fmt"
)

var (
	ErrAccountNotFound = errors.New("credit account not found")
	ErrInvalidAmount   = errors.New("amount must be greater than zero")
)

// InsufficientCreditsError is returned when a debit would drive the balance
// negative. It carries the numbers the API surfaces to the client.
type InsufficientCreditsError struct {
	Required  int
	Available int
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient credits: required=%d available=%d", e.Required, e.Available)
}
