package credits

import (
	"errors"
	"time"
)

const (
	// MinTopUp and MaxTopUp bound a single top-up request.
	MinTopUp = 1
	MaxTopUp = 1000
)

var (
	// ErrInsufficientCredits is returned when a balance cannot cover a charge.
	ErrInsufficientCredits = errors.New("credits: insufficient balance")
	// ErrInvalidAmount is returned for top-ups outside [MinTopUp, MaxTopUp].
	ErrInvalidAmount = errors.New("credits: invalid amount")
)

// Account is the credit balance of one user.
type Account struct {
	UserID    int64
	Balance   int
	UpdatedAt time.Time
}
