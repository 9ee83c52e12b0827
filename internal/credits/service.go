package credits

import (
	"context"
	"log/slog"
)

// Invalidator drops cached per-user views after a balance change.
type Invalidator interface {
	Invalidate(ctx context.Context, userID int64) error
}

// Service wraps credit business rules.
type Service struct {
	repo        Repository
	invalidator Invalidator
	logger      *slog.Logger
}

// NewService constructs a Service. invalidator may be nil.
func NewService(repo Repository, invalidator Invalidator, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, invalidator: invalidator, logger: logger}
}

// Balance returns the account of userID.
func (s *Service) Balance(ctx context.Context, userID int64) (Account, error) {
	return s.repo.Get(ctx, userID)
}

// TopUp validates and applies a top-up.
func (s *Service) TopUp(ctx context.Context, userID int64, amount int) (Account, error) {
	if amount < MinTopUp || amount > MaxTopUp {
		return Account{}, ErrInvalidAmount
	}
	acct, err := s.repo.TopUp(ctx, userID, amount)
	if err != nil {
		return Account{}, err
	}
	if s.invalidator != nil {
		if err := s.invalidator.Invalidate(ctx, userID); err != nil {
			s.logger.Warn("invalidate dashboard after top up", slog.Int64("user_id", userID), slog.Any("error", err))
		}
	}
	return acct, nil
}
