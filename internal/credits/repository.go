package credits

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vigil-sec/vigil/internal/shared"
)

// Repository persists credit balances.
type Repository interface {
	Get(ctx context.Context, userID int64) (Account, error)
	TopUp(ctx context.Context, userID int64, amount int) (Account, error)
}

// PGRepository implements Repository on PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PGRepository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// Get returns the user's balance. Users without a row have a zero balance.
func (r *PGRepository) Get(ctx context.Context, userID int64) (Account, error) {
	acct := Account{UserID: userID}
	err := r.pool.QueryRow(ctx, `SELECT balance, updated_at FROM credits WHERE user_id = $1`, userID).
		Scan(&acct.Balance, &acct.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return acct, nil
	}
	if err != nil {
		return Account{}, fmt.Errorf("credits: get: %w", err)
	}
	return acct, nil
}

// TopUp adds amount to the balance, creating the row when missing.
func (r *PGRepository) TopUp(ctx context.Context, userID int64, amount int) (Account, error) {
	acct := Account{UserID: userID}
	err := r.pool.QueryRow(ctx, `
		INSERT INTO credits (user_id, balance, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (user_id) DO UPDATE
		SET balance = credits.balance + EXCLUDED.balance, updated_at = NOW()
		RETURNING balance, updated_at`, userID, amount).Scan(&acct.Balance, &acct.UpdatedAt)
	if err != nil {
		return Account{}, fmt.Errorf("credits: top up: %w", err)
	}
	return acct, nil
}

// OpenAccountTx creates the credit row for a new user inside tx.
func OpenAccountTx(ctx context.Context, tx pgx.Tx, userID int64, balance int) error {
	if balance < 0 {
		balance = 0
	}
	if _, err := tx.Exec(ctx, `INSERT INTO credits (user_id, balance, updated_at) VALUES ($1, $2, NOW())`, userID, balance); err != nil {
		return fmt.Errorf("credits: open account: %w", err)
	}
	return nil
}

// ConsumeTx charges amount inside tx and returns the remaining balance.
// ErrInsufficientCredits is returned and nothing is charged when the balance
// is too low.
func ConsumeTx(ctx context.Context, tx pgx.Tx, userID int64, amount int) (int, error) {
	if amount <= 0 {
		return 0, nil
	}
	var remaining int
	err := tx.QueryRow(ctx, `
		UPDATE credits SET balance = balance - $2, updated_at = NOW()
		WHERE user_id = $1 AND balance >= $2
		RETURNING balance`, userID, amount).Scan(&remaining)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, shared.NewUserError("Not enough credits to start an audit", ErrInsufficientCredits)
	}
	if err != nil {
		return 0, fmt.Errorf("credits: consume: %w", err)
	}
	return remaining, nil
}

var _ Repository = (*PGRepository)(nil)
