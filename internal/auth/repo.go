package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vigil-sec/vigil/internal/credits"
	"github.com/vigil-sec/vigil/internal/platform/db"
	"github.com/vigil-sec/vigil/internal/shared"
)

// Repository defines persistence operations for the auth module.
type Repository interface {
	FindByEmail(ctx context.Context, email string) (*User, error)
	FindByID(ctx context.Context, id int64) (*User, error)
	Create(ctx context.Context, email, passwordHash, role string, initialCredits int) (*User, error)
	SetTokenHash(ctx context.Context, userID int64, hash string) error
	ClearTokenHash(ctx context.Context, userID int64) error
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const userColumns = `id, email, password_hash, role, jwt_hash, created_at, updated_at`

func scanUser(row pgx.Row) (*User, error) {
	var (
		u    User
		hash pgtype.Text
	)
	if err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Role, &hash, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	if hash.Valid {
		u.TokenHash = hash.String
	}
	return &u, nil
}

// FindByEmail fetches a user by email, case-insensitively. The unique
// index on lower(email) guarantees at most one row.
func (r *PGRepository) FindByEmail(ctx context.Context, email string) (*User, error) {
	return scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1)`, email))
}

// FindByID fetches a user by primary key.
func (r *PGRepository) FindByID(ctx context.Context, id int64) (*User, error) {
	return scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

// Create inserts the user and opens its credit account in one transaction.
func (r *PGRepository) Create(ctx context.Context, email, passwordHash, role string, initialCredits int) (*User, error) {
	var user *User
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		created, err := scanUser(tx.QueryRow(ctx, `
			INSERT INTO users (email, password_hash, role, created_at, updated_at)
			VALUES ($1, $2, $3, NOW(), NOW())
			RETURNING `+userColumns, email, passwordHash, role))
		if err != nil {
			if db.IsUniqueViolation(err) {
				return ErrEmailTaken
			}
			return fmt.Errorf("auth: insert user: %w", err)
		}
		if err := credits.OpenAccountTx(ctx, tx, created.ID, initialCredits); err != nil {
			return err
		}
		user = created
		return nil
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

// SetTokenHash stores the hash of the newly issued token, replacing any
// previous one.
func (r *PGRepository) SetTokenHash(ctx context.Context, userID int64, hash string) error {
	_, err := r.pool.Exec(ctx, `UPDATE users SET jwt_hash = $2, updated_at = NOW() WHERE id = $1`, userID, hash)
	return err
}

// ClearTokenHash revokes the active token.
func (r *PGRepository) ClearTokenHash(ctx context.Context, userID int64) error {
	_, err := r.pool.Exec(ctx, `UPDATE users SET jwt_hash = NULL, updated_at = NOW() WHERE id = $1`, userID)
	return err
}

var _ Repository = (*PGRepository)(nil)
