package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/vigil-sec/vigil/internal/shared"
)

// Service wraps authentication business rules.
type Service struct {
	repo           Repository
	tokens         *Tokens
	initialCredits int
}

// NewService constructs a new Service.
func NewService(repo Repository, tokens *Tokens, initialCredits int) *Service {
	return &Service{repo: repo, tokens: tokens, initialCredits: initialCredits}
}

// LoginResult is returned by a successful login.
type LoginResult struct {
	User      *User
	Token     string
	ExpiresAt time.Time
}

// NormalizeEmail trims and lowercases email. Accounts are keyed on the result.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Register creates a USER account with the configured starting credits.
func (s *Service) Register(ctx context.Context, email, password string) (*User, error) {
	email = NormalizeEmail(email)
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("auth: hash password: %w", err)
	}
	return s.repo.Create(ctx, email, string(hash), RoleUser, s.initialCredits)
}

// Authenticate validates email/password credentials.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*User, error) {
	user, err := s.repo.FindByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		return nil, shared.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, shared.ErrInvalidCredentials
	}
	return user, nil
}

// Login authenticates and issues a token. Storing the new hash invalidates
// every token issued before it.
func (s *Service) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	user, err := s.Authenticate(ctx, email, password)
	if err != nil {
		return nil, err
	}
	token, expires, err := s.tokens.Issue(user)
	if err != nil {
		return nil, err
	}
	if err := s.repo.SetTokenHash(ctx, user.ID, HashToken(token)); err != nil {
		return nil, fmt.Errorf("auth: store token hash: %w", err)
	}
	return &LoginResult{User: user, Token: token, ExpiresAt: expires}, nil
}

// Verify checks a token against its signature and the stored hash.
func (s *Service) Verify(ctx context.Context, token string) (shared.Principal, error) {
	claims, err := s.tokens.Parse(token)
	if err != nil {
		return shared.Principal{}, errors.Join(shared.ErrUnauthenticated, err)
	}
	userID, err := claims.UserID()
	if err != nil {
		return shared.Principal{}, shared.ErrUnauthenticated
	}
	user, err := s.repo.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return shared.Principal{}, shared.ErrUnauthenticated
		}
		return shared.Principal{}, fmt.Errorf("auth: load user: %w", err)
	}
	if user.TokenHash == "" || subtle.ConstantTimeCompare([]byte(user.TokenHash), []byte(HashToken(token))) != 1 {
		return shared.Principal{}, shared.ErrUnauthenticated
	}
	return shared.Principal{UserID: user.ID, Email: user.Email, Role: user.Role}, nil
}

// Logout revokes the active token of userID.
func (s *Service) Logout(ctx context.Context, userID int64) error {
	return s.repo.ClearTokenHash(ctx, userID)
}
