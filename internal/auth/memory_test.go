package auth

import (
	"context"
	"strings"
	"sync"

	"github.com/vigil-sec/vigil/internal/shared"
)

type memoryRepo struct {
	mu      sync.Mutex
	nextID  int64
	users   map[int64]*User
	credits map[int64]int
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{users: map[int64]*User{}, credits: map[int64]int{}}
}

func (m *memoryRepo) FindByEmail(ctx context.Context, email string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if strings.ToLower(u.Email) == strings.ToLower(email) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, shared.ErrNotFound
}

func (m *memoryRepo) FindByID(ctx context.Context, id int64) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *memoryRepo) Create(ctx context.Context, email, passwordHash, role string, initialCredits int) (*User, error) {
	if _, err := m.FindByEmail(ctx, email); err == nil {
		return nil, ErrEmailTaken
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	u := &User{ID: m.nextID, Email: email, PasswordHash: passwordHash, Role: role}
	m.users[u.ID] = u
	m.credits[u.ID] = initialCredits
	cp := *u
	return &cp, nil
}

func (m *memoryRepo) SetTokenHash(ctx context.Context, userID int64, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[userID]; ok {
		u.TokenHash = hash
	}
	return nil
}

func (m *memoryRepo) ClearTokenHash(ctx context.Context, userID int64) error {
	return m.SetTokenHash(ctx, userID, "")
}
