package auth

import (
	"context"
	"sync"
	"time"

	"github.com/platinummonkey/tenantgate/pkg/apierr"
)

// memUsers is an in-memory UserStore
type memUsers struct {
	mu      sync.Mutex
	byID    map[string]*User
	deleted map[string]bool
	failGet error
	creates int
}

func newMemUsers() *memUsers {
	return &memUsers{byID: make(map[string]*User), deleted: make(map[string]bool)}
}

func (m *memUsers) GetByID(_ context.Context, id string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failGet != nil {
		return nil, m.failGet
	}
	u, ok := m.byID[id]
	if !ok || m.deleted[id] {
		return nil, apierr.NotFound("user not found")
	}
	cp := *u
	return &cp, nil
}

func (m *memUsers) Create(_ context.Context, user *User) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.byID[user.ID]; ok {
		if m.deleted[user.ID] {
			return nil, ErrIdentityConflict
		}
		cp := *existing
		return &cp, nil
	}
	for _, u := range m.byID {
		if u.Email == user.Email {
			return nil, ErrIdentityConflict
		}
	}
	m.creates++
	cp := *user
	cp.CreatedAt = time.Now()
	m.byID[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (m *memUsers) StampLastLogin(_ context.Context, email string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.byID {
		if u.Email == email {
			now := time.Now()
			u.LastLoginAt = &now
			return true, nil
		}
	}
	return false, nil
}

func (m *memUsers) UpdateFullName(_ context.Context, id, fullName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[id]
	if !ok {
		return apierr.NotFound("user not found")
	}
	u.FullName = fullName
	return nil
}

func (m *memUsers) get(id string) *User {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[id]
	if !ok {
		return nil
	}
	cp := *u
	return &cp
}
