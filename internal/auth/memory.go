package auth

import (
	"context"
	"strings"
	"sync"
)

var _ UserStore = (*MemoryUserStore)(nil)

// MemoryUserStore is an in-process UserStore for tests and single-node
// development. Production uses the Postgres store.
type MemoryUserStore struct {
	mu    sync.RWMutex
	users map[string]User
}

func NewMemoryUserStore() *MemoryUserStore {
	return &MemoryUserStore{users: make(map[string]User)}
}

// Put stores a user keyed by normalized email.
func (s *MemoryUserStore) Put(u User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[strings.TrimSpace(strings.ToLower(u.Email))] = u
}

func (s *MemoryUserStore) FindByEmail(_ context.Context, email string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[strings.TrimSpace(strings.ToLower(email))]
	if !ok {
		return nil, ErrNotFound
	}
	return &u, nil
}
