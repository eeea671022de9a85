package auth

import "sync"

// TokenStore owns the long-lived refresh token.
type TokenStore interface {
	RefreshToken() string
	SetRefreshToken(string)
}

// MemoryStore keeps the refresh token in process memory only.
type MemoryStore struct {
	mu    sync.RWMutex
	token string
}

func NewMemoryStore(initial string) *MemoryStore {
	return &MemoryStore{token: initial}
}

func (s *MemoryStore) RefreshToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

func (s *MemoryStore) SetRefreshToken(t string) {
	s.mu.Lock()
	s.token = t
	s.mu.Unlock()
}
