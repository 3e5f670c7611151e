package identity

import (
	"context"
	"strings"
	"sync"
)

// MemoryStore is an in-process Resolver + Directory for dev mode and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	users    map[string]User
	sessions map[string]string // token -> user id
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:    make(map[string]User),
		sessions: make(map[string]string),
	}
}

// PutUser inserts or replaces a user.
func (s *MemoryStore) PutUser(u User) {
	s.mu.Lock()
	s.users[u.ID] = u
	s.mu.Unlock()
}

// PutSession binds a token to a user id.
func (s *MemoryStore) PutSession(tok, userID string) {
	s.mu.Lock()
	s.sessions[tok] = userID
	s.mu.Unlock()
}

func (s *MemoryStore) Resolve(_ context.Context, tok string) (Principal, error) {
	const op = "identity.MemoryStore.Resolve"

	tok = strings.TrimSpace(tok)
	if tok == "" {
		return Principal{}, unauthenticated(op, "missing token")
	}

	s.mu.RLock()
	uid, ok := s.sessions[tok]
	s.mu.RUnlock()
	if !ok {
		return Principal{}, unauthenticated(op, "unknown session")
	}
	return Principal{UserID: uid}, nil
}

func (s *MemoryStore) Users(_ context.Context, ids []string) ([]User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byID := make(map[string]User, len(ids))
	for _, id := range ids {
		if u, ok := s.users[id]; ok {
			byID[id] = u
		}
	}
	return orderUsers(ids, byID), nil
}
