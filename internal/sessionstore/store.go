// Package sessionstore remembers revoked session ids until the sessions would have expired anyway.
package sessionstore

import (
	"context"
	"sync"
	"time"
)

// Store records revoked session ids. Revoke with ttl <= 0 is a no-op: the session is already expired.
type Store interface {
	Revoke(ctx context.Context, id string, ttl time.Duration) error
	IsRevoked(ctx context.Context, id string) (bool, error)
}

// Pinger is implemented by stores backed by a remote server. Used by the health check.
type Pinger interface {
	Ping() error
}

// InMemoryStore implements Store with a mutex-guarded map. Entries are dropped once expired.
type InMemoryStore struct {
	mu      sync.Mutex
	revoked map[string]time.Time
	now     func() time.Time
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		revoked: make(map[string]time.Time),
		now:     time.Now,
	}
}

// Revoke marks id as revoked for ttl.
func (s *InMemoryStore) Revoke(ctx context.Context, id string, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if ttl <= 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	s.pruneLocked(now)
	s.revoked[id] = now.Add(ttl)
	return nil
}

// IsRevoked reports whether id was revoked and the revocation has not expired.
func (s *InMemoryStore) IsRevoked(ctx context.Context, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	expiresAt, ok := s.revoked[id]
	if !ok {
		return false, nil
	}
	if !s.now().Before(expiresAt) {
		delete(s.revoked, id)
		return false, nil
	}
	return true, nil
}

// Len returns the number of unexpired revocations.
func (s *InMemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked(s.now())
	return len(s.revoked)
}

// pruneLocked removes expired entries. Must be called with mu held.
func (s *InMemoryStore) pruneLocked(now time.Time) {
	for id, expiresAt := range s.revoked {
		if !now.Before(expiresAt) {
			delete(s.revoked, id)
		}
	}
}
