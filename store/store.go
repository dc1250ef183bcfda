// Package store provides durable storage backends for the workspace
// client's token pair. A store persists the access/refresh tokens across
// process restarts; the client reads and writes it on every refresh cycle.
package store

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrNoTokens is returned by Load when the store holds no token pair.
var ErrNoTokens = errors.New("no stored tokens")

// Pair is the persisted credential pair. RefreshedAt records when the pair
// was last minted and is diagnostic only.
type Pair struct {
	AccessToken  string    `json:"auth_token"`
	RefreshToken string    `json:"refresh_token"`
	RefreshedAt  time.Time `json:"token_refreshed_at"`
}

// TokenStore persists the token pair. Implementations must be safe for
// concurrent use: the client's background refresher and request paths
// read and write the store from multiple goroutines.
type TokenStore interface {
	Save(ctx context.Context, p Pair) error
	Load(ctx context.Context) (Pair, error)
	Clear(ctx context.Context) error
}

// MemoryStore keeps the token pair in process memory. It is the default
// store and the right choice for short-lived tools and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	pair    Pair
	present bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Save(_ context.Context, p Pair) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pair = p
	s.present = true
	return nil
}

func (s *MemoryStore) Load(_ context.Context) (Pair, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.present {
		return Pair{}, ErrNoTokens
	}
	return s.pair, nil
}

func (s *MemoryStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pair = Pair{}
	s.present = false
	return nil
}
