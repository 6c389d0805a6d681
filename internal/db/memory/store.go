// Package memory implements db.Store in process memory on a bounded LRU.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/kailas-cloud/kgbrowse/internal/db"
)

// Compile-time check: Store implements db.Store.
var _ db.Store = (*Store)(nil)

// DefaultMaxKeys bounds the store when no size is configured.
const DefaultMaxKeys = 100_000

type entry struct {
	value     []byte
	members   map[string]struct{}
	expiresAt time.Time
}

func (e *entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// Store keeps keys in an LRU; the least recently used key is evicted when full.
type Store struct {
	mu    sync.Mutex
	cache *lru.Cache[string, *entry]
	now   func() time.Time
}

// NewStore creates a store holding at most maxKeys keys.
func NewStore(maxKeys int) (*Store, error) {
	if maxKeys <= 0 {
		maxKeys = DefaultMaxKeys
	}
	c, err := lru.New[string, *entry](maxKeys)
	if err != nil {
		return nil, fmt.Errorf("create lru: %w", err)
	}
	return &Store{cache: c, now: time.Now}, nil
}

// get must be called with mu held.
func (s *Store) get(key string) (*entry, bool) {
	e, ok := s.cache.Get(key)
	if !ok {
		return nil, false
	}
	if e.expired(s.now()) {
		s.cache.Remove(key)
		return nil, false
	}
	return e, true
}

// Ping always succeeds.
func (s *Store) Ping(_ context.Context) error { return nil }

// Close drops every key.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Purge()
}

// WaitForReady returns immediately.
func (s *Store) WaitForReady(_ context.Context, _ time.Duration) error { return nil }

// Get retrieves a value by key.
func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.get(key)
	if !ok || e.members != nil {
		return nil, db.ErrKeyNotFound
	}
	return append([]byte(nil), e.value...), nil
}

// Set stores a value at the given key.
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	return s.SetWithTTL(ctx, key, value, 0)
}

// SetWithTTL stores a value with an expiration. A zero ttl never expires.
func (s *Store) SetWithTTL(_ context.Context, key string, value []byte, ttl time.Duration) error {
	e := &entry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expiresAt = s.now().Add(ttl)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Add(key, e)
	return nil
}

// Del removes keys.
func (s *Store) Del(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		s.cache.Remove(k)
	}
	return nil
}

// Expire sets the TTL of an existing key.
func (s *Store) Expire(_ context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.get(key); ok {
		e.expiresAt = s.now().Add(ttl)
	}
	return nil
}

// SAdd adds members to the set at key.
func (s *Store) SAdd(_ context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.get(key)
	if !ok || e.members == nil {
		e = &entry{members: make(map[string]struct{}, len(members))}
		s.cache.Add(key, e)
	}
	for _, m := range members {
		e.members[m] = struct{}{}
	}
	return nil
}

// SMembers returns the members of the set at key. A missing key is an empty set.
func (s *Store) SMembers(_ context.Context, key string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.get(key)
	if !ok {
		return nil, nil
	}
	out := make([]string, 0, len(e.members))
	for m := range e.members {
		out = append(out, m)
	}
	return out, nil
}
