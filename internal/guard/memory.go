package guard

import (
	"context"
	"sync"
	"time"
)

// memoryLockStore is the in-process LockStore backend: a TTL map guarded by a
// mutex. Entries expire lazily on the next acquire attempt.
type memoryLockStore struct {
	mu      sync.Mutex
	entries map[string]time.Time
	ttls    map[Kind]time.Duration
	now     func() time.Time
}

var _ LockStore = (*memoryLockStore)(nil)

// MemoryOption configures the in-memory lock store
type MemoryOption func(*memoryLockStore)

// WithTTL overrides the lifetime for a lock kind
func WithTTL(kind Kind, ttl time.Duration) MemoryOption {
	return func(s *memoryLockStore) {
		if ttl > 0 {
			s.ttls[kind] = ttl
		}
	}
}

// withMemoryClock injects a clock, used by tests
func withMemoryClock(now func() time.Time) MemoryOption {
	return func(s *memoryLockStore) {
		s.now = now
	}
}

// NewMemoryLockStore creates an in-process lock backend with default TTLs
func NewMemoryLockStore(opts ...MemoryOption) LockStore {
	s := &memoryLockStore{
		entries: make(map[string]time.Time),
		ttls: map[Kind]time.Duration{
			KindDocument:   DefaultDocumentTTL,
			KindOpCreate:   DefaultOperationTTL,
			KindOpUpdate:   DefaultOperationTTL,
			KindFinalWrite: DefaultOperationTTL,
		},
		now: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func lockKey(key string, kind Kind) string {
	return string(kind) + ":" + key
}

// TryAcquire takes the lock unless a live entry already holds it
func (s *memoryLockStore) TryAcquire(_ context.Context, key string, kind Kind) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := lockKey(key, kind)
	if deadline, ok := s.entries[k]; ok && s.now().Before(deadline) {
		return false, nil
	}

	ttl, ok := s.ttls[kind]
	if !ok {
		ttl = DefaultOperationTTL
	}
	s.entries[k] = s.now().Add(ttl)
	return true, nil
}

// Release drops the lock entry
func (s *memoryLockStore) Release(_ context.Context, key string, kind Kind) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, lockKey(key, kind))
	return nil
}
