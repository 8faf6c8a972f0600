// Package guard provides the re-entrancy layer that keeps reconciliation
// passes from overlapping: per-record document locks, per-(record, operation)
// locks, a rapid-update debounce, and the final-write-pending flag protecting
// deferred persistence writes. All lock entries are TTL'd defensively so a
// crashed pass cannot permanently wedge a record.
package guard

import (
	"context"
	"sync"
	"time"
)

// Kind distinguishes the lock flavors held against a record
type Kind string

const (
	// KindDocument serializes whole reconciliation passes per record
	KindDocument Kind = "document"

	// KindOpCreate serializes create-type operations per record
	KindOpCreate Kind = "op-create"

	// KindOpUpdate serializes update-type operations per record
	KindOpUpdate Kind = "op-update"

	// KindFinalWrite marks a deferred persistence write still in flight
	KindFinalWrite Kind = "final-write"
)

// Default lock lifetimes. Reconciliation passes run to completion, so these
// only matter after a crash.
const (
	DefaultDocumentTTL  = 5 * time.Minute
	DefaultOperationTTL = 2 * time.Minute

	// DefaultDebounceWindow rejects re-entry for the same record shortly after
	// the previous pass started
	DefaultDebounceWindow = time.Second
)

// LockStore is the injectable backend holding ephemeral lock entries
//
//go:generate mockgen -destination=mocks/mock_lockstore.go -package=mocks -source=guard.go LockStore
type LockStore interface {
	// TryAcquire attempts to take the (key, kind) lock. Returns false without
	// error when the lock is already held.
	TryAcquire(ctx context.Context, key string, kind Kind) (bool, error)

	// Release drops the (key, kind) lock. Releasing an unheld lock is a no-op.
	Release(ctx context.Context, key string, kind Kind) error
}

// Guard wraps a LockStore with the debounce window. The debounce is
// process-local by design: overlapping triggers within the window originate
// from the same process.
type Guard struct {
	locks  LockStore
	window time.Duration

	mu       sync.Mutex
	lastPass map[string]time.Time
	now      func() time.Time
}

// Option configures the guard
type Option func(*Guard)

// WithDebounceWindow overrides the rapid-update rejection window
func WithDebounceWindow(window time.Duration) Option {
	return func(g *Guard) {
		if window > 0 {
			g.window = window
		}
	}
}

// withClock injects a clock, used by tests
func withClock(now func() time.Time) Option {
	return func(g *Guard) {
		g.now = now
	}
}

// New creates a guard over the given lock backend
func New(locks LockStore, opts ...Option) *Guard {
	g := &Guard{
		locks:    locks,
		window:   DefaultDebounceWindow,
		lastPass: make(map[string]time.Time),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// TryAcquire takes the (key, kind) lock, applying the debounce window for
// document locks. Returns false when the pass must be dropped.
func (g *Guard) TryAcquire(ctx context.Context, key string, kind Kind) (bool, error) {
	if kind == KindDocument && g.debounced(key) {
		return false, nil
	}
	ok, err := g.locks.TryAcquire(ctx, key, kind)
	if err != nil || !ok {
		return ok, err
	}
	if kind == KindDocument {
		g.mu.Lock()
		g.lastPass[key] = g.now()
		g.mu.Unlock()
	}
	return true, nil
}

// Release drops the (key, kind) lock
func (g *Guard) Release(ctx context.Context, key string, kind Kind) error {
	return g.locks.Release(ctx, key, kind)
}

// debounced reports whether a document pass for key started within the window
func (g *Guard) debounced(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	last, ok := g.lastPass[key]
	if !ok {
		return false
	}
	return g.now().Sub(last) < g.window
}
