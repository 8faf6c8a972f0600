package guard

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLockStore(t *testing.T) {
	t.Parallel()

	t.Run("acquire and release", func(t *testing.T) {
		t.Parallel()

		s := NewMemoryLockStore()
		ctx := context.Background()

		ok, err := s.TryAcquire(ctx, "tenant-1", KindDocument)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = s.TryAcquire(ctx, "tenant-1", KindDocument)
		require.NoError(t, err)
		assert.False(t, ok, "held lock must not be re-acquired")

		require.NoError(t, s.Release(ctx, "tenant-1", KindDocument))

		ok, err = s.TryAcquire(ctx, "tenant-1", KindDocument)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("kinds are independent", func(t *testing.T) {
		t.Parallel()

		s := NewMemoryLockStore()
		ctx := context.Background()

		ok, err := s.TryAcquire(ctx, "tenant-1", KindDocument)
		require.NoError(t, err)
		require.True(t, ok)

		ok, err = s.TryAcquire(ctx, "tenant-1", KindOpCreate)
		require.NoError(t, err)
		assert.True(t, ok, "different kinds share no state")
	})

	t.Run("keys are independent", func(t *testing.T) {
		t.Parallel()

		s := NewMemoryLockStore()
		ctx := context.Background()

		ok, err := s.TryAcquire(ctx, "tenant-1", KindDocument)
		require.NoError(t, err)
		require.True(t, ok)

		ok, err = s.TryAcquire(ctx, "tenant-2", KindDocument)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("entries expire after the ttl", func(t *testing.T) {
		t.Parallel()

		now := time.Now()
		s := NewMemoryLockStore(
			WithTTL(KindDocument, time.Minute),
			withMemoryClock(func() time.Time { return now }),
		)
		ctx := context.Background()

		ok, err := s.TryAcquire(ctx, "tenant-1", KindDocument)
		require.NoError(t, err)
		require.True(t, ok)

		now = now.Add(30 * time.Second)
		ok, err = s.TryAcquire(ctx, "tenant-1", KindDocument)
		require.NoError(t, err)
		assert.False(t, ok, "entry still live")

		now = now.Add(31 * time.Second)
		ok, err = s.TryAcquire(ctx, "tenant-1", KindDocument)
		require.NoError(t, err)
		assert.True(t, ok, "expired entry is reclaimed")
	})

	t.Run("releasing an unheld lock is a no-op", func(t *testing.T) {
		t.Parallel()

		s := NewMemoryLockStore()
		assert.NoError(t, s.Release(context.Background(), "tenant-1", KindDocument))
	})
}

func TestGuardDebounce(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Now()
	g := New(NewMemoryLockStore(),
		WithDebounceWindow(time.Second),
		withClock(func() time.Time { return now }),
	)

	ok, err := g.TryAcquire(ctx, "tenant-1", KindDocument)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, g.Release(ctx, "tenant-1", KindDocument))

	// Within the window the pass is dropped even though the lock is free.
	now = now.Add(500 * time.Millisecond)
	ok, err = g.TryAcquire(ctx, "tenant-1", KindDocument)
	require.NoError(t, err)
	assert.False(t, ok)

	now = now.Add(600 * time.Millisecond)
	ok, err = g.TryAcquire(ctx, "tenant-1", KindDocument)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestGuardDebounceOnlyAppliesToDocumentLocks(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Now()
	g := New(NewMemoryLockStore(),
		WithDebounceWindow(time.Minute),
		withClock(func() time.Time { return now }),
	)

	ok, err := g.TryAcquire(ctx, "tenant-1", KindDocument)
	require.NoError(t, err)
	require.True(t, ok)

	// Operation locks ignore the window entirely.
	ok, err = g.TryAcquire(ctx, "tenant-1", KindOpCreate)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, g.Release(ctx, "tenant-1", KindOpCreate))

	ok, err = g.TryAcquire(ctx, "tenant-1", KindOpCreate)
	require.NoError(t, err)
	assert.True(t, ok)
}
