package guard

import (
	"context"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// redisLockStore is a Redis-backed LockStore, for deployments where more than
// one process may trigger reconciliation. Expiry is delegated to Redis.
type redisLockStore struct {
	client  *redis.Client
	prefix  string
	ttls    map[Kind]time.Duration
	timeout time.Duration
}

var _ LockStore = (*redisLockStore)(nil)

// NewRedisLockStore constructs a Redis-backed lock store and verifies
// connectivity with a ping.
func NewRedisLockStore(addr, password string, db int) (LockStore, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	return &redisLockStore{
		client: client,
		prefix: "tenant-sync:lock:",
		ttls: map[Kind]time.Duration{
			KindDocument:   DefaultDocumentTTL,
			KindOpCreate:   DefaultOperationTTL,
			KindOpUpdate:   DefaultOperationTTL,
			KindFinalWrite: DefaultOperationTTL,
		},
		timeout: 250 * time.Millisecond,
	}, nil
}

// TryAcquire takes the lock with SET NX and the kind's TTL
func (s *redisLockStore) TryAcquire(ctx context.Context, key string, kind Kind) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	ttl, ok := s.ttls[kind]
	if !ok {
		ttl = DefaultOperationTTL
	}
	acquired, err := s.client.SetNX(ctx, s.prefix+lockKey(key, kind), 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock %s/%s: %w", kind, key, err)
	}
	return acquired, nil
}

// Release drops the lock entry
func (s *redisLockStore) Release(ctx context.Context, key string, kind Kind) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.client.Del(ctx, s.prefix+lockKey(key, kind)).Err(); err != nil {
		return fmt.Errorf("failed to release lock %s/%s: %w", kind, key, err)
	}
	return nil
}
