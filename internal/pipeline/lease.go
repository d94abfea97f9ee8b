package pipeline

import (
	"context"
	"sync"
	"time"

	r "github.com/redis/go-redis/v9"
)

// Lease grants exclusive processing rights for one document. Acquire returns
// false when another worker already holds the lease, which prevents the queued
// job and an immediate trigger from processing the same document twice.
type Lease interface {
	Acquire(ctx context.Context, documentID string) (bool, error)
	Release(ctx context.Context, documentID string) error
}

const leasePrefix = "doc_lease:"

// RedisLease implements Lease with SET NX EX, so a crashed worker's lease
// expires on its own.
type RedisLease struct {
	rdb *r.Client
	ttl time.Duration
}

func NewRedisLease(rdb *r.Client, ttl time.Duration) *RedisLease {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RedisLease{rdb: rdb, ttl: ttl}
}

func (l *RedisLease) Acquire(ctx context.Context, documentID string) (bool, error) {
	return l.rdb.SetNX(ctx, leasePrefix+documentID, "1", l.ttl).Result()
}

func (l *RedisLease) Release(ctx context.Context, documentID string) error {
	return l.rdb.Del(ctx, leasePrefix+documentID).Err()
}

// MemoryLease is the in-process fallback with the same expiry semantics.
type MemoryLease struct {
	ttl time.Duration

	mu     sync.Mutex
	leases map[string]time.Time
}

func NewMemoryLease(ttl time.Duration) *MemoryLease {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &MemoryLease{ttl: ttl, leases: make(map[string]time.Time)}
}

func (l *MemoryLease) Acquire(_ context.Context, documentID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if exp, held := l.leases[documentID]; held && time.Now().Before(exp) {
		return false, nil
	}
	l.leases[documentID] = time.Now().Add(l.ttl)
	return true, nil
}

func (l *MemoryLease) Release(_ context.Context, documentID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.leases, documentID)
	return nil
}
