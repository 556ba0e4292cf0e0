// Package distlock serializes singleton background work (inbox polling,
// breach sweeps) across processes. Redis is the preferred backend; without
// Redis the store-backed lease gives the same single-holder guarantee
// through the database.
package distlock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sgunadhya/oxidesk/internal/store"
)

// DistLock is the interface for distributed locking.
// Implementations must be safe for use from a single goroutine;
// concurrent use across goroutines requires separate lock instances.
type DistLock interface {
	// Acquire tries to acquire the lock. Returns true if successful.
	Acquire(ctx context.Context) (bool, error)
	// Release releases the lock if we still own it.
	Release(ctx context.Context) error
}

// NewLock creates a distributed lock using the best available backend.
// If redisClient is non-nil, uses Redis (preferred for cross-host locking).
// Otherwise falls back to a lease row in the store.
func NewLock(redisClient *redis.Client, leases store.LockStore, key string, ttl time.Duration) DistLock {
	if redisClient != nil {
		return NewRedisLock(redisClient, key, ttl)
	}
	return NewLeaseLock(leases, key, ttl)
}

// LeaseLock implements DistLock on the store's lease table. The TTL bounds
// how long a crashed holder blocks other processes.
type LeaseLock struct {
	leases store.LockStore
	key    string
	owner  string
	ttl    time.Duration
}

// NewLeaseLock creates a store-backed lock with a random owner token.
func NewLeaseLock(leases store.LockStore, key string, ttl time.Duration) *LeaseLock {
	b := make([]byte, 16)
	rand.Read(b)
	return &LeaseLock{
		leases: leases,
		key:    key,
		owner:  hex.EncodeToString(b),
		ttl:    ttl,
	}
}

// Acquire tries to take the lease. Returns true if this instance now holds
// it; an unexpired lease held by another owner loses the race.
func (l *LeaseLock) Acquire(ctx context.Context) (bool, error) {
	return l.leases.AcquireLease(ctx, l.key, l.owner, l.ttl)
}

// Release drops the lease if this instance still owns it.
func (l *LeaseLock) Release(ctx context.Context) error {
	return l.leases.ReleaseLease(ctx, l.key, l.owner)
}
