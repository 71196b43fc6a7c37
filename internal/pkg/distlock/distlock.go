// Package distlock provides best-effort cross-replica locks for jobs that
// should normally run on one replica at a time (currently only the KPI
// snapshot writer). Queue claim exclusivity does NOT come from here — it
// comes from the database's skip-locked claim statement.
package distlock

import (
	"context"
	"database/sql"
	"hash/fnv"
	"time"

	"github.com/redis/go-redis/v9"
)

// DistLock is a try-lock: Acquire never blocks waiting for the holder.
// A single instance is meant for one acquire/release cycle on one
// goroutine; create a fresh lock per use.
type DistLock interface {
	// Acquire attempts to take the lock, returning true on success.
	Acquire(ctx context.Context) (bool, error)
	// Release gives the lock back if this instance still holds it.
	Release(ctx context.Context) error
}

// New picks the backend: Redis when a client is configured, otherwise
// Postgres advisory locks on the primary database.
func New(redisClient *redis.Client, db *sql.DB, key string, ttl time.Duration) DistLock {
	if redisClient != nil {
		return NewRedisLock(redisClient, key, ttl)
	}
	return NewAdvisoryLock(db, key)
}

// AdvisoryLock implements DistLock with pg_try_advisory_lock. The lock is
// session-scoped: if the holding connection drops, Postgres releases it,
// which gives crash-safety comparable to a Redis TTL.
type AdvisoryLock struct {
	db     *sql.DB
	lockID int64
}

// NewAdvisoryLock derives a stable 64-bit lock ID from the key.
func NewAdvisoryLock(db *sql.DB, key string) *AdvisoryLock {
	h := fnv.New64a()
	h.Write([]byte(key))
	return &AdvisoryLock{db: db, lockID: int64(h.Sum64())}
}

// Acquire is non-blocking; it returns false immediately when another
// session holds the lock.
func (l *AdvisoryLock) Acquire(ctx context.Context) (bool, error) {
	var got bool
	err := l.db.QueryRowContext(ctx, `SELECT pg_try_advisory_lock($1)`, l.lockID).Scan(&got)
	return got, err
}

// Release unlocks the advisory lock.
func (l *AdvisoryLock) Release(ctx context.Context) error {
	_, err := l.db.ExecContext(ctx, `SELECT pg_advisory_unlock($1)`, l.lockID)
	return err
}
