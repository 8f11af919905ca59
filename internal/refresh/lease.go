package refresh

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"virtual-office/pkg/utils"
)

// Lease keeps two sweeps from running at once. It does not rate limit: a
// sweep that finds the lease free always runs.
type Lease interface {
	// TryAcquire returns ok=false when another holder is sweeping.
	TryAcquire(ctx context.Context) (release func(), ok bool, err error)
}

// LocalLease serializes sweeps inside one process.
type LocalLease struct {
	mu sync.Mutex
}

func (l *LocalLease) TryAcquire(context.Context) (func(), bool, error) {
	if !l.mu.TryLock() {
		return nil, false, nil
	}
	return l.mu.Unlock, true, nil
}

// RedisLease serializes sweeps across API replicas.
type RedisLease struct {
	rdb *redis.Client
	key string
	ttl time.Duration
	log *slog.Logger
}

const (
	DefaultLeaseKey   = "lease:reminder-sweep"
	ReconcileLeaseKey = "lease:status-reconcile"
)

// NewRedisLease returns a lease on key. ttl must outlast a sweep; it only
// matters when a holder dies without releasing.
func NewRedisLease(rdb *redis.Client, key string, ttl time.Duration, log *slog.Logger) *RedisLease {
	if key == "" {
		key = DefaultLeaseKey
	}
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	if log == nil {
		log = slog.Default()
	}
	return &RedisLease{rdb: rdb, key: key, ttl: ttl, log: log}
}

func (l *RedisLease) TryAcquire(ctx context.Context) (func(), bool, error) {
	owner := uuid.NewString()
	ok, err := utils.AcquireLease(ctx, l.rdb, l.key, owner, l.ttl)
	if err != nil || !ok {
		return nil, false, err
	}
	return func() {
		// The tick context may already be done.
		rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := utils.ReleaseLease(rctx, l.rdb, l.key, owner); err != nil {
			l.log.Warn("sweep lease release failed", "key", l.key, "err", err)
		}
	}, true, nil
}
