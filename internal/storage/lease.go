package storage

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"suarawarga/backend/internal/logger"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLeaseTimeout is returned when a lease could not be acquired before the
// context ended.
var ErrLeaseTimeout = errors.New("lease not acquired")

// Locker hands out short-lived exclusive leases on string keys.
type Locker interface {
	// Acquire blocks until the lease is held or ctx ends. The returned
	// function releases it and is safe to call more than once.
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), err error)
}

// ClusterLeaseKey names the lease serializing cluster creation for one
// category in one region.
func ClusterLeaseKey(category, region string) string {
	return "lease:cluster:" + category + ":" + strings.ToLower(strings.TrimSpace(region))
}

// NewLocker returns a Redis backed Locker, or an in-process one when rdb is nil.
func NewLocker(rdb *redis.Client, log logger.Logger) Locker {
	if rdb == nil {
		return NewLocalLease()
	}
	return NewRedisLease(rdb, log)
}

// releaseScript deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLease implements Locker with SET NX PX, so every instance of the
// service shares the same leases.
type RedisLease struct {
	rdb  *redis.Client
	poll time.Duration
	log  logger.Logger
}

func NewRedisLease(rdb *redis.Client, log logger.Logger) *RedisLease {
	if log == nil {
		log = logger.NewNop()
	}
	return &RedisLease{rdb: rdb, poll: 25 * time.Millisecond, log: log}
}

func (l *RedisLease) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.NewString()
	ticker := time.NewTicker(l.poll)
	defer ticker.Stop()

	for {
		ok, err := l.rdb.SetNX(ctx, key, token, ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ErrLeaseTimeout
			}
			return nil, err
		}
		if ok {
			var once sync.Once
			return func() {
				once.Do(func() {
					// the lease may outlive ctx, so release on a fresh one
					rctx, cancel := context.WithTimeout(context.Background(), time.Second)
					defer cancel()
					if err := releaseScript.Run(rctx, l.rdb, []string{key}, token).Err(); err != nil {
						l.log.Warn("lease release failed, held until expiry", logger.String("key", key), logger.Error(err))
					}
				})
			}, nil
		}
		select {
		case <-ctx.Done():
			return nil, ErrLeaseTimeout
		case <-ticker.C:
		}
	}
}

// LocalLease implements Locker inside one process. The ttl is ignored: a
// holder keeps the lease until it releases it.
type LocalLease struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

func NewLocalLease() *LocalLease {
	return &LocalLease{slots: make(map[string]chan struct{})}
}

func (l *LocalLease) slot(key string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.slots[key]
	if !ok {
		ch = make(chan struct{}, 1)
		l.slots[key] = ch
	}
	return ch
}

func (l *LocalLease) Acquire(ctx context.Context, key string, _ time.Duration) (func(), error) {
	ch := l.slot(key)
	select {
	case ch <- struct{}{}:
		var once sync.Once
		return func() { once.Do(func() { <-ch }) }, nil
	case <-ctx.Done():
		return nil, ErrLeaseTimeout
	}
}
