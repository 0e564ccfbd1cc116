package lock

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

const (
	DefaultRedisLockTTL    = 30 * time.Second
	redisLockRetryInterval = 100 * time.Millisecond
)

var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

var refreshScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

type redisLease struct {
	token string
	stop  context.CancelFunc
	done  chan struct{}
}

// RedisDistributedLockManager holds locks as SET NX PX keys owned by a random
// token. A background refresher extends the expiry while the lock is held, so
// a crashed holder frees the lock after one TTL.
type RedisDistributedLockManager struct {
	client goredis.UniversalClient
	prefix string
	ttl    time.Duration

	mu     sync.Mutex
	leases map[int]*redisLease
}

func NewRedisDistributedLockManager(client goredis.UniversalClient, prefix string, ttl time.Duration) *RedisDistributedLockManager {
	if prefix == "" {
		prefix = "firequeue"
	}
	if ttl <= 0 {
		ttl = DefaultRedisLockTTL
	}
	return &RedisDistributedLockManager{
		client: client,
		prefix: prefix,
		ttl:    ttl,
		leases: make(map[int]*redisLease),
	}
}

func (l *RedisDistributedLockManager) key(lockID int) string {
	return l.prefix + ":lock:" + strconv.Itoa(lockID)
}

func (l *RedisDistributedLockManager) Acquire(ctx context.Context, lockID int) error {
	return acquireByPolling(ctx, l, lockID, redisLockRetryInterval)
}

func (l *RedisDistributedLockManager) TryAcquire(ctx context.Context, lockID int) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.leases[lockID]; ok {
		return false, nil
	}

	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key(lockID), token, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !ok {
		return false, nil
	}

	refreshCtx, stop := context.WithCancel(context.Background())
	lease := &redisLease{token: token, stop: stop, done: make(chan struct{})}
	l.leases[lockID] = lease
	go l.refresh(refreshCtx, lockID, lease)
	return true, nil
}

func (l *RedisDistributedLockManager) Release(ctx context.Context, lockID int) error {
	l.mu.Lock()
	lease, ok := l.leases[lockID]
	delete(l.leases, lockID)
	l.mu.Unlock()

	if !ok {
		return ErrNotHeld
	}
	lease.stop()
	<-lease.done

	if err := releaseScript.Run(ctx, l.client, []string{l.key(lockID)}, lease.token).Err(); err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

func (l *RedisDistributedLockManager) refresh(ctx context.Context, lockID int, lease *redisLease) {
	defer close(lease.done)

	ticker := time.NewTicker(l.ttl / 3)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = refreshScript.Run(ctx, l.client, []string{l.key(lockID)}, lease.token, l.ttl.Milliseconds()).Err()
		}
	}
}
