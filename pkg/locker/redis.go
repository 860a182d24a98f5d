package locker

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"tradecore/pkg/exception"
)

// releaseScript deletes the key only when it still carries the owner
// token, so a lock that expired and was re-acquired elsewhere is never
// released by the previous holder.
const releaseScript = `if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end`

// redisCmd is the slice of go-redis the lock needs; tests fake it.
type redisCmd interface {
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...any) *redis.Cmd
}

// RedisLock acquires a TTL-bound lock in redis via SET key value NX PX.
type RedisLock struct {
	client redisCmd
	key    string
	token  string
	ttl    time.Duration

	// acquireWait bounds how long Acquire polls before giving up.
	acquireWait  time.Duration
	pollInterval time.Duration
}

// NewRedisLock builds a lock for key with the given owner token and TTL.
func NewRedisLock(client redisCmd, key, token string, ttl time.Duration) (*RedisLock, error) {
	if client == nil {
		return nil, exception.ErrNilInstance
	}
	if token == "" {
		return nil, exception.ErrLockBadOwner
	}
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &RedisLock{
		client:       client,
		key:          key,
		token:        token,
		ttl:          ttl,
		acquireWait:  time.Second,
		pollInterval: 50 * time.Millisecond,
	}, nil
}

// Acquire takes the lock, polling until the bounded wait expires.
// Failure to acquire within the window surfaces ErrLockTimeout.
func (l *RedisLock) Acquire(ctx context.Context) error {
	deadline := time.Now().Add(l.acquireWait)
	for {
		ok, err := l.client.SetNX(ctx, l.key, l.token, l.ttl).Result()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if time.Now().After(deadline) {
			return exception.ErrLockTimeout
		}
		timer := time.NewTimer(l.pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// refreshScript extends the TTL only for the current owner.
const refreshScript = `if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
else
	return 0
end`

// Refresh extends the lock TTL. Returns ErrLockNotHeld when the key
// expired or belongs to another owner.
func (l *RedisLock) Refresh(ctx context.Context) error {
	extended, err := l.client.Eval(ctx, refreshScript, []string{l.key}, l.token, l.ttl.Milliseconds()).Int64()
	if err != nil {
		return err
	}
	if extended == 0 {
		return exception.ErrLockNotHeld
	}
	return nil
}

// Release frees the lock with a compare-and-delete. Returns
// ErrLockNotHeld when the key expired or belongs to another owner.
func (l *RedisLock) Release(ctx context.Context) error {
	deleted, err := l.client.Eval(ctx, releaseScript, []string{l.key}, l.token).Int64()
	if err != nil {
		return err
	}
	if deleted == 0 {
		return exception.ErrLockNotHeld
	}
	return nil
}
