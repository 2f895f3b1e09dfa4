package lock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrNotConfigured is returned when the locker has no Redis client.
	ErrNotConfigured = errors.New("lock: redis client not configured")
	// ErrNoCallback is returned when WithLock receives a nil function.
	ErrNoCallback = errors.New("lock: callback not provided")
)

const releaseScript = `if redis.call("get", KEYS[1]) == ARGV[1] then
  return redis.call("del", KEYS[1])
else
  return 0
end`

// Locker provides a Redis-backed distributed lock. Acquisition is retried every
// RetryBackoff until the context ends, so callers holding the same key run one
// after another.
type Locker struct {
	R            redis.Cmdable
	RetryBackoff time.Duration
}

// ImportKey is the lock key guarding an import of content with the given hash.
func ImportKey(fileHash string) string {
	return fmt.Sprintf("import:%s", fileHash)
}

// WithLock executes fn while holding a lock for key. The lock is released after
// fn returns, including on error, and only if this holder still owns it.
func (l Locker) WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error {
	if l.R == nil {
		return ErrNotConfigured
	}
	if fn == nil {
		return ErrNoCallback
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	token := uuid.NewString()
	retry := l.RetryBackoff
	if retry <= 0 {
		retry = 50 * time.Millisecond
	}

	for {
		ok, err := l.R.SetNX(ctx, key, token, ttl).Result()
		if err != nil {
			return fmt.Errorf("lock %s: %w", key, err)
		}
		if ok {
			defer l.release(context.WithoutCancel(ctx), key, token)
			return fn(ctx)
		}
		timer := time.NewTimer(retry)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (l Locker) release(ctx context.Context, key, token string) {
	if err := l.R.Eval(ctx, releaseScript, []string{key}, token).Err(); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "unknown command") {
			if held, getErr := l.R.Get(ctx, key).Result(); getErr == nil && held == token {
				_ = l.R.Del(ctx, key).Err()
			}
		}
	}
}
