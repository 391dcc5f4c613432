package lock

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrHeld is returned by TryLock when another holder owns the key.
	ErrHeld = errors.New("lock: already held")
	// ErrNotConfigured is returned when the locker has no Redis client.
	ErrNotConfigured = errors.New("lock: redis client not configured")
)

// Guard serialises work per key. Submission uses it so a register never has
// two transactions in flight.
type Guard interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error
	TryLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error
}

// RegisterKey is the lock key for submissions from one register.
func RegisterKey(registerID string) string {
	registerID = strings.TrimSpace(registerID)
	if registerID == "" {
		registerID = "default"
	}
	return "pos:submit:" + registerID
}

const releaseScript = `if redis.call("get", KEYS[1]) == ARGV[1] then
  return redis.call("del", KEYS[1])
else
  return 0
end`

// Locker is a Redis-backed Guard. Tokens make release safe after the TTL
// expired and someone else took the key.
type Locker struct {
	R            *redis.Client
	RetryBackoff time.Duration
}

// WithLock runs fn while holding key, waiting until the key frees up or ctx
// ends. The lock is released even if fn fails.
func (l Locker) WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error {
	return l.run(ctx, key, ttl, true, fn)
}

// TryLock runs fn only if key is free right now, otherwise returns ErrHeld.
func (l Locker) TryLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error {
	return l.run(ctx, key, ttl, false, fn)
}

func (l Locker) run(ctx context.Context, key string, ttl time.Duration, wait bool, fn func(context.Context) error) error {
	if l.R == nil {
		return ErrNotConfigured
	}
	if fn == nil {
		return errors.New("lock: callback not provided")
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	retry := l.RetryBackoff
	if retry <= 0 {
		retry = 50 * time.Millisecond
	}
	token := uuid.NewString()
	for {
		ok, err := l.R.SetNX(ctx, key, token, ttl).Result()
		if err != nil {
			return err
		}
		if ok {
			defer l.release(context.WithoutCancel(ctx), key, token)
			return fn(ctx)
		}
		if !wait {
			return ErrHeld
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
			_ = l.R.Del(ctx, key).Err()
		}
	}
}

// Local is an in-process Guard for single-register deployments without Redis.
// The TTL is ignored.
type Local struct {
	mu   sync.Mutex
	held map[string]chan struct{}
}

// NewLocal returns an empty in-process guard.
func NewLocal() *Local {
	return &Local{held: make(map[string]chan struct{})}
}

// WithLock runs fn while holding key, waiting for the current holder.
func (l *Local) WithLock(ctx context.Context, key string, _ time.Duration, fn func(context.Context) error) error {
	for {
		done, ok := l.acquire(key)
		if ok {
			defer l.releaseKey(key, done)
			return fn(ctx)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-done:
		}
	}
}

// TryLock runs fn only if key is free, otherwise returns ErrHeld.
func (l *Local) TryLock(ctx context.Context, key string, _ time.Duration, fn func(context.Context) error) error {
	done, ok := l.acquire(key)
	if !ok {
		return ErrHeld
	}
	defer l.releaseKey(key, done)
	return fn(ctx)
}

func (l *Local) acquire(key string) (chan struct{}, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if done, ok := l.held[key]; ok {
		return done, false
	}
	done := make(chan struct{})
	l.held[key] = done
	return done, true
}

func (l *Local) releaseKey(key string, done chan struct{}) {
	l.mu.Lock()
	delete(l.held, key)
	l.mu.Unlock()
	close(done)
}
