package lock_test

import (
	"context"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/pos-settlement/internal/lock"
)

func newLocker(t *testing.T) (lock.Locker, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return lock.Locker{R: client, RetryBackoff: 5 * time.Millisecond}, mr
}

func TestWithLockSerialisesSubmissions(t *testing.T) {
	locker, _ := newLocker(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	var order []string
	var mu sync.Mutex
	firstDone := make(chan struct{})
	releaseFirst := make(chan struct{})
	errs := make(chan error, 2)
	key := lock.RegisterKey("reg-1")

	go func() {
		errs <- locker.WithLock(ctx, key, 100*time.Millisecond, func(context.Context) error {
			mu.Lock()
			order = append(order, "first")
			mu.Unlock()
			close(firstDone)
			<-releaseFirst
			return nil
		})
	}()

	<-firstDone

	go func() {
		errs <- locker.WithLock(ctx, key, 100*time.Millisecond, func(context.Context) error {
			mu.Lock()
			order = append(order, "second")
			mu.Unlock()
			return nil
		})
	}()

	close(releaseFirst)
	require.NoError(t, <-errs)
	require.NoError(t, <-errs)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"first", "second"}, order)
}

func TestTryLockFailsFastWhileHeld(t *testing.T) {
	locker, mr := newLocker(t)
	ctx := context.Background()
	key := lock.RegisterKey("reg-2")

	err := locker.TryLock(ctx, key, time.Second, func(ctx context.Context) error {
		require.True(t, mr.Exists(key))
		return locker.TryLock(ctx, key, time.Second, func(context.Context) error { return nil })
	})
	require.ErrorIs(t, err, lock.ErrHeld)
	require.False(t, mr.Exists(key), "lock released after callback")
}

func TestLocalGuard(t *testing.T) {
	g := lock.NewLocal()
	ctx := context.Background()
	err := g.TryLock(ctx, "k", 0, func(ctx context.Context) error {
		return g.TryLock(ctx, "k", 0, func(context.Context) error { return nil })
	})
	require.ErrorIs(t, err, lock.ErrHeld)
	require.NoError(t, g.WithLock(ctx, "k", 0, func(context.Context) error { return nil }))
}

func TestRegisterKey(t *testing.T) {
	require.Equal(t, "pos:submit:reg-9", lock.RegisterKey(" reg-9 "))
	require.Equal(t, "pos:submit:default", lock.RegisterKey(""))
}

func TestLockerWithoutClient(t *testing.T) {
	err := lock.Locker{}.WithLock(context.Background(), "k", 0, func(context.Context) error { return nil })
	require.ErrorIs(t, err, lock.ErrNotConfigured)
}
