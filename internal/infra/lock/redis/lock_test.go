package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"startpop/pkg/domain"
)

var key = domain.PopulationKey{Country: domain.CountryUK, StartYear: 2017, PopulationSize: 3}

func newLocker(t *testing.T, opts ...Option) (*Locker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return New(client, append([]Option{WithRetry(5 * time.Millisecond)}, opts...)...), mr
}

func TestAcquireRelease(t *testing.T) {
	l, mr := newLocker(t, WithTTL(time.Minute))
	release, err := l.Acquire(context.Background(), key)
	require.NoError(t, err)
	assert.True(t, mr.Exists("startpop:build:uk:2017"))
	assert.Equal(t, time.Minute, mr.TTL("startpop:build:uk:2017"))

	require.NoError(t, release(context.Background()))
	assert.False(t, mr.Exists("startpop:build:uk:2017"))
	require.NoError(t, release(context.Background()), "release is idempotent")
}

func TestHeldLockTimesOut(t *testing.T) {
	l, _ := newLocker(t)
	release, err := l.Acquire(context.Background(), key)
	require.NoError(t, err)
	defer func() { _ = release(context.Background()) }()

	other := key
	other.PopulationSize = 500
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = l.Acquire(ctx, other)
	require.ErrorIs(t, err, domain.ErrLockHeld)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestOtherYearIsIndependent(t *testing.T) {
	l, _ := newLocker(t)
	r1, err := l.Acquire(context.Background(), key)
	require.NoError(t, err)
	defer func() { _ = r1(context.Background()) }()

	other := key
	other.StartYear = 2018
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	r2, err := l.Acquire(ctx, other)
	require.NoError(t, err)
	require.NoError(t, r2(context.Background()))
}

func TestWaiterProceedsAfterRelease(t *testing.T) {
	l, _ := newLocker(t)
	release, err := l.Acquire(context.Background(), key)
	require.NoError(t, err)

	acquired := make(chan error, 1)
	go func() {
		r, err := l.Acquire(context.Background(), key)
		if err == nil {
			err = r(context.Background())
		}
		acquired <- err
	}()
	select {
	case <-acquired:
		t.Fatal("waiter acquired a held lock")
	case <-time.After(50 * time.Millisecond):
	}
	require.NoError(t, release(context.Background()))
	select {
	case err := <-acquired:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("waiter never acquired")
	}
}

func TestReleaseKeepsForeignToken(t *testing.T) {
	l, mr := newLocker(t)
	release, err := l.Acquire(context.Background(), key)
	require.NoError(t, err)
	require.NoError(t, mr.Set(l.Key(key), "someone-else"))
	require.NoError(t, release(context.Background()))
	got, err := mr.Get(l.Key(key))
	require.NoError(t, err)
	assert.Equal(t, "someone-else", got)
}

func TestConnect(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := Connect(context.Background(), "redis://"+mr.Addr())
	require.NoError(t, err)
	require.NoError(t, client.Close())

	_, err = Connect(context.Background(), "://bad")
	require.Error(t, err)
}
