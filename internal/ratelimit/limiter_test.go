package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/dispatch-engine/internal/domain"
)

func setupLimiter(t *testing.T) (*Limiter, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewLimiter(client), mr
}

func TestTryReserveWithinCaps(t *testing.T) {
	l, _ := setupLimiter(t)
	identity := &domain.SendingIdentity{ID: "id1", DailyLimit: 10, HourlyLimit: 5}

	for i := 0; i < 5; i++ {
		ok, err := l.TryReserve(context.Background(), identity)
		require.NoError(t, err)
		assert.True(t, ok)
	}

	// Hourly cap reached
	ok, err := l.TryReserve(context.Background(), identity)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTryReserveDailyCap(t *testing.T) {
	l, _ := setupLimiter(t)
	identity := &domain.SendingIdentity{ID: "id1", DailyLimit: 3, HourlyLimit: 100}

	for i := 0; i < 3; i++ {
		ok, err := l.TryReserve(context.Background(), identity)
		require.NoError(t, err)
		assert.True(t, ok)
	}

	ok, err := l.TryReserve(context.Background(), identity)
	require.NoError(t, err)
	assert.False(t, ok)

	// Denied attempt must not have consumed a slot
	u, err := l.Usage(context.Background(), identity)
	require.NoError(t, err)
	assert.Equal(t, int64(3), u.DayCurrent)
}

func TestTryReserveConcurrentExactlyCapSuccesses(t *testing.T) {
	l, _ := setupLimiter(t)
	identity := &domain.SendingIdentity{ID: "id1", DailyLimit: 7, HourlyLimit: 100}

	const attempts = 50
	var successes int64
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := l.TryReserve(context.Background(), identity)
			if err == nil && ok {
				atomic.AddInt64(&successes, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(7), successes)
}

func TestHourlyWindowResetsIndependently(t *testing.T) {
	l, _ := setupLimiter(t)
	identity := &domain.SendingIdentity{ID: "id1", DailyLimit: 10, HourlyLimit: 2}

	base := time.Date(2026, 8, 29, 10, 30, 0, 0, time.UTC)
	l.now = func() time.Time { return base }

	for i := 0; i < 2; i++ {
		ok, err := l.TryReserve(context.Background(), identity)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := l.TryReserve(context.Background(), identity)
	require.NoError(t, err)
	assert.False(t, ok)

	// Next hour: hourly bucket is fresh, daily bucket still carries 2
	l.now = func() time.Time { return base.Add(time.Hour) }
	ok, err = l.TryReserve(context.Background(), identity)
	require.NoError(t, err)
	assert.True(t, ok)

	u, err := l.Usage(context.Background(), identity)
	require.NoError(t, err)
	assert.Equal(t, int64(3), u.DayCurrent)
	assert.Equal(t, int64(1), u.HourCurrent)
}

func TestZeroCapMeansUnlimited(t *testing.T) {
	l, _ := setupLimiter(t)
	identity := &domain.SendingIdentity{ID: "id1", DailyLimit: 0, HourlyLimit: 0}

	for i := 0; i < 20; i++ {
		ok, err := l.TryReserve(context.Background(), identity)
		require.NoError(t, err)
		assert.True(t, ok)
	}
}

func TestIdentitiesAreIsolated(t *testing.T) {
	l, _ := setupLimiter(t)
	a := &domain.SendingIdentity{ID: "a", DailyLimit: 1, HourlyLimit: 1}
	b := &domain.SendingIdentity{ID: "b", DailyLimit: 1, HourlyLimit: 1}

	ok, err := l.TryReserve(context.Background(), a)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = l.TryReserve(context.Background(), b)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = l.TryReserve(context.Background(), a)
	require.NoError(t, err)
	assert.False(t, ok)
}
