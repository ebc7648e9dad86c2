package ratelimit

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenBucketBurst(t *testing.T) {
	tb := NewTokenBucket(1, 5)

	for i := 0; i < 5; i++ {
		assert.True(t, tb.Allow(), "request %d should be allowed", i)
	}
	assert.False(t, tb.Allow(), "request beyond burst should be denied")
	assert.Equal(t, time.Second, tb.Interval())
}

func TestTokenBucketWaitHonoursContext(t *testing.T) {
	tb := NewTokenBucket(0.01, 1)
	require.True(t, tb.Allow())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, tb.Wait(ctx))
}

func TestUnlimited(t *testing.T) {
	tb := NewUnlimited()
	for i := 0; i < 1000; i++ {
		require.True(t, tb.Allow())
	}
	assert.Equal(t, time.Duration(0), tb.Interval())
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestGateRejectsAtThreshold(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 14, 15, 0, 0, 0, time.UTC)
	log := NewMemoryRequestLog()
	gate := NewGate(log, DefaultDailyLimit).WithClock(fixedClock(now))

	for i := 0; i < DefaultDailyLimit; i++ {
		adm, err := gate.Acquire(ctx, "u1")
		require.NoError(t, err)
		require.True(t, adm.Allowed, "run %d should be admitted", i)
		assert.Equal(t, i+1, adm.Used)
	}

	adm, err := gate.Acquire(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, adm.Allowed)
	assert.Equal(t, 10, adm.Used)
	assert.Equal(t, 0, adm.Remaining())

	peek, err := gate.Admit(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, adm, peek, "rejected acquire records nothing")

	other, err := gate.Admit(ctx, "u2")
	require.NoError(t, err)
	assert.True(t, other.Allowed)
	assert.Equal(t, 10, other.Remaining())

	left, err := gate.Remaining(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 0, left)
	assert.Equal(t, DefaultDailyLimit, gate.Threshold())
}

func TestGateCountsOnlySinceMidnightUTC(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 14, 0, 30, 0, 0, time.UTC)
	log := NewMemoryRequestLog()

	yesterday := now.Add(-time.Hour)
	for i := 0; i < 5; i++ {
		require.NoError(t, log.AppendRequest(ctx, "u1", yesterday))
	}
	require.NoError(t, log.AppendRequest(ctx, "u1", StartOfDay(now)))

	adm, err := NewGate(log, 2).WithClock(fixedClock(now)).Admit(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, adm.Used)
	assert.True(t, adm.Allowed)
}

func TestGateZeroThresholdAdmitsAll(t *testing.T) {
	ctx := context.Background()
	log := NewMemoryRequestLog()
	gate := NewGate(log, 0)
	for i := 0; i < 50; i++ {
		adm, err := gate.Acquire(ctx, "u1")
		require.NoError(t, err)
		require.True(t, adm.Allowed)
	}
	adm, err := gate.Admit(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, adm.Allowed)
	assert.Equal(t, 50, adm.Used)
	assert.Equal(t, -1, adm.Remaining())
}

// slowCountLog widens the window between reading the count and appending
type slowCountLog struct {
	*MemoryRequestLog
	delay time.Duration
}

func (l slowCountLog) CountRequestsSince(ctx context.Context, userID string, since time.Time) (int, error) {
	n, err := l.MemoryRequestLog.CountRequestsSince(ctx, userID, since)
	time.Sleep(l.delay)
	return n, err
}

func TestGateAcquireIsAtomicUnderConcurrency(t *testing.T) {
	ctx := context.Background()
	log := slowCountLog{MemoryRequestLog: NewMemoryRequestLog(), delay: 5 * time.Millisecond}
	gate := NewGate(log, 1)

	const callers = 20
	var (
		wg       sync.WaitGroup
		admitted atomic.Int32
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			adm, err := gate.Acquire(ctx, "u1")
			assert.NoError(t, err)
			if adm.Allowed {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), admitted.Load())
	n, err := log.CountRequestsSince(ctx, "u1", StartOfDay(time.Now()))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestMemoryReserveRequestIgnoresOlderRequests(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	log := NewMemoryRequestLog()
	require.NoError(t, log.AppendRequest(ctx, "u1", now.Add(-24*time.Hour)))

	used, ok, err := log.ReserveRequest(ctx, "u1", StartOfDay(now), now, 1)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, used)

	used, ok, err = log.ReserveRequest(ctx, "u1", StartOfDay(now), now, 1)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 1, used)
}

func TestStartOfDayNormalizesZone(t *testing.T) {
	tokyo := time.FixedZone("JST", 9*3600)
	local := time.Date(2025, 3, 15, 2, 0, 0, 0, tokyo)
	assert.Equal(t, time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC), StartOfDay(local))
}

func TestRedisRequestLog(t *testing.T) {
	addr := os.Getenv("XDIGEST_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("XDIGEST_TEST_REDIS_ADDR not set")
	}

	ctx := context.Background()
	client, err := NewRedisClient(ctx, addr, "", 0)
	require.NoError(t, err)
	defer client.Close()

	log := NewRedisRequestLog(client)
	user := "test-" + uuid.NewString()
	now := time.Now().UTC()

	require.NoError(t, log.AppendRequest(ctx, user, now.Add(-30*time.Hour)))
	require.NoError(t, log.AppendRequest(ctx, user, now))
	require.NoError(t, log.AppendRequest(ctx, user, now))

	n, err := log.CountRequestsSince(ctx, user, now.Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	used, ok, err := log.ReserveRequest(ctx, user, now.Add(-time.Minute), now, 3)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 3, used)

	used, ok, err = log.ReserveRequest(ctx, user, now.Add(-time.Minute), now, 3)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 3, used)

	client.Del(ctx, log.key(user))
}
