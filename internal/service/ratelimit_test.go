package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PhuccNguyen/hhsvhbvn/pkg/redis"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 9, 27, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newMemoryLimiter(clock *fakeClock, limit int, window time.Duration) (*Limiter, *MemoryLimiterStore) {
	store := NewMemoryLimiterStore()
	store.now = clock.Now
	l := NewLimiter(store, limit, window)
	l.now = clock.Now
	return l, store
}

func newRedisLimiter(t *testing.T, clock *fakeClock, limit int, window time.Duration) (*Limiter, *miniredis.Miniredis, *redis.Client) {
	mr := miniredis.RunT(t)
	client, err := redis.NewClient("redis://"+mr.Addr(), "test", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	l := NewLimiter(NewRedisLimiterStore(client), limit, window)
	l.now = clock.Now
	return l, mr, client
}

func TestLimiter_SixthCallDenied(t *testing.T) {
	clock := newFakeClock()
	l, _ := newMemoryLimiter(clock, 5, time.Minute)
	ctx := context.Background()
	key := RateLimitKey(ActionCheckin, "203.0.113.7")

	for i := 0; i < 5; i++ {
		res, err := l.Check(ctx, key)
		require.NoError(t, err)
		assert.True(t, res.Allowed, "call %d", i+1)
		assert.Equal(t, 4-i, res.Remaining)
	}

	clock.Advance(10 * time.Second)
	res, err := l.Check(ctx, key)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, 50, res.RetryAfter)
	assert.Equal(t, 0, res.Remaining)
}

func TestLimiter_RefillsAfterWindow(t *testing.T) {
	clock := newFakeClock()
	l, _ := newMemoryLimiter(clock, 5, time.Minute)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, _ = l.Check(ctx, "checkin:a")
	}
	res, _ := l.Check(ctx, "checkin:a")
	require.False(t, res.Allowed)

	clock.Advance(59 * time.Second)
	res, _ = l.Check(ctx, "checkin:a")
	assert.False(t, res.Allowed)
	assert.Equal(t, 1, res.RetryAfter)

	clock.Advance(time.Second)
	res, _ = l.Check(ctx, "checkin:a")
	assert.True(t, res.Allowed)
	assert.Equal(t, 4, res.Remaining)
}

func TestLimiter_RefillIsWholeWindowAndCapped(t *testing.T) {
	clock := newFakeClock()
	l, _ := newMemoryLimiter(clock, 3, time.Minute)
	ctx := context.Background()

	_, _ = l.Check(ctx, "k")
	_, _ = l.Check(ctx, "k")

	// 90s holds one whole window; the extra 30s is discarded
	clock.Advance(90 * time.Second)
	res, _ := l.Check(ctx, "k")
	assert.True(t, res.Allowed)
	assert.Equal(t, 2, res.Remaining, "one full window refilled to the cap")

	clock.Advance(10 * time.Minute)
	res, _ = l.Check(ctx, "k")
	assert.Equal(t, 2, res.Remaining, "many windows never exceed the cap")
}

func TestLimiter_KeysAreIndependent(t *testing.T) {
	clock := newFakeClock()
	l, _ := newMemoryLimiter(clock, 1, time.Minute)
	ctx := context.Background()

	first, _ := l.Check(ctx, RateLimitKey(ActionCheckin, "10.0.0.1"))
	other, _ := l.Check(ctx, RateLimitKey(ActionCheckin, "10.0.0.2"))
	otherAction, _ := l.Check(ctx, RateLimitKey("health", "10.0.0.1"))
	again, _ := l.Check(ctx, RateLimitKey(ActionCheckin, "10.0.0.1"))

	assert.True(t, first.Allowed)
	assert.True(t, other.Allowed)
	assert.True(t, otherAction.Allowed)
	assert.False(t, again.Allowed)
}

func TestLimiter_ConcurrentChecksNeverOverAdmit(t *testing.T) {
	clock := newFakeClock()
	l, _ := newMemoryLimiter(clock, 5, time.Minute)
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, _ := l.Check(ctx, "checkin:burst")
			if res.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, allowed)
}

type brokenStore struct{}

func (brokenStore) Update(ctx context.Context, key string, ttl time.Duration, fn BucketFunc) error {
	return errors.New("connection refused")
}

func TestLimiter_FailsOpenOnStoreError(t *testing.T) {
	l := NewLimiter(brokenStore{}, 5, time.Minute)

	for i := 0; i < 10; i++ {
		res, err := l.Check(context.Background(), "checkin:x")
		assert.Error(t, err)
		assert.True(t, res.Allowed)
	}
}

func TestNewLimiter_Defaults(t *testing.T) {
	l := NewLimiter(NewMemoryLimiterStore(), 0, 0)

	assert.Equal(t, DefaultRateLimitRequests, l.Limit())
	assert.Equal(t, DefaultRateLimitWindow, l.window)
}

func TestMemoryLimiterStore_Cleanup(t *testing.T) {
	clock := newFakeClock()
	l, store := newMemoryLimiter(clock, 5, time.Minute)
	ctx := context.Background()

	_, _ = l.Check(ctx, "checkin:old")
	clock.Advance(90 * time.Second)
	_, _ = l.Check(ctx, "checkin:new")
	require.Equal(t, 2, store.size())

	clock.Advance(31 * time.Second)
	assert.Equal(t, 1, store.Cleanup())
	assert.Equal(t, 1, store.size())

	var found bool
	require.NoError(t, store.Update(ctx, "checkin:old", time.Minute, func(b Bucket, ok bool) (Bucket, bool) {
		found = ok
		return b, false
	}))
	assert.False(t, found)
}

func TestMemoryLimiterStore_Janitor(t *testing.T) {
	store := NewMemoryLimiterStore()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, store.Update(ctx, "k", time.Millisecond, func(Bucket, bool) (Bucket, bool) {
		return Bucket{Tokens: 1}, true
	}))
	store.StartJanitor(ctx, 5*time.Millisecond)

	assert.Eventually(t, func() bool { return store.size() == 0 }, time.Second, 5*time.Millisecond)
}

func TestRedisLimiterStore_BehavesLikeMemory(t *testing.T) {
	clock := newFakeClock()
	l, mr, client := newRedisLimiter(t, clock, 5, time.Minute)
	ctx := context.Background()
	key := RateLimitKey(ActionCheckin, "198.51.100.4")

	for i := 0; i < 5; i++ {
		res, err := l.Check(ctx, key)
		require.NoError(t, err)
		require.True(t, res.Allowed)
	}

	res, err := l.Check(ctx, key)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, 60, res.RetryAfter)

	redisKey := client.KeyBuilder.KeyRateLimit(key)
	assert.Equal(t, "0", mr.HGet(redisKey, "tokens"))
	assert.Equal(t, 2*time.Minute, mr.TTL(redisKey))

	clock.Advance(time.Minute)
	res, err = l.Check(ctx, key)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, 4, res.Remaining)
}

func TestRedisLimiterStore_SharedAcrossLimiters(t *testing.T) {
	clock := newFakeClock()
	first, _, client := newRedisLimiter(t, clock, 2, time.Minute)
	second := NewLimiter(NewRedisLimiterStore(client), 2, time.Minute)
	second.now = clock.Now
	ctx := context.Background()

	a, _ := first.Check(ctx, "checkin:shared")
	b, _ := second.Check(ctx, "checkin:shared")
	c, _ := first.Check(ctx, "checkin:shared")

	assert.True(t, a.Allowed)
	assert.True(t, b.Allowed)
	assert.False(t, c.Allowed)
}

func TestRedisLimiterStore_CorruptBucket(t *testing.T) {
	clock := newFakeClock()
	l, mr, client := newRedisLimiter(t, clock, 5, time.Minute)

	mr.HSet(client.KeyBuilder.KeyRateLimit("checkin:bad"), "tokens", "many", "last_refill", "0")

	res, err := l.Check(context.Background(), "checkin:bad")
	assert.Error(t, err)
	assert.True(t, res.Allowed)
}

func TestLimiter_ReleasesKeyLocks(t *testing.T) {
	clock := newFakeClock()
	l, _ := newMemoryLimiter(clock, 5, time.Minute)

	for _, ip := range []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"} {
		_, _ = l.Check(context.Background(), RateLimitKey(ActionCheckin, ip))
	}

	l.locks.mu.Lock()
	defer l.locks.mu.Unlock()
	assert.Empty(t, l.locks.locks)
}

func TestRedisLimiterStore_RetriesWhenBucketChanges(t *testing.T) {
	_, mr, client := newRedisLimiter(t, newFakeClock(), 5, time.Minute)
	store := NewRedisLimiterStore(client)
	ctx := context.Background()
	redisKey := client.KeyBuilder.KeyRateLimit("checkin:race")
	refill := time.Date(2025, 9, 27, 9, 0, 0, 0, time.UTC)

	var seen []Bucket
	err := store.Update(ctx, "checkin:race", time.Minute, func(b Bucket, found bool) (Bucket, bool) {
		seen = append(seen, b)
		if len(seen) == 1 {
			// Another instance spends a token between our read and write
			other := NewRedisLimiterStore(client)
			require.NoError(t, other.Update(ctx, "checkin:race", time.Minute, func(Bucket, bool) (Bucket, bool) {
				return Bucket{Tokens: 2, LastRefill: refill}, true
			}))
			return Bucket{Tokens: 4, LastRefill: refill}, true
		}
		return Bucket{Tokens: b.Tokens - 1, LastRefill: b.LastRefill}, true
	})

	require.NoError(t, err)
	require.Len(t, seen, 2)
	assert.Equal(t, 2, seen[1].Tokens)

	assert.Equal(t, "1", mr.HGet(redisKey, "tokens"))
}

func TestRedisLimiterStore_ConcurrentInstancesNeverOverAdmit(t *testing.T) {
	clock := newFakeClock()
	first, _, client := newRedisLimiter(t, clock, 5, time.Minute)
	second := NewLimiter(NewRedisLimiterStore(client), 5, time.Minute)
	second.now = clock.Now
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
		errs    int
	)
	for i := 0; i < 10; i++ {
		for _, l := range []*Limiter{first, second} {
			wg.Add(1)
			go func(l *Limiter) {
				defer wg.Done()
				res, err := l.Check(ctx, "checkin:burst")
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					errs++
				}
				if res.Allowed {
					allowed++
				}
			}(l)
		}
	}
	wg.Wait()

	assert.Zero(t, errs)
	assert.Equal(t, 5, allowed)
}
