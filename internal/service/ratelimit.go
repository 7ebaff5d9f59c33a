package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/PhuccNguyen/hhsvhbvn/pkg/redis"
)

// Rate limiting defaults
const (
	DefaultRateLimitRequests = 5
	DefaultRateLimitWindow   = 60 * time.Second
	ActionCheckin            = "checkin"
)

// Bucket is the token state for one limiter key
type Bucket struct {
	Tokens     int
	LastRefill time.Time
}

// BucketFunc computes the next state of a bucket; save is false when nothing changed.
// It may run more than once per Update and must not have side effects.
type BucketFunc func(current Bucket, found bool) (next Bucket, save bool)

// RateLimiterStore persists buckets between checks
type RateLimiterStore interface {
	// Update reads the bucket for key, applies fn and stores the result
	// atomically. Stored buckets may be evicted after ttl of inactivity.
	Update(ctx context.Context, key string, ttl time.Duration, fn BucketFunc) error
}

// RateLimitResult is the outcome of one check
type RateLimitResult struct {
	Allowed    bool
	RetryAfter int // seconds, set when denied
	Remaining  int
	Limit      int
}

// RateLimitKey composes the limiter key so different actions do not share quota
func RateLimitKey(action, clientIP string) string {
	return action + ":" + clientIP
}

// Limiter is a token bucket that refills in whole windows: every full window
// elapsed since the last refill adds limit tokens, capped at limit.
type Limiter struct {
	locks  keyedMutex
	store  RateLimiterStore
	limit  int
	window time.Duration
	now    func() time.Time
}

// NewLimiter creates a limiter over store
func NewLimiter(store RateLimiterStore, limit int, window time.Duration) *Limiter {
	if limit <= 0 {
		limit = DefaultRateLimitRequests
	}
	if window <= 0 {
		window = DefaultRateLimitWindow
	}
	return &Limiter{
		locks:  keyedMutex{locks: make(map[string]*refMutex)},
		store:  store,
		limit:  limit,
		window: window,
		now:    time.Now,
	}
}

// Limit returns the configured tokens per window
func (l *Limiter) Limit() int { return l.limit }

// Check consumes one token for key. A store failure fails open: the result is
// allowed and the error is returned for logging.
func (l *Limiter) Check(ctx context.Context, key string) (RateLimitResult, error) {
	unlock := l.locks.Lock(key)
	defer unlock()

	now := l.now()
	open := RateLimitResult{Allowed: true, Remaining: l.limit - 1, Limit: l.limit}

	var result RateLimitResult
	err := l.store.Update(ctx, key, 2*l.window, func(bucket Bucket, found bool) (Bucket, bool) {
		var save bool
		bucket, result, save = l.take(bucket, found, now)
		return bucket, save
	})
	if err != nil {
		return open, fmt.Errorf("failed to update rate limit bucket: %w", err)
	}
	return result, nil
}

// take applies the whole-window refill and consumes a token if one is left
func (l *Limiter) take(bucket Bucket, found bool, now time.Time) (Bucket, RateLimitResult, bool) {
	if !found {
		bucket = Bucket{Tokens: l.limit, LastRefill: now}
	}

	elapsed := now.Sub(bucket.LastRefill)
	if toAdd := int(elapsed/l.window) * l.limit; toAdd > 0 {
		bucket.Tokens += toAdd
		if bucket.Tokens > l.limit {
			bucket.Tokens = l.limit
		}
		bucket.LastRefill = now
	}

	if bucket.Tokens > 0 {
		bucket.Tokens--
		return bucket, RateLimitResult{Allowed: true, Remaining: bucket.Tokens, Limit: l.limit}, true
	}

	remaining := l.window - now.Sub(bucket.LastRefill)
	retryAfter := int(math.Ceil(remaining.Seconds()))
	if retryAfter < 1 {
		retryAfter = 1
	}
	return bucket, RateLimitResult{Allowed: false, RetryAfter: retryAfter, Limit: l.limit}, false
}

// keyedMutex serializes checks of the same key inside one process
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

// Lock blocks until key is free and returns its unlock func
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

type memoryEntry struct {
	bucket    Bucket
	expiresAt time.Time
}

// MemoryLimiterStore keeps buckets in process memory
type MemoryLimiterStore struct {
	mu      sync.Mutex
	buckets map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryLimiterStore creates an empty in-process store
func NewMemoryLimiterStore() *MemoryLimiterStore {
	return &MemoryLimiterStore{buckets: make(map[string]memoryEntry), now: time.Now}
}

// Update implements RateLimiterStore
func (s *MemoryLimiterStore) Update(ctx context.Context, key string, ttl time.Duration, fn BucketFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	e, found := s.buckets[key]
	if found && now.After(e.expiresAt) {
		found = false
		e = memoryEntry{}
	}
	if next, save := fn(e.bucket, found); save {
		s.buckets[key] = memoryEntry{bucket: next, expiresAt: now.Add(ttl)}
	}
	return nil
}

// size returns the number of stored buckets
func (s *MemoryLimiterStore) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buckets)
}

// Cleanup evicts expired buckets
func (s *MemoryLimiterStore) Cleanup() int {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	evicted := 0
	for k, e := range s.buckets {
		if now.After(e.expiresAt) {
			delete(s.buckets, k)
			evicted++
		}
	}
	return evicted
}

// StartJanitor runs Cleanup every interval until ctx is cancelled
func (s *MemoryLimiterStore) StartJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Cleanup()
			}
		}
	}()
}

// RedisLimiterStore shares buckets across instances as Redis hashes. Updates
// use WATCH so two instances never both spend the same token.
type RedisLimiterStore struct {
	client *redis.Client
}

// NewRedisLimiterStore creates a store on client
func NewRedisLimiterStore(client *redis.Client) *RedisLimiterStore {
	return &RedisLimiterStore{client: client}
}

const (
	fieldTokens     = "tokens"
	fieldLastRefill = "last_refill"

	maxWatchRetries = 20
)

// ErrRateLimitContention means a bucket kept changing under every retry
var ErrRateLimitContention = errors.New("rate limit bucket contention")

// Update implements RateLimiterStore
func (s *RedisLimiterStore) Update(ctx context.Context, key string, ttl time.Duration, fn BucketFunc) error {
	redisKey := s.client.KeyBuilder.KeyRateLimit(key)

	txf := func(tx *redis.Tx) error {
		fields, err := tx.HGetAll(ctx, redisKey).Result()
		if err != nil {
			return err
		}
		bucket, found, err := parseBucket(fields)
		if err != nil {
			return err
		}

		next, save := fn(bucket, found)
		if !save {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, redisKey, fieldTokens, next.Tokens, fieldLastRefill, next.LastRefill.UnixMilli())
			pipe.PExpire(ctx, redisKey, ttl)
			return nil
		})
		return err
	}

	for i := 0; i < maxWatchRetries; i++ {
		err := s.client.Watch(ctx, txf, redisKey)
		if !errors.Is(err, redis.ErrTxFailed) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return ErrRateLimitContention
}

func parseBucket(fields map[string]string) (Bucket, bool, error) {
	if len(fields) == 0 {
		return Bucket{}, false, nil
	}
	tokens, err := strconv.Atoi(fields[fieldTokens])
	if err != nil {
		return Bucket{}, false, fmt.Errorf("corrupt tokens field: %w", err)
	}
	lastMs, err := strconv.ParseInt(fields[fieldLastRefill], 10, 64)
	if err != nil {
		return Bucket{}, false, fmt.Errorf("corrupt last_refill field: %w", err)
	}
	return Bucket{Tokens: tokens, LastRefill: time.UnixMilli(lastMs)}, true, nil
}
