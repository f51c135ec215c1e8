package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memoryEntry struct {
	token     string
	expiresAt time.Time
}

// memoryLocker is the single-instance stand-in for Locker when redis is off.
type memoryLocker struct {
	mu    sync.Mutex
	now   func() time.Time
	locks map[string]memoryEntry
}

func newMemoryLocker(now func() time.Time) *memoryLocker {
	return &memoryLocker{now: now, locks: make(map[string]memoryEntry)}
}

func (l *memoryLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	if err := checkLockArgs(key, ttl); err != nil {
		return "", false, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if entry, ok := l.locks[key]; ok && now.Before(entry.expiresAt) {
		return "", false, nil
	}
	token := uuid.NewString()
	l.locks[key] = memoryEntry{token: token, expiresAt: now.Add(ttl)}
	return token, true, nil
}

func (l *memoryLocker) Release(ctx context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if entry, ok := l.locks[key]; ok && entry.token == token {
		delete(l.locks, key)
	}
	return nil
}

type memoryBucketState struct {
	tokens float64
	ts     time.Time
}

type memoryBucket struct {
	mu      sync.Mutex
	now     func() time.Time
	buckets map[string]*memoryBucketState
}

func newMemoryBucket(now func() time.Time) *memoryBucket {
	return &memoryBucket{now: now, buckets: make(map[string]*memoryBucketState)}
}

func (b *memoryBucket) Allow(ctx context.Context, key string, rate float64, burst int) (*RateLimitResult, error) {
	if err := checkBucketArgs(key, rate, burst); err != nil {
		return &RateLimitResult{Allowed: false}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	state, ok := b.buckets[key]
	if !ok {
		state = &memoryBucketState{tokens: float64(burst), ts: now}
		b.buckets[key] = state
	} else if delta := now.Sub(state.ts); delta > 0 {
		state.tokens = math.Min(float64(burst), state.tokens+delta.Seconds()*rate)
		state.ts = now
	}

	allowed := state.tokens >= 1
	if allowed {
		state.tokens--
	}
	return &RateLimitResult{
		Allowed:    allowed,
		Limit:      burst,
		Remaining:  int(state.tokens),
		RetryAfter: retryAfter(allowed, state.tokens, rate),
	}, nil
}
