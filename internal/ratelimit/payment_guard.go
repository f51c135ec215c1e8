package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/schoolledger/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	keyPaymentLock    = "payment:lock:%s:%s"
	keyCashierPayment = "payment:cashier:%s:%s"
)

var (
	ErrPaymentInProgress = errors.New("payment_in_progress")
	ErrRateLimited       = errors.New("rate_limited")
)

// PaymentGuard rejects concurrent submissions of the same idempotency key and
// throttles payments per cashier. The database unique key stays the authority
// on duplicates; the guard only fails them early.
type PaymentGuard struct {
	locker  lockBackend
	bucket  bucketBackend
	log     *zap.Logger
	lockTTL time.Duration
	rate    float64
	burst   int
}

type GuardParams struct {
	fx.In

	Lifecycle fx.Lifecycle `optional:"true"`
	Config    config.Config
	Log       *zap.Logger
}

func NewPaymentGuard(p GuardParams) (*PaymentGuard, error) {
	redisCfg := p.Config.Redis
	guard := &PaymentGuard{
		log:     p.Log.Named("ratelimit.payment"),
		lockTTL: time.Duration(redisCfg.PaymentLockTTLSeconds) * time.Second,
		rate:    redisCfg.CashierRate,
		burst:   redisCfg.CashierBurst,
	}
	if guard.lockTTL <= 0 {
		guard.lockTTL = 30 * time.Second
	}

	if !redisCfg.Enabled {
		guard.locker = newMemoryLocker(time.Now)
		guard.bucket = newMemoryBucket(time.Now)
		guard.log.Info("payment guard using in-memory backend")
		return guard, nil
	}

	addr := strings.TrimSpace(redisCfg.Addr)
	if addr == "" {
		return nil, errors.New("redis addr is required when redis is enabled")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: redisCfg.Password,
		DB:       redisCfg.DB,
	})
	if p.Lifecycle != nil {
		p.Lifecycle.Append(fx.Hook{
			OnStop: func(context.Context) error { return client.Close() },
		})
	}
	guard.locker = NewLocker(client)
	guard.bucket = NewTokenBucket(client)
	return guard, nil
}

func newPaymentGuard(locker lockBackend, bucket bucketBackend, lockTTL time.Duration, rate float64, burst int) *PaymentGuard {
	return &PaymentGuard{
		locker:  locker,
		bucket:  bucket,
		log:     zap.NewNop(),
		lockTTL: lockTTL,
		rate:    rate,
		burst:   burst,
	}
}

// AcquireKey marks an idempotency key as in flight. The returned release
// must be called once the payment transaction finishes.
func (g *PaymentGuard) AcquireKey(ctx context.Context, schoolID, idempotencyKey string) (func(), error) {
	noop := func() {}
	if g == nil || g.locker == nil || strings.TrimSpace(idempotencyKey) == "" {
		return noop, nil
	}

	key := fmt.Sprintf(keyPaymentLock, schoolID, strings.TrimSpace(idempotencyKey))
	token, ok, err := g.locker.TryLock(ctx, key, g.lockTTL)
	if err != nil {
		g.log.Warn("payment lock unavailable, relying on the payment_requests claim", zap.Error(err))
		return noop, nil
	}
	if !ok {
		return nil, ErrPaymentInProgress
	}
	return func() {
		if err := g.locker.Release(context.WithoutCancel(ctx), key, token); err != nil {
			g.log.Warn("failed to release payment lock", zap.String("key", key), zap.Error(err))
		}
	}, nil
}

// AllowCashier spends one token of the cashier's bucket. Backend failures
// fail open.
func (g *PaymentGuard) AllowCashier(ctx context.Context, schoolID, cashierID string) error {
	if g == nil || g.bucket == nil || g.rate <= 0 || g.burst <= 0 {
		return nil
	}
	key := fmt.Sprintf(keyCashierPayment, schoolID, strings.TrimSpace(cashierID))
	res, err := g.bucket.Allow(ctx, key, g.rate, g.burst)
	if err != nil {
		g.log.Warn("cashier rate limit unavailable", zap.Error(err))
		return nil
	}
	if !res.Allowed {
		return fmt.Errorf("%w: retry after %s", ErrRateLimited, res.RetryAfter.Round(time.Millisecond))
	}
	return nil
}
