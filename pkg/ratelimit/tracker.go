package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Prometheus metrics for quota tracking.
var (
	quotaUnitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gmailsync_quota_units_total",
		Help: "Total Gmail quota units granted",
	})

	quotaUnitsUsed = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gmailsync_quota_units_used",
		Help: "Gmail quota units used in the current window",
	})

	quotaThrottlesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gmailsync_quota_throttles_total",
		Help: "Total number of waits because the quota window was full",
	})

	quotaBlocksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gmailsync_quota_blocks_total",
		Help: "Total number of server-imposed quota blocks recorded",
	})
)

// window is the quota accounting period.
const window = time.Second

// Tracker reserves Gmail quota units for one account.
type Tracker struct {
	redis   *redis.Client
	account string
	budget  int
	logger  zerolog.Logger
	now     func() time.Time
}

// NewTracker creates a quota tracker for account. A budget <= 0 uses DefaultBudget.
func NewTracker(redisClient *redis.Client, account string, budget int, logger zerolog.Logger) *Tracker {
	if budget <= 0 {
		budget = DefaultBudget
	}
	return &Tracker{
		redis:   redisClient,
		account: account,
		budget:  budget,
		logger:  logger,
		now:     time.Now,
	}
}

func (t *Tracker) windowKey(start time.Time) string {
	return fmt.Sprintf("%s:%s:window:%d", RedisKeyPrefix, t.account, start.Unix())
}

func (t *Tracker) blockKey() string {
	return fmt.Sprintf("%s:%s:blocked_until", RedisKeyPrefix, t.account)
}

// GetState retrieves the account's quota state for the current window.
func (t *Tracker) GetState(ctx context.Context) (*QuotaState, error) {
	start := t.now().Truncate(window)

	used, err := t.redis.Get(ctx, t.windowKey(start)).Int()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("get window usage: %w", err)
	}

	blockedUntil, err := t.blockedUntil(ctx)
	if err != nil {
		return nil, err
	}

	return &QuotaState{
		UnitsUsed:    used,
		Budget:       t.budget,
		WindowStart:  start,
		BlockedUntil: blockedUntil,
	}, nil
}

func (t *Tracker) blockedUntil(ctx context.Context) (time.Time, error) {
	ms, err := t.redis.Get(ctx, t.blockKey()).Int64()
	if err == redis.Nil {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("get block state: %w", err)
	}
	return time.UnixMilli(ms), nil
}

// Acquire reserves units in the current window. It waits while a block is
// active or the window is full, and returns early if ctx is done.
func (t *Tracker) Acquire(ctx context.Context, units int) error {
	if units > t.budget {
		units = t.budget
	}

	for {
		now := t.now()

		blockedUntil, err := t.blockedUntil(ctx)
		if err != nil {
			return err
		}
		if now.Before(blockedUntil) {
			t.logger.Debug().
				Str("account", t.account).
				Time("blocked_until", blockedUntil).
				Msg("Quota blocked, waiting")
			if err := sleepCtx(ctx, blockedUntil.Sub(now)); err != nil {
				return err
			}
			continue
		}

		start := now.Truncate(window)
		key := t.windowKey(start)

		pipe := t.redis.TxPipeline()
		incr := pipe.IncrBy(ctx, key, int64(units))
		pipe.Expire(ctx, key, 2*window)
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("reserve quota units: %w", err)
		}

		used := int(incr.Val())
		if used <= t.budget {
			quotaUnitsTotal.Add(float64(units))
			quotaUnitsUsed.Set(float64(used))
			state := QuotaState{UnitsUsed: used, Budget: t.budget}
			if state.NeedsThrottling() {
				t.logger.Warn().
					Str("account", t.account).
					Int("units_used", used).
					Int("budget", t.budget).
					Msg("Gmail quota window nearly full")
			}
			return nil
		}

		// Over budget: hand the units back and wait for the next window.
		if err := t.redis.DecrBy(ctx, key, int64(units)).Err(); err != nil {
			t.logger.Warn().Err(err).Msg("Failed to release quota units")
		}
		quotaThrottlesTotal.Inc()
		if err := sleepCtx(ctx, start.Add(window).Sub(now)); err != nil {
			return err
		}
	}
}

// Block records a server-imposed backoff. Every tracker for the same
// account waits until it ends.
func (t *Tracker) Block(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	until := t.now().Add(d)

	if err := t.redis.Set(ctx, t.blockKey(), until.UnixMilli(), d).Err(); err != nil {
		return fmt.Errorf("store quota block: %w", err)
	}
	quotaBlocksTotal.Inc()

	t.logger.Warn().
		Str("account", t.account).
		Dur("duration", d).
		Time("blocked_until", until).
		Msg("Gmail quota exceeded - requests blocked")

	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
