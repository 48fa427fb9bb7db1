// Package ratelimit is C2: a sliding-window request limiter backed by
// Redis, plus a per-owner daily cost ceiling checked against the
// structured store's usage ledger. The Redis counter is incremented and
// compared atomically via a Lua script so concurrent workers never
// over-admit past the limit under a race.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	apperrors "github.com/binsight/core/internal/errors"
)

// slidingWindowScript implements a bucketed sliding window in one
// round trip: sum every historical bucket (KEYS[1..N-1], read-only),
// increment the current bucket (KEYS[N]) and refresh its TTL, then return
// the grand total. Buckets outside the window have already expired via
// their own TTL, so a stale bucket contributes 0 rather than needing an
// explicit prune.
const slidingWindowScript = `
local total = 0
for i = 1, #KEYS - 1 do
  local v = redis.call("GET", KEYS[i])
  if v then
    total = total + tonumber(v)
  end
end
local newCount = redis.call("INCR", KEYS[#KEYS])
redis.call("EXPIRE", KEYS[#KEYS], ARGV[1])
return total + newCount
`

// defaultResolution is W/R when a caller uses New without pinning a bucket
// count: six buckets per window balances granularity against per-request
// Redis round trips (each Allow call touches `resolution` keys).
const defaultResolution = 6

// TierLimit is one subscription tier's admission ceilings.
type TierLimit struct {
	MaxRequestsPerWindow int
	MaxPendingJobs       int
	DailyCostCeilingUSD  decimal.Decimal
}

// UsageReader is the structured-store slice the limiter needs for cost
// ceilings, kept narrow so tests can fake it.
type UsageReader interface {
	GetUsageForDayCost(ctx context.Context, owner, day string) (decimal.Decimal, error)
}

// Limiter enforces request-rate and cost ceilings per owner/tier.
type Limiter struct {
	rdb        *redis.Client
	window     time.Duration
	resolution int
	tiers      map[string]TierLimit
	usage      UsageReader
	script     *redis.Script
}

// New builds a Limiter with the default bucket resolution. rdb must
// already be configured and reachable; window is the sliding window width
// W (e.g. 60s), divided into defaultResolution buckets of width W/R.
func New(rdb *redis.Client, window time.Duration, tiers map[string]TierLimit, usage UsageReader) *Limiter {
	return NewWithResolution(rdb, window, defaultResolution, tiers, usage)
}

// NewWithResolution is New but lets the caller pin R, the number of buckets
// per window.
func NewWithResolution(rdb *redis.Client, window time.Duration, resolution int, tiers map[string]TierLimit, usage UsageReader) *Limiter {
	if resolution < 1 {
		resolution = 1
	}
	return &Limiter{rdb: rdb, window: window, resolution: resolution, tiers: tiers, usage: usage, script: redis.NewScript(slidingWindowScript)}
}

// bucketWidth is R's resolution: W/R, or one second when W/R is zero.
func (l *Limiter) bucketWidth() time.Duration {
	width := l.window / time.Duration(l.resolution)
	if width <= 0 {
		width = time.Second
	}
	return width
}

// bucketKey names the Redis key for one (owner, endpoint) ring slot.
// Slots are addressed mod resolution, not by absolute bucket index: the
// ring always has exactly `resolution` slots covering exactly one window's
// worth of buckets, and each slot's own TTL clears it once it falls out of
// the window, so a reused slot from a prior cycle never double-counts.
func (l *Limiter) bucketKey(owner, endpoint string, slot int64) string {
	return fmt.Sprintf("ratelimit:%s:%s:%d", owner, endpoint, slot)
}

// orderedKeys returns every slot's key with the current slot (the one
// Allow increments) last, as slidingWindowScript expects.
func (l *Limiter) orderedKeys(owner, endpoint string, now time.Time) []string {
	width := l.bucketWidth()
	currentSlot := (now.UnixNano() / width.Nanoseconds()) % int64(l.resolution)
	keys := make([]string, 0, l.resolution)
	for s := int64(0); s < int64(l.resolution); s++ {
		if s == currentSlot {
			continue
		}
		keys = append(keys, l.bucketKey(owner, endpoint, s))
	}
	return append(keys, l.bucketKey(owner, endpoint, currentSlot))
}

// Allow increments the current bucket for (owner, endpoint), sums the full
// W-second sliding window in the same round trip, and reports whether the
// total is within the tier's per-window ceiling.
func (l *Limiter) Allow(ctx context.Context, owner, tier, endpoint string, now time.Time) (bool, error) {
	limit, ok := l.tiers[tier]
	if !ok {
		return false, apperrors.NewValidationError("unknown rate limit tier").WithDetailsf("tier: %s", tier)
	}
	keys := l.orderedKeys(owner, endpoint, now)
	count, err := l.script.Run(ctx, l.rdb, keys, int(l.window.Seconds())+1).Int64()
	if err != nil {
		return false, apperrors.Wrap(err, apperrors.ErrorTypeNetwork, "rate limit counter increment failed")
	}
	return count <= int64(limit.MaxRequestsPerWindow), nil
}

// CheckCostCeiling reports whether owner may spend estimatedCost today
// without exceeding its tier's daily ceiling.
func (l *Limiter) CheckCostCeiling(ctx context.Context, owner, tier string, estimatedCost decimal.Decimal, now time.Time) (bool, error) {
	limit, ok := l.tiers[tier]
	if !ok {
		return false, apperrors.NewValidationError("unknown rate limit tier").WithDetailsf("tier: %s", tier)
	}
	if limit.DailyCostCeilingUSD.IsZero() {
		return true, nil // unlimited tier
	}
	day := now.Format("2006-01-02")
	spent, err := l.usage.GetUsageForDayCost(ctx, owner, day)
	if err != nil {
		return false, apperrors.Wrap(err, apperrors.ErrorTypeDatabase, "read daily cost usage failed")
	}
	return spent.Add(estimatedCost).LessThanOrEqual(limit.DailyCostCeilingUSD), nil
}

// Remaining reports how many requests owner has left in the current window
// for endpoint, for surfacing in an error hint. It sums every slot
// read-only; unlike Allow, this need not be atomic with any write.
func (l *Limiter) Remaining(ctx context.Context, owner, tier, endpoint string, now time.Time) (int, error) {
	limit, ok := l.tiers[tier]
	if !ok {
		return 0, apperrors.NewValidationError("unknown rate limit tier")
	}
	var total int64
	for s := int64(0); s < int64(l.resolution); s++ {
		count, err := l.rdb.Get(ctx, l.bucketKey(owner, endpoint, s)).Int64()
		if err != nil {
			if err == redis.Nil {
				continue
			}
			return 0, apperrors.Wrap(err, apperrors.ErrorTypeNetwork, "read rate limit counter failed")
		}
		total += count
	}
	remaining := limit.MaxRequestsPerWindow - int(total)
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}
