package llm

import (
	"context"
	"sort"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
	"github.com/sethvargo/go-retry"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"

	apperrors "github.com/binsight/core/internal/errors"
)

// healthCacheTTL bounds how often Select/Candidates re-probes a provider's
// HealthCheck; results are cached for at most this long.
const healthCacheTTL = 30 * time.Second

// BreakerState mirrors gobreaker's three states without leaking the
// dependency into callers that only need to report admin_provider_state.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half-open"
)

// BreakerConfig configures the per-provider circuit breaker (C10).
type BreakerConfig struct {
	MaxRequestsHalfOpen uint32
	Interval            time.Duration
	Timeout             time.Duration
	ConsecutiveFailures uint32
}

// RetryConfig configures the retry/backoff wrapping each provider call.
type RetryConfig struct {
	MaxAttempts  uint64
	BaseDelay    time.Duration
	MaxDelay     time.Duration
}

type registeredProvider struct {
	provider   Provider
	priority   int
	breaker    *gobreaker.CircuitBreaker
	forceOpen  atomicBool
	lastHealth atomic.Pointer[cachedHealth]
	lastErr    atomic.Pointer[error]
}

type cachedHealth struct {
	status   HealthStatus
	checkedAt time.Time
}

// atomicBool is a tiny wrapper so registeredProvider doesn't need a mutex
// just to guard the admin force_open flag.
type atomicBool struct{ v atomic.Bool }

func (b *atomicBool) Set(val bool) { b.v.Store(val) }
func (b *atomicBool) Get() bool     { return b.v.Load() }

// Factory selects a Provider for a request, honoring an explicit
// preference first, then falling back through configured priority order,
// skipping any provider whose circuit breaker is open.
type Factory struct {
	byID    map[string]*registeredProvider
	ordered []*registeredProvider
	retry   RetryConfig
	logger  logr.Logger
}

// NewFactory builds an empty Factory; call Register for each configured
// provider before use. Breaker state transitions (C10) are logged through
// logger.
func NewFactory(retryCfg RetryConfig, logger logr.Logger) *Factory {
	return &Factory{byID: make(map[string]*registeredProvider), retry: retryCfg, logger: logger}
}

// Register adds a provider at the given priority (higher runs first when
// no explicit preference is given) with its own circuit breaker. Every
// state transition is logged with the precipitating error from the most
// recent failed Call, if any.
func (f *Factory) Register(p Provider, priority int, breakerCfg BreakerConfig) {
	rp := &registeredProvider{provider: p, priority: priority}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        p.ID(),
		MaxRequests: breakerCfg.MaxRequestsHalfOpen,
		Interval:    breakerCfg.Interval,
		Timeout:     breakerCfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerCfg.ConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			var cause error
			if errPtr := rp.lastErr.Load(); errPtr != nil {
				cause = *errPtr
			}
			f.logger.Info("llm: provider circuit breaker state change",
				"provider", name, "from", from.String(), "to", to.String(),
				"timestamp", time.Now(), "cause", cause)
		},
	})
	rp.breaker = cb
	f.byID[p.ID()] = rp
	f.ordered = append(f.ordered, rp)
	sort.SliceStable(f.ordered, func(i, j int) bool { return f.ordered[i].priority > f.ordered[j].priority })
}

// Select returns the best provider for cap, honoring preferredID if set,
// non-empty, supports cap, and its breaker is not open; otherwise it walks
// the priority-ordered list for the first eligible candidate.
func (f *Factory) Select(preferredID string, cap Capability) (Provider, error) {
	if preferredID != "" {
		if rp, ok := f.byID[preferredID]; ok && rp.provider.Supports(cap) && f.eligible(rp) {
			return rp.provider, nil
		}
	}
	for _, rp := range f.ordered {
		if rp.provider.Supports(cap) && f.eligible(rp) {
			return rp.provider, nil
		}
	}
	return nil, apperrors.New(apperrors.ErrorTypeProvider, "no eligible provider available").
		WithCode("NoProviderAvailable").WithDetailsf("capability: %s, preferred: %s", cap, preferredID)
}

func (f *Factory) eligible(rp *registeredProvider) bool {
	if rp.forceOpen.Get() {
		return false
	}
	return rp.breaker.State() != gobreaker.StateOpen
}

// BudgetChecker reports whether owner may still spend estimatedCost against
// providerID's per-provider daily and monthly ceilings (§4.2's
// reserve_budget(owner, provider, estimated_cost) query). Candidates calls
// this once for every otherwise-eligible healthy provider, in priority
// order, and drops each provider it reports as over budget.
type BudgetChecker func(ctx context.Context, owner, providerID string, estimatedCost decimal.Decimal) (bool, error)

// Candidates returns the fallback-ordered list of providers eligible for
// cap: healthy (per a ≤30s cached probe), breaker not open/forced-open, and
// — when check is non-nil — within owner's per-provider budget for the
// estimated cost of expectedTokens. When costOptimization is true the list
// is sorted ascending by EstimateCost instead of configured priority; the
// caller (C8) walks the result in order, advancing past the head only on a
// retryable failure, never on a fatal one.
func (f *Factory) Candidates(ctx context.Context, owner string, cap Capability, costOptimization bool, expectedTokens int, check BudgetChecker) ([]Provider, error) {
	type scored struct {
		rp   *registeredProvider
		cost CostEstimate
	}
	var pool []scored
	for _, rp := range f.ordered {
		if !rp.provider.Supports(cap) || !f.eligible(rp) {
			continue
		}
		status := f.probeHealth(ctx, rp)
		if !status.Healthy {
			continue
		}
		est := CostEstimate{}
		if e, err := rp.provider.EstimateCost(ctx, expectedTokens, ""); err == nil && e != nil {
			est = *e
		}
		if check != nil {
			ok, err := check(ctx, owner, rp.provider.ID(), est.EstimatedCost)
			if err != nil {
				return nil, apperrors.Wrap(err, apperrors.ErrorTypeBudget, "check provider budget")
			}
			if !ok {
				continue
			}
		}
		pool = append(pool, scored{rp: rp, cost: est})
	}
	if costOptimization {
		sort.SliceStable(pool, func(i, j int) bool { return pool[i].cost.EstimatedCost.LessThan(pool[j].cost.EstimatedCost) })
	}
	out := make([]Provider, len(pool))
	for i, s := range pool {
		out[i] = s.rp.provider
	}
	return out, nil
}

// probeHealth returns rp's cached health status, re-probing if the cache is
// stale or empty. A probe error is treated as unhealthy rather than
// propagated, since an unreachable provider should simply drop out of the
// candidate list.
func (f *Factory) probeHealth(ctx context.Context, rp *registeredProvider) HealthStatus {
	if cached := rp.lastHealth.Load(); cached != nil && time.Since(cached.checkedAt) < healthCacheTTL {
		return cached.status
	}
	status, err := rp.provider.HealthCheck(ctx)
	var result HealthStatus
	if err != nil || status == nil {
		result = HealthStatus{Healthy: false, Detail: "health check failed"}
	} else {
		result = *status
	}
	rp.lastHealth.Store(&cachedHealth{status: result, checkedAt: time.Now()})
	return result
}

// ProviderState reports providerID's breaker state for admin_provider_state.
func (f *Factory) ProviderState(providerID string) (BreakerState, error) {
	rp, ok := f.byID[providerID]
	if !ok {
		return "", apperrors.NewNotFoundError("provider").WithDetailsf("id: %s", providerID)
	}
	if rp.forceOpen.Get() {
		return BreakerOpen, nil
	}
	switch rp.breaker.State() {
	case gobreaker.StateOpen:
		return BreakerOpen, nil
	case gobreaker.StateHalfOpen:
		return BreakerHalfOpen, nil
	default:
		return BreakerClosed, nil
	}
}

// AdminReset clears providerID's forced-open flag. It does not reset
// gobreaker's internal counters directly — gobreaker has no public reset,
// so recovery instead proceeds through its normal half-open probe once the
// configured cooldown elapses.
func (f *Factory) AdminReset(providerID string) error {
	rp, ok := f.byID[providerID]
	if !ok {
		return apperrors.NewNotFoundError("provider").WithDetailsf("id: %s", providerID)
	}
	rp.forceOpen.Set(false)
	return nil
}

// AdminForceOpen short-circuits providerID's calls with ProviderUnavailable
// regardless of its gobreaker state, until AdminReset is called.
func (f *Factory) AdminForceOpen(providerID string) error {
	rp, ok := f.byID[providerID]
	if !ok {
		return apperrors.NewNotFoundError("provider").WithDetailsf("id: %s", providerID)
	}
	rp.forceOpen.Set(true)
	return nil
}

// Call runs fn against provider's breaker and retry policy, recording the
// outcome so a run of failures trips the breaker open.
func (f *Factory) Call(ctx context.Context, providerID string, fn func(ctx context.Context) error) error {
	rp, ok := f.byID[providerID]
	if !ok {
		return apperrors.NewNotFoundError("provider").WithDetailsf("id: %s", providerID)
	}
	if rp.forceOpen.Get() {
		return apperrors.New(apperrors.ErrorTypeProvider, "provider forced open by admin").
			WithCode("ProviderUnavailable").WithDetailsf("provider: %s", providerID)
	}

	backoff, err := retry.NewExponential(f.retry.BaseDelay)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeInternal, "construct retry backoff")
	}
	backoff = retry.WithMaxRetries(f.retry.MaxAttempts, backoff)
	backoff = retry.WithCappedDuration(f.retry.MaxDelay, backoff)
	backoff = retry.WithJitterPercent(20, backoff)

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		_, err := rp.breaker.Execute(func() (interface{}, error) {
			callErr := fn(ctx)
			if callErr != nil {
				rp.lastErr.Store(&callErr)
			}
			return nil, callErr
		})
		if err == nil {
			return nil
		}
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return apperrors.New(apperrors.ErrorTypeProvider, "provider circuit breaker open").
				WithCode("ProviderUnavailable").WithDetailsf("provider: %s", providerID)
		}
		if isRetryableProviderError(err) {
			return retry.RetryableError(err)
		}
		return err
	})
}

func isRetryableProviderError(err error) bool {
	if err == nil {
		return false
	}
	appErr, ok := err.(*apperrors.AppError)
	if !ok {
		return false
	}
	switch appErr.Code {
	case "ProviderRateLimit", "ProviderTimeout", "ProviderServerError":
		return true
	}
	return false
}
