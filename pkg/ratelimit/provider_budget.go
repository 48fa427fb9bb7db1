package ratelimit

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	apperrors "github.com/binsight/core/internal/errors"
)

// ProviderUsageReader is the structured-store slice ProviderBudget needs,
// kept narrow so tests can fake it.
type ProviderUsageReader interface {
	GetUsageForProviderDay(ctx context.Context, owner, providerID, day string) (decimal.Decimal, error)
	GetUsageForProviderMonth(ctx context.Context, owner, providerID, month string) (decimal.Decimal, error)
}

// ProviderBudgetLimit is one provider's daily and monthly ceilings; zero
// means unlimited on that dimension.
type ProviderBudgetLimit struct {
	DailyUSD   decimal.Decimal
	MonthlyUSD decimal.Decimal
}

// ProviderBudget implements §4.2's reserve_budget(owner, provider,
// estimated_cost): a check of both the daily and monthly spend sums for a
// specific (owner, provider) pair, as distinct from Limiter.CheckCostCeiling's
// owner+tier ceiling summed across providers.
type ProviderBudget struct {
	usage  ProviderUsageReader
	limits map[string]ProviderBudgetLimit
}

// NewProviderBudget builds a ProviderBudget keyed by provider ID.
func NewProviderBudget(usage ProviderUsageReader, limits map[string]ProviderBudgetLimit) *ProviderBudget {
	return &ProviderBudget{usage: usage, limits: limits}
}

// Check reports whether owner may spend estimatedCost against providerID
// without exceeding either its configured daily or monthly ceiling. A
// provider absent from limits, or configured with zero on a dimension, is
// unlimited on that dimension. Matches llm.BudgetChecker's signature.
func (b *ProviderBudget) Check(ctx context.Context, owner, providerID string, estimatedCost decimal.Decimal) (bool, error) {
	limit, ok := b.limits[providerID]
	if !ok {
		return true, nil
	}
	now := time.Now()
	if !limit.DailyUSD.IsZero() {
		day := now.Format("2006-01-02")
		spent, err := b.usage.GetUsageForProviderDay(ctx, owner, providerID, day)
		if err != nil {
			return false, apperrors.Wrap(err, apperrors.ErrorTypeDatabase, "read daily provider usage failed")
		}
		if spent.Add(estimatedCost).GreaterThan(limit.DailyUSD) {
			return false, nil
		}
	}
	if !limit.MonthlyUSD.IsZero() {
		month := now.Format("2006-01")
		spent, err := b.usage.GetUsageForProviderMonth(ctx, owner, providerID, month)
		if err != nil {
			return false, apperrors.Wrap(err, apperrors.ErrorTypeDatabase, "read monthly provider usage failed")
		}
		if spent.Add(estimatedCost).GreaterThan(limit.MonthlyUSD) {
			return false, nil
		}
	}
	return true, nil
}
