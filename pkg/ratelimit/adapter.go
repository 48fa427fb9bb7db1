package ratelimit

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/binsight/core/pkg/storage/structured"
)

// StoreUsageReader adapts structured.Store to UsageReader, owner-wide cost
// ceilings are summed across all providers the owner used that day.
type StoreUsageReader struct {
	Store          structured.Store
	KnownProviders []string
}

// GetUsageForDayCost sums the owner's cost across all known providers for day.
func (a *StoreUsageReader) GetUsageForDayCost(ctx context.Context, owner, day string) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, providerID := range a.KnownProviders {
		rec, err := a.Store.GetUsageForDay(ctx, owner, providerID, day)
		if err == structured.ErrNotFound {
			continue
		}
		if err != nil {
			return decimal.Zero, err
		}
		total = total.Add(rec.Cost)
	}
	return total, nil
}
