package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"stock-outage-alerts/internal/storage"
)

const topProblemProducts = 5

// UpdateDailySummary recomputes today's summary across every keyword and
// pincode. It returns nil without writing when today has no observations.
func (e *Engine) UpdateDailySummary(ctx context.Context, rc RunContext) (*storage.DailySummary, error) {
	return e.summarize(ctx, rc, rc.Now)
}

// SummarizeDay rebuilds the summary of an arbitrary calendar day (backfill).
func (e *Engine) SummarizeDay(ctx context.Context, day time.Time) (*storage.DailySummary, error) {
	y, m, d := day.Date()
	rc := NewRunContext(time.Date(y, m, d, 12, 0, 0, 0, e.location), e.location)
	return e.summarize(ctx, rc, e.RunContext().Now)
}

func (e *Engine) summarize(ctx context.Context, rc RunContext, updatedAt time.Time) (*storage.DailySummary, error) {
	obs, err := e.observations.ListObservations(ctx, storage.ObservationFilter{
		From: rc.DayStart(0),
		To:   rc.DayStart(1),
	})
	if err != nil {
		return nil, fmt.Errorf("list today's observations: %w", err)
	}
	if len(obs) == 0 {
		return nil, nil
	}

	summary := BuildDailySummary(rc.Today(), obs)
	summary.UpdatedAt = updatedAt
	if err := e.summaries.UpsertDailySummary(ctx, summary); err != nil {
		return nil, fmt.Errorf("upsert daily summary: %w", err)
	}
	return &summary, nil
}

// BuildDailySummary aggregates one day's observations into a summary row.
// Problem products are ordered by outage count, then by name and variant.
func BuildDailySummary(date time.Time, obs []storage.Observation) storage.DailySummary {
	total := len(obs)
	outages := make(map[variantKey]int)
	var keys []variantKey
	outOfStock := 0
	for _, o := range obs {
		if o.IsAvailable {
			continue
		}
		outOfStock++
		vk := variantKey{o.ProductName, o.Variant}
		if _, seen := outages[vk]; !seen {
			keys = append(keys, vk)
		}
		outages[vk]++
	}

	sortVariantKeys(keys)
	sort.SliceStable(keys, func(i, j int) bool {
		return outages[keys[i]] > outages[keys[j]]
	})
	if len(keys) > topProblemProducts {
		keys = keys[:topProblemProducts]
	}
	top := make([]string, 0, len(keys))
	for _, vk := range keys {
		top = append(top, fmt.Sprintf("%s %s: %d outages", vk.ProductName, vk.Variant, outages[vk]))
	}

	return storage.DailySummary{
		Date:                    date,
		TotalProductsChecked:    total,
		TotalOutOfStock:         outOfStock,
		AvailabilityRate:        AvailabilityRate(total, outOfStock),
		MostProblematicProducts: top,
	}
}

// AvailabilityRate is (total-outages)/total as a percent with two decimals.
func AvailabilityRate(total, outages int) decimal.Decimal {
	if total <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(total - outages)).
		Mul(decimal.NewFromInt(100)).
		Div(decimal.NewFromInt(int64(total))).
		Round(2)
}
