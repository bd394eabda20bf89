package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"stock-outage-alerts/internal/storage"
)

// variantKey groups observations by product and variant.
type variantKey struct {
	ProductName string
	Variant     string
}

func (k variantKey) label() string {
	return storage.AlertKey{ProductName: k.ProductName, Variant: k.Variant}.Label()
}

// candidate is a detector's computed alert before it meets storage.
type candidate struct {
	Key      storage.AlertKey
	Severity storage.Severity
	Metrics  storage.AlertMetrics
	Message  string
}

type scope struct {
	Keyword string
	Pincode string
}

func (s scope) key(vk variantKey, t storage.AlertType) storage.AlertKey {
	return storage.AlertKey{ProductName: vk.ProductName, Variant: vk.Variant, Keyword: s.Keyword, Pincode: s.Pincode, Type: t}
}

func (e *Engine) outages(ctx context.Context, sc scope, from, to time.Time) ([]storage.Observation, error) {
	obs, err := e.observations.ListObservations(ctx, storage.ObservationFilter{
		Keyword:        sc.Keyword,
		Pincode:        sc.Pincode,
		From:           from,
		To:             to,
		OutOfStockOnly: true,
	})
	if err != nil {
		return nil, fmt.Errorf("list outages: %w", err)
	}
	return obs, nil
}

// detectDaily emits one DAILY_OUTAGE candidate per variant out of stock today.
func (e *Engine) detectDaily(ctx context.Context, rc RunContext, sc scope) ([]candidate, error) {
	obs, err := e.outages(ctx, sc, rc.DayStart(0), rc.DayStart(1))
	if err != nil {
		return nil, err
	}

	counts, order := countByVariant(obs)
	out := make([]candidate, 0, len(order))
	for _, vk := range order {
		n := counts[vk]
		out = append(out, candidate{
			Key:      sc.key(vk, storage.AlertDailyOutage),
			Severity: storage.SeverityMedium,
			Metrics:  storage.DailyOutageMetrics{OutageCountToday: n, TotalChecksToday: n},
			Message:  fmt.Sprintf("'%s' out of stock %d times today", vk.label(), n),
		})
	}
	return out, nil
}

// detectConsecutive counts distinct calendar days with an outage inside the
// trailing window. The days need not be adjacent.
func (e *Engine) detectConsecutive(ctx context.Context, rc RunContext, sc scope) ([]candidate, error) {
	obs, err := e.outages(ctx, sc, rc.DayStart(-(e.opts.WindowDays - 1)), rc.DayStart(1))
	if err != nil {
		return nil, err
	}

	days := make(map[variantKey]map[time.Time]struct{})
	var order []variantKey
	for _, o := range obs {
		vk := variantKey{o.ProductName, o.Variant}
		set, ok := days[vk]
		if !ok {
			set = make(map[time.Time]struct{})
			days[vk] = set
			order = append(order, vk)
		}
		set[rc.DayOf(o.CheckedAt)] = struct{}{}
	}
	sortVariantKeys(order)

	var out []candidate
	for _, vk := range order {
		n := len(days[vk])
		if n < e.opts.ConsecutiveMinDays {
			continue
		}
		severity := storage.SeverityHigh
		if n >= e.opts.ConsecutiveCriticalDays {
			severity = storage.SeverityCritical
		}
		out = append(out, candidate{
			Key:      sc.key(vk, storage.AlertConsecutiveDays),
			Severity: severity,
			Metrics:  storage.ConsecutiveDaysMetrics{ConsecutiveDays: n},
			Message:  fmt.Sprintf("'%s' out of stock for %d consecutive days", vk.label(), n),
		})
	}
	return out, nil
}

// detectFrequent counts outages in the rolling 7x24h window ending now.
func (e *Engine) detectFrequent(ctx context.Context, rc RunContext, sc scope) ([]candidate, error) {
	obs, err := e.outages(ctx, sc, rc.Now.Add(-7*24*time.Hour), time.Time{})
	if err != nil {
		return nil, err
	}

	counts, order := countByVariant(obs)
	var out []candidate
	for _, vk := range order {
		n := counts[vk]
		if n < e.opts.FrequentMinOutages {
			continue
		}
		out = append(out, candidate{
			Key:      sc.key(vk, storage.AlertFrequentOutage),
			Severity: storage.SeverityHigh,
			Metrics:  storage.FrequentOutageMetrics{WeeklyOutages: n},
			Message:  fmt.Sprintf("'%s' had %d outages this week", vk.label(), n),
		})
	}
	return out, nil
}

func countByVariant(obs []storage.Observation) (map[variantKey]int, []variantKey) {
	counts := make(map[variantKey]int)
	var order []variantKey
	for _, o := range obs {
		vk := variantKey{o.ProductName, o.Variant}
		if _, seen := counts[vk]; !seen {
			order = append(order, vk)
		}
		counts[vk]++
	}
	sortVariantKeys(order)
	return counts, order
}

func sortVariantKeys(keys []variantKey) {
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].ProductName != keys[j].ProductName {
			return keys[i].ProductName < keys[j].ProductName
		}
		return keys[i].Variant < keys[j].Variant
	})
}
