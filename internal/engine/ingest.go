package engine

import (
	"strings"
	"time"

	"stock-outage-alerts/internal/storage"
)

// DefaultSentinelVariants are scraper placeholders that never count as outages.
var DefaultSentinelVariants = []string{"Error", "No data", "Scraper Error"}

// SplitVariants splits a joined variant column on ";" and drops blanks.
func SplitVariants(raw string) []string {
	parts := strings.Split(raw, ";")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// ExtractObservations turns a session's products into observations. Only
// products with at least one genuine out-of-stock variant are tracked; their
// available variants are recorded alongside.
func ExtractObservations(session storage.ScrapeSession, sentinels []string, at time.Time) []storage.Observation {
	skip := make(map[string]struct{}, len(sentinels))
	for _, s := range sentinels {
		skip[s] = struct{}{}
	}

	var out []storage.Observation
	for _, product := range session.Products {
		var outOfStock []string
		for _, variant := range SplitVariants(product.OutOfStockVariants) {
			if _, sentinel := skip[variant]; !sentinel {
				outOfStock = append(outOfStock, variant)
			}
		}
		if len(outOfStock) == 0 {
			continue
		}

		record := func(variant string, available bool) {
			out = append(out, storage.Observation{
				SessionID:   session.ID,
				ProductName: product.ProductName,
				Variant:     variant,
				Keyword:     session.Keyword,
				Pincode:     session.Pincode,
				IsAvailable: available,
				CheckedAt:   at,
			})
		}
		for _, variant := range SplitVariants(product.AvailableVariants) {
			record(variant, true)
		}
		for _, variant := range outOfStock {
			record(variant, false)
		}
	}
	return out
}
