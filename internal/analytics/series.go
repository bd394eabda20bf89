package analytics

import (
	"sort"
	"time"

	"stock-outage-alerts/internal/storage"
)

// DailyPoint is one calendar day of aggregated checks.
type DailyPoint struct {
	Date             time.Time `json:"date"`
	TotalChecks      int       `json:"total_checks"`
	Outages          int       `json:"outages"`
	OutageRate       float64   `json:"outage_rate"`
	AvailabilityRate float64   `json:"availability_rate"`
}

// BuildDailySeries groups observations by their calendar day in loc. Days
// without observations are absent from the result.
func BuildDailySeries(obs []storage.Observation, loc *time.Location) []DailyPoint {
	if loc == nil {
		loc = time.UTC
	}
	byDay := make(map[time.Time]*DailyPoint)
	for _, o := range obs {
		day := storage.CivilDate(o.CheckedAt.In(loc))
		p, ok := byDay[day]
		if !ok {
			p = &DailyPoint{Date: day}
			byDay[day] = p
		}
		p.TotalChecks++
		if !o.IsAvailable {
			p.Outages++
		}
	}

	out := make([]DailyPoint, 0, len(byDay))
	for _, p := range byDay {
		p.OutageRate = float64(p.Outages) / float64(p.TotalChecks)
		p.AvailabilityRate = 1 - p.OutageRate
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}

func seriesXY(series []DailyPoint) ([]time.Time, []float64) {
	ds := make([]time.Time, len(series))
	y := make([]float64, len(series))
	for i, p := range series {
		ds[i] = p.Date
		y[i] = p.OutageRate
	}
	return ds, y
}
