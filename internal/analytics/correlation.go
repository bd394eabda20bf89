package analytics

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"gonum.org/v1/gonum/stat"

	"stock-outage-alerts/internal/storage"
)

var (
	correlationLabels = []string{"Pincode", "Hour", "Day of Week", "Day of Month", "Availability"}
	weekdayNames      = []string{"Sunday", "Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday"}
)

// CorrelationMatrix is a labelled square matrix with pre-formatted cells.
type CorrelationMatrix struct {
	Labels []string    `json:"labels"`
	Values [][]float64 `json:"values"`
	Text   [][]string  `json:"text"`
}

// HourlyAvailability is availability percent per hour of day.
type HourlyAvailability struct {
	Hours        []int     `json:"hours"`
	Availability []float64 `json:"availability"`
}

// DailyAvailability is availability percent per weekday, Sunday first.
type DailyAvailability struct {
	Days         []string  `json:"days"`
	Availability []float64 `json:"availability"`
}

// TimePatterns groups the hourly and weekday breakdowns.
type TimePatterns struct {
	Hourly HourlyAvailability `json:"hourly_availability"`
	Daily  DailyAvailability  `json:"daily_availability"`
}

// CorrelationResult is the outcome of GenerateCorrelationHeatmap. Error is set,
// with zeroed matrices, when there is nothing to analyse.
type CorrelationResult struct {
	Error        string            `json:"error,omitempty"`
	Matrix       CorrelationMatrix `json:"correlation_matrix"`
	TimePatterns TimePatterns      `json:"time_patterns"`
	Insights     []string          `json:"insights"`
}

// GenerateCorrelationHeatmap correlates pincode, time-of-check features and
// availability over the lookback window.
func (a *Analytics) GenerateCorrelationHeatmap(ctx context.Context) (CorrelationResult, error) {
	obs, err := a.lookback(ctx, a.opts.LookbackDays, storage.ObservationFilter{})
	if err != nil {
		return CorrelationResult{}, err
	}
	return BuildCorrelation(obs, a.location), nil
}

// BuildCorrelation computes the heatmap from observations, reading clock
// features in loc.
func BuildCorrelation(obs []storage.Observation, loc *time.Location) CorrelationResult {
	if loc == nil {
		loc = time.UTC
	}
	result := emptyCorrelation()
	if len(obs) == 0 {
		result.Error = "No data available for correlation analysis"
		return result
	}

	pincodes := make(map[string]int)
	var names []string
	for _, o := range obs {
		if _, ok := pincodes[o.Pincode]; !ok {
			pincodes[o.Pincode] = 0
			names = append(names, o.Pincode)
		}
	}
	sort.Strings(names)
	for i, n := range names {
		pincodes[n] = i
	}

	cols := make([][]float64, len(correlationLabels))
	var hourSum, hourN [24]float64
	var daySum, dayN [7]float64
	for _, o := range obs {
		t := o.CheckedAt.In(loc)
		avail := 0.0
		if o.IsAvailable {
			avail = 1
		}
		cols[0] = append(cols[0], float64(pincodes[o.Pincode]))
		cols[1] = append(cols[1], float64(t.Hour()))
		cols[2] = append(cols[2], float64(t.Weekday()))
		cols[3] = append(cols[3], float64(t.Day()))
		cols[4] = append(cols[4], avail)

		hourSum[t.Hour()] += avail
		hourN[t.Hour()]++
		daySum[t.Weekday()] += avail
		dayN[t.Weekday()]++
	}

	for i := range cols {
		for j := range cols {
			v := stat.Correlation(cols[i], cols[j], nil)
			if math.IsNaN(v) {
				v = 0
			}
			result.Matrix.Values[i][j] = v
			result.Matrix.Text[i][j] = fmt.Sprintf("%.3f", v)
		}
	}

	type bucket struct {
		idx  int
		mean float64
	}
	var hours, days []bucket
	for h := 0; h < 24; h++ {
		if hourN[h] > 0 {
			mean := hourSum[h] / hourN[h]
			result.TimePatterns.Hourly.Availability[h] = mean * 100
			hours = append(hours, bucket{h, mean})
		}
	}
	for d := 0; d < 7; d++ {
		if dayN[d] > 0 {
			mean := daySum[d] / dayN[d]
			result.TimePatterns.Daily.Availability[d] = mean * 100
			days = append(days, bucket{d, mean})
		}
	}

	top := func(bs []bucket, n int, desc bool) []string {
		sorted := append([]bucket(nil), bs...)
		sort.SliceStable(sorted, func(i, j int) bool {
			if desc {
				return sorted[i].mean > sorted[j].mean
			}
			return sorted[i].mean < sorted[j].mean
		})
		if len(sorted) > n {
			sorted = sorted[:n]
		}
		out := make([]string, len(sorted))
		for i, b := range sorted {
			out[i] = strconv.Itoa(b.idx)
		}
		return out
	}
	result.Insights = append(result.Insights,
		"Best availability hours: "+strings.Join(top(hours, 3, true), ", "),
		"Lowest availability hours: "+strings.Join(top(hours, 3, false), ", "),
	)
	best, worst := days[0], days[0]
	for _, b := range days[1:] {
		if b.mean > best.mean {
			best = b
		}
		if b.mean < worst.mean {
			worst = b
		}
	}
	result.Insights = append(result.Insights,
		"Best availability day: "+weekdayNames[best.idx],
		"Lowest availability day: "+weekdayNames[worst.idx],
	)
	return result
}

func emptyCorrelation() CorrelationResult {
	n := len(correlationLabels)
	values := make([][]float64, n)
	text := make([][]string, n)
	for i := range values {
		values[i] = make([]float64, n)
		text[i] = make([]string, n)
		for j := range text[i] {
			text[i][j] = "0"
		}
	}
	hours := make([]int, 24)
	for h := range hours {
		hours[h] = h
	}
	return CorrelationResult{
		Matrix: CorrelationMatrix{
			Labels: append([]string(nil), correlationLabels...),
			Values: values,
			Text:   text,
		},
		TimePatterns: TimePatterns{
			Hourly: HourlyAvailability{Hours: hours, Availability: make([]float64, 24)},
			Daily:  DailyAvailability{Days: append([]string(nil), weekdayNames...), Availability: make([]float64, 7)},
		},
		Insights: []string{},
	}
}
