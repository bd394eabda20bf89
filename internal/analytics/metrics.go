package analytics

import (
	"context"
	"fmt"

	"gonum.org/v1/gonum/stat"

	"stock-outage-alerts/internal/storage"
)

const metricsWindowDays = 7

// Trend describes the direction of daily availability over the past week.
type Trend struct {
	Direction string  `json:"direction"`
	Slope     float64 `json:"slope"`
}

// RiskAssessment grades the number of unresolved recent alerts.
type RiskAssessment struct {
	Level        string `json:"level"`
	ActiveAlerts int    `json:"active_alerts"`
}

// DataQuality reports how much history the metrics were computed from.
type DataQuality struct {
	DaysAnalyzed    int `json:"days_analyzed"`
	TotalDataPoints int `json:"total_data_points"`
}

// AdvancedMetrics is the outcome of Analytics.AdvancedMetrics.
type AdvancedMetrics struct {
	Trend          Trend          `json:"trend"`
	RiskAssessment RiskAssessment `json:"risk_assessment"`
	DataQuality    DataQuality    `json:"data_quality"`
}

// AdvancedMetrics computes the weekly availability trend, alert risk level and
// data coverage.
func (a *Analytics) AdvancedMetrics(ctx context.Context) (AdvancedMetrics, error) {
	obs, err := a.lookback(ctx, metricsWindowDays, storage.ObservationFilter{})
	if err != nil {
		return AdvancedMetrics{}, err
	}
	series := BuildDailySeries(obs, a.location)

	out := AdvancedMetrics{
		Trend: TrendOf(series),
		DataQuality: DataQuality{
			DaysAnalyzed:    len(series),
			TotalDataPoints: len(obs),
		},
	}

	active := 0
	if a.alerts != nil {
		unresolved := false
		alerts, err := a.alerts.ListAlerts(ctx, storage.AlertFilter{
			Resolved: &unresolved,
			Since:    a.dayStart(-metricsWindowDays),
		})
		if err != nil {
			return AdvancedMetrics{}, fmt.Errorf("list recent alerts: %w", err)
		}
		active = len(alerts)
	}
	out.RiskAssessment = RiskAssessment{Level: RiskLevel(active), ActiveAlerts: active}
	return out, nil
}

// TrendOf regresses daily availability on day index.
func TrendOf(series []DailyPoint) Trend {
	if len(series) < 2 {
		return Trend{Direction: "Insufficient Data"}
	}
	xs := make([]float64, len(series))
	ys := make([]float64, len(series))
	for i, p := range series {
		xs[i] = float64(i)
		ys[i] = p.AvailabilityRate
	}
	_, slope := stat.LinearRegression(xs, ys, nil, false)

	direction := "Stable"
	switch {
	case slope > 0.01:
		direction = "Improving"
	case slope < -0.01:
		direction = "Declining"
	}
	return Trend{Direction: direction, Slope: round2(slope * 100)}
}

// RiskLevel grades the unresolved alert count.
func RiskLevel(active int) string {
	switch {
	case active > 10:
		return "HIGH"
	case active > 5:
		return "MEDIUM"
	default:
		return "LOW"
	}
}
