package app

import (
	"context"
	"encoding/json"

	"stock-outage-alerts/internal/analytics"
)

// ReportOptions parameterise the analytics commands.
type ReportOptions struct {
	Keyword   string
	Pincode   string
	Days      int
	Threshold float64
}

// Forecast prints the outage forecast for a keyword/pincode scope.
func (a *App) Forecast(ctx context.Context, opts ReportOptions) error {
	return a.report(ctx, func(ctx context.Context, an *analytics.Analytics) (any, error) {
		return an.GenerateStockForecast(ctx, opts.Keyword, opts.Pincode, opts.Days)
	})
}

// ForecastProducts prints the products likely to go out of stock.
func (a *App) ForecastProducts(ctx context.Context, opts ReportOptions) error {
	return a.report(ctx, func(ctx context.Context, an *analytics.Analytics) (any, error) {
		threshold := opts.Threshold
		if threshold <= 0 {
			threshold = an.Options().ProductThreshold
		}
		return an.ForecastOutOfStockProducts(ctx, opts.Pincode, opts.Days, threshold)
	})
}

// Clusters prints the pincode clustering.
func (a *App) Clusters(ctx context.Context) error {
	return a.report(ctx, func(ctx context.Context, an *analytics.Analytics) (any, error) {
		return an.AnalyzePincodePatterns(ctx)
	})
}

// Correlation prints the correlation heatmap data.
func (a *App) Correlation(ctx context.Context) error {
	return a.report(ctx, func(ctx context.Context, an *analytics.Analytics) (any, error) {
		return an.GenerateCorrelationHeatmap(ctx)
	})
}

// Metrics prints trend, risk and data quality.
func (a *App) Metrics(ctx context.Context) error {
	return a.report(ctx, func(ctx context.Context, an *analytics.Analytics) (any, error) {
		return an.AdvancedMetrics(ctx)
	})
}

// Report prints every analytics section at once.
func (a *App) Report(ctx context.Context, opts ReportOptions) error {
	return a.report(ctx, func(ctx context.Context, an *analytics.Analytics) (any, error) {
		threshold := opts.Threshold
		if threshold <= 0 {
			threshold = an.Options().ProductThreshold
		}
		return an.Bundle(ctx, opts.Pincode, opts.Days, threshold)
	})
}

func (a *App) report(ctx context.Context, fn func(context.Context, *analytics.Analytics) (any, error)) error {
	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	an, err := a.newAnalytics(store)
	if err != nil {
		return err
	}
	result, err := fn(ctx, an)
	if err != nil {
		return err
	}

	encoder := json.NewEncoder(a.Out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}
