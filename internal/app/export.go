package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"stock-outage-alerts/internal/analytics"
	"stock-outage-alerts/internal/storage"
)

// Export renders the daily outage series as CSV and/or a PNG chart, with an
// optional forecast overlay.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}
	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	an, err := a.newAnalytics(store)
	if err != nil {
		return err
	}

	series, err := an.DailySeries(ctx, opts.Keyword, opts.Pincode)
	if err != nil {
		return err
	}
	series = clipSeries(series, opts.From, opts.To)
	if len(series) == 0 {
		a.Logger.Info().Msg("no observations found for export window")
		return nil
	}

	points := downsamplePoints(series, opts.MaxPoints)
	a.Logger.Info().Int("days", len(series)).Int("exported", len(points)).Msg("exporting daily series")

	if opts.CSVPath != "" {
		if err := writeSeriesCSV(opts.CSVPath, points); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		var forecast *analytics.ForecastResult
		if opts.Forecast > 0 {
			result, err := an.GenerateStockForecast(ctx, opts.Keyword, opts.Pincode, opts.Forecast)
			var insufficient *analytics.InsufficientDataError
			switch {
			case errors.As(err, &insufficient):
				a.Logger.Warn().Err(err).Msg("forecast overlay skipped")
			case err != nil:
				return err
			default:
				forecast = &result
			}
		}
		if err := writeSeriesPNG(opts.PNGPath, points, forecast); err != nil {
			return err
		}
	}
	return nil
}

func clipSeries(series []analytics.DailyPoint, from, to *time.Time) []analytics.DailyPoint {
	if from == nil && to == nil {
		return series
	}
	out := series[:0:0]
	for _, p := range series {
		if from != nil && p.Date.Before(storage.CivilDate(*from)) {
			continue
		}
		if to != nil && !p.Date.Before(storage.CivilDate(*to)) {
			continue
		}
		out = append(out, p)
	}
	return out
}

func downsamplePoints(points []analytics.DailyPoint, max int) []analytics.DailyPoint {
	if max <= 1 || len(points) <= max {
		return points
	}

	result := make([]analytics.DailyPoint, 0, max)
	step := float64(len(points)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(points) {
			idx = len(points) - 1
		}
		result = append(result, points[idx])
	}
	return result
}

func writeSeriesCSV(path string, points []analytics.DailyPoint) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"date", "total_checks", "outages", "outage_rate", "availability_rate"}
	if err := writer.Write(header); err != nil {
		return err
	}
	for _, p := range points {
		record := []string{
			storage.DateKey(p.Date),
			strconv.Itoa(p.TotalChecks),
			strconv.Itoa(p.Outages),
			strconv.FormatFloat(p.OutageRate, 'f', 4, 64),
			strconv.FormatFloat(p.AvailabilityRate, 'f', 4, 64),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func writeSeriesPNG(path string, points []analytics.DailyPoint, forecast *analytics.ForecastResult) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(points))
	rate := make([]float64, len(points))
	for i, p := range points {
		x[i] = p.Date
		rate[i] = p.OutageRate
	}

	series := []chart.Series{
		chart.TimeSeries{Name: "Outage rate", XValues: x, YValues: rate},
	}
	if forecast != nil {
		series = append(series, forecastSeries(forecast.ForecastData)...)
	}

	rateFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.2f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeDateValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Outage rate",
			ValueFormatter: rateFormatter,
		},
		Series: series,
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func forecastSeries(fd analytics.ForecastSeries) []chart.Series {
	dates := make([]time.Time, 0, len(fd.Dates))
	for _, raw := range fd.Dates {
		d, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return nil
		}
		dates = append(dates, d)
	}
	dashed := chart.Style{StrokeDashArray: []float64{5, 5}}
	return []chart.Series{
		chart.TimeSeries{Name: "Forecast", XValues: dates, YValues: fd.Predicted},
		chart.TimeSeries{Name: "Lower", XValues: dates, YValues: fd.LowerBound, Style: dashed},
		chart.TimeSeries{Name: "Upper", XValues: dates, YValues: fd.UpperBound, Style: dashed},
	}
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
