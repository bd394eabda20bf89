package analytics

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gonum.org/v1/gonum/stat"

	"stock-outage-alerts/internal/config"
	"stock-outage-alerts/internal/storage"
)

// Options tunes the analytics methods.
type Options struct {
	LookbackDays     int
	MinDays          int
	MinPincodes      int
	MaxClusters      int
	Seed             int64
	ForecastDays     int
	ProductThreshold float64
	Model            ModelOptions
}

// DefaultOptions returns the stock analytics settings.
func DefaultOptions() Options {
	return Options{
		LookbackDays:     30,
		MinDays:          5,
		MinPincodes:      3,
		MaxClusters:      4,
		Seed:             42,
		ForecastDays:     7,
		ProductThreshold: 0.7,
		Model:            DefaultModelOptions(),
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.LookbackDays <= 0 {
		o.LookbackDays = def.LookbackDays
	}
	if o.MinDays <= 0 {
		o.MinDays = def.MinDays
	}
	if o.MinPincodes <= 0 {
		o.MinPincodes = def.MinPincodes
	}
	if o.MaxClusters <= 0 {
		o.MaxClusters = def.MaxClusters
	}
	if o.ForecastDays <= 0 {
		o.ForecastDays = def.ForecastDays
	}
	if o.ProductThreshold <= 0 {
		o.ProductThreshold = def.ProductThreshold
	}
	return o
}

// OptionsFromConfig maps the analytics config section.
func OptionsFromConfig(cfg config.AnalyticsConfig) Options {
	return Options{
		LookbackDays:     cfg.LookbackDays,
		MinDays:          cfg.MinDays,
		MinPincodes:      cfg.MinPincodes,
		MaxClusters:      cfg.MaxClusters,
		Seed:             cfg.Seed,
		ForecastDays:     cfg.ForecastDays,
		ProductThreshold: cfg.ProductThreshold,
		Model: ModelOptions{
			DailySeasonality:      cfg.DailySeasonality,
			WeeklySeasonality:     cfg.WeeklySeasonality,
			YearlySeasonality:     cfg.YearlySeasonality,
			ChangepointPriorScale: cfg.ChangepointPriorScale,
			SeasonalityPriorScale: cfg.SeasonalityPriorScale,
			IntervalWidth:         cfg.IntervalWidth,
		},
	}
}

// Analytics runs read-only statistics over the observation history.
type Analytics struct {
	observations storage.ObservationStore
	alerts       storage.AlertStore
	opts         Options
	location     *time.Location
	now          func() time.Time
	fit          func(ds []time.Time, y []float64, opts ModelOptions) (*Model, error)
	logger       zerolog.Logger
}

// New constructs the analytics service. alerts may be nil, in which case the
// risk assessment always reports zero active alerts.
func New(observations storage.ObservationStore, alerts storage.AlertStore, opts Options, loc *time.Location, logger zerolog.Logger) *Analytics {
	if loc == nil {
		loc = time.UTC
	}
	return &Analytics{
		observations: observations,
		alerts:       alerts,
		opts:         opts.withDefaults(),
		location:     loc,
		now:          time.Now,
		fit:          FitModel,
		logger:       logger.With().Str("component", "analytics").Logger(),
	}
}

// Options exposes the effective options.
func (a *Analytics) Options() Options { return a.opts }

func (a *Analytics) dayStart(offset int) time.Time {
	y, m, d := a.now().In(a.location).Date()
	return time.Date(y, m, d+offset, 0, 0, 0, 0, a.location)
}

func (a *Analytics) today() time.Time {
	return storage.CivilDate(a.now().In(a.location))
}

// lookback lists observations from lookback days ago through the end of today.
func (a *Analytics) lookback(ctx context.Context, days int, filter storage.ObservationFilter) ([]storage.Observation, error) {
	filter.From = a.dayStart(-days)
	filter.To = a.dayStart(1)
	obs, err := a.observations.ListObservations(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list observations: %w", err)
	}
	return obs, nil
}

// DailySeries returns the lookback series for an optional keyword/pincode.
func (a *Analytics) DailySeries(ctx context.Context, keyword, pincode string) ([]DailyPoint, error) {
	obs, err := a.lookback(ctx, a.opts.LookbackDays, storage.ObservationFilter{Keyword: keyword, Pincode: pincode})
	if err != nil {
		return nil, err
	}
	return BuildDailySeries(obs, a.location), nil
}

// ForecastSeries holds the aligned chart arrays of a forecast.
type ForecastSeries struct {
	Dates            []string   `json:"dates"`
	Actual           []*float64 `json:"actual"`
	Predicted        []float64  `json:"predicted"`
	LowerBound       []float64  `json:"lower_bound"`
	UpperBound       []float64  `json:"upper_bound"`
	Trend            []float64  `json:"trend"`
	HistoricalDates  []string   `json:"historical_dates"`
	HistoricalValues []float64  `json:"historical_values"`
}

// ForecastResult is the outcome of GenerateStockForecast.
type ForecastResult struct {
	Keyword              string         `json:"keyword,omitempty"`
	Pincode              string         `json:"pincode,omitempty"`
	ForecastData         ForecastSeries `json:"forecast_data"`
	AvgOutageProbability float64        `json:"avg_outage_probability"`
	ConfidenceScore      float64        `json:"confidence_score"`
	DaysForecasted       int            `json:"days_forecasted"`
	DataPointsUsed       int            `json:"data_points_used"`
}

// GenerateStockForecast fits the additive model on the daily outage rate and
// forecasts daysAhead days past the last observed day. Fewer than MinDays days
// yields *InsufficientDataError; a failed fit yields *ModelFitError.
func (a *Analytics) GenerateStockForecast(ctx context.Context, keyword, pincode string, daysAhead int) (ForecastResult, error) {
	if daysAhead <= 0 {
		daysAhead = a.opts.ForecastDays
	}
	series, err := a.DailySeries(ctx, keyword, pincode)
	if err != nil {
		return ForecastResult{}, err
	}
	if len(series) < a.opts.MinDays {
		return ForecastResult{}, &InsufficientDataError{What: "daily", Have: len(series), Need: a.opts.MinDays}
	}

	ds, y := seriesXY(series)
	model, err := a.fit(ds, y, a.opts.Model)
	if err != nil {
		return ForecastResult{}, &ModelFitError{Entity: scopeLabel(keyword, pincode), Err: err}
	}

	dates := append([]time.Time(nil), ds...)
	last := ds[len(ds)-1]
	for i := 1; i <= daysAhead; i++ {
		dates = append(dates, last.AddDate(0, 0, i))
	}
	preds := model.Predict(dates)

	out := ForecastResult{
		Keyword:        keyword,
		Pincode:        pincode,
		DaysForecasted: daysAhead,
		DataPointsUsed: len(series),
	}
	fd := &out.ForecastData
	for i, p := range preds {
		fd.Dates = append(fd.Dates, storage.DateKey(p.Date))
		if i < len(y) {
			v := y[i]
			fd.Actual = append(fd.Actual, &v)
		} else {
			fd.Actual = append(fd.Actual, nil)
		}
		fd.Predicted = append(fd.Predicted, p.Yhat)
		fd.LowerBound = append(fd.LowerBound, p.Lower)
		fd.UpperBound = append(fd.UpperBound, p.Upper)
		fd.Trend = append(fd.Trend, p.Trend)
	}
	for i, d := range ds {
		fd.HistoricalDates = append(fd.HistoricalDates, storage.DateKey(d))
		fd.HistoricalValues = append(fd.HistoricalValues, y[i])
	}

	horizon := fd.Predicted[len(ds):]
	std := 0.0
	if len(horizon) > 1 {
		std = stat.StdDev(horizon, nil)
	}
	out.AvgOutageProbability = round2(stat.Mean(horizon, nil) * 100)
	// not clamped to [0, 100]
	out.ConfidenceScore = round2((1 - std) * 100)
	return out, nil
}

func scopeLabel(keyword, pincode string) string {
	switch {
	case keyword != "" && pincode != "":
		return keyword + "@" + pincode
	case keyword != "":
		return keyword
	case pincode != "":
		return "@" + pincode
	default:
		return "all"
	}
}

func round2(x float64) float64 {
	return roundTo(x, 2)
}

func roundTo(x float64, places int32) float64 {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return x
	}
	return decimal.NewFromFloat(x).Round(places).InexactFloat64()
}
