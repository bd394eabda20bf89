package analytics

import (
	"context"
	"errors"
	"math"
	"sort"
	"time"

	"stock-outage-alerts/internal/storage"
)

// ProductRisk is the first forecast day a product crosses the threshold.
type ProductRisk struct {
	ProductName                string  `json:"product_name"`
	Date                       string  `json:"date"`
	PredictedOutageProbability float64 `json:"predicted_outage_probability"`
}

// ForecastOutOfStockProducts fits a weekly-seasonal model per product seen in
// the lookback window and reports the first day from tomorrow onward whose
// predicted outage rate reaches threshold. Products with too little history,
// or whose fit fails, are skipped.
func (a *Analytics) ForecastOutOfStockProducts(ctx context.Context, pincode string, daysAhead int, threshold float64) ([]ProductRisk, error) {
	if daysAhead <= 0 {
		daysAhead = a.opts.ForecastDays
	}
	if threshold <= 0 {
		threshold = a.opts.ProductThreshold
	}

	obs, err := a.lookback(ctx, a.opts.LookbackDays, storage.ObservationFilter{Pincode: pincode})
	if err != nil {
		return nil, err
	}

	byProduct := make(map[string][]storage.Observation)
	var names []string
	for _, o := range obs {
		if _, ok := byProduct[o.ProductName]; !ok {
			names = append(names, o.ProductName)
		}
		byProduct[o.ProductName] = append(byProduct[o.ProductName], o)
	}
	sort.Strings(names)

	today := a.today()
	future := make([]time.Time, 0, daysAhead)
	for i := 1; i <= daysAhead; i++ {
		future = append(future, today.AddDate(0, 0, i))
	}

	opts := a.opts.Model
	opts.DailySeasonality = false
	opts.WeeklySeasonality = true
	opts.YearlySeasonality = false

	out := []ProductRisk{}
	for _, name := range names {
		risk, err := a.scanProduct(name, byProduct[name], future, threshold, opts)
		if err != nil {
			var fitErr *ModelFitError
			if errors.As(err, &fitErr) {
				a.logger.Warn().Err(err).Str("product", name).Msg("产品预测失败, 跳过")
			}
			continue
		}
		if risk != nil {
			out = append(out, *risk)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].PredictedOutageProbability > out[j].PredictedOutageProbability
	})
	return out, nil
}

func (a *Analytics) scanProduct(name string, obs []storage.Observation, future []time.Time, threshold float64, opts ModelOptions) (*ProductRisk, error) {
	series := BuildDailySeries(obs, a.location)
	if len(series) < a.opts.MinDays {
		return nil, &InsufficientDataError{What: "product", Have: len(series), Need: a.opts.MinDays}
	}
	ds, y := seriesXY(series)
	model, err := a.fit(ds, y, opts)
	if err != nil {
		return nil, &ModelFitError{Entity: name, Err: err}
	}
	for _, p := range model.Predict(future) {
		if p.Yhat >= threshold {
			return &ProductRisk{
				ProductName:                name,
				Date:                       storage.DateKey(p.Date),
				PredictedOutageProbability: math.Min(round2(p.Yhat*100), 100),
			}, nil
		}
	}
	return nil, nil
}
