package analytics

import (
	"errors"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

const (
	maxChangepoints  = 25
	changepointRange = 0.8
	unpenalized      = 1e-6
	day              = 24 * time.Hour
)

// ModelOptions configures the additive trend + seasonality model.
type ModelOptions struct {
	DailySeasonality      bool
	WeeklySeasonality     bool
	YearlySeasonality     bool
	ChangepointPriorScale float64
	SeasonalityPriorScale float64
	IntervalWidth         float64
}

// DefaultModelOptions matches the forecast defaults.
func DefaultModelOptions() ModelOptions {
	return ModelOptions{
		DailySeasonality:      true,
		WeeklySeasonality:     true,
		ChangepointPriorScale: 0.05,
		SeasonalityPriorScale: 10,
		IntervalWidth:         0.8,
	}
}

type seasonality struct {
	period float64 // days
	order  int
}

// Model is a fitted piecewise-linear trend plus Fourier seasonalities,
// estimated as a ridge regression whose penalties play the role of priors.
type Model struct {
	opts         ModelOptions
	start        time.Time
	span         float64
	yScale       float64
	changepoints []float64
	seasons      []seasonality
	beta         []float64
	sigma        float64
	lastDate     time.Time
	n            int
}

// Prediction is one predicted point with its interval and trend component.
type Prediction struct {
	Date  time.Time
	Yhat  float64
	Lower float64
	Upper float64
	Trend float64
}

var errDegenerate = errors.New("design matrix is not positive definite")

// FitModel fits the model to (ds, y). Dates must be ascending.
func FitModel(ds []time.Time, y []float64, opts ModelOptions) (*Model, error) {
	if len(ds) != len(y) {
		return nil, fmt.Errorf("length mismatch: %d dates, %d values", len(ds), len(y))
	}
	if len(ds) < 2 {
		return nil, fmt.Errorf("need at least 2 points, got %d", len(ds))
	}
	for _, v := range y {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("series contains non-finite values")
		}
	}
	def := DefaultModelOptions()
	if opts.IntervalWidth <= 0 || opts.IntervalWidth >= 1 {
		opts.IntervalWidth = def.IntervalWidth
	}
	if opts.ChangepointPriorScale <= 0 {
		opts.ChangepointPriorScale = def.ChangepointPriorScale
	}
	if opts.SeasonalityPriorScale <= 0 {
		opts.SeasonalityPriorScale = def.SeasonalityPriorScale
	}

	m := &Model{
		opts:     opts,
		start:    ds[0],
		span:     ds[len(ds)-1].Sub(ds[0]).Hours() / 24,
		lastDate: ds[len(ds)-1],
		n:        len(ds),
	}
	if m.span <= 0 {
		return nil, fmt.Errorf("series spans a single instant")
	}
	m.yScale = floats.Max(absAll(y))
	if m.yScale == 0 {
		m.yScale = 1
	}

	if opts.DailySeasonality {
		m.seasons = append(m.seasons, seasonality{period: 1, order: 4})
	}
	if opts.WeeklySeasonality {
		m.seasons = append(m.seasons, seasonality{period: 7, order: 3})
	}
	if opts.YearlySeasonality {
		m.seasons = append(m.seasons, seasonality{period: 365.25, order: 10})
	}

	// potential changepoints sit on observed dates in the first 80% of history
	hist := int(math.Ceil(changepointRange * float64(len(ds))))
	cpCount := hist - 1
	if cpCount > maxChangepoints {
		cpCount = maxChangepoints
	}
	for i := 0; i < cpCount; i++ {
		idx := 1 + i*(hist-1)/cpCount
		m.changepoints = append(m.changepoints, m.scaledTime(ds[idx]))
	}

	rows := make([][]float64, len(ds))
	for i, d := range ds {
		rows[i] = m.features(d)
	}
	p := len(rows[0])

	X := mat.NewDense(len(rows), p, nil)
	for i, r := range rows {
		X.SetRow(i, r)
	}
	yv := mat.NewVecDense(len(y), nil)
	for i, v := range y {
		yv.SetVec(i, v/m.yScale)
	}

	var gram mat.SymDense
	gram.SymOuterK(1, X.T())
	penalties := m.penalties(p)
	for j := 0; j < p; j++ {
		gram.SetSym(j, j, gram.At(j, j)+penalties[j])
	}

	var xty mat.VecDense
	xty.MulVec(X.T(), yv)

	var chol mat.Cholesky
	if ok := chol.Factorize(&gram); !ok {
		return nil, errDegenerate
	}
	var beta mat.VecDense
	if err := chol.SolveVecTo(&beta, &xty); err != nil {
		return nil, fmt.Errorf("solve normal equations: %w", err)
	}
	m.beta = make([]float64, p)
	for j := range m.beta {
		m.beta[j] = beta.AtVec(j)
	}

	var ssr float64
	for i, r := range rows {
		resid := yv.AtVec(i) - floats.Dot(r, m.beta)
		ssr += resid * resid
	}
	dof := len(rows) - 1
	m.sigma = math.Sqrt(ssr/float64(dof)) * m.yScale
	return m, nil
}

// Predict evaluates the model at each date.
func (m *Model) Predict(dates []time.Time) []Prediction {
	z := distuv.UnitNormal.Quantile(0.5 + m.opts.IntervalWidth/2)
	trendCols := 2 + len(m.changepoints)

	out := make([]Prediction, len(dates))
	for i, d := range dates {
		f := m.features(d)
		yhat := floats.Dot(f, m.beta) * m.yScale
		trend := floats.Dot(f[:trendCols], m.beta[:trendCols]) * m.yScale

		steps := 0.0
		if d.After(m.lastDate) {
			steps = d.Sub(m.lastDate).Hours() / 24
		}
		width := z * m.sigma * math.Sqrt(1+steps/float64(m.n))
		out[i] = Prediction{Date: d, Yhat: yhat, Lower: yhat - width, Upper: yhat + width, Trend: trend}
	}
	return out
}

func (m *Model) scaledTime(d time.Time) float64 {
	return d.Sub(m.start).Hours() / 24 / m.span
}

// features lays out [1, t, changepoint hinges..., fourier terms...].
func (m *Model) features(d time.Time) []float64 {
	t := m.scaledTime(d)
	f := make([]float64, 0, 2+len(m.changepoints)+2*m.fourierTerms())
	f = append(f, 1, t)
	for _, cp := range m.changepoints {
		f = append(f, math.Max(0, t-cp))
	}

	days := float64(d.Unix()) / day.Seconds()
	for _, s := range m.seasons {
		for k := 1; k <= s.order; k++ {
			x := 2 * math.Pi * float64(k) * days / s.period
			f = append(f, math.Sin(x), math.Cos(x))
		}
	}
	return f
}

func (m *Model) fourierTerms() int {
	n := 0
	for _, s := range m.seasons {
		n += s.order
	}
	return n
}

func (m *Model) penalties(p int) []float64 {
	out := make([]float64, p)
	out[0], out[1] = unpenalized, unpenalized
	cpPenalty := 1 / (m.opts.ChangepointPriorScale * m.opts.ChangepointPriorScale)
	seasonPenalty := 1 / (m.opts.SeasonalityPriorScale * m.opts.SeasonalityPriorScale)
	for j := 2; j < p; j++ {
		if j < 2+len(m.changepoints) {
			out[j] = cpPenalty
		} else {
			out[j] = seasonPenalty
		}
	}
	return out
}

func absAll(xs []float64) []float64 {
	out := make([]float64, len(xs))
	for i, x := range xs {
		out[i] = math.Abs(x)
	}
	return out
}
