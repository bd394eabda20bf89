package analytics

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"stock-outage-alerts/internal/storage"
	"stock-outage-alerts/internal/storage/sqlite"
)

var refNow = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

type fixture struct {
	t     *testing.T
	store *sqlite.Store
	an    *Analytics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := sqlite.Open(sqlite.MemoryPath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	an := New(store, store, DefaultOptions(), time.UTC, zerolog.Nop())
	an.now = func() time.Time { return refNow }
	return &fixture{t: t, store: store, an: an}
}

// seed records total checks of product at pincode on refNow+offset days at
// hour, the first outages of which are out of stock.
func (f *fixture) seed(product, pincode string, offset, hour, total, outages int) {
	f.t.Helper()
	at := time.Date(2024, 3, 10+offset, hour, 0, 0, 0, time.UTC)
	obs := make([]storage.Observation, 0, total)
	for i := 0; i < total; i++ {
		obs = append(obs, storage.Observation{
			ProductName: product,
			Variant:     "1L",
			Keyword:     "milk",
			Pincode:     pincode,
			IsAvailable: i >= outages,
			CheckedAt:   at,
		})
	}
	if err := f.store.InsertObservations(context.Background(), obs); err != nil {
		f.t.Fatalf("seed: %v", err)
	}
}

func TestGenerateStockForecastInsufficientData(t *testing.T) {
	f := newFixture(t)
	for d := -3; d <= 0; d++ {
		f.seed("Milk", "1", d, 9, 4, 1)
	}

	_, err := f.an.GenerateStockForecast(context.Background(), "", "", 7)
	var insufficient *InsufficientDataError
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected InsufficientDataError, got %v", err)
	}
	if insufficient.Have != 4 || insufficient.Need != 5 {
		t.Fatalf("unexpected error detail: %+v", insufficient)
	}
}

func TestGenerateStockForecastConstantRate(t *testing.T) {
	f := newFixture(t)
	for d := -9; d <= 0; d++ {
		f.seed("Milk", "1", d, 9, 4, 1)
	}
	// outside the 30 day lookback
	f.seed("Milk", "1", -40, 9, 4, 4)

	result, err := f.an.GenerateStockForecast(context.Background(), "milk", "1", 7)
	if err != nil {
		t.Fatalf("GenerateStockForecast: %v", err)
	}
	if result.DataPointsUsed != 10 || result.DaysForecasted != 7 {
		t.Fatalf("points=%d days=%d", result.DataPointsUsed, result.DaysForecasted)
	}
	fd := result.ForecastData
	if len(fd.Dates) != 17 || len(fd.Predicted) != 17 || len(fd.HistoricalDates) != 10 {
		t.Fatalf("series lengths: dates=%d predicted=%d history=%d", len(fd.Dates), len(fd.Predicted), len(fd.HistoricalDates))
	}
	if fd.Actual[9] == nil || *fd.Actual[9] != 0.25 || fd.Actual[10] != nil {
		t.Fatal("actual values should cover history only")
	}
	if fd.Dates[10] != "2024-03-11" || fd.Dates[16] != "2024-03-17" {
		t.Fatalf("horizon dates = %s..%s", fd.Dates[10], fd.Dates[16])
	}
	if result.AvgOutageProbability != 25 {
		t.Fatalf("avg probability = %v, want 25", result.AvgOutageProbability)
	}
	if result.ConfidenceScore != 100 {
		t.Fatalf("confidence = %v, want 100", result.ConfidenceScore)
	}
	for i := range fd.Predicted {
		if fd.LowerBound[i] > fd.Predicted[i] || fd.UpperBound[i] < fd.Predicted[i] {
			t.Fatalf("bounds do not bracket prediction at %d", i)
		}
	}
}

func TestForecastOutOfStockProducts(t *testing.T) {
	f := newFixture(t)
	for d := -7; d <= 0; d++ {
		f.seed("Milk", "1", d, 9, 2, 2)
		f.seed("Curd", "1", d, 9, 5, 4)
		f.seed("Bread", "1", d, 9, 3, 0)
		f.seed("Paneer", "2", d, 9, 2, 2)
	}
	for d := -2; d <= 0; d++ {
		f.seed("Eggs", "1", d, 9, 2, 2)
	}

	risks, err := f.an.ForecastOutOfStockProducts(context.Background(), "1", 7, 0.7)
	if err != nil {
		t.Fatalf("ForecastOutOfStockProducts: %v", err)
	}
	if len(risks) != 2 {
		t.Fatalf("expected Milk and Curd, got %+v", risks)
	}
	if risks[0].ProductName != "Milk" || risks[0].PredictedOutageProbability != 100 || risks[0].Date != "2024-03-11" {
		t.Fatalf("unexpected first risk: %+v", risks[0])
	}
	if risks[1].ProductName != "Curd" || math.Abs(risks[1].PredictedOutageProbability-80) > 0.01 {
		t.Fatalf("unexpected second risk: %+v", risks[1])
	}
}

func TestForecastOutOfStockProductsSkipsFailedFit(t *testing.T) {
	f := newFixture(t)
	for d := -7; d <= 0; d++ {
		f.seed("Milk", "1", d, 9, 2, 2)
		f.seed("Curd", "1", d, 9, 5, 4)
	}
	// Curd is the only product whose daily outage rate is 0.8
	f.an.fit = func(ds []time.Time, y []float64, opts ModelOptions) (*Model, error) {
		if y[0] == 0.8 {
			return nil, errors.New("singular system")
		}
		return FitModel(ds, y, opts)
	}

	risks, err := f.an.ForecastOutOfStockProducts(context.Background(), "1", 7, 0.7)
	if err != nil {
		t.Fatalf("one failed fit must not fail the batch: %v", err)
	}
	if len(risks) != 1 || risks[0].ProductName != "Milk" {
		t.Fatalf("expected only Milk, got %+v", risks)
	}
}

func TestAnalyzePincodePatterns(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.seed("Milk", "1", 0, 9, 10, 5)
	f.seed("Milk", "2", 0, 9, 10, 1)
	if _, err := f.an.AnalyzePincodePatterns(ctx); err == nil {
		t.Fatal("two pincodes must be insufficient")
	} else {
		var insufficient *InsufficientDataError
		if !errors.As(err, &insufficient) {
			t.Fatalf("unexpected error type: %v", err)
		}
	}

	f.seed("Bread", "1", -1, 9, 10, 5)
	f.seed("Milk", "3", 0, 9, 4, 0)
	f.seed("Milk", "4", 0, 9, 20, 18)
	f.seed("Eggs", "5", 0, 9, 6, 1)
	f.seed("Bread", "5", 0, 9, 6, 1)

	first, err := f.an.AnalyzePincodePatterns(ctx)
	if err != nil {
		t.Fatalf("AnalyzePincodePatterns: %v", err)
	}
	if len(first.Clusters) == 0 || len(first.Clusters) > 4 {
		t.Fatalf("cluster count = %d", len(first.Clusters))
	}
	seen := make(map[string]int)
	for _, c := range first.Clusters {
		for _, p := range c.Pincodes {
			seen[p]++
		}
	}
	if len(seen) != 5 {
		t.Fatalf("every pincode must be clustered: %v", seen)
	}
	for p, n := range seen {
		if n != 1 {
			t.Fatalf("pincode %s appears in %d clusters", p, n)
		}
	}
	if first.PincodeData[0].Pincode != "1" || first.PincodeData[0].TotalChecks != 20 {
		t.Fatalf("pincodes should be ordered by checks: %+v", first.PincodeData[0])
	}
	if first.AnalysisPeriod != "2024-02-09 to 2024-03-10" {
		t.Fatalf("period = %q", first.AnalysisPeriod)
	}

	second, err := f.an.AnalyzePincodePatterns(ctx)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	for i := range first.PincodeData {
		if first.PincodeData[i].Cluster != second.PincodeData[i].Cluster {
			t.Fatal("clustering must be reproducible with a fixed seed")
		}
	}
}

func TestDescribeCluster(t *testing.T) {
	cases := []struct {
		rate, products float64
		want           string
	}{
		{0.31, 51, "High-Risk, High-Volume Region"},
		{0.3, 50, "Medium-Risk, Medium-Volume Region"},
		{0.16, 21, "Medium-Risk, Medium-Volume Region"},
		{0.15, 20, "Stable, Low-Volume Region"},
	}
	for _, tc := range cases {
		if got := DescribeCluster(tc.rate, tc.products); got != tc.want {
			t.Fatalf("DescribeCluster(%v, %v) = %q, want %q", tc.rate, tc.products, got, tc.want)
		}
	}
}

func TestKMeansSeparatesObviousGroups(t *testing.T) {
	points := [][]float64{{0, 0}, {0.1, 0}, {10, 10}, {10.1, 10}, {0, 0.1}}
	labels := renumber(kmeans(points, 2, 42))
	if labels[0] != labels[1] || labels[0] != labels[4] || labels[2] != labels[3] || labels[0] == labels[2] {
		t.Fatalf("labels = %v", labels)
	}
	if labels[0] != 0 || labels[2] != 1 {
		t.Fatalf("labels should be numbered by first appearance: %v", labels)
	}

	same := renumber(kmeans([][]float64{{1, 1}, {1, 1}, {1, 1}}, 3, 42))
	if len(same) != 3 {
		t.Fatalf("identical points: %v", same)
	}
}

func TestCorrelationHeatmap(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	empty, err := f.an.GenerateCorrelationHeatmap(ctx)
	if err != nil {
		t.Fatalf("empty heatmap: %v", err)
	}
	if empty.Error == "" || len(empty.Matrix.Values) != 5 || len(empty.TimePatterns.Hourly.Availability) != 24 {
		t.Fatalf("empty result should be a zeroed structure: %+v", empty)
	}

	// 2024-03-10 is a Sunday
	f.seed("Milk", "1", 0, 9, 4, 0)
	f.seed("Milk", "1", 0, 18, 4, 4)

	result, err := f.an.GenerateCorrelationHeatmap(ctx)
	if err != nil {
		t.Fatalf("GenerateCorrelationHeatmap: %v", err)
	}
	if result.Error != "" {
		t.Fatalf("unexpected error: %s", result.Error)
	}
	if math.Abs(result.Matrix.Values[1][4]+1) > 1e-9 || result.Matrix.Text[1][4] != "-1.000" {
		t.Fatalf("hour/availability correlation = %v", result.Matrix.Values[1][4])
	}
	if result.Matrix.Values[0][4] != 0 {
		t.Fatal("constant pincode column should correlate as 0")
	}
	if result.TimePatterns.Hourly.Availability[9] != 100 || result.TimePatterns.Hourly.Availability[18] != 0 {
		t.Fatalf("hourly = %v", result.TimePatterns.Hourly.Availability)
	}
	if result.TimePatterns.Daily.Availability[0] != 50 {
		t.Fatalf("sunday availability = %v", result.TimePatterns.Daily.Availability[0])
	}
	want := []string{
		"Best availability hours: 9, 18",
		"Lowest availability hours: 18, 9",
		"Best availability day: Sunday",
		"Lowest availability day: Sunday",
	}
	if len(result.Insights) != len(want) {
		t.Fatalf("insights = %v", result.Insights)
	}
	for i := range want {
		if result.Insights[i] != want[i] {
			t.Fatalf("insight %d = %q, want %q", i, result.Insights[i], want[i])
		}
	}
}

func TestAdvancedMetrics(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.seed("Milk", "1", -2, 9, 4, 2)
	f.seed("Milk", "1", -1, 9, 4, 1)
	f.seed("Milk", "1", 0, 9, 4, 0)

	for i := 0; i < 6; i++ {
		key := storage.AlertKey{ProductName: "P", Variant: string(rune('a' + i)), Keyword: "milk", Pincode: "1", Type: storage.AlertDailyOutage}
		_, _, err := f.store.UpsertAlert(ctx, key, func(*storage.Alert) (*storage.Alert, error) {
			return &storage.Alert{Key: key, Severity: storage.SeverityMedium, Metrics: storage.DailyOutageMetrics{OutageCountToday: 1, TotalChecksToday: 1}, Message: "m", CreatedAt: refNow, UpdatedAt: refNow}, nil
		})
		if err != nil {
			t.Fatalf("seed alert: %v", err)
		}
	}

	metrics, err := f.an.AdvancedMetrics(ctx)
	if err != nil {
		t.Fatalf("AdvancedMetrics: %v", err)
	}
	if metrics.Trend.Direction != "Improving" || metrics.Trend.Slope != 25 {
		t.Fatalf("trend = %+v", metrics.Trend)
	}
	if metrics.RiskAssessment.Level != "MEDIUM" || metrics.RiskAssessment.ActiveAlerts != 6 {
		t.Fatalf("risk = %+v", metrics.RiskAssessment)
	}
	if metrics.DataQuality.DaysAnalyzed != 3 || metrics.DataQuality.TotalDataPoints != 12 {
		t.Fatalf("data quality = %+v", metrics.DataQuality)
	}

	if TrendOf(nil).Direction != "Insufficient Data" {
		t.Fatal("no data should be insufficient")
	}
	if RiskLevel(11) != "HIGH" || RiskLevel(5) != "LOW" {
		t.Fatal("risk thresholds are strict")
	}
}

func TestBundleDegradesClustering(t *testing.T) {
	f := newFixture(t)
	for d := -5; d <= 0; d++ {
		f.seed("Milk", "1", d, 9, 2, 2)
	}

	bundle, err := f.an.Bundle(context.Background(), "", 7, 0.7)
	if err != nil {
		t.Fatalf("Bundle: %v", err)
	}
	if bundle.Clustering != nil || bundle.ClusteringError == "" {
		t.Fatalf("clustering should degrade: %+v", bundle.ClusteringError)
	}
	if len(bundle.ProductsAtRisk) != 1 || bundle.Metrics.DataQuality.TotalDataPoints == 0 {
		t.Fatalf("unexpected bundle: %+v", bundle)
	}
}

func TestFitModelRejectsBadInput(t *testing.T) {
	day0 := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	if _, err := FitModel([]time.Time{day0}, []float64{1, 2}, DefaultModelOptions()); err == nil {
		t.Fatal("length mismatch should fail")
	}
	if _, err := FitModel([]time.Time{day0, day0}, []float64{1, 2}, DefaultModelOptions()); err == nil {
		t.Fatal("zero span should fail")
	}
	if _, err := FitModel([]time.Time{day0, day0.AddDate(0, 0, 1)}, []float64{math.NaN(), 1}, DefaultModelOptions()); err == nil {
		t.Fatal("NaN should fail")
	}
}

func TestModelIntervalsWidenWithHorizon(t *testing.T) {
	day0 := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	var ds []time.Time
	var y []float64
	for i := 0; i < 14; i++ {
		ds = append(ds, day0.AddDate(0, 0, i))
		y = append(y, 0.2+0.1*float64(i%3))
	}
	model, err := FitModel(ds, y, DefaultModelOptions())
	if err != nil {
		t.Fatalf("FitModel: %v", err)
	}
	preds := model.Predict([]time.Time{ds[13], ds[13].AddDate(0, 0, 1), ds[13].AddDate(0, 0, 10)})
	w0 := preds[0].Upper - preds[0].Lower
	w1 := preds[1].Upper - preds[1].Lower
	w2 := preds[2].Upper - preds[2].Lower
	if !(w0 < w1 && w1 < w2) {
		t.Fatalf("interval widths should grow: %v %v %v", w0, w1, w2)
	}
}
