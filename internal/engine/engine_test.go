package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"stock-outage-alerts/internal/alerting"
	"stock-outage-alerts/internal/storage"
	"stock-outage-alerts/internal/storage/sqlite"
)

type recordingNotifier struct {
	notes []alerting.Notification
	err   error
}

func (r *recordingNotifier) Notify(_ context.Context, note alerting.Notification) error {
	r.notes = append(r.notes, note)
	return r.err
}

var refNow = time.Date(2024, 3, 10, 10, 0, 0, 0, time.UTC)

func newTestEngine(t *testing.T) (*Engine, *sqlite.Store, *recordingNotifier) {
	t.Helper()
	store, err := sqlite.Open(sqlite.MemoryPath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	notifier := &recordingNotifier{}
	eng := New(store, notifier, DefaultOptions(), time.UTC, zerolog.Nop())
	eng.now = func() time.Time { return refNow }
	return eng, store, notifier
}

func createSession(t *testing.T, store *sqlite.Store, products ...storage.Product) storage.ScrapeSession {
	t.Helper()
	session, err := store.CreateSession(context.Background(), storage.ScrapeSession{
		RunID:     "run",
		Keyword:   "milk",
		Pincode:   "110001",
		Timestamp: refNow,
		Products:  products,
	})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	return session
}

func seedOutages(t *testing.T, store *sqlite.Store, at ...time.Time) {
	t.Helper()
	obs := make([]storage.Observation, 0, len(at))
	for _, ts := range at {
		obs = append(obs, storage.Observation{ProductName: "Milk", Variant: "1L", Keyword: "milk", Pincode: "110001", CheckedAt: ts})
	}
	if err := store.InsertObservations(context.Background(), obs); err != nil {
		t.Fatalf("seed observations: %v", err)
	}
}

func TestProcessSessionMilkBreadScenario(t *testing.T) {
	eng, store, notifier := newTestEngine(t)
	session := createSession(t, store,
		storage.Product{ProductName: "Milk", OutOfStockVariants: "1L"},
		storage.Product{ProductName: "Bread", OutOfStockVariants: "Error"},
	)

	result, err := eng.ProcessSession(context.Background(), eng.RunContext(), session)
	if err != nil {
		t.Fatalf("ProcessSession: %v", err)
	}
	if result.Observations != 1 {
		t.Fatalf("observations = %d, want 1", result.Observations)
	}
	if len(result.Daily) != 1 || len(result.Consecutive) != 0 || len(result.Frequent) != 0 {
		t.Fatalf("unexpected alerts: %+v", result)
	}
	daily := result.Daily[0]
	if daily.Key.ProductName != "Milk" || daily.Key.Variant != "1L" || daily.Severity != storage.SeverityMedium {
		t.Fatalf("unexpected daily alert: %+v", daily)
	}
	if daily.Metrics != (storage.DailyOutageMetrics{OutageCountToday: 1, TotalChecksToday: 1}) {
		t.Fatalf("metrics = %+v", daily.Metrics)
	}
	if daily.Message != "'Milk 1L' out of stock 1 times today" {
		t.Fatalf("message = %q", daily.Message)
	}

	if len(notifier.notes) != 1 || notifier.notes[0].Total() != 1 || !result.Notified {
		t.Fatalf("expected exactly one notification, got %d", len(notifier.notes))
	}

	alerts, err := store.ListAlerts(context.Background(), storage.AlertFilter{})
	if err != nil || len(alerts) != 1 {
		t.Fatalf("stored alerts = %d, %v", len(alerts), err)
	}

	if result.Summary == nil || result.Summary.TotalProductsChecked != 1 || !result.Summary.AvailabilityRate.Equal(decimal.Zero) {
		t.Fatalf("summary = %+v", result.Summary)
	}
}

func TestUpsertIsIdempotent(t *testing.T) {
	eng, store, _ := newTestEngine(t)
	ctx := context.Background()
	rc := eng.RunContext()
	c := candidate{
		Key:      storage.AlertKey{ProductName: "Milk", Variant: "1L", Keyword: "milk", Pincode: "110001", Type: storage.AlertFrequentOutage},
		Severity: storage.SeverityHigh,
		Metrics:  storage.FrequentOutageMetrics{WeeklyOutages: 3},
		Message:  "x",
	}

	if _, wrote, err := eng.upsert(ctx, rc, c); err != nil || !wrote {
		t.Fatalf("first upsert wrote=%v err=%v", wrote, err)
	}
	if _, wrote, err := eng.upsert(ctx, rc, c); err != nil || wrote {
		t.Fatalf("second upsert should be a no-op, wrote=%v err=%v", wrote, err)
	}

	alerts, err := store.ListAlerts(ctx, storage.AlertFilter{})
	if err != nil || len(alerts) != 1 {
		t.Fatalf("alerts = %d, %v", len(alerts), err)
	}
}

func TestResolvedAlertReopensOnChangedMetrics(t *testing.T) {
	eng, store, notifier := newTestEngine(t)
	ctx := context.Background()
	session := createSession(t, store, storage.Product{ProductName: "Milk", OutOfStockVariants: "1L"})

	first, err := eng.ProcessSession(ctx, eng.RunContext(), session)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	alertID := first.Daily[0].ID
	if _, err := store.ResolveAlert(ctx, alertID, refNow); err != nil {
		t.Fatalf("ResolveAlert: %v", err)
	}

	// unchanged metrics: stays resolved, nothing surfaced
	unchanged, err := eng.ProcessSession(ctx, eng.RunContext(), storage.ScrapeSession{ID: session.ID, Keyword: "milk", Pincode: "110001"})
	if err != nil {
		t.Fatalf("unchanged run: %v", err)
	}
	if unchanged.Surfaced() != 0 {
		t.Fatalf("no alert should surface, got %+v", unchanged)
	}
	still, _ := store.GetAlert(ctx, alertID)
	if !still.IsResolved {
		t.Fatal("engine must never resolve or reopen without a metric change")
	}

	second, err := eng.ProcessSession(ctx, eng.RunContext(), session)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if len(second.Daily) != 1 || second.Daily[0].ID != alertID {
		t.Fatalf("expected the same alert to be updated, got %+v", second.Daily)
	}
	reopened, err := store.GetAlert(ctx, alertID)
	if err != nil {
		t.Fatalf("GetAlert: %v", err)
	}
	if reopened.IsResolved || reopened.ResolvedAt != nil {
		t.Fatalf("alert should be reopened: %+v", reopened)
	}
	if reopened.Metrics != (storage.DailyOutageMetrics{OutageCountToday: 2, TotalChecksToday: 2}) {
		t.Fatalf("metrics = %+v", reopened.Metrics)
	}
	if len(notifier.notes) != 2 {
		t.Fatalf("notifications = %d, want 2", len(notifier.notes))
	}
}

func TestConsecutiveDaySeverity(t *testing.T) {
	day := func(offset, hour int) time.Time {
		return time.Date(2024, 3, 10+offset, hour, 0, 0, 0, time.UTC)
	}
	cases := []struct {
		name         string
		seed         []time.Time
		wantDays     int
		wantSeverity storage.Severity
		wantFrequent int
	}{
		{
			name:         "three distinct days is critical",
			seed:         []time.Time{day(-4, 9), day(-2, 9), day(0, 8)},
			wantDays:     3,
			wantSeverity: storage.SeverityCritical,
			wantFrequent: 3,
		},
		{
			name:         "two days is high",
			seed:         []time.Time{day(-1, 9), day(0, 8)},
			wantDays:     2,
			wantSeverity: storage.SeverityHigh,
		},
		{
			name:         "calendar window excludes day eight",
			seed:         []time.Time{day(-7, 12), day(-1, 9), day(0, 8)},
			wantDays:     2,
			wantSeverity: storage.SeverityHigh,
			wantFrequent: 3,
		},
		{
			name: "single day raises nothing",
			seed: []time.Time{day(0, 7), day(0, 8)},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			eng, store, _ := newTestEngine(t)
			seedOutages(t, store, tc.seed...)

			result, err := eng.ProcessSession(context.Background(), eng.RunContext(), storage.ScrapeSession{Keyword: "milk", Pincode: "110001"})
			if err != nil {
				t.Fatalf("ProcessSession: %v", err)
			}

			if tc.wantDays == 0 {
				if len(result.Consecutive) != 0 {
					t.Fatalf("unexpected consecutive alert: %+v", result.Consecutive)
				}
			} else {
				if len(result.Consecutive) != 1 {
					t.Fatalf("consecutive alerts = %d", len(result.Consecutive))
				}
				got := result.Consecutive[0]
				if got.Metrics != (storage.ConsecutiveDaysMetrics{ConsecutiveDays: tc.wantDays}) || got.Severity != tc.wantSeverity {
					t.Fatalf("got %+v severity %s", got.Metrics, got.Severity)
				}
			}

			if tc.wantFrequent == 0 {
				if len(result.Frequent) != 0 {
					t.Fatalf("unexpected frequent alert: %+v", result.Frequent)
				}
				return
			}
			if len(result.Frequent) != 1 || result.Frequent[0].Metrics != (storage.FrequentOutageMetrics{WeeklyOutages: tc.wantFrequent}) {
				t.Fatalf("frequent = %+v", result.Frequent)
			}
			if result.Frequent[0].Severity != storage.SeverityHigh {
				t.Fatalf("frequent severity = %s", result.Frequent[0].Severity)
			}
		})
	}
}

func TestFrequentWindowIsRolling(t *testing.T) {
	eng, store, _ := newTestEngine(t)
	// 169h before refNow falls outside the rolling week
	seedOutages(t, store, refNow.Add(-169*time.Hour), refNow.Add(-48*time.Hour), refNow.Add(-time.Hour))

	result, err := eng.ProcessSession(context.Background(), eng.RunContext(), storage.ScrapeSession{Keyword: "milk", Pincode: "110001"})
	if err != nil {
		t.Fatalf("ProcessSession: %v", err)
	}
	if len(result.Frequent) != 0 {
		t.Fatalf("two outages in the rolling week must not alert: %+v", result.Frequent)
	}
}

func TestNotificationFailureDoesNotAbort(t *testing.T) {
	eng, store, notifier := newTestEngine(t)
	notifier.err = errors.New("smtp down")
	session := createSession(t, store, storage.Product{ProductName: "Milk", OutOfStockVariants: "1L"})

	result, err := eng.ProcessSession(context.Background(), eng.RunContext(), session)
	if err != nil {
		t.Fatalf("notification failure must not fail the run: %v", err)
	}
	if result.Notified || len(result.Daily) != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.Summary == nil {
		t.Fatal("summary should still be written")
	}
}

func TestDailySummary(t *testing.T) {
	eng, store, _ := newTestEngine(t)
	ctx := context.Background()

	summary, err := eng.UpdateDailySummary(ctx, eng.RunContext())
	if err != nil || summary != nil {
		t.Fatalf("empty day should be a no-op, got %+v %v", summary, err)
	}
	if _, err := store.GetDailySummary(ctx, refNow); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("no summary row expected, got %v", err)
	}

	at := refNow.Add(-time.Hour)
	obs := []storage.Observation{
		{ProductName: "Milk", Variant: "1L", Keyword: "milk", Pincode: "1", CheckedAt: at},
		{ProductName: "Milk", Variant: "1L", Keyword: "milk", Pincode: "2", CheckedAt: at},
		{ProductName: "Bread", Variant: "400g", Keyword: "bread", Pincode: "1", CheckedAt: at},
		{ProductName: "Milk", Variant: "500ml", Keyword: "milk", Pincode: "1", IsAvailable: true, CheckedAt: at},
		{ProductName: "Eggs", Variant: "6", Keyword: "eggs", Pincode: "1", IsAvailable: true, CheckedAt: at},
		{ProductName: "Eggs", Variant: "12", Keyword: "eggs", Pincode: "1", IsAvailable: true, CheckedAt: at},
		{ProductName: "Old", Variant: "x", Keyword: "eggs", Pincode: "1", CheckedAt: refNow.AddDate(0, 0, -1)},
	}
	if err := store.InsertObservations(ctx, obs); err != nil {
		t.Fatalf("seed: %v", err)
	}

	for i := 0; i < 2; i++ {
		summary, err = eng.UpdateDailySummary(ctx, eng.RunContext())
		if err != nil {
			t.Fatalf("UpdateDailySummary: %v", err)
		}
	}
	if summary.TotalProductsChecked != 6 || summary.TotalOutOfStock != 3 {
		t.Fatalf("counts = %d/%d", summary.TotalProductsChecked, summary.TotalOutOfStock)
	}
	if !summary.AvailabilityRate.Equal(decimal.NewFromInt(50)) {
		t.Fatalf("availability = %s", summary.AvailabilityRate)
	}
	want := []string{"Milk 1L: 2 outages", "Bread 400g: 1 outages"}
	if len(summary.MostProblematicProducts) != 2 || summary.MostProblematicProducts[0] != want[0] || summary.MostProblematicProducts[1] != want[1] {
		t.Fatalf("top products = %v", summary.MostProblematicProducts)
	}

	list, err := store.ListDailySummaries(ctx, 10)
	if err != nil || len(list) != 1 {
		t.Fatalf("summaries = %d, %v", len(list), err)
	}
}

func TestAvailabilityRateRounding(t *testing.T) {
	if got := AvailabilityRate(3, 1); got.String() != "66.67" {
		t.Fatalf("rate = %s", got)
	}
	if !AvailabilityRate(0, 0).IsZero() {
		t.Fatal("empty total should be zero")
	}
}
