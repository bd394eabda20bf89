package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"stock-outage-alerts/internal/storage"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(MemoryPath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSessionRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	at := time.Date(2024, 3, 10, 9, 30, 0, 0, time.UTC)
	created, err := store.CreateSession(ctx, storage.ScrapeSession{
		RunID:            "run-1",
		Keyword:          "milk",
		Pincode:          "110001",
		Timestamp:        at,
		TotalProducts:    2,
		OutOfStockCount:  1,
		AvailabilityRate: decimal.RequireFromString("50.00"),
		Products: []storage.Product{
			{ProductName: "Milk", AvailableVariants: "500ml", OutOfStockVariants: "1L"},
			{ProductName: "Bread", AvailableVariants: "400g"},
		},
	})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if created.ID == 0 || created.Products[1].ID == 0 || created.Products[1].SessionID != created.ID {
		t.Fatalf("ids not populated: %+v", created)
	}

	loaded, err := store.GetSession(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if !loaded.Timestamp.Equal(at) || loaded.Keyword != "milk" || len(loaded.Products) != 2 {
		t.Fatalf("unexpected session: %+v", loaded)
	}
	if !loaded.AvailabilityRate.Equal(decimal.NewFromInt(50)) {
		t.Fatalf("availability = %s", loaded.AvailabilityRate)
	}

	if _, err := store.GetSession(ctx, 999); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("missing session should be ErrNotFound, got %v", err)
	}

	recent, err := store.ListRecentSessions(ctx, 5)
	if err != nil || len(recent) != 1 {
		t.Fatalf("ListRecentSessions = %v, %v", recent, err)
	}
}

func TestListObservationsFilters(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	base := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	obs := []storage.Observation{
		{ProductName: "Milk", Variant: "1L", Keyword: "milk", Pincode: "1", IsAvailable: false, CheckedAt: base.Add(time.Hour)},
		{ProductName: "Milk", Variant: "500ml", Keyword: "milk", Pincode: "1", IsAvailable: true, CheckedAt: base.Add(2 * time.Hour)},
		{ProductName: "Milk", Variant: "1L", Keyword: "milk", Pincode: "2", IsAvailable: false, CheckedAt: base.Add(3 * time.Hour)},
		{ProductName: "Milk", Variant: "1L", Keyword: "milk", Pincode: "1", IsAvailable: false, CheckedAt: base.Add(25 * time.Hour)},
	}
	if err := store.InsertObservations(ctx, obs); err != nil {
		t.Fatalf("InsertObservations: %v", err)
	}

	got, err := store.ListObservations(ctx, storage.ObservationFilter{
		Keyword:        "milk",
		Pincode:        "1",
		From:           base,
		To:             base.Add(24 * time.Hour),
		OutOfStockOnly: true,
	})
	if err != nil {
		t.Fatalf("ListObservations: %v", err)
	}
	if len(got) != 1 || got[0].Variant != "1L" || !got[0].CheckedAt.Equal(base.Add(time.Hour)) {
		t.Fatalf("unexpected observations: %+v", got)
	}

	all, err := store.ListObservations(ctx, storage.ObservationFilter{})
	if err != nil || len(all) != 4 {
		t.Fatalf("unfiltered = %d, %v", len(all), err)
	}
	if !all[1].IsAvailable {
		t.Fatal("availability flag lost")
	}
}

func TestUpsertAlertLifecycle(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	key := storage.AlertKey{ProductName: "Milk", Variant: "1L", Keyword: "milk", Pincode: "1", Type: storage.AlertDailyOutage}
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

	created, wrote, err := store.UpsertAlert(ctx, key, func(current *storage.Alert) (*storage.Alert, error) {
		if current != nil {
			t.Fatal("first upsert should see no row")
		}
		return &storage.Alert{
			Key:       key,
			Severity:  storage.SeverityMedium,
			Metrics:   storage.DailyOutageMetrics{OutageCountToday: 1, TotalChecksToday: 1},
			Message:   "first",
			CreatedAt: now,
			UpdatedAt: now,
		}, nil
	})
	if err != nil || !wrote {
		t.Fatalf("create: wrote=%v err=%v", wrote, err)
	}
	if created.ID == 0 || created.Metrics != (storage.DailyOutageMetrics{OutageCountToday: 1, TotalChecksToday: 1}) {
		t.Fatalf("unexpected created alert: %+v", created)
	}

	same, wrote, err := store.UpsertAlert(ctx, key, func(current *storage.Alert) (*storage.Alert, error) {
		if current == nil || current.ID != created.ID {
			t.Fatalf("expected existing row, got %+v", current)
		}
		return nil, nil
	})
	if err != nil || wrote || same.ID != created.ID {
		t.Fatalf("no-op upsert: wrote=%v err=%v alert=%+v", wrote, err, same)
	}

	resolved, err := store.ResolveAlert(ctx, created.ID, now.Add(time.Hour))
	if err != nil || !resolved.IsResolved || resolved.ResolvedAt == nil {
		t.Fatalf("resolve: %+v %v", resolved, err)
	}

	updated, wrote, err := store.UpsertAlert(ctx, key, func(current *storage.Alert) (*storage.Alert, error) {
		next := *current
		next.Metrics = storage.DailyOutageMetrics{OutageCountToday: 2, TotalChecksToday: 2}
		next.IsResolved = false
		next.ResolvedAt = nil
		return &next, nil
	})
	if err != nil || !wrote {
		t.Fatalf("update: wrote=%v err=%v", wrote, err)
	}
	if updated.IsResolved || updated.ResolvedAt != nil || updated.ID != created.ID {
		t.Fatalf("alert should be reopened in place: %+v", updated)
	}

	alerts, err := store.ListAlerts(ctx, storage.AlertFilter{})
	if err != nil || len(alerts) != 1 {
		t.Fatalf("ListAlerts = %d, %v", len(alerts), err)
	}

	stats, err := store.AlertStats(ctx)
	if err != nil {
		t.Fatalf("AlertStats: %v", err)
	}
	if stats.Active != 1 || stats.BySeverity[storage.SeverityMedium] != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}

	if _, err := store.ResolveAlert(ctx, 404, now); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("resolve missing = %v", err)
	}
}

func TestListAlertsSignificantBeforeLimit(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	base := time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC)
	seed := []struct {
		name    string
		typ     storage.AlertType
		metrics storage.AlertMetrics
	}{
		{"Curd", storage.AlertConsecutiveDays, storage.ConsecutiveDaysMetrics{ConsecutiveDays: 4}},
		{"Milk", storage.AlertDailyOutage, storage.DailyOutageMetrics{OutageCountToday: 1, TotalChecksToday: 2}},
		{"Bread", storage.AlertDailyOutage, storage.DailyOutageMetrics{OutageCountToday: 2, TotalChecksToday: 2}},
		{"Ghee", storage.AlertFrequentOutage, storage.FrequentOutageMetrics{WeeklyOutages: 9}},
	}
	for i, s := range seed {
		key := storage.AlertKey{ProductName: s.name, Keyword: "milk", Pincode: "1", Type: s.typ}
		at := base.Add(time.Duration(i) * time.Hour)
		_, _, err := store.UpsertAlert(ctx, key, func(*storage.Alert) (*storage.Alert, error) {
			return &storage.Alert{Key: key, Severity: storage.SeverityHigh, Metrics: s.metrics, Message: s.name, CreatedAt: at, UpdatedAt: at}, nil
		})
		if err != nil {
			t.Fatalf("seed %s: %v", s.name, err)
		}
	}

	// the only significant alert is also the oldest
	got, err := store.ListAlerts(ctx, storage.AlertFilter{Significant: true, Limit: 1})
	if err != nil {
		t.Fatalf("ListAlerts: %v", err)
	}
	if len(got) != 1 || got[0].Key.ProductName != "Curd" {
		t.Fatalf("significant alerts = %+v", got)
	}
}

func TestDailySummaryOverwrite(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	day := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	first := storage.DailySummary{
		Date:                    day,
		TotalProductsChecked:    4,
		TotalOutOfStock:         1,
		AvailabilityRate:        decimal.RequireFromString("75"),
		MostProblematicProducts: []string{"Milk 1L: 1 outages"},
	}
	if err := store.UpsertDailySummary(ctx, first); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	second := first
	second.TotalProductsChecked = 8
	second.TotalOutOfStock = 4
	second.AvailabilityRate = decimal.RequireFromString("50")
	second.MostProblematicProducts = nil
	if err := store.UpsertDailySummary(ctx, second); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	got, err := store.GetDailySummary(ctx, day)
	if err != nil {
		t.Fatalf("GetDailySummary: %v", err)
	}
	if got.TotalProductsChecked != 8 || !got.AvailabilityRate.Equal(decimal.NewFromInt(50)) || len(got.MostProblematicProducts) != 0 {
		t.Fatalf("summary not overwritten: %+v", got)
	}

	list, err := store.ListDailySummaries(ctx, 10)
	if err != nil || len(list) != 1 {
		t.Fatalf("ListDailySummaries = %d, %v", len(list), err)
	}

	if _, err := store.GetDailySummary(ctx, day.AddDate(0, 0, 1)); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("missing summary = %v", err)
	}
}
