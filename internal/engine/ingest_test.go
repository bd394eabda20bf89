package engine

import (
	"testing"
	"time"

	"stock-outage-alerts/internal/storage"
)

func TestExtractObservationsFiltersSentinels(t *testing.T) {
	at := time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)
	session := storage.ScrapeSession{
		ID:      9,
		Keyword: "milk",
		Pincode: "110001",
		Products: []storage.Product{
			{ProductName: "Only error", OutOfStockVariants: "Error"},
			{ProductName: "Mixed", AvailableVariants: "500ml ;  ; 2L", OutOfStockVariants: "A; Error;No data"},
			{ProductName: "In stock", AvailableVariants: "1kg"},
			{ProductName: "Case", OutOfStockVariants: "error"},
		},
	}

	obs := ExtractObservations(session, DefaultSentinelVariants, at)
	type seen struct {
		product, variant string
		available        bool
	}
	want := []seen{
		{"Mixed", "500ml", true},
		{"Mixed", "2L", true},
		{"Mixed", "A", false},
		{"Case", "error", false},
	}
	if len(obs) != len(want) {
		t.Fatalf("got %d observations: %+v", len(obs), obs)
	}
	for i, w := range want {
		o := obs[i]
		if o.ProductName != w.product || o.Variant != w.variant || o.IsAvailable != w.available {
			t.Fatalf("obs[%d] = %+v, want %+v", i, o, w)
		}
		if o.SessionID != 9 || o.Keyword != "milk" || o.Pincode != "110001" || !o.CheckedAt.Equal(at) {
			t.Fatalf("obs[%d] not stamped with session: %+v", i, o)
		}
	}
}

func TestSplitVariants(t *testing.T) {
	got := SplitVariants(" a ;b;; ;c ")
	if len(got) != 3 || got[0] != "a" || got[2] != "c" {
		t.Fatalf("SplitVariants = %q", got)
	}
	if len(SplitVariants("")) != 0 {
		t.Fatal("empty input should yield nothing")
	}
}

func TestRunContextDays(t *testing.T) {
	loc := time.FixedZone("IST", 5*3600+1800)
	rc := NewRunContext(time.Date(2024, 3, 9, 20, 0, 0, 123456789, time.UTC), loc)
	if rc.Now.Nanosecond()%1000 != 0 {
		t.Fatal("now should be truncated to microseconds")
	}
	if storage.DateKey(rc.Today()) != "2024-03-10" {
		t.Fatalf("today = %s", rc.Today())
	}
	if !rc.DayStart(-6).Equal(time.Date(2024, 3, 4, 0, 0, 0, 0, loc)) {
		t.Fatalf("DayStart(-6) = %s", rc.DayStart(-6))
	}
}
