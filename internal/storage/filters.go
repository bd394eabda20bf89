package storage

import (
	"strings"
	"time"
)

// Placeholder renders the n-th (1-based) bind parameter for a SQL dialect.
type Placeholder func(n int) string

// TimeArg converts a timestamp into the bind value a backend stores.
type TimeArg func(t time.Time) any

// Conditions renders the filter as a WHERE clause (without the keyword) and
// its bind arguments. An empty clause means no filtering.
func (f ObservationFilter) Conditions(ph Placeholder, ts TimeArg) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	add := func(expr string, arg any) {
		args = append(args, arg)
		clauses = append(clauses, expr+" "+ph(len(args)))
	}

	if f.Keyword != "" {
		add("keyword =", f.Keyword)
	}
	if f.Pincode != "" {
		add("pincode =", f.Pincode)
	}
	if f.ProductName != "" {
		add("product_name =", f.ProductName)
	}
	if !f.From.IsZero() {
		add("checked_at >=", ts(f.From))
	}
	if !f.To.IsZero() {
		add("checked_at <", ts(f.To))
	}
	if f.OutOfStockOnly {
		add("is_available =", false)
	}
	return strings.Join(clauses, " AND "), args
}

// Conditions renders the alert filter as a WHERE clause and bind arguments.
func (f AlertFilter) Conditions(ph Placeholder, ts TimeArg) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	add := func(expr string, arg any) {
		args = append(args, arg)
		clauses = append(clauses, expr+" "+ph(len(args)))
	}

	if f.Resolved != nil {
		add("is_resolved =", *f.Resolved)
	}
	if f.Keyword != "" {
		add("keyword =", f.Keyword)
	}
	if f.Pincode != "" {
		add("pincode =", f.Pincode)
	}
	if f.Type != "" {
		add("alert_type =", string(f.Type))
	}
	if !f.Since.IsZero() {
		add("created_at >=", ts(f.Since))
	}
	if f.Significant {
		args = append(args, string(AlertDailyOutage), SignificantThreshold, string(AlertConsecutiveDays), SignificantThreshold)
		n := len(args)
		clauses = append(clauses, "((alert_type = "+ph(n-3)+" AND outage_count_today >= "+ph(n-2)+
			") OR (alert_type = "+ph(n-1)+" AND consecutive_days >= "+ph(n)+"))")
	}
	return strings.Join(clauses, " AND "), args
}
