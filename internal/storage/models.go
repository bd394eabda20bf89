package storage

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// VariantSeparator joins variant lists inside a Product row.
const VariantSeparator = "; "

// ScrapeSession is one scraper run for a keyword at a pincode.
type ScrapeSession struct {
	ID               int64           `json:"id"`
	RunID            string          `json:"run_id"`
	Keyword          string          `json:"keyword"`
	Pincode          string          `json:"pincode"`
	Timestamp        time.Time       `json:"timestamp"`
	TotalProducts    int             `json:"total_products"`
	OutOfStockCount  int             `json:"out_of_stock_count"`
	AvailabilityRate decimal.Decimal `json:"availability_rate"`
	Products         []Product       `json:"products,omitempty"`
}

// Product is a scraped product inside a session. Variant lists are stored
// joined with VariantSeparator.
type Product struct {
	ID                 int64  `json:"id"`
	SessionID          int64  `json:"session_id"`
	ProductName        string `json:"product_name"`
	AvailableVariants  string `json:"available_variants"`
	OutOfStockVariants string `json:"out_of_stock_variants"`
	URL                string `json:"url"`
}

// HasOutOfStock reports whether the raw out-of-stock column carries anything.
func (p Product) HasOutOfStock() bool {
	return strings.TrimSpace(p.OutOfStockVariants) != ""
}

// Observation is one availability check of one variant.
type Observation struct {
	ID          int64     `json:"id"`
	SessionID   int64     `json:"session_id"`
	ProductName string    `json:"product_name"`
	Variant     string    `json:"variant"`
	Keyword     string    `json:"keyword"`
	Pincode     string    `json:"pincode"`
	IsAvailable bool      `json:"is_available"`
	CheckedAt   time.Time `json:"checked_at"`
}

// ObservationFilter narrows observation reads. Empty strings and zero times
// mean unbounded; From is inclusive and To is exclusive.
type ObservationFilter struct {
	Keyword        string
	Pincode        string
	ProductName    string
	From           time.Time
	To             time.Time
	OutOfStockOnly bool
}

// AlertType enumerates alert kinds.
type AlertType string

const (
	AlertDailyOutage       AlertType = "DAILY_OUTAGE"
	AlertConsecutiveDays   AlertType = "CONSECUTIVE_DAYS"
	AlertFrequentOutage    AlertType = "FREQUENT_OUTAGE"
	AlertRestockingPattern AlertType = "RESTOCKING_PATTERN"
)

// Severity grades an alert.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// AlertKey is the natural key of an alert row.
type AlertKey struct {
	ProductName string    `json:"product_name"`
	Variant     string    `json:"variant"`
	Keyword     string    `json:"keyword"`
	Pincode     string    `json:"pincode"`
	Type        AlertType `json:"alert_type"`
}

// String renders the key for lock hashing and log fields.
func (k AlertKey) String() string {
	return strings.Join([]string{string(k.Type), k.Keyword, k.Pincode, k.ProductName, k.Variant}, "|")
}

// Label is the human readable "name variant" form.
func (k AlertKey) Label() string {
	return strings.TrimSpace(k.ProductName + " " + k.Variant)
}

// AlertMetrics carries the type-specific fields of an alert.
type AlertMetrics interface {
	AlertType() AlertType
	Equal(other AlertMetrics) bool
}

// DailyOutageMetrics belongs to DAILY_OUTAGE alerts.
type DailyOutageMetrics struct {
	OutageCountToday int `json:"outage_count_today"`
	TotalChecksToday int `json:"total_checks_today"`
}

func (DailyOutageMetrics) AlertType() AlertType { return AlertDailyOutage }

func (m DailyOutageMetrics) Equal(other AlertMetrics) bool {
	o, ok := other.(DailyOutageMetrics)
	return ok && o == m
}

// ConsecutiveDaysMetrics belongs to CONSECUTIVE_DAYS alerts.
type ConsecutiveDaysMetrics struct {
	ConsecutiveDays int `json:"consecutive_days"`
}

func (ConsecutiveDaysMetrics) AlertType() AlertType { return AlertConsecutiveDays }

func (m ConsecutiveDaysMetrics) Equal(other AlertMetrics) bool {
	o, ok := other.(ConsecutiveDaysMetrics)
	return ok && o == m
}

// FrequentOutageMetrics belongs to FREQUENT_OUTAGE alerts.
type FrequentOutageMetrics struct {
	WeeklyOutages int `json:"weekly_outages"`
}

func (FrequentOutageMetrics) AlertType() AlertType { return AlertFrequentOutage }

func (m FrequentOutageMetrics) Equal(other AlertMetrics) bool {
	o, ok := other.(FrequentOutageMetrics)
	return ok && o == m
}

// Alert is a deduplicated alert row.
type Alert struct {
	ID         int64
	Key        AlertKey
	Severity   Severity
	Metrics    AlertMetrics
	Message    string
	IsResolved bool
	ResolvedAt *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// MarshalJSON flattens the key and metrics into a single object.
func (a Alert) MarshalJSON() ([]byte, error) {
	outage, total, consecutive, weekly := MetricColumns(a.Metrics)
	return json.Marshal(struct {
		ID               int64      `json:"id"`
		ProductName      string     `json:"product_name"`
		Variant          string     `json:"variant"`
		Keyword          string     `json:"keyword"`
		Pincode          string     `json:"pincode"`
		AlertType        AlertType  `json:"alert_type"`
		Severity         Severity   `json:"severity"`
		OutageCountToday int        `json:"outage_count_today"`
		TotalChecksToday int        `json:"total_checks_today"`
		ConsecutiveDays  int        `json:"consecutive_days"`
		WeeklyOutages    int        `json:"weekly_outages"`
		Message          string     `json:"message"`
		IsResolved       bool       `json:"is_resolved"`
		ResolvedAt       *time.Time `json:"resolved_at,omitempty"`
		CreatedAt        time.Time  `json:"created_at"`
		UpdatedAt        time.Time  `json:"updated_at"`
	}{
		ID:               a.ID,
		ProductName:      a.Key.ProductName,
		Variant:          a.Key.Variant,
		Keyword:          a.Key.Keyword,
		Pincode:          a.Key.Pincode,
		AlertType:        a.Key.Type,
		Severity:         a.Severity,
		OutageCountToday: outage,
		TotalChecksToday: total,
		ConsecutiveDays:  consecutive,
		WeeklyOutages:    weekly,
		Message:          a.Message,
		IsResolved:       a.IsResolved,
		ResolvedAt:       a.ResolvedAt,
		CreatedAt:        a.CreatedAt,
		UpdatedAt:        a.UpdatedAt,
	})
}

// SignificantThreshold is the outage count or day count that makes an alert significant.
const SignificantThreshold = 3

// IsSignificant reports whether the alert belongs on the dashboard's
// headline list: three or more outages today, or three or more outage days.
func (a Alert) IsSignificant() bool {
	switch m := a.Metrics.(type) {
	case DailyOutageMetrics:
		return m.OutageCountToday >= SignificantThreshold
	case ConsecutiveDaysMetrics:
		return m.ConsecutiveDays >= SignificantThreshold
	default:
		return false
	}
}

// MetricColumns spreads metrics onto the flat alert columns.
func MetricColumns(m AlertMetrics) (outageCount, totalChecks, consecutiveDays, weeklyOutages int) {
	switch v := m.(type) {
	case DailyOutageMetrics:
		return v.OutageCountToday, v.TotalChecksToday, 0, 0
	case ConsecutiveDaysMetrics:
		return 0, 0, v.ConsecutiveDays, 0
	case FrequentOutageMetrics:
		return 0, 0, 0, v.WeeklyOutages
	default:
		return 0, 0, 0, 0
	}
}

// MetricsFromColumns rebuilds the typed metrics for an alert type.
func MetricsFromColumns(t AlertType, outageCount, totalChecks, consecutiveDays, weeklyOutages int) (AlertMetrics, error) {
	switch t {
	case AlertDailyOutage:
		return DailyOutageMetrics{OutageCountToday: outageCount, TotalChecksToday: totalChecks}, nil
	case AlertConsecutiveDays:
		return ConsecutiveDaysMetrics{ConsecutiveDays: consecutiveDays}, nil
	case AlertFrequentOutage:
		return FrequentOutageMetrics{WeeklyOutages: weeklyOutages}, nil
	case AlertRestockingPattern:
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown alert type %q", t)
	}
}

// AlertMutator receives the current row (nil when absent) and returns the row
// to write, or nil to leave storage untouched.
type AlertMutator func(current *Alert) (*Alert, error)

// AlertFilter narrows alert listings.
type AlertFilter struct {
	Resolved    *bool
	Keyword     string
	Pincode     string
	Type        AlertType
	Since       time.Time
	Significant bool
	Limit       int
}

// AlertStats counts alerts by severity and type.
type AlertStats struct {
	Total      int               `json:"total"`
	Active     int               `json:"active"`
	Resolved   int               `json:"resolved"`
	BySeverity map[Severity]int  `json:"by_severity"`
	ByType     map[AlertType]int `json:"by_type"`
}

// DailySummary rolls up one calendar day.
type DailySummary struct {
	Date                    time.Time       `json:"date"`
	TotalProductsChecked    int             `json:"total_products_checked"`
	TotalOutOfStock         int             `json:"total_out_of_stock"`
	AvailabilityRate        decimal.Decimal `json:"availability_rate"`
	MostProblematicProducts []string        `json:"most_problematic_products"`
	UpdatedAt               time.Time       `json:"updated_at"`
}

// CivilDate maps t to midnight UTC of its calendar date in t's own location.
func CivilDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DateKey formats a civil date as YYYY-MM-DD.
func DateKey(t time.Time) string {
	return t.Format("2006-01-02")
}
