package alerting

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"stock-outage-alerts/internal/storage"
)

// Notification 封装一次会话产生的全部新增/更新告警。
type Notification struct {
	ID           string
	Session      storage.ScrapeSession
	Daily        []storage.Alert
	Consecutive  []storage.Alert
	Frequent     []storage.Alert
	GeneratedAt  time.Time
	DashboardURL string
}

// Total counts alerts across all groups.
func (n Notification) Total() int {
	return len(n.Daily) + len(n.Consecutive) + len(n.Frequent)
}

// Empty reports whether there is nothing to send.
func (n Notification) Empty() bool {
	return n.Total() == 0
}

// Notifier 定义告警输送接口。
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// Subject is the one-line headline used by e-mail and chat channels.
func Subject(note Notification) string {
	return fmt.Sprintf("Stock Alert - %d Products Out of Stock", note.Total())
}

// RenderText renders the consolidated plain-text report grouped by alert type.
func RenderText(note Notification) string {
	b := strings.Builder{}
	b.WriteString("Stock Alert Report\n")
	b.WriteString("==================\n\n")
	b.WriteString(fmt.Sprintf("Keyword: %s\n", note.Session.Keyword))
	b.WriteString(fmt.Sprintf("Pincode: %s\n", note.Session.Pincode))
	b.WriteString(fmt.Sprintf("Scan Time: %s\n", note.Session.Timestamp.Format("2006-01-02 15:04:05")))
	b.WriteString(fmt.Sprintf("Session ID: %d\n\n", note.Session.ID))

	b.WriteString(fmt.Sprintf("OUT OF STOCK PRODUCTS (%d):\n", note.Total()))
	b.WriteString(strings.Repeat("=", 50))
	b.WriteString("\n\n")

	writeGroup(&b, "TODAY'S OUT-OF-STOCK:", note.Daily, func(m storage.AlertMetrics) string {
		v, _ := m.(storage.DailyOutageMetrics)
		return fmt.Sprintf("%d times", v.OutageCountToday)
	})
	writeGroup(&b, "CONSECUTIVE DAYS OUT-OF-STOCK:", note.Consecutive, func(m storage.AlertMetrics) string {
		v, _ := m.(storage.ConsecutiveDaysMetrics)
		return fmt.Sprintf("%d days", v.ConsecutiveDays)
	})
	writeGroup(&b, "FREQUENT OUTAGES (This Week):", note.Frequent, func(m storage.AlertMetrics) string {
		v, _ := m.(storage.FrequentOutageMetrics)
		return fmt.Sprintf("%d outages", v.WeeklyOutages)
	})

	if base := strings.TrimRight(note.DashboardURL, "/"); base != "" {
		b.WriteString(fmt.Sprintf("View full details: %s/dashboard/%d/\n", base, note.Session.ID))
		b.WriteString(fmt.Sprintf("View all alerts: %s/alerts/\n", base))
	}
	return b.String()
}

func writeGroup(b *strings.Builder, title string, alerts []storage.Alert, detail func(storage.AlertMetrics) string) {
	if len(alerts) == 0 {
		return
	}
	b.WriteString(title)
	b.WriteString("\n")
	for _, alert := range alerts {
		b.WriteString(fmt.Sprintf("   - %s %s - %s\n", alert.Key.ProductName, alert.Key.Variant, detail(alert.Metrics)))
	}
	b.WriteString("\n")
}

// MultiNotifier fans a notification out to every channel; one failing channel
// does not stop the others.
type MultiNotifier struct {
	channels map[string]Notifier
	order    []string
	logger   zerolog.Logger
}

// NewMultiNotifier constructs an empty fan-out notifier.
func NewMultiNotifier(logger zerolog.Logger) *MultiNotifier {
	return &MultiNotifier{
		channels: make(map[string]Notifier),
		logger:   logger.With().Str("component", "alert_fanout").Logger(),
	}
}

// Add registers a named channel.
func (m *MultiNotifier) Add(name string, n Notifier) {
	if n == nil {
		return
	}
	if _, exists := m.channels[name]; !exists {
		m.order = append(m.order, name)
	}
	m.channels[name] = n
}

// Len reports the number of registered channels.
func (m *MultiNotifier) Len() int {
	return len(m.order)
}

// Notify delivers to all channels and joins their errors.
func (m *MultiNotifier) Notify(ctx context.Context, note Notification) error {
	var errs []error
	for _, name := range m.order {
		if err := m.channels[name].Notify(ctx, note); err != nil {
			m.logger.Error().Err(err).Str("channel", name).Int64("session_id", note.Session.ID).Msg("告警通道发送失败")
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

var _ Notifier = (*MultiNotifier)(nil)
