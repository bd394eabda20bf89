package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"stock-outage-alerts/internal/storage"
)

func sampleNotification() Notification {
	key := func(name, variant string, typ storage.AlertType) storage.AlertKey {
		return storage.AlertKey{ProductName: name, Variant: variant, Keyword: "milk", Pincode: "110001", Type: typ}
	}
	return Notification{
		ID: "evt-1",
		Session: storage.ScrapeSession{
			ID:        42,
			Keyword:   "milk",
			Pincode:   "110001",
			Timestamp: time.Date(2024, 3, 10, 9, 30, 5, 0, time.UTC),
		},
		Daily: []storage.Alert{{
			Key:      key("Milk", "1L", storage.AlertDailyOutage),
			Severity: storage.SeverityMedium,
			Metrics:  storage.DailyOutageMetrics{OutageCountToday: 2, TotalChecksToday: 2},
		}},
		Consecutive: []storage.Alert{{
			Key:      key("Milk", "1L", storage.AlertConsecutiveDays),
			Severity: storage.SeverityCritical,
			Metrics:  storage.ConsecutiveDaysMetrics{ConsecutiveDays: 3},
		}},
		Frequent: []storage.Alert{{
			Key:      key("Bread", "400g", storage.AlertFrequentOutage),
			Severity: storage.SeverityHigh,
			Metrics:  storage.FrequentOutageMetrics{WeeklyOutages: 4},
		}},
		GeneratedAt:  time.Date(2024, 3, 10, 9, 30, 6, 0, time.UTC),
		DashboardURL: "https://stock.example.com/",
	}
}

func TestRenderTextGroupsAlerts(t *testing.T) {
	note := sampleNotification()
	if note.Total() != 3 || note.Empty() {
		t.Fatalf("Total = %d", note.Total())
	}
	if got := Subject(note); got != "Stock Alert - 3 Products Out of Stock" {
		t.Fatalf("subject = %q", got)
	}

	text := RenderText(note)
	for _, fragment := range []string{
		"Scan Time: 2024-03-10 09:30:05",
		"Session ID: 42",
		"OUT OF STOCK PRODUCTS (3):",
		"TODAY'S OUT-OF-STOCK:\n   - Milk 1L - 2 times",
		"CONSECUTIVE DAYS OUT-OF-STOCK:\n   - Milk 1L - 3 days",
		"FREQUENT OUTAGES (This Week):\n   - Bread 400g - 4 outages",
		"View full details: https://stock.example.com/dashboard/42/",
		"View all alerts: https://stock.example.com/alerts/",
	} {
		if !strings.Contains(text, fragment) {
			t.Fatalf("rendered text missing %q:\n%s", fragment, text)
		}
	}

	note.Frequent = nil
	note.DashboardURL = ""
	text = RenderText(note)
	if strings.Contains(text, "FREQUENT OUTAGES") || strings.Contains(text, "View all alerts") {
		t.Fatalf("empty sections should be omitted:\n%s", text)
	}
}

func TestTelegramNotifierSuccess(t *testing.T) {
	var received telegramMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "sendMessage") {
			t.Errorf("路径应包含 sendMessage, 实际 %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("解析请求体失败: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	if err := notifier.Notify(context.Background(), sampleNotification()); err != nil {
		t.Fatalf("Telegram Notify 应成功: %v", err)
	}

	if received.ChatID != "chat" || !received.DisableWebPagePreview {
		t.Fatalf("请求体不正确: %#v", received)
	}
	if !strings.HasPrefix(received.Text, "Stock Alert - 3 Products Out of Stock") {
		t.Fatalf("text 不正确: %q", received.Text)
	}
}

func TestTruncateRunes(t *testing.T) {
	if got := truncateRunes("库存告警", 2); got != "库存\n..." {
		t.Fatalf("truncateRunes = %q", got)
	}
	if got := truncateRunes("ok", 5); got != "ok" {
		t.Fatalf("short text changed: %q", got)
	}
}

func TestTelegramNotifierError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false, "error_code": 400, "description": "chat not found"})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	err := notifier.Notify(context.Background(), sampleNotification())
	if err == nil || !strings.Contains(err.Error(), "chat not found") {
		t.Fatalf("ok=false 应报错, 实际 %v", err)
	}
}

type fakeProvider struct {
	name       string
	configured bool
	err        error
	sent       []*EmailRequest
}

func (p *fakeProvider) Name() string { return p.name }
func (p *fakeProvider) IsConfigured() bool { return p.configured }
func (p *fakeProvider) Send(_ context.Context, req *EmailRequest) error {
	p.sent = append(p.sent, req)
	return p.err
}

func TestProviderRegistryFallback(t *testing.T) {
	primary := &fakeProvider{name: "resend", configured: true, err: errors.New("rate limited")}
	backup := &fakeProvider{name: "ses", configured: true}

	registry := NewProviderRegistry(testLogger())
	registry.Register(primary)
	registry.Register(backup)
	if err := registry.SetPrimary("resend"); err != nil {
		t.Fatalf("SetPrimary: %v", err)
	}
	if err := registry.SetFallback("ses"); err != nil {
		t.Fatalf("SetFallback: %v", err)
	}
	if err := registry.SetFallback("smtp"); err == nil {
		t.Fatal("unknown fallback should be rejected")
	}

	notifier := NewEmailNotifier(registry, "alerts@example.com", []string{"ops@example.com"}, testLogger())
	if err := notifier.Notify(context.Background(), sampleNotification()); err != nil {
		t.Fatalf("fallback should deliver: %v", err)
	}
	if len(primary.sent) != 1 || len(backup.sent) != 1 {
		t.Fatalf("primary=%d backup=%d", len(primary.sent), len(backup.sent))
	}
	if backup.sent[0].Subject != "Stock Alert - 3 Products Out of Stock" {
		t.Fatalf("subject = %q", backup.sent[0].Subject)
	}

	backup.err = errors.New("ses down")
	if err := registry.Send(context.Background(), &EmailRequest{To: []string{"x"}}); err == nil || err.Error() != "rate limited" {
		t.Fatalf("expected primary error, got %v", err)
	}
}

func TestProviderRegistrySkipsUnconfigured(t *testing.T) {
	registry := NewProviderRegistry(testLogger())
	registry.Register(&fakeProvider{name: "resend"})
	if err := registry.SetPrimary("resend"); err != nil {
		t.Fatalf("SetPrimary: %v", err)
	}
	if err := registry.Send(context.Background(), &EmailRequest{}); err == nil {
		t.Fatal("no configured provider should error")
	}
	if NewResendProvider("").IsConfigured() {
		t.Fatal("resend without api key must be unconfigured")
	}
}

type fakeWriter struct {
	msgs   []kafka.Message
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaNotifierPublishesEvent(t *testing.T) {
	writer := &fakeWriter{}
	notifier := NewKafkaNotifier(writer, testLogger())
	if err := notifier.Notify(context.Background(), sampleNotification()); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if len(writer.msgs) != 1 || string(writer.msgs[0].Key) != "milk@110001" {
		t.Fatalf("unexpected messages: %+v", writer.msgs)
	}

	var event struct {
		EventID   string           `json:"event_id"`
		SessionID int64            `json:"session_id"`
		Alerts    []map[string]any `json:"alerts"`
	}
	if err := json.Unmarshal(writer.msgs[0].Value, &event); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if event.EventID != "evt-1" || event.SessionID != 42 || len(event.Alerts) != 3 {
		t.Fatalf("unexpected event: %+v", event)
	}
	if event.Alerts[1]["alert_type"] != "CONSECUTIVE_DAYS" {
		t.Fatalf("alert order lost: %+v", event.Alerts)
	}

	if err := notifier.Close(); err != nil || !writer.closed {
		t.Fatal("Close should close the writer")
	}
}

type countingNotifier struct {
	calls int
	err   error
}

func (c *countingNotifier) Notify(context.Context, Notification) error {
	c.calls++
	return c.err
}

func TestMultiNotifierContinuesPastFailure(t *testing.T) {
	failing := &countingNotifier{err: errors.New("boom")}
	ok := &countingNotifier{}

	multi := NewMultiNotifier(testLogger())
	multi.Add("telegram", failing)
	multi.Add("kafka", ok)
	multi.Add("none", nil)
	if multi.Len() != 2 {
		t.Fatalf("Len = %d", multi.Len())
	}

	err := multi.Notify(context.Background(), sampleNotification())
	if err == nil || !strings.Contains(err.Error(), "telegram: boom") {
		t.Fatalf("expected joined error, got %v", err)
	}
	if failing.calls != 1 || ok.calls != 1 {
		t.Fatalf("calls = %d/%d", failing.calls, ok.calls)
	}
}

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}
