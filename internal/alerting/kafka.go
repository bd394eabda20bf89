package alerting

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"stock-outage-alerts/internal/storage"
)

// MessageWriter is the subset of *kafka.Writer used here.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewKafkaWriter builds a writer for the alert topic.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 250 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}
}

// AlertEvent is the JSON payload published per notification.
type AlertEvent struct {
	EventID     string          `json:"event_id"`
	SessionID   int64           `json:"session_id"`
	Keyword     string          `json:"keyword"`
	Pincode     string          `json:"pincode"`
	ScannedAt   time.Time       `json:"scanned_at"`
	GeneratedAt time.Time       `json:"generated_at"`
	Subject     string          `json:"subject"`
	Alerts      []storage.Alert `json:"alerts"`
}

// KafkaNotifier publishes each notification as one event keyed by keyword@pincode.
type KafkaNotifier struct {
	writer MessageWriter
	logger zerolog.Logger
}

// NewKafkaNotifier wraps writer.
func NewKafkaNotifier(writer MessageWriter, logger zerolog.Logger) *KafkaNotifier {
	return &KafkaNotifier{
		writer: writer,
		logger: logger.With().Str("component", "alert_kafka").Logger(),
	}
}

// Notify publishes the event.
func (n *KafkaNotifier) Notify(ctx context.Context, note Notification) error {
	alerts := make([]storage.Alert, 0, note.Total())
	alerts = append(alerts, note.Daily...)
	alerts = append(alerts, note.Consecutive...)
	alerts = append(alerts, note.Frequent...)

	event := AlertEvent{
		EventID:     note.ID,
		SessionID:   note.Session.ID,
		Keyword:     note.Session.Keyword,
		Pincode:     note.Session.Pincode,
		ScannedAt:   note.Session.Timestamp,
		GeneratedAt: note.GeneratedAt,
		Subject:     Subject(note),
		Alerts:      alerts,
	}
	key := note.Session.Keyword + "@" + note.Session.Pincode
	if err := PublishJSON(ctx, n.writer, key, event); err != nil {
		return err
	}
	n.logger.Info().Int64("session_id", note.Session.ID).Int("alerts", len(alerts)).Msg("告警已发布 (Kafka)")
	return nil
}

// Close releases the underlying writer.
func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}

// PublishJSON marshals payload and writes a single keyed message.
func PublishJSON(ctx context.Context, writer MessageWriter, key string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal kafka payload: %w", err)
	}
	if err := writer.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: body}); err != nil {
		return fmt.Errorf("write kafka message: %w", err)
	}
	return nil
}

var _ Notifier = (*KafkaNotifier)(nil)
