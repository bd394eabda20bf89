package alerting

import (
	"context"

	"github.com/rs/zerolog"
)

// EmailSender is satisfied by ProviderRegistry and by single providers.
type EmailSender interface {
	Send(ctx context.Context, req *EmailRequest) error
}

// EmailNotifier 以邮件形式发送汇总告警。
type EmailNotifier struct {
	sender EmailSender
	from   string
	to     []string
	logger zerolog.Logger
}

// NewEmailNotifier 构造邮件告警器。
func NewEmailNotifier(sender EmailSender, from string, to []string, logger zerolog.Logger) *EmailNotifier {
	return &EmailNotifier{
		sender: sender,
		from:   from,
		to:     to,
		logger: logger.With().Str("component", "alert_email").Logger(),
	}
}

// Notify 发送一封汇总邮件。
func (n *EmailNotifier) Notify(ctx context.Context, note Notification) error {
	req := &EmailRequest{
		From:    n.from,
		To:      n.to,
		Subject: Subject(note),
		Body:    RenderText(note),
	}
	if err := n.sender.Send(ctx, req); err != nil {
		return err
	}
	n.logger.Info().Int64("session_id", note.Session.ID).
		Int("alerts", note.Total()).
		Strs("to", n.to).
		Msg("告警已发送 (Email)")
	return nil
}

var _ Notifier = (*EmailNotifier)(nil)
