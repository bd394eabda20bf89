package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
)

// Bot API rejects text above 4096 characters.
const telegramMaxRunes = 4000

type telegramMessage struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
}

type telegramResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code"`
	Description string `json:"description"`
}

// TelegramNotifier 把汇总告警推送到一个 Telegram 会话。
type TelegramNotifier struct {
	endpoint string
	chatID   string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier 构造 Telegram 告警器；baseURL 为空时使用官方 API。
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	base := strings.TrimRight(baseURL, "/")
	if base == "" {
		base = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		endpoint: base + "/bot" + botToken + "/sendMessage",
		chatID:   chatID,
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Notify 发送一条包含全部告警分组的消息。
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	msg := telegramMessage{
		ChatID:                n.chatID,
		Text:                  truncateRunes(Subject(note)+"\n\n"+RenderText(note), telegramMaxRunes),
		DisableWebPagePreview: true,
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode telegram message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram sendMessage: %w", err)
	}
	defer resp.Body.Close()

	var out telegramResponse
	decodeErr := json.NewDecoder(resp.Body).Decode(&out)
	switch {
	case resp.StatusCode/100 != 2:
		return fmt.Errorf("telegram 响应码异常: %d %s", resp.StatusCode, out.Description)
	case decodeErr != nil:
		return fmt.Errorf("decode telegram response: %w", decodeErr)
	case !out.OK:
		return fmt.Errorf("telegram 返回 ok=false (%d): %s", out.ErrorCode, out.Description)
	}

	n.logger.Info().Int64("session_id", note.Session.ID).
		Int("alerts", note.Total()).
		Msg("告警已发送 (Telegram)")
	return nil
}

func truncateRunes(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max]) + "\n..."
}

var _ Notifier = (*TelegramNotifier)(nil)
