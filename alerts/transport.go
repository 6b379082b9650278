package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Service delivers alert envelopes over Telegram with a best-effort Slack
// mirror. Either channel may be left unconfigured.
type Service struct {
	TelegramBotToken string
	TelegramChatID   string
	SlackWebhookURL  string
	httpClient       *http.Client
}

// NewService builds the transport. Empty credentials disable that channel.
func NewService(telegramBot, telegramChat, slackWebhook string) *Service {
	return &Service{
		TelegramBotToken: telegramBot,
		TelegramChatID:   telegramChat,
		SlackWebhookURL:  slackWebhook,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Configured reports whether at least one channel can deliver.
func (s *Service) Configured() bool {
	return (s.TelegramBotToken != "" && s.TelegramChatID != "") || s.SlackWebhookURL != ""
}

// Send renders the envelope and delivers it. Telegram is the primary
// channel; Slack is mirrored best-effort when both are configured.
func (s *Service) Send(ctx context.Context, env Envelope) (string, error) {
	message := formatEnvelope(env)

	telegramOK := s.TelegramBotToken != "" && s.TelegramChatID != ""
	if telegramOK {
		if err := s.sendTelegram(ctx, message); err != nil {
			return "", err
		}
		if s.SlackWebhookURL != "" {
			if err := s.sendSlack(ctx, message); err != nil {
				// Telegram is primary; a Slack failure does not fail the alert.
				fmt.Printf("[alerts] slack mirror failed: %v\n", err)
			}
		}
		return "telegram", nil
	}

	if s.SlackWebhookURL != "" {
		if err := s.sendSlack(ctx, message); err != nil {
			return "", err
		}
		return "slack", nil
	}

	return "", &TransportError{Retriable: false, Cause: fmt.Errorf("no transport configured")}
}

func formatEnvelope(env Envelope) string {
	icon := "⚠️"
	if strings.EqualFold(env.Severity, "critical") {
		icon = "🚨"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s ALERT: %s\n\n", icon, strings.ToUpper(env.Severity), env.Asset)
	fmt.Fprintf(&b, "Metric: %s\nValue: %.4f\nThreshold: %s %.4f\n", env.Metric, env.Value, env.Operator, env.Threshold)
	if env.Chain != "" {
		fmt.Fprintf(&b, "Chain: %s\n", env.Chain)
	}
	if env.SuppressedCount > 0 {
		fmt.Fprintf(&b, "Suppressed repeats: %d\n", env.SuppressedCount)
	}
	fmt.Fprintf(&b, "Triggered: %s", env.TriggeredAt.UTC().Format(time.RFC3339))
	return b.String()
}

func (s *Service) sendTelegram(ctx context.Context, message string) error {
	url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", s.TelegramBotToken)
	payload := map[string]interface{}{
		"chat_id": s.TelegramChatID,
		"text":    message,
	}
	return s.post(ctx, url, payload, "telegram")
}

func (s *Service) sendSlack(ctx context.Context, message string) error {
	payload := map[string]interface{}{
		"text": message,
	}
	return s.post(ctx, s.SlackWebhookURL, payload, "slack")
}

func (s *Service) post(ctx context.Context, url string, payload map[string]interface{}, channel string) error {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return &TransportError{Retriable: false, Cause: fmt.Errorf("marshal %s payload: %w", channel, err)}
	}

	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(jsonData))
	if err != nil {
		return &TransportError{Retriable: false, Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return &TransportError{Retriable: true, Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		cause := fmt.Errorf("%s API returned status %d: %s", channel, resp.StatusCode, string(body))
		retriable := resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
		return &TransportError{Retriable: retriable, Cause: cause}
	}
	return nil
}
