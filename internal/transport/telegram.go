// Package transport implements domain.Transport, adapted from the
// teacher's internal/adapter/telegram/service.go. The teacher's two
// hand-formatted message builders (SendSignal/SendReview) collapse into
// one generic sendMessage call, since C4 already renders DeliveryPayload
// into plain text before handing it to Transport.Send.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"fxadvisor/internal/domain"
)

// TelegramTransport delivers a DeliveryPayload to a Telegram chat via the
// Bot API. Idempotent per spec's Transport contract: MessageID is echoed
// back as MessageRef, callers dedupe at the receipt-store layer, not here.
type TelegramTransport struct {
	botToken   string
	httpClient *http.Client
}

type telegramMessage struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

// NewTelegramTransport builds a TelegramTransport for botToken.
func NewTelegramTransport(botToken string) *TelegramTransport {
	return &TelegramTransport{
		botToken:   botToken,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Send delivers payload.Text to payload.Channel (the Telegram chat id).
func (t *TelegramTransport) Send(ctx context.Context, payload domain.DeliveryPayload) (domain.DeliveryResult, error) {
	if t.botToken == "" || payload.Channel == "" {
		return domain.DeliveryResult{}, domain.NewError("transport.Send", domain.KindUnavailable, fmt.Errorf("telegram transport not configured"))
	}

	url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", t.botToken)
	body := telegramMessage{ChatID: payload.Channel, Text: payload.Text, ParseMode: "Markdown"}
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return domain.DeliveryResult{}, fmt.Errorf("failed to marshal telegram message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return domain.DeliveryResult{}, fmt.Errorf("failed to build telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return domain.DeliveryResult{}, domain.NewError("transport.Send", domain.KindTransient, fmt.Errorf("telegram request failed: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		kind := domain.KindTransient
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			kind = domain.KindInvalidInput
		}
		return domain.DeliveryResult{}, domain.NewError("transport.Send", kind, fmt.Errorf("telegram API error (status %d): %s", resp.StatusCode, string(respBody)))
	}

	return domain.DeliveryResult{Accepted: true, MessageRef: payload.MessageID}, nil
}
