// Package notify delivers paid-order notifications to the storefront
// operators.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"strconv"

	"github.com/richgarden/paygate/infra/config"
	"github.com/richgarden/paygate/provider"
)

const telegramAPIBase = "https://api.telegram.org"

// TelegramNotifier posts a paid-order summary to the operators' Telegram
// chat. It implements provider.Notifier; the returned reference is the
// Telegram message id.
type TelegramNotifier struct {
	cfg        config.TelegramConfig
	httpClient *provider.GatewayHTTPClient
}

// NewTelegramNotifier creates a notifier bound to the configured bot and chat
func NewTelegramNotifier(cfg config.TelegramConfig) *TelegramNotifier {
	return &TelegramNotifier{
		cfg:        cfg,
		httpClient: provider.NewGatewayHTTPClient(provider.CreateHTTPClientConfig(telegramAPIBase, 0)),
	}
}

type sendMessageResponse struct {
	OK     bool `json:"ok"`
	Result struct {
		MessageID int64 `json:"message_id"`
	} `json:"result"`
	Description string `json:"description"`
}

// Notify sends the paid-order message and returns the message id as the
// external reference
func (n *TelegramNotifier) Notify(ctx context.Context, order *provider.Order, itemSummary string) (string, error) {
	text := fmt.Sprintf(
		"✅ <b>Order #%s paid</b>\n\n<b>Customer:</b> %s\n<b>Phone:</b> %s\n<b>Amount:</b> %.0f UZS\n<b>Payment:</b> %s",
		html.EscapeString(order.ID),
		html.EscapeString(order.CustomerName),
		html.EscapeString(order.CustomerPhone),
		order.TotalPrice,
		html.EscapeString(order.PaymentMethod),
	)
	if itemSummary != "" {
		text += "\n\n<b>Items:</b>\n" + html.EscapeString(itemSummary)
	}
	if order.Address != "" {
		text += "\n\n<b>Address:</b> " + html.EscapeString(order.Address)
	}
	if order.Comment != "" {
		text += "\n<b>Comment:</b> " + html.EscapeString(order.Comment)
	}

	resp, err := n.httpClient.SendJSON(ctx, &provider.HTTPRequest{
		Method:   "POST",
		Endpoint: fmt.Sprintf("/bot%s/sendMessage", n.cfg.BotToken),
		Body: map[string]any{
			"chat_id":    n.cfg.ChatID,
			"text":       text,
			"parse_mode": "HTML",
		},
	})
	if err != nil {
		return "", fmt.Errorf("telegram: sendMessage request failed: %w", err)
	}

	var result sendMessageResponse
	if err := json.Unmarshal(resp.Body, &result); err != nil {
		return "", fmt.Errorf("telegram: invalid sendMessage response: %w", err)
	}
	if !result.OK {
		return "", fmt.Errorf("telegram: sendMessage rejected: %s", result.Description)
	}

	return strconv.FormatInt(result.Result.MessageID, 10), nil
}
