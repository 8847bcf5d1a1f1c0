package infrastructure

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"saldobot/internal/interfaces"
)

// TelegramNotifier posts each resolved balance to an operator chat
type TelegramNotifier struct {
	Bot    *tgbotapi.BotAPI
	chatID int64
}

func NewTelegramNotifier(token string, chatID int64) (*TelegramNotifier, error) {
	return NewTelegramNotifierWithEndpoint(token, chatID, tgbotapi.APIEndpoint)
}

// NewTelegramNotifierWithEndpoint is NewTelegramNotifier against a custom Bot API endpoint.
func NewTelegramNotifierWithEndpoint(token string, chatID int64, endpoint string) (*TelegramNotifier, error) {
	if token == "" || chatID == 0 {
		return nil, fmt.Errorf("telegram notifier needs a bot token and a chat id")
	}
	bot, err := tgbotapi.NewBotAPIWithAPIEndpoint(token, endpoint)
	if err != nil {
		return nil, fmt.Errorf("telegram bot token issue: %w", err)
	}
	return &TelegramNotifier{Bot: bot, chatID: chatID}, nil
}

var _ interfaces.Notifier = (*TelegramNotifier)(nil)

func (t *TelegramNotifier) NotifyBalance(ctx context.Context, service, accountNumber, balance string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(t.chatID, FormatBalanceNotice(service, accountNumber, balance))
	msg.ParseMode = tgbotapi.ModeMarkdown
	_, err := t.Bot.Send(msg)
	return err
}

// FormatBalanceNotice renders a Markdown notice; every field is escaped
// because service names come from the flows file.
func FormatBalanceNotice(service, accountNumber, balance string) string {
	service = tgbotapi.EscapeText(tgbotapi.ModeMarkdown, service)
	accountNumber = tgbotapi.EscapeText(tgbotapi.ModeMarkdown, accountNumber)
	if balance == "0" {
		return fmt.Sprintf("✅ *%s* cuenta %s: sin saldo pendiente", service, accountNumber)
	}
	return fmt.Sprintf("💰 *%s* cuenta %s: saldo %s", service, accountNumber, tgbotapi.EscapeText(tgbotapi.ModeMarkdown, balance))
}
