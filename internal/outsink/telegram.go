package outsink

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/rakunlabs/loom/internal/wfexternal"
)

// TelegramConfig configures a TelegramSink.
type TelegramConfig struct {
	Token  string
	ChatID int64
}

// TelegramSink posts every output message to a Telegram chat via a bot.
type TelegramSink struct {
	cfg TelegramConfig
	bot *tgbotapi.BotAPI
}

func NewTelegramSink(cfg TelegramConfig) (*TelegramSink, error) {
	bot, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("outsink/telegram: new bot: %w", err)
	}
	return &TelegramSink{cfg: cfg, bot: bot}, nil
}

var _ Sink = (*TelegramSink)(nil)

func (s *TelegramSink) Send(_ context.Context, msg wfexternal.OutputMessage) error {
	body, err := renderText(msg.Value)
	if err != nil {
		return fmt.Errorf("outsink/telegram: %w", err)
	}
	text := fmt.Sprintf("%s\n%s", msg.Label, body)
	m := tgbotapi.NewMessage(s.cfg.ChatID, text)
	if _, err := s.bot.Send(m); err != nil {
		return fmt.Errorf("outsink/telegram: send: %w", err)
	}
	return nil
}
