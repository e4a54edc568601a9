package telegram

import (
	"context"
	"errors"
	"fmt"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"telegram-vpn-shop/internal/config"
	"telegram-vpn-shop/internal/domain/ports/adapter"
)

var _ adapter.Notifier = (*Notifier)(nil)

// Notifier delivers service messages (payment confirmations, access keys,
// escalations) over the Telegram Bot API. Subscriber ids are Telegram chat
// ids, so no mapping table is needed.
type Notifier struct {
	bot *tgbotapi.BotAPI
	log *zerolog.Logger
}

func NewNotifier(cfg *config.BotConfig, logger *zerolog.Logger) (*Notifier, error) {
	if cfg == nil || cfg.Token == "" {
		return nil, errors.New("bot token is required")
	}
	bot, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("telegram auth: %w", err)
	}
	l := logger.With().Str("component", "TelegramNotifier").Logger()
	l.Info().Str("bot", bot.Self.UserName).Msg("telegram notifier ready")
	return &Notifier{bot: bot, log: &l}, nil
}

func (n *Notifier) Send(ctx context.Context, subscriberID int64, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(subscriberID, text)
	msg.DisableWebPagePreview = true

	_, err := n.bot.Send(msg)
	if err == nil {
		return nil
	}

	// Telegram throttles bursts with a retry-after hint; honor it once.
	var tgErr *tgbotapi.Error
	if errors.As(err, &tgErr) && tgErr.RetryAfter > 0 {
		wait := time.Duration(tgErr.RetryAfter) * time.Second
		n.log.Warn().Dur("retry_after", wait).Int64("subscriber_id", subscriberID).Msg("telegram rate limited")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		_, err = n.bot.Send(msg)
	}
	if err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}
