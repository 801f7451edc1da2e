package telegram

import (
	"context"
	"fmt"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"visa-slot-watcher/internal/domain"
	"visa-slot-watcher/internal/infra/metrics"
)

// Sender доставляет уведомления личным сообщением в Telegram.
// Получателем выступает числовой идентификатор чата.
type Sender struct {
	bot *tgbotapi.BotAPI
	log zerolog.Logger
}

var _ domain.Notifier = (*Sender)(nil)

// New авторизует бота по токену.
func New(token string, logger zerolog.Logger) (*Sender, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram: авторизация бота: %w", err)
	}
	logger.Info().Str("bot", bot.Self.UserName).Msg("telegram: бот авторизован")
	return &Sender{bot: bot, log: logger}, nil
}

// Send отправляет уведомление в чат. Длинный текст уходит несколькими
// сообщениями.
func (s *Sender) Send(ctx context.Context, recipient string, msg domain.AlertMessage) error {
	chatID, err := strconv.ParseInt(recipient, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram: получатель %q не похож на идентификатор чата", recipient)
	}

	for _, chunk := range splitMessage(msg.Subject + "\n\n" + msg.Body) {
		if err := ctx.Err(); err != nil {
			return err
		}
		out := tgbotapi.NewMessage(chatID, chunk)
		start := time.Now()
		_, err := s.bot.Send(out)
		metrics.ObserveNetworkRequest("telegram_bot", "send_message", recipient, start, err)
		if err != nil {
			return fmt.Errorf("telegram: отправка сообщения: %w", err)
		}
	}
	return nil
}
