package smtp

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/wneessen/go-mail"

	"visa-slot-watcher/internal/domain"
	"visa-slot-watcher/internal/infra/metrics"
)

// Sender доставляет уведомления почтой.
type Sender struct {
	client *mail.Client
	host   string
	from   string
	log    zerolog.Logger
}

var _ domain.Notifier = (*Sender)(nil)

// New собирает почтового отправителя. Соединение устанавливается на
// каждую отправку, поэтому разорванная сессия ничего не ломает.
func New(host string, port int, username, password, from string, logger zerolog.Logger) (*Sender, error) {
	client, err := mail.NewClient(host,
		mail.WithPort(port),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(username),
		mail.WithPassword(password),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
	)
	if err != nil {
		return nil, fmt.Errorf("smtp: создание клиента: %w", err)
	}
	return &Sender{client: client, host: host, from: from, log: logger}, nil
}

// Send отправляет одно письмо получателю.
func (s *Sender) Send(ctx context.Context, recipient string, msg domain.AlertMessage) error {
	m := mail.NewMsg()
	if err := m.From(s.from); err != nil {
		return fmt.Errorf("smtp: адрес отправителя: %w", err)
	}
	if err := m.To(recipient); err != nil {
		return fmt.Errorf("smtp: адрес получателя: %w", err)
	}
	m.Subject(msg.Subject)
	m.SetBodyString(mail.TypeTextPlain, msg.Body)

	start := time.Now()
	err := s.client.DialAndSendWithContext(ctx, m)
	metrics.ObserveNetworkRequest("smtp", "send", s.host, start, err)
	if err != nil {
		return fmt.Errorf("smtp: отправка письма: %w", err)
	}
	s.log.Debug().Str("to", recipient).Msg("smtp: письмо отправлено")
	return nil
}
