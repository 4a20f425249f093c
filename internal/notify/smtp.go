package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/wneessen/go-mail"

	"site_watcher/internal/model"
)

// SMTP delivers messages through the server named in the runtime settings.
type SMTP struct {
	timeout time.Duration
}

// NewSMTP returns an SMTP transport with the given dial and send timeout.
func NewSMTP(timeout time.Duration) *SMTP {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &SMTP{timeout: timeout}
}

// Send implements Transport. Port 465 uses implicit TLS; other ports upgrade
// with STARTTLS when the server offers it.
func (s *SMTP) Send(ctx context.Context, settings model.Settings, msg Message) error {
	m, err := buildMessage(msg)
	if err != nil {
		return err
	}

	opts := []mail.Option{
		mail.WithPort(settings.SMTPPort),
		mail.WithTimeout(s.timeout),
	}
	if settings.SMTPPort == 465 {
		opts = append(opts, mail.WithSSL())
	} else {
		opts = append(opts, mail.WithTLSPolicy(mail.TLSOpportunistic))
	}
	if settings.SMTPUsername != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(settings.SMTPUsername),
			mail.WithPassword(settings.SMTPPassword),
		)
	}

	client, err := mail.NewClient(settings.SMTPServer, opts...)
	if err != nil {
		return fmt.Errorf("create smtp client: %w", err)
	}
	if err := client.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("send via %s:%d: %w", settings.SMTPServer, settings.SMTPPort, err)
	}
	return nil
}

func buildMessage(msg Message) (*mail.Msg, error) {
	m := mail.NewMsg()
	if err := m.From(msg.From); err != nil {
		return nil, fmt.Errorf("set sender: %w", err)
	}
	if err := m.To(msg.To); err != nil {
		return nil, fmt.Errorf("set recipient: %w", err)
	}
	m.Subject(msg.Subject)
	m.SetBodyString(mail.TypeTextPlain, msg.Text)
	if msg.HTML != "" {
		m.AddAlternativeString(mail.TypeTextHTML, msg.HTML)
	}
	return m, nil
}
