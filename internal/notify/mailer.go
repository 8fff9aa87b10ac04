package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/suteetoe/coursecatalog/pkg/config"
	"github.com/wneessen/go-mail"
	"go.uber.org/zap"
)

// Message is a rendered email
type Message struct {
	To      []string
	Subject string
	Body    string
}

// Mailer hands rendered messages to a mail transport
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// SMTPMailer delivers through an SMTP relay
type SMTPMailer struct {
	from string
	opts []mail.Option
	host string
}

// NewSMTPMailer builds an SMTP mailer from configuration
func NewSMTPMailer(cfg config.MailConfig) *SMTPMailer {
	opts := []mail.Option{
		mail.WithPort(cfg.Port),
		mail.WithTimeout(cfg.Timeout),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
	}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}
	return &SMTPMailer{from: cfg.From, opts: opts, host: cfg.Host}
}

// Send implements Mailer
func (s *SMTPMailer) Send(ctx context.Context, msg Message) error {
	m := mail.NewMsg()
	if err := m.From(s.from); err != nil {
		return fmt.Errorf("invalid sender: %w", err)
	}
	if err := m.To(msg.To...); err != nil {
		return fmt.Errorf("invalid recipient: %w", err)
	}
	m.Subject(msg.Subject)
	m.SetBodyString(mail.TypeTextPlain, msg.Body)

	client, err := mail.NewClient(s.host, s.opts...)
	if err != nil {
		return fmt.Errorf("failed to create mail client: %w", err)
	}
	if err := client.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("failed to send mail: %w", err)
	}
	return nil
}

// LogMailer writes messages to the log instead of sending them
type LogMailer struct {
	Log *zap.Logger
}

// Send implements Mailer
func (l LogMailer) Send(_ context.Context, msg Message) error {
	l.Log.Info("Notification email",
		zap.Strings("to", msg.To),
		zap.String("subject", msg.Subject),
		zap.Int("body_bytes", len(msg.Body)))
	return nil
}

// NewMailer returns the SMTP mailer when mail is enabled, otherwise a log mailer
func NewMailer(cfg config.MailConfig, log *zap.Logger) Mailer {
	if cfg.Enabled && cfg.Host != "" {
		if cfg.Timeout <= 0 {
			cfg.Timeout = 10 * time.Second
		}
		return NewSMTPMailer(cfg)
	}
	return LogMailer{Log: log}
}
