// Package notify sends payment mail to shop customers.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/OKaluzny/token-shop/internal/config"
	"github.com/wneessen/go-mail"
)

// ErrInvalidMessage is returned for a message without recipient or subject.
var ErrInvalidMessage = errors.New("invalid message")

// Message is a plain-text mail.
type Message struct {
	To      string
	Subject string
	Body    string
}

func (m Message) validate() error {
	if strings.TrimSpace(m.To) == "" {
		return fmt.Errorf("%w: recipient is required", ErrInvalidMessage)
	}
	if strings.TrimSpace(m.Subject) == "" {
		return fmt.Errorf("%w: subject is required", ErrInvalidMessage)
	}
	return nil
}

// Sender delivers messages.
type Sender interface {
	Send(ctx context.Context, m Message) error
}

// SMTPConfig holds SMTP connection settings.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password config.Secret
	From     string
	Timeout  time.Duration
}

// dialer is the part of *mail.Client the sender uses.
type dialer interface {
	DialAndSendWithContext(ctx context.Context, messages ...*mail.Msg) error
}

// SMTPSender delivers mail over SMTP with mandatory STARTTLS. Credentials
// are fixed at construction.
type SMTPSender struct {
	from   string
	client dialer
	logger *slog.Logger
}

// NewSMTPSender returns a sender for cfg. PLAIN authentication is used when
// a username is set.
func NewSMTPSender(cfg SMTPConfig) (*SMTPSender, error) {
	if cfg.Host == "" {
		return nil, errors.New("smtp host is required")
	}
	if cfg.From == "" {
		return nil, errors.New("sender address is required")
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	opts := []mail.Option{
		mail.WithPort(cfg.Port),
		mail.WithTLSPolicy(mail.TLSMandatory),
		mail.WithTimeout(cfg.Timeout),
	}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password.Reveal()),
		)
	}
	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("smtp client: %w", err)
	}

	s := newSMTPSender(cfg.From, client)
	s.logger.Info("smtp sender ready", "host", cfg.Host, "port", cfg.Port, "auth", cfg.Username != "")
	return s, nil
}

func newSMTPSender(from string, client dialer) *SMTPSender {
	return &SMTPSender{
		from:   from,
		client: client,
		logger: slog.Default().With("component", "notify"),
	}
}

func (s *SMTPSender) Send(ctx context.Context, m Message) error {
	if err := m.validate(); err != nil {
		return err
	}

	msg := mail.NewMsg()
	if err := msg.From(s.from); err != nil {
		return fmt.Errorf("from address: %w", err)
	}
	if err := msg.To(m.To); err != nil {
		return fmt.Errorf("%w: recipient: %v", ErrInvalidMessage, err)
	}
	msg.Subject(m.Subject)
	msg.SetBodyString(mail.TypeTextPlain, m.Body)

	if err := s.client.DialAndSendWithContext(ctx, msg); err != nil {
		s.logger.Error("send mail failed", "to", m.To, "subject", m.Subject, "error", err)
		return fmt.Errorf("send mail: %w", err)
	}
	s.logger.Info("mail sent", "to", m.To, "subject", m.Subject)
	return nil
}

// LogSender logs messages instead of delivering them. Used when no SMTP
// server is configured.
type LogSender struct {
	logger *slog.Logger
}

func NewLogSender() *LogSender {
	return &LogSender{logger: slog.Default().With("component", "notify")}
}

func (s *LogSender) Send(_ context.Context, m Message) error {
	if err := m.validate(); err != nil {
		return err
	}
	s.logger.Info("mail not sent: smtp disabled", "to", m.To, "subject", m.Subject)
	return nil
}
