package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/smtp"
	"strings"

	"github.com/docflow/docflow/internal/shared"
)

// ContactResolver finds the delivery address of a recipient.
type ContactResolver interface {
	Contact(ctx context.Context, kind shared.AssigneeKind, id int64) (string, error)
}

// Mailer sends one message.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// Deliverer pushes escalated notifications to recipients.
type Deliverer struct {
	contacts ContactResolver
	mailer   Mailer
	logger   *slog.Logger
}

// NewDeliverer constructs a Deliverer.
func NewDeliverer(contacts ContactResolver, mailer Mailer, logger *slog.Logger) *Deliverer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Deliverer{contacts: contacts, mailer: mailer, logger: logger}
}

// Deliver resolves the recipient address and sends the message. A recipient without an address
// yields ErrNoContact, which callers should not retry.
func (d *Deliverer) Deliver(ctx context.Context, payload DeliveryPayload) error {
	if d == nil || d.contacts == nil || d.mailer == nil {
		return errors.New("notify: deliverer not configured")
	}
	to, err := d.contacts.Contact(ctx, payload.RecipientKind, payload.RecipientID)
	if err != nil {
		return fmt.Errorf("notify: resolve contact: %w", err)
	}
	if strings.TrimSpace(to) == "" {
		return ErrNoContact
	}
	if err := d.mailer.Send(ctx, to, payload.Subject, payload.Body); err != nil {
		return fmt.Errorf("notify: send: %w", err)
	}
	d.logger.Info("notification delivered", slog.Int64("notification_id", payload.NotificationID), slog.Int64("document_id", payload.DocumentID))
	return nil
}

// SMTPConfig configures SMTPMailer.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTPMailer sends plain text mail through an SMTP relay.
type SMTPMailer struct {
	cfg  SMTPConfig
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewSMTPMailer constructs a mailer for cfg.
func NewSMTPMailer(cfg SMTPConfig) *SMTPMailer {
	return &SMTPMailer{cfg: cfg, send: smtp.SendMail}
}

// Send implements Mailer.
func (m *SMTPMailer) Send(ctx context.Context, to, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.cfg.Host == "" {
		return errors.New("smtp host not configured")
	}
	var auth smtp.Auth
	if m.cfg.Username != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}
	addr := fmt.Sprintf("%s:%d", m.cfg.Host, m.cfg.Port)
	return m.send(addr, auth, m.cfg.From, []string{to}, buildMessage(m.cfg.From, to, subject, body))
}

func buildMessage(from, to, subject, body string) []byte {
	var b strings.Builder
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + to + "\r\n")
	b.WriteString("Subject: " + sanitizeHeader(subject) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	b.WriteString(body)
	b.WriteString("\r\n")
	return []byte(b.String())
}

func sanitizeHeader(v string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(v)
}

// LogMailer writes messages to the log. It is used when no SMTP relay is configured.
type LogMailer struct {
	Logger *slog.Logger
}

// Send implements Mailer.
func (m LogMailer) Send(_ context.Context, to, subject, _ string) error {
	logger := m.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("mail suppressed", slog.String("to", to), slog.String("subject", subject))
	return nil
}
