package infra

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"tablepos/internal/config"

	"github.com/jordan-wright/email"
)

// Mailer emails notifications to the billing's customer contact.
type Mailer struct {
	host     string
	user     string
	password string
	from     string
	addr     string
}

func NewMailer(cfg *config.Config) *Mailer {
	from := cfg.SMTPFrom
	if from == "" {
		from = cfg.SMTPUser
	}
	return &Mailer{
		host:     cfg.SMTPHost,
		user:     cfg.SMTPUser,
		password: cfg.SMTPPassword,
		from:     from,
		addr:     fmt.Sprintf("%s:%d", cfg.SMTPHost, cfg.SMTPPort),
	}
}

// Notify skips recipients that are not email addresses; customer contact is
// optional and may be a phone number. net/smtp has no context support, so
// ctx only gates the start.
func (m *Mailer) Notify(ctx context.Context, n Notification) error {
	if !strings.Contains(n.Recipient, "@") {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	e := email.NewEmail()
	e.From = m.from
	e.To = []string{n.Recipient}
	e.Subject = n.Subject
	e.Text = []byte(n.Message)

	var auth smtp.Auth
	if m.user != "" {
		auth = smtp.PlainAuth("", m.user, m.password, m.host)
	}
	if err := e.Send(m.addr, auth); err != nil {
		return fmt.Errorf("mailer: send to %s: %w", n.Recipient, err)
	}
	return nil
}
