package notification

import (
	"fmt"
	"net/smtp"
	"strings"

	"TunnelSpectra/internal/config"
	"TunnelSpectra/internal/model"
)

// EmailNotifier delivers alert messages over SMTP. The To field may hold a
// comma-separated recipient list.
type EmailNotifier struct {
	cfg  config.SMTPConfig
	auth smtp.Auth
}

// NewEmailNotifier creates a notifier with plain authentication against the
// configured host.
func NewEmailNotifier(cfg config.SMTPConfig) model.Notifier {
	return &EmailNotifier{
		cfg:  cfg,
		auth: smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host),
	}
}

// Send delivers one HTML message to all configured recipients.
func (n *EmailNotifier) Send(subject, body string) error {
	recipients := strings.Split(n.cfg.To, ",")
	for i := range recipients {
		recipients[i] = strings.TrimSpace(recipients[i])
	}

	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", n.cfg.From)
	fmt.Fprintf(&msg, "To: %s\r\n", n.cfg.To)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(body)

	addr := fmt.Sprintf("%s:%d", n.cfg.Host, n.cfg.Port)
	if err := smtp.SendMail(addr, n.auth, n.cfg.From, recipients, []byte(msg.String())); err != nil {
		return fmt.Errorf("failed to send alert email: %w", err)
	}
	return nil
}
