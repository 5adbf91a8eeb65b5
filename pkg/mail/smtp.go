package mail

import (
	"fmt"
	"net/smtp"
	"strings"
	"time"
)

// SMTPConfig is the outbound mail server configuration.
type SMTPConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	From     string `json:"from"`
}

// SMTPSender sends mail through a standard SMTP submission endpoint.
// It only implements Sender; subject search belongs to the receiving
// side (IMAP), which deployments wire separately.
type SMTPSender struct {
	Config SMTPConfig
}

var _ Sender = (*SMTPSender)(nil)

func (s *SMTPSender) SendMail(to, subject, body string) error {
	cfg := s.Config
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	var auth smtp.Auth
	if cfg.Username != "" {
		auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}
	msg := formatMessage(cfg.From, to, subject, body)
	if err := smtp.SendMail(addr, auth, cfg.From, []string{to}, msg); err != nil {
		return fmt.Errorf("smtp send to %s: %w", to, err)
	}
	return nil
}

// formatMessage assembles a minimal RFC 5322 message. The subject is
// passed through verbatim: the encrypted subject string is the link
// between the email and its DM event and must not be reformatted.
func formatMessage(from, to, subject, body string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(body)
	return []byte(b.String())
}
