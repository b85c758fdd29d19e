package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
	"time"
)

// Email sends plain-text mail through an SMTP relay.
type Email struct {
	addr string
	auth smtp.Auth
	from string
	to   []string

	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
	now  func() time.Time
}

// NewEmail builds an SMTP sink. host is "smtp.example.com:587"; PLAIN auth
// is used when user is set.
func NewEmail(host, user, password, from string, to []string) *Email {
	var auth smtp.Auth
	if user != "" {
		auth = smtp.PlainAuth("", user, password, strings.Split(host, ":")[0])
	}
	return &Email{
		addr: host,
		auth: auth,
		from: from,
		to:   to,
		send: smtp.SendMail,
		now:  time.Now,
	}
}

func (e *Email) Send(ctx context.Context, m Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(e.to) == 0 {
		return fmt.Errorf("email: no recipients configured")
	}

	if err := e.send(e.addr, e.auth, e.from, e.to, e.compose(m)); err != nil {
		return fmt.Errorf("email send failed: %w", err)
	}
	return nil
}

func (e *Email) compose(m Message) []byte {
	subject := m.Title
	if m.Level == LevelCritical {
		subject = "[CRITICAL] " + subject
	}

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", e.from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(e.to, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	fmt.Fprintf(&b, "Date: %s\r\n", e.now().UTC().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	b.WriteString(strings.ReplaceAll(m.Body, "\n", "\r\n"))
	if m.URL != "" {
		fmt.Fprintf(&b, "\r\n\r\n%s", m.URL)
	}
	b.WriteString("\r\n")
	return []byte(b.String())
}
