/*
Package notify delivers reminder emails for the library engine.

PURPOSE:
  Implements library.Notifier. The engine decides who to remind and what
  to say; this package only moves the message.

IMPLEMENTATIONS:
  SMTPMailer: Plain SMTP with optional PLAIN auth
  LogMailer:  Writes the message to the structured log. Used when no SMTP
              host is configured, so reminders remain visible in dev.
  Retrying:   Wraps another Notifier with bounded retries and backoff

SEE ALSO:
  - library/sweep.go: SendReminders
  - config/config.go: SMTP settings
*/
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/warp/library-engine/library"
)

var (
	_ library.Notifier = (*SMTPMailer)(nil)
	_ library.Notifier = (*LogMailer)(nil)
	_ library.Notifier = (*Retrying)(nil)
)

// =============================================================================
// SMTP
// =============================================================================

// SMTPConfig holds the outgoing mail server settings.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTPMailer sends plain-text mail through an SMTP relay.
type SMTPMailer struct {
	cfg      SMTPConfig
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewSMTPMailer(cfg SMTPConfig) *SMTPMailer {
	return &SMTPMailer{cfg: cfg, sendMail: smtp.SendMail}
}

// SendReminder implements library.Notifier. net/smtp has no context
// support, so ctx is only checked before dialing.
func (m *SMTPMailer) SendReminder(ctx context.Context, email, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	addr := m.cfg.Host + ":" + strconv.Itoa(m.cfg.Port)

	var auth smtp.Auth
	if m.cfg.Username != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}
	if err := m.sendMail(addr, auth, m.cfg.From, []string{email}, buildMessage(m.cfg.From, email, subject, body)); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

func buildMessage(from, to, subject, body string) []byte {
	var b strings.Builder
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + to + "\r\n")
	b.WriteString("Subject: " + headerSafe(subject) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	return []byte(b.String())
}

// headerSafe strips line breaks so a subject cannot inject headers.
func headerSafe(s string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(s)
}

// =============================================================================
// LOG
// =============================================================================

// LogMailer records reminders in the log instead of sending them.
type LogMailer struct {
	log *slog.Logger
}

func NewLogMailer(log *slog.Logger) *LogMailer {
	return &LogMailer{log: log}
}

func (m *LogMailer) SendReminder(ctx context.Context, email, subject, body string) error {
	m.log.InfoContext(ctx, "reminder email (not sent, smtp not configured)",
		"to", email, "subject", subject, "body", body)
	return nil
}

// =============================================================================
// RETRY
// =============================================================================

// Retrying retries a Notifier with linear backoff.
type Retrying struct {
	next     library.Notifier
	attempts int
	backoff  time.Duration
	log      *slog.Logger
}

// NewRetrying wraps next. attempts below 1 means a single attempt.
func NewRetrying(next library.Notifier, attempts int, backoff time.Duration, log *slog.Logger) *Retrying {
	if attempts < 1 {
		attempts = 1
	}
	return &Retrying{next: next, attempts: attempts, backoff: backoff, log: log}
}

func (r *Retrying) SendReminder(ctx context.Context, email, subject, body string) error {
	var err error
	for attempt := 1; attempt <= r.attempts; attempt++ {
		if err = r.next.SendReminder(ctx, email, subject, body); err == nil {
			return nil
		}
		if attempt == r.attempts {
			break
		}
		r.log.WarnContext(ctx, "reminder delivery failed, retrying",
			"to", email, "attempt", attempt, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * r.backoff):
		}
	}
	return fmt.Errorf("after %d attempts: %w", r.attempts, err)
}
