package provider

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	mail "gopkg.in/mail.v2"
)

// SMTPSender submits a MIME message over an authenticated SMTP session.
type SMTPSender struct {
	logger   *slog.Logger
	host     string
	port     int
	username string
	password string
}

func NewSMTPSender(logger *slog.Logger, host string, port int, username, password string) *SMTPSender {
	return &SMTPSender{
		logger:   logger.With("provider", "smtp"),
		host:     host,
		port:     port,
		username: username,
		password: password,
	}
}

func (s *SMTPSender) Name() string { return "smtp" }

// Send submits the envelope in a single SMTP session. SMTP servers do not
// assign a retrievable message identifier, so the Message-ID header we
// generate is recorded as the provider message ID.
func (s *SMTPSender) Send(ctx context.Context, envelope Envelope) (*SendResult, error) {
	m := mail.NewMessage()
	m.SetHeader("From", m.FormatAddress(envelope.From.Email, envelope.From.Name))

	to := make([]string, 0, len(envelope.To))
	for _, rcpt := range envelope.To {
		if rcpt.DisplayName != "" {
			to = append(to, m.FormatAddress(rcpt.Email, rcpt.DisplayName))
		} else {
			to = append(to, rcpt.Email)
		}
	}
	m.SetHeader("To", to...)
	m.SetHeader("Subject", envelope.Subject)

	messageID := fmt.Sprintf("<%s@%s>", uuid.NewString(), s.host)
	m.SetHeader("Message-ID", messageID)
	m.SetBody("text/html", envelope.HTML)

	dialer := mail.NewDialer(s.host, s.port, s.username, s.password)

	done := make(chan error, 1)
	go func() { done <- dialer.DialAndSend(m) }()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("smtp send aborted: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			s.logger.ErrorContext(ctx, "SMTP submission failed", "host", s.host, "error", err, "internal_message_id", envelope.InternalMessageID)
			return nil, fmt.Errorf("smtp submission to %s failed: %w", s.host, err)
		}
	}

	s.logger.InfoContext(ctx, "Message submitted over SMTP", "host", s.host, "message_id", messageID, "internal_message_id", envelope.InternalMessageID)
	return &SendResult{ProviderMessageID: messageID, ProviderStatus: "SMTP_ACCEPTED"}, nil
}

// TestConnection dials and authenticates without submitting mail.
func (s *SMTPSender) TestConnection(ctx context.Context) error {
	dialer := mail.NewDialer(s.host, s.port, s.username, s.password)

	done := make(chan error, 1)
	go func() {
		conn, err := dialer.Dial()
		if err != nil {
			done <- err
			return
		}
		done <- conn.Close()
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("smtp connection test aborted: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("smtp connection to %s:%d failed: %w", s.host, s.port, err)
		}
		return nil
	}
}
