package provider

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/resend/resend-go/v2"
)

// ResendSender sends mail through the Resend API using the official SDK.
type ResendSender struct {
	logger *slog.Logger
	client *resend.Client
}

func NewResendSender(logger *slog.Logger, apiKey string) *ResendSender {
	return &ResendSender{
		logger: logger.With("provider", "resend"),
		client: resend.NewClient(apiKey),
	}
}

func (r *ResendSender) Name() string { return "resend" }

func (r *ResendSender) Send(ctx context.Context, envelope Envelope) (*SendResult, error) {
	from := envelope.From.Email
	if envelope.From.Name != "" {
		from = fmt.Sprintf("%s <%s>", envelope.From.Name, envelope.From.Email)
	}

	to := make([]string, 0, len(envelope.To))
	for _, rcpt := range envelope.To {
		to = append(to, rcpt.Email)
	}

	params := &resend.SendEmailRequest{
		From:    from,
		To:      to,
		Subject: envelope.Subject,
		Html:    envelope.HTML,
	}

	sent, err := r.client.Emails.SendWithContext(ctx, params)
	if err != nil {
		r.logger.ErrorContext(ctx, "Resend submission failed", "error", err, "internal_message_id", envelope.InternalMessageID)
		return nil, fmt.Errorf("Resend API error: %v", err)
	}

	r.logger.InfoContext(ctx, "Message submitted to Resend", "provider_message_id", sent.Id, "internal_message_id", envelope.InternalMessageID)
	return &SendResult{ProviderMessageID: sent.Id, ProviderStatus: "SENT_RESEND"}, nil
}

// TestConnection lists the account's domains, an authenticated read that
// sends no mail.
func (r *ResendSender) TestConnection(ctx context.Context) error {
	if _, err := r.client.Domains.ListWithContext(ctx); err != nil {
		return fmt.Errorf("Resend account check failed: %v", err)
	}
	return nil
}
