// Package provider wraps the concrete outbound email backends behind one
// interface. Each adapter owns its transport (SMTP session or signed HTTP
// call) and normalizes the backend's error shape into a plain error; the
// orchestrator never sees a provider-specific payload.
package provider

import (
	"context"

	"github.com/campussite/messaging/internal/messaging/domain"
)

// Address is an (email, display name) pair on the wire.
type Address struct {
	Email string
	Name  string
}

// Envelope is one fully-rendered message for one batched provider call.
// Every recipient receives byte-identical content.
type Envelope struct {
	InternalMessageID string
	From              Address
	To                []domain.ResolvedRecipient
	Subject           string
	HTML              string
}

// SendResult reports a successful submission to the provider.
type SendResult struct {
	ProviderMessageID string
	ProviderStatus    string
}

// Sender is the uniform interface over concrete email backends. Send
// performs exactly one provider call and does not retry internally.
// TestConnection performs the cheapest possible live check against the
// provider without sending mail.
type Sender interface {
	Send(ctx context.Context, envelope Envelope) (*SendResult, error)
	TestConnection(ctx context.Context) error
	Name() string
}
