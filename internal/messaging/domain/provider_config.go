package domain

import "time"

// ProviderKind enumerates the supported outbound email backends.
type ProviderKind string

const (
	ProviderKindSMTP     ProviderKind = "smtp"
	ProviderKindBrevo    ProviderKind = "brevo"
	ProviderKindSendGrid ProviderKind = "sendgrid"
	ProviderKindResend   ProviderKind = "resend"
	ProviderKindSES      ProviderKind = "ses"
)

// ProviderConfig holds the credentials for one outbound email backend.
// Credential shape depends on Kind: the HTTP-API providers use APIKey,
// SMTP uses Host/Port/Username/Password, and SES reuses Username/Password
// for the AWS access key pair with Host carrying the region.
//
// At most one config is in effect at dispatch time. Activation deactivates
// all others; GetActive additionally orders by created_at so a stray second
// active row cannot make dispatch ambiguous.
type ProviderConfig struct {
	ID        string       `json:"id"`
	Kind      ProviderKind `json:"kind"`
	APIKey    *string      `json:"api_key,omitempty"`
	Host      *string      `json:"host,omitempty"`
	Port      *int         `json:"port,omitempty"`
	Username  *string      `json:"username,omitempty"`
	Password  *string      `json:"password,omitempty"`
	FromEmail string       `json:"from_email"`
	FromName  string       `json:"from_name"`
	IsActive  bool         `json:"is_active"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}
