package domain

import "errors"

// FailureReason classifies why a recipient or a whole message failed.
// Per-recipient reasons never block the remaining valid recipients;
// message-level reasons put the message into the terminal failed state.
type FailureReason string

const (
	// Per-recipient, recovered locally.
	ReasonInvalidAddress   FailureReason = "invalid_address"
	ReasonSchoolNotFound   FailureReason = "school_not_found"
	ReasonSchoolHasNoAdmin FailureReason = "school_has_no_admin"
	ReasonAdminUserMissing FailureReason = "admin_user_missing"

	// Message-level, terminal.
	ReasonNoValidRecipients  FailureReason = "no_valid_recipients"
	ReasonNoActiveProvider   FailureReason = "no_active_provider_configured"
	ReasonDispatchPanic      FailureReason = "dispatch_panic"
	ReasonDispatchTimeout    FailureReason = "dispatch_timeout"
)

var (
	ErrMessageNotFound        = errors.New("message not found")
	ErrProviderConfigNotFound = errors.New("provider config not found")
	ErrNoActiveProviderConfig = errors.New("no active provider config")

	// ErrNotClaimable is returned by the queued -> sending compare-and-swap
	// when the message is no longer in queued state. A second concurrent
	// dispatch of the same message observes this and aborts.
	ErrNotClaimable = errors.New("message not in queued state")
)
