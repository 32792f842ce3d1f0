package domain

// RecipientKind distinguishes direct addresses from indirect references
// that are resolved at send time.
type RecipientKind string

const (
	RecipientKindExternal    RecipientKind = "external"
	RecipientKindSchoolAdmin RecipientKind = "school_admin"
)

// ResolutionStatus is the durable per-spec outcome of recipient
// resolution: pending until dispatch runs, then included (the address
// made the delivery list) or failed (with a FailureReason).
type ResolutionStatus string

const (
	ResolutionPending  ResolutionStatus = "pending"
	ResolutionIncluded ResolutionStatus = "included"
	ResolutionFailed   ResolutionStatus = "failed"
)

// RecipientSpec is the caller-supplied, pre-resolution description of who
// should receive a message. A school_admin spec is deliberately late-bound:
// the school's current administrator is looked up at dispatch time so that
// an admin change between compose and send is honored. ResolutionStatus
// and FailureReason are filled in by dispatch and kept as the
// per-recipient half of the delivery record.
type RecipientSpec struct {
	ID               string           `json:"id"`
	MessageID        string           `json:"message_id"`
	Kind             RecipientKind    `json:"kind"`
	Email            *string          `json:"email,omitempty"`
	DisplayName      *string          `json:"display_name,omitempty"`
	SchoolRef        *string          `json:"school_ref,omitempty"`
	ResolutionStatus ResolutionStatus `json:"resolution_status"`
	FailureReason    *string          `json:"failure_reason,omitempty"`
}

// ResolvedRecipient is a concrete deliverable address produced by
// resolution. Email is always trimmed and lowercased. SpecIDs lists every
// spec that mapped to this address; deduplicated specs all count as
// included.
type ResolvedRecipient struct {
	Email       string   `json:"email"`
	DisplayName string   `json:"display_name,omitempty"`
	SpecIDs     []string `json:"-"`
}

// RecipientResolution is one spec's outcome as written back to the
// message_recipients row after resolution.
type RecipientResolution struct {
	SpecID string
	Status ResolutionStatus
	Reason *string
}

// UnresolvedRecipient records a spec that could not be resolved, with a
// reason specific enough for operators to act on.
type UnresolvedRecipient struct {
	Spec   RecipientSpec `json:"spec"`
	Reason FailureReason `json:"reason"`
}
