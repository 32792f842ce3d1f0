package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/campussite/messaging/internal/messaging/domain"
)

// Querier is the subset of pgxpool.Pool the repositories need; pgxmock
// pools satisfy it in tests.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// DB adds transaction support for multi-statement writes.
type DB interface {
	Querier
	Begin(ctx context.Context) (pgx.Tx, error)
}

// MessageRepository is the durable record of message delivery state, the
// single source of truth queried by all UI surfaces.
type MessageRepository interface {
	// Create persists the message and its recipient specs in one
	// transaction; a message without its specs is never observable.
	Create(ctx context.Context, msg *domain.Message, specs []domain.RecipientSpec) (*domain.Message, error)
	GetByID(ctx context.Context, id string) (*domain.Message, error)
	GetRecipientSpecs(ctx context.Context, messageID string) ([]domain.RecipientSpec, error)

	// RecordResolution writes each spec's resolution outcome back to its
	// message_recipients row. Together with the message row this forms the
	// full delivery record; the unresolved reasons are kept, not just
	// logged.
	RecordResolution(ctx context.Context, messageID string, outcomes []domain.RecipientResolution) error

	// ClaimForSending performs the atomic queued -> sending compare-and-swap.
	// Returns domain.ErrNotClaimable when the message is no longer queued,
	// which is how a duplicate trigger firing is detected and dropped.
	ClaimForSending(ctx context.Context, id string) error

	// MarkSent and MarkFailed move a sending message into its terminal
	// state. Both guard on status = 'sending' so transitions stay
	// monotonic even under races.
	MarkSent(ctx context.Context, id string, providerMessageID string) error
	MarkFailed(ctx context.Context, id string, errorReason string) error

	// FailStuckSending force-fails messages left in sending longer than
	// olderThan, covering a dispatcher crash between claim and terminal
	// write. Returns the number of messages swept.
	FailStuckSending(ctx context.Context, olderThan time.Duration) (int64, error)

	// FindStaleQueued returns ids of messages still queued after olderThan,
	// i.e. whose dispatch job was lost (broker hiccup, no consumer up when
	// it fired). Re-publishing them is safe: ClaimForSending drops
	// duplicates.
	FindStaleQueued(ctx context.Context, olderThan time.Duration) ([]string, error)
}

// ProviderConfigRepository manages the operator-owned outbound provider
// configurations.
type ProviderConfigRepository interface {
	Create(ctx context.Context, cfg *domain.ProviderConfig) (*domain.ProviderConfig, error)
	List(ctx context.Context) ([]*domain.ProviderConfig, error)

	// SetActive activates one config and deactivates every other in a
	// single transaction, enforcing the single-active invariant.
	SetActive(ctx context.Context, id string) error

	// GetActive returns the config in effect, or
	// domain.ErrNoActiveProviderConfig when none is active. Read once per
	// dispatch; never re-read mid-dispatch.
	GetActive(ctx context.Context) (*domain.ProviderConfig, error)
}
