package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/campussite/messaging/internal/messaging/domain"
	"github.com/campussite/messaging/internal/messaging/repository"
)

type pgMessageRepository struct {
	db repository.DB
}

// NewPgMessageRepository creates the PostgreSQL message repository.
func NewPgMessageRepository(db repository.DB) repository.MessageRepository {
	return &pgMessageRepository{db: db}
}

const messageColumns = `id, sender_ref, subject, body, vars, status, provider_message_id, error_reason, created_at, updated_at, sent_at`

func (r *pgMessageRepository) Create(ctx context.Context, msg *domain.Message, specs []domain.RecipientSpec) (*domain.Message, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	msg.CreatedAt = now
	msg.UpdatedAt = now
	if msg.Status == "" {
		msg.Status = domain.MessageStatusQueued
	}

	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		insertMsg := `
			INSERT INTO messages (id, sender_ref, subject, body, vars, status, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`
		if _, err := tx.Exec(ctx, insertMsg,
			msg.ID, msg.SenderRef, msg.Subject, msg.Body, msg.Vars, msg.Status, msg.CreatedAt, msg.UpdatedAt,
		); err != nil {
			return fmt.Errorf("failed to insert message: %w", err)
		}

		insertSpec := `
			INSERT INTO message_recipients (id, message_id, kind, email, display_name, school_ref)
			VALUES ($1, $2, $3, $4, $5, $6)
		`
		for i := range specs {
			if specs[i].ID == "" {
				specs[i].ID = uuid.NewString()
			}
			specs[i].MessageID = msg.ID
			specs[i].ResolutionStatus = domain.ResolutionPending
			if _, err := tx.Exec(ctx, insertSpec,
				specs[i].ID, specs[i].MessageID, specs[i].Kind, specs[i].Email, specs[i].DisplayName, specs[i].SchoolRef,
			); err != nil {
				return fmt.Errorf("failed to insert recipient spec: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

func (r *pgMessageRepository) GetByID(ctx context.Context, id string) (*domain.Message, error) {
	msg := &domain.Message{}
	query := `SELECT ` + messageColumns + ` FROM messages WHERE id = $1`
	err := r.db.QueryRow(ctx, query, id).Scan(
		&msg.ID, &msg.SenderRef, &msg.Subject, &msg.Body, &msg.Vars, &msg.Status,
		&msg.ProviderMessageID, &msg.ErrorReason, &msg.CreatedAt, &msg.UpdatedAt, &msg.SentAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrMessageNotFound
		}
		return nil, err
	}
	return msg, nil
}

func (r *pgMessageRepository) GetRecipientSpecs(ctx context.Context, messageID string) ([]domain.RecipientSpec, error) {
	query := `
		SELECT id, message_id, kind, email, display_name, school_ref, resolution_status, failure_reason
		FROM message_recipients WHERE message_id = $1 ORDER BY id
	`
	rows, err := r.db.Query(ctx, query, messageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var specs []domain.RecipientSpec
	for rows.Next() {
		var spec domain.RecipientSpec
		var status string
		if err := rows.Scan(&spec.ID, &spec.MessageID, &spec.Kind, &spec.Email, &spec.DisplayName, &spec.SchoolRef, &status, &spec.FailureReason); err != nil {
			return nil, err
		}
		spec.ResolutionStatus = domain.ResolutionStatus(status)
		specs = append(specs, spec)
	}
	return specs, rows.Err()
}

// RecordResolution writes the per-spec outcomes in one transaction, so a
// reader never sees a half-updated recipient list for a message.
func (r *pgMessageRepository) RecordResolution(ctx context.Context, messageID string, outcomes []domain.RecipientResolution) error {
	if len(outcomes) == 0 {
		return nil
	}
	return pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		query := `
			UPDATE message_recipients SET resolution_status = $3, failure_reason = $4
			WHERE id = $1 AND message_id = $2
		`
		for _, outcome := range outcomes {
			if _, err := tx.Exec(ctx, query, outcome.SpecID, messageID, outcome.Status, outcome.Reason); err != nil {
				return fmt.Errorf("failed to record resolution outcome: %w", err)
			}
		}
		return nil
	})
}

func (r *pgMessageRepository) ClaimForSending(ctx context.Context, id string) error {
	// Single-statement compare-and-swap: the WHERE clause is the sole
	// concurrency control against duplicate trigger firings.
	query := `
		UPDATE messages SET status = $2, updated_at = $3
		WHERE id = $1 AND status = $4
	`
	tag, err := r.db.Exec(ctx, query, id, domain.MessageStatusSending, time.Now().UTC(), domain.MessageStatusQueued)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotClaimable
	}
	return nil
}

func (r *pgMessageRepository) MarkSent(ctx context.Context, id string, providerMessageID string) error {
	now := time.Now().UTC()
	var provID *string
	if providerMessageID != "" {
		provID = &providerMessageID
	}
	query := `
		UPDATE messages SET status = $2, provider_message_id = $3, sent_at = $4, updated_at = $4
		WHERE id = $1 AND status = $5
	`
	tag, err := r.db.Exec(ctx, query, id, domain.MessageStatusSent, provID, now, domain.MessageStatusSending)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrMessageNotFound
	}
	return nil
}

func (r *pgMessageRepository) MarkFailed(ctx context.Context, id string, errorReason string) error {
	query := `
		UPDATE messages SET status = $2, error_reason = $3, updated_at = $4
		WHERE id = $1 AND status = $5
	`
	tag, err := r.db.Exec(ctx, query, id, domain.MessageStatusFailed, errorReason, time.Now().UTC(), domain.MessageStatusSending)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrMessageNotFound
	}
	return nil
}

func (r *pgMessageRepository) FailStuckSending(ctx context.Context, olderThan time.Duration) (int64, error) {
	now := time.Now().UTC()
	cutoff := now.Add(-olderThan)
	query := `
		UPDATE messages SET status = $1, error_reason = $2, updated_at = $3
		WHERE status = $4 AND updated_at < $5
	`
	tag, err := r.db.Exec(ctx, query,
		domain.MessageStatusFailed, string(domain.ReasonDispatchTimeout), now, domain.MessageStatusSending, cutoff,
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *pgMessageRepository) FindStaleQueued(ctx context.Context, olderThan time.Duration) ([]string, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	query := `
		SELECT id FROM messages
		WHERE status = $1 AND updated_at < $2
		ORDER BY updated_at LIMIT 100
	`
	rows, err := r.db.Query(ctx, query, domain.MessageStatusQueued, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
