package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campussite/messaging/internal/messaging/domain"
)

func TestPgMessageRepository_Create(t *testing.T) {
	t.Run("InsertsMessageAndSpecsInOneTransaction", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()
		repo := NewPgMessageRepository(mockPool)

		mockPool.ExpectBegin()
		mockPool.ExpectExec(`INSERT INTO messages`).
			WithArgs(pgxmock.AnyArg(), "operator-1", "Enrollment open", "<p>Hello {{name}}</p>",
				map[string]string{"name": "Pat"}, domain.MessageStatusQueued, pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectExec(`INSERT INTO message_recipients`).
			WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), domain.RecipientKindExternal, pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectExec(`INSERT INTO message_recipients`).
			WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), domain.RecipientKindSchoolAdmin, pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectCommit()

		email := "parent@example.com"
		schoolRef := "S1"
		msg := &domain.Message{
			SenderRef: "operator-1",
			Subject:   "Enrollment open",
			Body:      "<p>Hello {{name}}</p>",
			Vars:      map[string]string{"name": "Pat"},
		}
		specs := []domain.RecipientSpec{
			{Kind: domain.RecipientKindExternal, Email: &email},
			{Kind: domain.RecipientKindSchoolAdmin, SchoolRef: &schoolRef},
		}

		created, err := repo.Create(context.Background(), msg, specs)
		require.NoError(t, err)
		assert.NotEmpty(t, created.ID)
		assert.Equal(t, domain.MessageStatusQueued, created.Status)
		assert.Equal(t, created.ID, specs[0].MessageID)
		assert.Equal(t, created.ID, specs[1].MessageID)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("RollsBackWhenSpecInsertFails", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()
		repo := NewPgMessageRepository(mockPool)

		mockPool.ExpectBegin()
		mockPool.ExpectExec(`INSERT INTO messages`).
			WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
				pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectExec(`INSERT INTO message_recipients`).
			WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnError(errors.New("constraint violation"))
		mockPool.ExpectRollback()

		email := "parent@example.com"
		_, err = repo.Create(context.Background(), &domain.Message{SenderRef: "operator-1"}, []domain.RecipientSpec{
			{Kind: domain.RecipientKindExternal, Email: &email},
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to insert recipient spec")
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestPgMessageRepository_GetByID(t *testing.T) {
	t.Run("Found", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()
		repo := NewPgMessageRepository(mockPool)

		now := time.Now().UTC()
		provID := "brevo-123"
		rows := mockPool.NewRows([]string{"id", "sender_ref", "subject", "body", "vars", "status", "provider_message_id", "error_reason", "created_at", "updated_at", "sent_at"}).
			AddRow("msg-1", "operator-1", "Hi", "<p>body</p>", map[string]string{"name": "Pat"}, domain.MessageStatusSent, &provID, (*string)(nil), now, now, &now)
		mockPool.ExpectQuery(`SELECT .+ FROM messages WHERE id = \$1`).
			WithArgs("msg-1").
			WillReturnRows(rows)

		msg, err := repo.GetByID(context.Background(), "msg-1")
		require.NoError(t, err)
		assert.Equal(t, "msg-1", msg.ID)
		assert.Equal(t, domain.MessageStatusSent, msg.Status)
		require.NotNil(t, msg.ProviderMessageID)
		assert.Equal(t, "brevo-123", *msg.ProviderMessageID)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("NotFound", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()
		repo := NewPgMessageRepository(mockPool)

		mockPool.ExpectQuery(`SELECT .+ FROM messages WHERE id = \$1`).
			WithArgs("missing").
			WillReturnError(pgx.ErrNoRows)

		_, err = repo.GetByID(context.Background(), "missing")
		assert.ErrorIs(t, err, domain.ErrMessageNotFound)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestPgMessageRepository_GetRecipientSpecs(t *testing.T) {
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mockPool.Close()
	repo := NewPgMessageRepository(mockPool)

	email := "parent@example.com"
	badEmail := "not-an-address"
	reason := "invalid_address"
	rows := mockPool.NewRows([]string{"id", "message_id", "kind", "email", "display_name", "school_ref", "resolution_status", "failure_reason"}).
		AddRow("spec-1", "msg-1", domain.RecipientKindExternal, &email, (*string)(nil), (*string)(nil), "included", (*string)(nil)).
		AddRow("spec-2", "msg-1", domain.RecipientKindExternal, &badEmail, (*string)(nil), (*string)(nil), "failed", &reason)
	mockPool.ExpectQuery(`SELECT id, message_id, kind, email, display_name, school_ref, resolution_status, failure_reason\s+FROM message_recipients WHERE message_id = \$1`).
		WithArgs("msg-1").
		WillReturnRows(rows)

	specs, err := repo.GetRecipientSpecs(context.Background(), "msg-1")
	require.NoError(t, err)
	require.Len(t, specs, 2)
	assert.Equal(t, domain.ResolutionIncluded, specs[0].ResolutionStatus)
	assert.Nil(t, specs[0].FailureReason)
	assert.Equal(t, domain.ResolutionFailed, specs[1].ResolutionStatus)
	require.NotNil(t, specs[1].FailureReason)
	assert.Equal(t, "invalid_address", *specs[1].FailureReason)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestPgMessageRepository_RecordResolution(t *testing.T) {
	t.Run("WritesOutcomesInOneTransaction", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()
		repo := NewPgMessageRepository(mockPool)

		reason := "invalid_address"
		mockPool.ExpectBegin()
		mockPool.ExpectExec(`UPDATE message_recipients SET resolution_status = \$3, failure_reason = \$4\s+WHERE id = \$1 AND message_id = \$2`).
			WithArgs("spec-1", "msg-1", domain.ResolutionIncluded, (*string)(nil)).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		mockPool.ExpectExec(`UPDATE message_recipients SET resolution_status = \$3, failure_reason = \$4\s+WHERE id = \$1 AND message_id = \$2`).
			WithArgs("spec-2", "msg-1", domain.ResolutionFailed, &reason).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		mockPool.ExpectCommit()

		err = repo.RecordResolution(context.Background(), "msg-1", []domain.RecipientResolution{
			{SpecID: "spec-1", Status: domain.ResolutionIncluded},
			{SpecID: "spec-2", Status: domain.ResolutionFailed, Reason: &reason},
		})
		require.NoError(t, err)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("RollsBackWhenUpdateFails", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()
		repo := NewPgMessageRepository(mockPool)

		mockPool.ExpectBegin()
		mockPool.ExpectExec(`UPDATE message_recipients SET resolution_status = \$3, failure_reason = \$4\s+WHERE id = \$1 AND message_id = \$2`).
			WithArgs("spec-1", "msg-1", domain.ResolutionIncluded, (*string)(nil)).
			WillReturnError(errors.New("connection reset"))
		mockPool.ExpectRollback()

		err = repo.RecordResolution(context.Background(), "msg-1", []domain.RecipientResolution{
			{SpecID: "spec-1", Status: domain.ResolutionIncluded},
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to record resolution outcome")
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("NoOutcomesIsANoOp", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()
		repo := NewPgMessageRepository(mockPool)

		assert.NoError(t, repo.RecordResolution(context.Background(), "msg-1", nil))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestPgMessageRepository_FindStaleQueued(t *testing.T) {
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mockPool.Close()
	repo := NewPgMessageRepository(mockPool)

	rows := mockPool.NewRows([]string{"id"}).
		AddRow("msg-lost-1").
		AddRow("msg-lost-2")
	mockPool.ExpectQuery(`SELECT id FROM messages\s+WHERE status = \$1 AND updated_at < \$2\s+ORDER BY updated_at LIMIT 100`).
		WithArgs(domain.MessageStatusQueued, pgxmock.AnyArg()).
		WillReturnRows(rows)

	ids, err := repo.FindStaleQueued(context.Background(), 10*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, []string{"msg-lost-1", "msg-lost-2"}, ids)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestPgMessageRepository_ClaimForSending(t *testing.T) {
	t.Run("ClaimsQueuedMessage", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()
		repo := NewPgMessageRepository(mockPool)

		mockPool.ExpectExec(`UPDATE messages SET status = \$2, updated_at = \$3\s+WHERE id = \$1 AND status = \$4`).
			WithArgs("msg-1", domain.MessageStatusSending, pgxmock.AnyArg(), domain.MessageStatusQueued).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		assert.NoError(t, repo.ClaimForSending(context.Background(), "msg-1"))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("NotClaimableWhenAlreadySending", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()
		repo := NewPgMessageRepository(mockPool)

		mockPool.ExpectExec(`UPDATE messages SET status = \$2, updated_at = \$3\s+WHERE id = \$1 AND status = \$4`).
			WithArgs("msg-1", domain.MessageStatusSending, pgxmock.AnyArg(), domain.MessageStatusQueued).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))

		err = repo.ClaimForSending(context.Background(), "msg-1")
		assert.ErrorIs(t, err, domain.ErrNotClaimable)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestPgMessageRepository_MarkSent(t *testing.T) {
	t.Run("GuardedOnSendingStatus", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()
		repo := NewPgMessageRepository(mockPool)

		provID := "sg-abc123"
		mockPool.ExpectExec(`UPDATE messages SET status = \$2, provider_message_id = \$3, sent_at = \$4, updated_at = \$4\s+WHERE id = \$1 AND status = \$5`).
			WithArgs("msg-1", domain.MessageStatusSent, &provID, pgxmock.AnyArg(), domain.MessageStatusSending).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		assert.NoError(t, repo.MarkSent(context.Background(), "msg-1", "sg-abc123"))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("EmptyProviderMessageIDStoredAsNull", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()
		repo := NewPgMessageRepository(mockPool)

		mockPool.ExpectExec(`UPDATE messages SET status = \$2, provider_message_id = \$3, sent_at = \$4, updated_at = \$4\s+WHERE id = \$1 AND status = \$5`).
			WithArgs("msg-1", domain.MessageStatusSent, (*string)(nil), pgxmock.AnyArg(), domain.MessageStatusSending).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		assert.NoError(t, repo.MarkSent(context.Background(), "msg-1", ""))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("NoRowsWhenNotSending", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()
		repo := NewPgMessageRepository(mockPool)

		mockPool.ExpectExec(`UPDATE messages SET status = \$2, provider_message_id = \$3, sent_at = \$4, updated_at = \$4\s+WHERE id = \$1 AND status = \$5`).
			WithArgs("msg-1", domain.MessageStatusSent, pgxmock.AnyArg(), pgxmock.AnyArg(), domain.MessageStatusSending).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))

		err = repo.MarkSent(context.Background(), "msg-1", "sg-abc123")
		assert.ErrorIs(t, err, domain.ErrMessageNotFound)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestPgMessageRepository_MarkFailed(t *testing.T) {
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mockPool.Close()
	repo := NewPgMessageRepository(mockPool)

	mockPool.ExpectExec(`UPDATE messages SET status = \$2, error_reason = \$3, updated_at = \$4\s+WHERE id = \$1 AND status = \$5`).
		WithArgs("msg-1", domain.MessageStatusFailed, "no_valid_recipients", pgxmock.AnyArg(), domain.MessageStatusSending).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	assert.NoError(t, repo.MarkFailed(context.Background(), "msg-1", "no_valid_recipients"))
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestPgMessageRepository_FailStuckSending(t *testing.T) {
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mockPool.Close()
	repo := NewPgMessageRepository(mockPool)

	mockPool.ExpectExec(`UPDATE messages SET status = \$1, error_reason = \$2, updated_at = \$3\s+WHERE status = \$4 AND updated_at < \$5`).
		WithArgs(domain.MessageStatusFailed, string(domain.ReasonDispatchTimeout), pgxmock.AnyArg(), domain.MessageStatusSending, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 3))

	swept, err := repo.FailStuckSending(context.Background(), 10*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(3), swept)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}
