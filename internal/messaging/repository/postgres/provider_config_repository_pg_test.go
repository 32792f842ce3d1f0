package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campussite/messaging/internal/messaging/domain"
)

func TestPgProviderConfigRepository_Create(t *testing.T) {
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mockPool.Close()
	repo := NewPgProviderConfigRepository(mockPool)

	apiKey := "xkeysib-abc"
	cfg := &domain.ProviderConfig{
		Kind:      domain.ProviderKindBrevo,
		APIKey:    &apiKey,
		FromEmail: "noreply@campussite.example",
		FromName:  "Campus Site",
	}

	mockPool.ExpectExec(`INSERT INTO provider_configs`).
		WithArgs(pgxmock.AnyArg(), domain.ProviderKindBrevo, &apiKey, (*string)(nil), (*int)(nil), (*string)(nil), (*string)(nil),
			"noreply@campussite.example", "Campus Site", false, pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	created, err := repo.Create(context.Background(), cfg)
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.False(t, created.CreatedAt.IsZero())
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestPgProviderConfigRepository_SetActive(t *testing.T) {
	t.Run("DeactivatesOthersAndActivatesTarget", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()
		repo := NewPgProviderConfigRepository(mockPool)

		mockPool.ExpectBegin()
		mockPool.ExpectExec(`UPDATE provider_configs SET is_active = FALSE, updated_at = \$1 WHERE is_active = TRUE AND id <> \$2`).
			WithArgs(pgxmock.AnyArg(), "cfg-2").
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		mockPool.ExpectExec(`UPDATE provider_configs SET is_active = TRUE, updated_at = \$1 WHERE id = \$2`).
			WithArgs(pgxmock.AnyArg(), "cfg-2").
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		mockPool.ExpectCommit()

		assert.NoError(t, repo.SetActive(context.Background(), "cfg-2"))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("UnknownConfigRollsBack", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()
		repo := NewPgProviderConfigRepository(mockPool)

		mockPool.ExpectBegin()
		mockPool.ExpectExec(`UPDATE provider_configs SET is_active = FALSE, updated_at = \$1 WHERE is_active = TRUE AND id <> \$2`).
			WithArgs(pgxmock.AnyArg(), "missing").
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		mockPool.ExpectExec(`UPDATE provider_configs SET is_active = TRUE, updated_at = \$1 WHERE id = \$2`).
			WithArgs(pgxmock.AnyArg(), "missing").
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))
		mockPool.ExpectRollback()

		err = repo.SetActive(context.Background(), "missing")
		assert.ErrorIs(t, err, domain.ErrProviderConfigNotFound)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestPgProviderConfigRepository_GetActive(t *testing.T) {
	t.Run("ReturnsMostRecentActiveConfig", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()
		repo := NewPgProviderConfigRepository(mockPool)

		now := time.Now().UTC()
		apiKey := "SG.abc"
		rows := mockPool.NewRows([]string{"id", "kind", "api_key", "host", "port", "username", "password", "from_email", "from_name", "is_active", "created_at", "updated_at"}).
			AddRow("cfg-9", domain.ProviderKindSendGrid, &apiKey, (*string)(nil), (*int)(nil), (*string)(nil), (*string)(nil),
				"noreply@campussite.example", "Campus Site", true, now, now)
		mockPool.ExpectQuery(`SELECT .+ FROM provider_configs WHERE is_active = TRUE ORDER BY created_at DESC LIMIT 1`).
			WillReturnRows(rows)

		cfg, err := repo.GetActive(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "cfg-9", cfg.ID)
		assert.Equal(t, domain.ProviderKindSendGrid, cfg.Kind)
		require.NotNil(t, cfg.APIKey)
		assert.Equal(t, "SG.abc", *cfg.APIKey)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("NoActiveConfig", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()
		repo := NewPgProviderConfigRepository(mockPool)

		mockPool.ExpectQuery(`SELECT .+ FROM provider_configs WHERE is_active = TRUE ORDER BY created_at DESC LIMIT 1`).
			WillReturnError(pgx.ErrNoRows)

		_, err = repo.GetActive(context.Background())
		assert.ErrorIs(t, err, domain.ErrNoActiveProviderConfig)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestPgProviderConfigRepository_List(t *testing.T) {
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mockPool.Close()
	repo := NewPgProviderConfigRepository(mockPool)

	now := time.Now().UTC()
	apiKey := "re_abc"
	host := "mail.example.com"
	port := 587
	rows := mockPool.NewRows([]string{"id", "kind", "api_key", "host", "port", "username", "password", "from_email", "from_name", "is_active", "created_at", "updated_at"}).
		AddRow("cfg-2", domain.ProviderKindResend, &apiKey, (*string)(nil), (*int)(nil), (*string)(nil), (*string)(nil),
			"noreply@campussite.example", "Campus Site", true, now, now).
		AddRow("cfg-1", domain.ProviderKindSMTP, (*string)(nil), &host, &port, (*string)(nil), (*string)(nil),
			"noreply@campussite.example", "Campus Site", false, now.Add(-time.Hour), now.Add(-time.Hour))
	mockPool.ExpectQuery(`SELECT .+ FROM provider_configs ORDER BY created_at DESC`).
		WillReturnRows(rows)

	configs, err := repo.List(context.Background())
	require.NoError(t, err)
	require.Len(t, configs, 2)
	assert.Equal(t, "cfg-2", configs[0].ID)
	assert.True(t, configs[0].IsActive)
	assert.Equal(t, domain.ProviderKindSMTP, configs[1].Kind)
	require.NotNil(t, configs[1].Port)
	assert.Equal(t, 587, *configs[1].Port)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}
