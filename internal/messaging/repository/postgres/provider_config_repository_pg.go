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

type pgProviderConfigRepository struct {
	db repository.DB
}

// NewPgProviderConfigRepository creates the PostgreSQL provider config
// repository.
func NewPgProviderConfigRepository(db repository.DB) repository.ProviderConfigRepository {
	return &pgProviderConfigRepository{db: db}
}

const providerConfigColumns = `id, kind, api_key, host, port, username, password, from_email, from_name, is_active, created_at, updated_at`

func (r *pgProviderConfigRepository) Create(ctx context.Context, cfg *domain.ProviderConfig) (*domain.ProviderConfig, error) {
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	cfg.CreatedAt = now
	cfg.UpdatedAt = now

	query := `
		INSERT INTO provider_configs (id, kind, api_key, host, port, username, password, from_email, from_name, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err := r.db.Exec(ctx, query,
		cfg.ID, cfg.Kind, cfg.APIKey, cfg.Host, cfg.Port, cfg.Username, cfg.Password,
		cfg.FromEmail, cfg.FromName, cfg.IsActive, cfg.CreatedAt, cfg.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert provider config: %w", err)
	}
	return cfg, nil
}

func (r *pgProviderConfigRepository) List(ctx context.Context) ([]*domain.ProviderConfig, error) {
	query := `SELECT ` + providerConfigColumns + ` FROM provider_configs ORDER BY created_at DESC`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var configs []*domain.ProviderConfig
	for rows.Next() {
		cfg := &domain.ProviderConfig{}
		if err := scanProviderConfig(rows, cfg); err != nil {
			return nil, err
		}
		configs = append(configs, cfg)
	}
	return configs, rows.Err()
}

// SetActive deactivates every other config in the same transaction, so the
// single-active invariant holds no matter what state the table was in.
func (r *pgProviderConfigRepository) SetActive(ctx context.Context, id string) error {
	return pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `UPDATE provider_configs SET is_active = FALSE, updated_at = $1 WHERE is_active = TRUE AND id <> $2`, time.Now().UTC(), id); err != nil {
			return fmt.Errorf("failed to deactivate provider configs: %w", err)
		}
		tag, err := tx.Exec(ctx, `UPDATE provider_configs SET is_active = TRUE, updated_at = $1 WHERE id = $2`, time.Now().UTC(), id)
		if err != nil {
			return fmt.Errorf("failed to activate provider config: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return domain.ErrProviderConfigNotFound
		}
		return nil
	})
}

// GetActive orders by created_at DESC so a stray second active row (legacy
// data predating SetActive's invariant) resolves to the most recent config
// instead of an arbitrary one.
func (r *pgProviderConfigRepository) GetActive(ctx context.Context) (*domain.ProviderConfig, error) {
	cfg := &domain.ProviderConfig{}
	query := `SELECT ` + providerConfigColumns + ` FROM provider_configs WHERE is_active = TRUE ORDER BY created_at DESC LIMIT 1`
	row := r.db.QueryRow(ctx, query)
	err := row.Scan(
		&cfg.ID, &cfg.Kind, &cfg.APIKey, &cfg.Host, &cfg.Port, &cfg.Username, &cfg.Password,
		&cfg.FromEmail, &cfg.FromName, &cfg.IsActive, &cfg.CreatedAt, &cfg.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNoActiveProviderConfig
		}
		return nil, err
	}
	return cfg, nil
}

func scanProviderConfig(rows pgx.Rows, cfg *domain.ProviderConfig) error {
	return rows.Scan(
		&cfg.ID, &cfg.Kind, &cfg.APIKey, &cfg.Host, &cfg.Port, &cfg.Username, &cfg.Password,
		&cfg.FromEmail, &cfg.FromName, &cfg.IsActive, &cfg.CreatedAt, &cfg.UpdatedAt,
	)
}
