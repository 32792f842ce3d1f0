// Package postgres reads school and user records from the tables owned by
// the surrounding CMS. Only the columns the resolver needs are selected.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/campussite/messaging/internal/messaging/repository"
	"github.com/campussite/messaging/internal/messaging/resolver"
)

var (
	ErrSchoolNotFound = errors.New("school not found")
	ErrUserNotFound   = errors.New("user not found")
)

type pgDirectory struct {
	db repository.Querier
}

// NewPgDirectory creates a resolver.Directory backed by the CMS tables.
func NewPgDirectory(db repository.Querier) resolver.Directory {
	return &pgDirectory{db: db}
}

func (d *pgDirectory) GetSchool(ctx context.Context, schoolRef string) (*resolver.School, error) {
	school := &resolver.School{}
	query := `SELECT id, name, admin_user_id FROM schools WHERE id = $1`
	err := d.db.QueryRow(ctx, query, schoolRef).Scan(&school.ID, &school.Name, &school.AdminUserID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSchoolNotFound
		}
		return nil, fmt.Errorf("school lookup failed: %w", err)
	}
	return school, nil
}

func (d *pgDirectory) GetUser(ctx context.Context, userRef string) (*resolver.User, error) {
	user := &resolver.User{}
	query := `SELECT id, email, COALESCE(display_name, '') FROM users WHERE id = $1`
	err := d.db.QueryRow(ctx, query, userRef).Scan(&user.ID, &user.Email, &user.DisplayName)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("user lookup failed: %w", err)
	}
	return user, nil
}
