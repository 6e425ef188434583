package user

import (
	"context"
	"errors"
	"fmt"
	"time"

	"timesheet-auth-svc/src/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
)

const userColumns = `id, subject_id, email, display_name, given_name, family_name,
	role, is_active, last_login_at, created_at, updated_at`

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id            TEXT PRIMARY KEY,
	subject_id    TEXT NOT NULL,
	email         TEXT NOT NULL,
	display_name  TEXT NOT NULL DEFAULT '',
	given_name    TEXT NOT NULL DEFAULT '',
	family_name   TEXT NOT NULL DEFAULT '',
	role          TEXT NOT NULL DEFAULT 'employee',
	is_active     BOOLEAN NOT NULL DEFAULT TRUE,
	last_login_at TIMESTAMPTZ,
	created_at    TIMESTAMPTZ NOT NULL,
	updated_at    TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS users_email_idx ON users (email);`

type postgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository stores users in a PostgreSQL "users" table.
func NewPostgresRepository(pool *pgxpool.Pool) Repository {
	return &postgresRepository{pool: pool}
}

// EnsureSchema creates the users table when it does not exist yet.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to create users schema: %w", err)
	}
	return nil
}

func scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(
		&u.ID, &u.SubjectID, &u.Email, &u.DisplayName, &u.GivenName, &u.FamilyName,
		&u.Role, &u.IsActive, &u.LastLoginAt, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *postgresRepository) GetUser(ctx context.Context, id string) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	user, err := scanUser(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrUserNotFound
		}
		logrus.WithError(err).WithField("user_id", id).Error("Failed to get user")
		return nil, fmt.Errorf("%w: %v", models.ErrDatabaseQuery, err)
	}
	return user, nil
}

func (r *postgresRepository) UpsertUser(ctx context.Context, p *Profile, now time.Time) (*User, error) {
	query := `
		INSERT INTO users (id, subject_id, email, display_name, given_name, family_name,
			role, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, TRUE, $8, $8)
		ON CONFLICT (id) DO UPDATE SET
			subject_id   = EXCLUDED.subject_id,
			email        = EXCLUDED.email,
			display_name = EXCLUDED.display_name,
			given_name   = EXCLUDED.given_name,
			family_name  = EXCLUDED.family_name,
			updated_at   = EXCLUDED.updated_at
		RETURNING ` + userColumns

	user, err := scanUser(r.pool.QueryRow(ctx, query,
		p.ID, p.SubjectID, p.Email, p.DisplayName, p.GivenName, p.FamilyName, RoleEmployee, now))
	if err != nil {
		logrus.WithError(err).WithField("user_id", p.ID).Error("Failed to upsert user")
		return nil, fmt.Errorf("%w: %v", models.ErrDatabaseQuery, err)
	}
	return user, nil
}

func (r *postgresRepository) UpdateUserLastLogin(ctx context.Context, id string, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `UPDATE users SET last_login_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrDatabaseQuery, err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrUserNotFound
	}
	return nil
}

func (r *postgresRepository) SetActive(ctx context.Context, id string, active bool, now time.Time) error {
	tag, err := r.pool.Exec(ctx, `UPDATE users SET is_active = $2, updated_at = $3 WHERE id = $1`, id, active, now)
	if err != nil {
		logrus.WithError(err).WithField("user_id", id).Error("Failed to update user status")
		return fmt.Errorf("%w: %v", models.ErrDatabaseQuery, err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrUserNotFound
	}
	return nil
}

func (r *postgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}
