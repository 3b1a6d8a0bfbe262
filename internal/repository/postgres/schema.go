// Package postgres stores accounts and reset tokens in PostgreSQL via pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"healthcare-auth/internal/repository"
)

const schema = `
CREATE TABLE IF NOT EXISTS accounts (
	id                   UUID PRIMARY KEY,
	full_name            TEXT NOT NULL,
	email                TEXT NOT NULL UNIQUE,
	phone                TEXT,
	password_hash        TEXT NOT NULL,
	roles                TEXT[] NOT NULL DEFAULT '{}',
	mfa_enabled          BOOLEAN NOT NULL DEFAULT FALSE,
	login_otp            TEXT,
	login_otp_issued_at  TIMESTAMPTZ,
	reset_otp            TEXT,
	reset_otp_issued_at  TIMESTAMPTZ,
	created_at           TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at           TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS password_reset_tokens (
	id          UUID PRIMARY KEY,
	token       TEXT NOT NULL UNIQUE,
	account_id  UUID NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
	expires_at  TIMESTAMPTZ NOT NULL,
	used_at     TIMESTAMPTZ,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS password_reset_tokens_expires_at_idx
	ON password_reset_tokens (expires_at);
`

// EnsureSchema creates the tables when they do not exist yet
func EnsureSchema(ctx context.Context, db *pgxpool.Pool) error {
	if _, err := db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func mapError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, pgx.ErrNoRows):
		return repository.ErrNotFound
	case isUniqueViolation(err):
		return fmt.Errorf("%w: %v", repository.ErrDuplicate, err)
	}
	return err
}
