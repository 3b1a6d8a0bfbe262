package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"healthcare-auth/internal/models"
	"healthcare-auth/internal/repository"
)

type ResetTokenRepository struct {
	db *pgxpool.Pool
}

func NewResetTokenRepository(db *pgxpool.Pool) *ResetTokenRepository {
	return &ResetTokenRepository{db: db}
}

func (r *ResetTokenRepository) SaveResetToken(ctx context.Context, t *models.PasswordResetToken) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.Exec(ctx,
		`INSERT INTO password_reset_tokens (id, token, account_id, expires_at, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		t.ID, t.Token, t.AccountID, t.ExpiresAt, t.CreatedAt,
	)
	return mapError(err)
}

func (r *ResetTokenRepository) GetResetToken(ctx context.Context, digest string) (*models.PasswordResetToken, error) {
	var t models.PasswordResetToken
	err := r.db.QueryRow(ctx,
		`SELECT id, token, account_id, expires_at, used_at, created_at
		 FROM password_reset_tokens WHERE token = $1`,
		digest,
	).Scan(&t.ID, &t.Token, &t.AccountID, &t.ExpiresAt, &t.UsedAt, &t.CreatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	return &t, nil
}

// MarkResetTokenUsed is a conditional update, so only one caller can win
func (r *ResetTokenRepository) MarkResetTokenUsed(ctx context.Context, id uuid.UUID, usedAt time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE password_reset_tokens SET used_at = $2 WHERE id = $1 AND used_at IS NULL`,
		id, usedAt,
	)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}

	var exists bool
	if err := r.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM password_reset_tokens WHERE id = $1)`, id,
	).Scan(&exists); err != nil {
		return false, err
	}
	if !exists {
		return false, repository.ErrNotFound
	}
	return false, nil
}

func (r *ResetTokenRepository) ReleaseResetToken(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `UPDATE password_reset_tokens SET used_at = NULL WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *ResetTokenRepository) DeleteExpiredResetTokens(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM password_reset_tokens WHERE expires_at < $1`, before)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
