package models

import (
	"time"

	"github.com/google/uuid"
)

// PasswordResetToken is an emailed, time-limited reset credential.
// Several may be outstanding per account; none are revoked on reissue.
type PasswordResetToken struct {
	ID        uuid.UUID  `db:"id"`
	Token     string     `db:"token"`
	AccountID uuid.UUID  `db:"account_id"`
	ExpiresAt time.Time  `db:"expires_at"`
	UsedAt    *time.Time `db:"used_at"`
	CreatedAt time.Time  `db:"created_at"`
}

// Expired is strict: a token is still valid at exactly ExpiresAt
func (t *PasswordResetToken) Expired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}
