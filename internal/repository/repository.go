package repository

import (
	"context"
	"errors"
	"time"

	"healthcare-auth/internal/models"

	"github.com/google/uuid"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("record already exists")
)

// OTPCheck decides, under the row lock, whether the stored slot matches.
// It receives nil when the slot is empty.
type OTPCheck func(slot *models.OTPSlot) bool

// AccountRepository is the credential store: password hashes, MFA flag and
// the per-purpose OTP slots. Emails passed in are already normalized.
type AccountRepository interface {
	CreateAccount(ctx context.Context, account *models.Account) error
	GetAccountByEmail(ctx context.Context, email string) (*models.Account, error)
	GetAccountByID(ctx context.Context, id uuid.UUID) (*models.Account, error)

	// SetOTP overwrites one slot atomically; a nil slot clears it
	SetOTP(ctx context.Context, email string, purpose models.OTPPurpose, slot *models.OTPSlot) error
	// ConsumeOTP runs check with the row locked and clears the slot when it
	// returns true
	ConsumeOTP(ctx context.Context, email string, purpose models.OTPPurpose, check OTPCheck) (bool, error)

	UpdatePasswordHash(ctx context.Context, id uuid.UUID, hash string) error
	SetMFAEnabled(ctx context.Context, id uuid.UUID, enabled bool) error

	HealthCheck(ctx context.Context) error
}

// ResetTokenRepository is the token store. Tokens are keyed by digest.
type ResetTokenRepository interface {
	SaveResetToken(ctx context.Context, token *models.PasswordResetToken) error
	GetResetToken(ctx context.Context, digest string) (*models.PasswordResetToken, error)
	// MarkResetTokenUsed returns false when the token was already used
	MarkResetTokenUsed(ctx context.Context, id uuid.UUID, usedAt time.Time) (bool, error)
	// ReleaseResetToken clears a mark whose password change did not land
	ReleaseResetToken(ctx context.Context, id uuid.UUID) error
	DeleteExpiredResetTokens(ctx context.Context, before time.Time) (int64, error)
}
