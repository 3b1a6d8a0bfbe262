package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"healthcare-auth/internal/audit"
	"healthcare-auth/internal/hashing"
	"healthcare-auth/internal/models"
	"healthcare-auth/internal/notification"
	"healthcare-auth/internal/repository"
	"healthcare-auth/internal/util"
)

// Outcome is the result of checking a reset token
type Outcome string

const (
	OutcomeValid        Outcome = "valid"
	OutcomeInvalidToken Outcome = "invalid_token"
	OutcomeExpired      Outcome = "expired"
)

type ResetConfig struct {
	TokenTTL  time.Duration
	URLBase   string
	Retention time.Duration
}

// PasswordResetService issues reset tokens and reset OTPs and changes
// passwords once either is proven.
type PasswordResetService struct {
	accounts repository.AccountRepository
	tokens   repository.ResetTokenRepository
	otp      *OTPService
	hasher   *hashing.Hasher
	notifier Notifier
	events   eventRecorder
	cfg      ResetConfig
	now      func() time.Time
	logger   *zap.Logger
}

func NewPasswordResetService(
	accounts repository.AccountRepository,
	tokens repository.ResetTokenRepository,
	otp *OTPService,
	hasher *hashing.Hasher,
	notifier Notifier,
	recorder audit.Recorder,
	cfg ResetConfig,
	logger *zap.Logger,
) *PasswordResetService {
	s := &PasswordResetService{
		accounts: accounts,
		tokens:   tokens,
		otp:      otp,
		hasher:   hasher,
		notifier: notifier,
		cfg:      cfg,
		now:      time.Now,
		logger:   logger,
	}
	s.events = eventRecorder{recorder: recorder, now: s.clock}
	return s
}

func (s *PasswordResetService) WithClock(now func() time.Time) *PasswordResetService {
	s.now = now
	return s
}

func (s *PasswordResetService) clock() time.Time {
	return s.now()
}

// RequestReset creates a token for account and emails the link. Only the
// token's digest is stored; the raw value is returned to the caller.
func (s *PasswordResetService) RequestReset(ctx context.Context, account *models.Account) (string, error) {
	raw := uuid.NewString()
	now := s.now().UTC()

	token := &models.PasswordResetToken{
		Token:     hashing.TokenDigest(raw),
		AccountID: account.ID,
		ExpiresAt: now.Add(s.cfg.TokenTTL),
		CreatedAt: now,
	}
	if err := s.tokens.SaveResetToken(ctx, token); err != nil {
		return "", fmt.Errorf("save reset token: %w", err)
	}

	if s.notifier != nil {
		msg := notification.ResetLinkMessage(account.Email, s.cfg.URLBase, raw, s.cfg.TokenTTL, now)
		if err := s.notifier.Dispatch(msg); err != nil {
			s.logger.Warn("reset link delivery not queued",
				zap.String("email", util.MaskEmail(account.Email)), zap.Error(err))
		}
	}

	s.events.record(ctx, models.EventResetRequested, account, "", true, "link")
	return raw, nil
}

// RequestResetByEmail looks the account up and calls RequestReset
func (s *PasswordResetService) RequestResetByEmail(ctx context.Context, identity string) (string, error) {
	if err := requireField("email", identity); err != nil {
		return "", err
	}
	acc, err := s.accounts.GetAccountByEmail(ctx, util.NormalizeEmail(identity))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", ErrAccountNotFound
		}
		return "", fmt.Errorf("lookup account: %w", err)
	}
	return s.RequestReset(ctx, acc)
}

// ValidateToken classifies a raw token without changing it. A token that
// has already been used reads as invalid.
func (s *PasswordResetService) ValidateToken(ctx context.Context, raw string) (Outcome, error) {
	_, outcome, err := s.lookupToken(ctx, raw)
	return outcome, err
}

func (s *PasswordResetService) lookupToken(ctx context.Context, raw string) (*models.PasswordResetToken, Outcome, error) {
	if raw == "" {
		return nil, OutcomeInvalidToken, nil
	}
	token, err := s.tokens.GetResetToken(ctx, hashing.TokenDigest(raw))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, OutcomeInvalidToken, nil
		}
		return nil, "", fmt.Errorf("lookup reset token: %w", err)
	}
	if token.UsedAt != nil {
		return token, OutcomeInvalidToken, nil
	}
	if token.Expired(s.now()) {
		return token, OutcomeExpired, nil
	}
	return token, OutcomeValid, nil
}

// ChangePassword hashes and stores a new password. Outstanding reset tokens
// are left alone.
func (s *PasswordResetService) ChangePassword(ctx context.Context, account *models.Account, newPlaintext string) error {
	if err := validatePassword(newPlaintext); err != nil {
		return err
	}
	hash, err := s.hasher.HashPassword(newPlaintext)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.accounts.UpdatePasswordHash(ctx, account.ID, hash); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrAccountNotFound
		}
		return fmt.Errorf("update password: %w", err)
	}
	s.events.record(ctx, models.EventPasswordChanged, account, "", true, "")
	return nil
}

// ResetPassword spends a valid token on a password change
func (s *PasswordResetService) ResetPassword(ctx context.Context, raw, newPassword string) error {
	token, outcome, err := s.lookupToken(ctx, raw)
	if err != nil {
		return err
	}
	switch outcome {
	case OutcomeInvalidToken:
		s.events.record(ctx, models.EventResetTokenRejected, nil, "", false, "invalid")
		return ErrInvalidToken
	case OutcomeExpired:
		s.events.record(ctx, models.EventResetTokenRejected, nil, "", false, "expired")
		return ErrExpiredToken
	}
	if err := validatePassword(newPassword); err != nil {
		return err
	}

	acc, err := s.accounts.GetAccountByID(ctx, token.AccountID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrAccountNotFound
		}
		return fmt.Errorf("lookup account: %w", err)
	}

	used, err := s.tokens.MarkResetTokenUsed(ctx, token.ID, s.now().UTC())
	if err != nil {
		return fmt.Errorf("mark reset token used: %w", err)
	}
	if !used {
		return ErrInvalidToken
	}
	if err := s.ChangePassword(ctx, acc, newPassword); err != nil {
		if rerr := s.tokens.ReleaseResetToken(ctx, token.ID); rerr != nil {
			s.logger.Error("reset token not released after failed password change",
				zap.String("token_id", token.ID.String()), zap.Error(rerr))
		}
		return err
	}
	return nil
}

// RequestResetOTP emails a code from the account's reset slot
func (s *PasswordResetService) RequestResetOTP(ctx context.Context, identity string) error {
	if err := requireField("email", identity); err != nil {
		return err
	}
	if _, err := s.otp.Issue(ctx, models.OTPPurposePasswordReset, identity, "Password Reset"); err != nil {
		return err
	}
	s.events.record(ctx, models.EventResetRequested, nil, util.NormalizeEmail(identity), true, "otp")
	return nil
}

// ConfirmResetOTP consumes the reset code and, when newPassword is set,
// changes the password. It reports whether the password was changed.
func (s *PasswordResetService) ConfirmResetOTP(ctx context.Context, identity, code, newPassword string) (bool, error) {
	if err := requireField("email", identity); err != nil {
		return false, err
	}
	if err := requireField("otp", code); err != nil {
		return false, err
	}
	if newPassword != "" {
		if err := validatePassword(newPassword); err != nil {
			return false, err
		}
	}

	email := util.NormalizeEmail(identity)
	if err := s.otp.Confirm(ctx, models.OTPPurposePasswordReset, email, code); err != nil {
		s.events.record(ctx, models.EventResetTokenRejected, nil, email, false, err.Error())
		return false, err
	}
	if newPassword == "" {
		return false, nil
	}

	acc, err := s.accounts.GetAccountByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return false, ErrAccountNotFound
		}
		return false, fmt.Errorf("lookup account: %w", err)
	}
	if err := s.ChangePassword(ctx, acc, newPassword); err != nil {
		return false, err
	}
	return true, nil
}

// PurgeExpiredTokens removes tokens that expired more than the retention
// window ago
func (s *PasswordResetService) PurgeExpiredTokens(ctx context.Context) (int64, error) {
	cutoff := s.now().UTC().Add(-s.cfg.Retention)
	n, err := s.tokens.DeleteExpiredResetTokens(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge reset tokens: %w", err)
	}
	if n > 0 {
		s.logger.Info("purged expired reset tokens", zap.Int64("count", n))
	}
	return n, nil
}
