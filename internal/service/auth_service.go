package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"healthcare-auth/internal/audit"
	"healthcare-auth/internal/hashing"
	"healthcare-auth/internal/models"
	"healthcare-auth/internal/repository"
	"healthcare-auth/internal/session"
	"healthcare-auth/internal/util"
)

type RegisterInput struct {
	FullName string  `json:"fullName"`
	Email    string  `json:"email"`
	Password string  `json:"password"`
	Phone    *string `json:"phone,omitempty"`
}

type LoginInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResult carries either a session token or an MFA challenge, never both
type LoginResult struct {
	Token       string    `json:"token,omitempty"`
	ExpiresAt   time.Time `json:"expiresAt,omitzero"`
	MFARequired bool      `json:"mfaRequired"`
	Message     string    `json:"message,omitempty"`
}

// AuthService checks credentials, runs the MFA branch and issues sessions
type AuthService struct {
	accounts repository.AccountRepository
	otp      *OTPService
	hasher   *hashing.Hasher
	sessions *session.Issuer
	events   eventRecorder
	now      func() time.Time
	logger   *zap.Logger
}

func NewAuthService(
	accounts repository.AccountRepository,
	otp *OTPService,
	hasher *hashing.Hasher,
	sessions *session.Issuer,
	recorder audit.Recorder,
	logger *zap.Logger,
) *AuthService {
	s := &AuthService{
		accounts: accounts,
		otp:      otp,
		hasher:   hasher,
		sessions: sessions,
		now:      time.Now,
		logger:   logger,
	}
	s.events = eventRecorder{recorder: recorder, now: func() time.Time { return s.now() }}
	return s
}

func (s *AuthService) WithClock(now func() time.Time) *AuthService {
	s.now = now
	return s
}

// Register creates a PATIENT account
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*models.Account, error) {
	email := util.NormalizeEmail(in.Email)
	fullName := strings.TrimSpace(in.FullName)

	if err := requireField("fullName", fullName); err != nil {
		return nil, err
	}
	if err := validateEmail(email); err != nil {
		return nil, err
	}
	if err := validatePassword(in.Password); err != nil {
		return nil, err
	}
	if util.ContainsSuspicious(fullName) {
		return nil, fmt.Errorf("%w: fullName contains forbidden characters", ErrInvalidInput)
	}

	hash, err := s.hasher.HashPassword(in.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	acc := &models.Account{
		FullName:     fullName,
		Email:        email,
		PasswordHash: hash,
		Roles:        []models.Role{models.RolePatient},
	}
	if in.Phone != nil {
		if p := strings.TrimSpace(*in.Phone); p != "" {
			acc.Phone = &p
		}
	}

	if err := s.accounts.CreateAccount(ctx, acc); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, ErrAccountExists
		}
		return nil, fmt.Errorf("create account: %w", err)
	}

	s.events.record(ctx, models.EventAccountRegistered, acc, "", true, "")
	s.logger.Info("account registered", zap.String("account_id", acc.ID.String()))
	return acc, nil
}

// Login verifies the password. With MFA on it emails a login code and
// returns a challenge; otherwise it returns a session token.
func (s *AuthService) Login(ctx context.Context, in LoginInput) (*LoginResult, error) {
	email := util.NormalizeEmail(in.Email)
	if email == "" || in.Password == "" {
		return nil, ErrInvalidCredentials
	}

	acc, err := s.accounts.GetAccountByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("lookup account: %w", err)
		}
		// equalize timing with the wrong-password path
		s.hasher.BurnCompare(in.Password)
		s.events.record(ctx, models.EventLoginFailure, nil, email, false, "unknown account")
		return nil, ErrInvalidCredentials
	}

	if err := s.hasher.VerifyPassword(acc.PasswordHash, in.Password); err != nil {
		if !errors.Is(err, hashing.ErrMismatch) {
			s.logger.Error("password verification failed", zap.String("account_id", acc.ID.String()), zap.Error(err))
		}
		s.events.record(ctx, models.EventLoginFailure, acc, "", false, "bad password")
		return nil, ErrInvalidCredentials
	}
	s.rehashIfNeeded(ctx, acc, in.Password)

	if acc.MFAEnabled {
		if _, err := s.otp.Issue(ctx, models.OTPPurposeLogin, acc.Email, "2FA"); err != nil {
			return nil, err
		}
		s.events.record(ctx, models.EventMFAChallenge, acc, "", true, "")
		return &LoginResult{MFARequired: true, Message: "2FA code sent to your email."}, nil
	}

	s.events.record(ctx, models.EventLoginSuccess, acc, "", true, "password")
	return s.issue(acc)
}

// ConfirmMFA finishes a login that returned an MFA challenge
func (s *AuthService) ConfirmMFA(ctx context.Context, identity, code string) (*LoginResult, error) {
	return s.confirmLoginCode(ctx, identity, code, "mfa")
}

// RequestLoginOTP emails a passwordless login code
func (s *AuthService) RequestLoginOTP(ctx context.Context, identity string) error {
	if err := requireField("email", identity); err != nil {
		return err
	}
	if _, err := s.otp.Issue(ctx, models.OTPPurposeLogin, identity, "Login"); err != nil {
		return err
	}
	s.events.record(ctx, models.EventMFAChallenge, nil, util.NormalizeEmail(identity), true, "passwordless")
	return nil
}

// ConfirmLoginOTP exchanges a passwordless login code for a session
func (s *AuthService) ConfirmLoginOTP(ctx context.Context, identity, code string) (*LoginResult, error) {
	return s.confirmLoginCode(ctx, identity, code, "passwordless")
}

func (s *AuthService) confirmLoginCode(ctx context.Context, identity, code, via string) (*LoginResult, error) {
	if err := requireField("email", identity); err != nil {
		return nil, err
	}
	if err := requireField("otp", code); err != nil {
		return nil, err
	}
	email := util.NormalizeEmail(identity)

	if err := s.otp.Confirm(ctx, models.OTPPurposeLogin, email, code); err != nil {
		switch {
		case errors.Is(err, ErrTooManyAttempts):
			s.events.record(ctx, models.EventOTPLocked, nil, email, false, via)
		case errors.Is(err, ErrInvalidOTP):
			s.events.record(ctx, models.EventMFAFailure, nil, email, false, via)
		}
		return nil, err
	}

	acc, err := s.accounts.GetAccountByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrInvalidOTP
		}
		return nil, fmt.Errorf("lookup account: %w", err)
	}
	s.events.record(ctx, models.EventMFASuccess, acc, "", true, via)
	return s.issue(acc)
}

func (s *AuthService) EnableMFA(ctx context.Context, accountID uuid.UUID) error {
	return s.setMFA(ctx, accountID, true)
}

func (s *AuthService) DisableMFA(ctx context.Context, accountID uuid.UUID) error {
	return s.setMFA(ctx, accountID, false)
}

func (s *AuthService) setMFA(ctx context.Context, accountID uuid.UUID, enabled bool) error {
	if err := s.accounts.SetMFAEnabled(ctx, accountID, enabled); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrAccountNotFound
		}
		return fmt.Errorf("set mfa: %w", err)
	}
	reason := "disabled"
	if enabled {
		reason = "enabled"
	}
	s.events.record(ctx, models.EventMFASettingChanged, &models.Account{ID: accountID}, "", true, reason)
	return nil
}

// Authenticate verifies a bearer session token
func (s *AuthService) Authenticate(token string) (*session.Claims, error) {
	claims, err := s.sessions.Parse(token)
	if err != nil {
		return nil, ErrUnauthorized
	}
	return claims, nil
}

func (s *AuthService) issue(acc *models.Account) (*LoginResult, error) {
	token, exp, err := s.sessions.Issue(acc)
	if err != nil {
		return nil, err
	}
	return &LoginResult{Token: token, ExpiresAt: exp}, nil
}

// rehashIfNeeded upgrades hashes made with an older bcrypt cost
func (s *AuthService) rehashIfNeeded(ctx context.Context, acc *models.Account, plain string) {
	if !s.hasher.NeedsRehash(acc.PasswordHash) {
		return
	}
	hash, err := s.hasher.HashPassword(plain)
	if err != nil {
		return
	}
	if err := s.accounts.UpdatePasswordHash(ctx, acc.ID, hash); err != nil {
		s.logger.Warn("password rehash failed", zap.String("account_id", acc.ID.String()), zap.Error(err))
	}
}
