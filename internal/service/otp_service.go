package service

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"go.uber.org/zap"

	"healthcare-auth/internal/models"
	"healthcare-auth/internal/notification"
	"healthcare-auth/internal/repository"
	"healthcare-auth/internal/util"
)

const otpDigits = 6

// Notifier accepts a message for background delivery
type Notifier interface {
	Dispatch(msg models.EmailMessage) error
}

// AttemptLimiter counts confirmation attempts per key. RecordAttempt
// increments atomically and returns the count within the current window.
type AttemptLimiter interface {
	RecordAttempt(ctx context.Context, key string) (int, error)
	Reset(ctx context.Context, key string) error
	MaxAttempts() int
}

// OTPService owns the per-purpose one-time codes stored on each account
type OTPService struct {
	accounts repository.AccountRepository
	notifier Notifier
	limiter  AttemptLimiter
	ttl      time.Duration
	now      func() time.Time
	logger   *zap.Logger
}

// NewOTPService builds the engine; ttl 0 keeps codes valid until replaced.
// limiter may be nil to disable attempt limiting.
func NewOTPService(accounts repository.AccountRepository, notifier Notifier, limiter AttemptLimiter, ttl time.Duration, logger *zap.Logger) *OTPService {
	return &OTPService{
		accounts: accounts,
		notifier: notifier,
		limiter:  limiter,
		ttl:      ttl,
		now:      time.Now,
		logger:   logger,
	}
}

func (s *OTPService) WithClock(now func() time.Time) *OTPService {
	s.now = now
	return s
}

// Generate stores a fresh code in the purpose's slot, replacing the old one
func (s *OTPService) Generate(ctx context.Context, purpose models.OTPPurpose, identity string) (string, error) {
	if !purpose.Valid() {
		return "", fmt.Errorf("%w: unknown OTP purpose %q", ErrInvalidInput, purpose)
	}
	email := util.NormalizeEmail(identity)

	code, err := newNumericCode(otpDigits)
	if err != nil {
		return "", fmt.Errorf("generate otp: %w", err)
	}

	slot := &models.OTPSlot{Code: code, IssuedAt: s.now().UTC()}
	if err := s.accounts.SetOTP(ctx, email, purpose, slot); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", ErrAccountNotFound
		}
		return "", fmt.Errorf("store otp: %w", err)
	}
	return code, nil
}

// Issue generates a code and queues it for email delivery. Delivery
// problems are logged and never fail the call.
func (s *OTPService) Issue(ctx context.Context, purpose models.OTPPurpose, identity, label string) (string, error) {
	code, err := s.Generate(ctx, purpose, identity)
	if err != nil {
		return "", err
	}

	email := util.NormalizeEmail(identity)
	if s.notifier != nil {
		msg := notification.OTPMessage(email, code, label, s.ttl, s.now())
		if err := s.notifier.Dispatch(msg); err != nil {
			s.logger.Warn("OTP delivery not queued",
				zap.String("email", util.MaskEmail(email)),
				zap.String("purpose", string(purpose)),
				zap.Error(err))
		}
	}
	return code, nil
}

// Validate reports whether code matches the live code for purpose. It fails
// closed on a missing account, an empty slot, an expired code or a store error.
func (s *OTPService) Validate(ctx context.Context, purpose models.OTPPurpose, identity, code string) bool {
	acc, err := s.accounts.GetAccountByEmail(ctx, util.NormalizeEmail(identity))
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			s.logger.Error("OTP lookup failed", zap.String("purpose", string(purpose)), zap.Error(err))
		}
		return false
	}
	return s.matches(acc.OTP(purpose), code)
}

// Clear empties the slot; an absent account is not an error
func (s *OTPService) Clear(ctx context.Context, purpose models.OTPPurpose, identity string) error {
	err := s.accounts.SetOTP(ctx, util.NormalizeEmail(identity), purpose, nil)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("clear otp: %w", err)
	}
	return nil
}

// Consume validates and clears in one step so a code is accepted at most once
func (s *OTPService) Consume(ctx context.Context, purpose models.OTPPurpose, identity, code string) bool {
	ok, err := s.accounts.ConsumeOTP(ctx, util.NormalizeEmail(identity), purpose, func(slot *models.OTPSlot) bool {
		return s.matches(slot, code)
	})
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			s.logger.Error("OTP consume failed", zap.String("purpose", string(purpose)), zap.Error(err))
		}
		return false
	}
	return ok
}

// Confirm is Consume behind the attempt limiter. The attempt is counted
// before the code is checked, so concurrent guesses cannot slip past the
// limit. A wrong code keeps the stored one so the user can retry.
func (s *OTPService) Confirm(ctx context.Context, purpose models.OTPPurpose, identity, code string) error {
	key := string(purpose) + ":" + util.NormalizeEmail(identity)

	attempts := 0
	if s.limiter != nil {
		n, err := s.limiter.RecordAttempt(ctx, key)
		if err != nil {
			return fmt.Errorf("count otp attempt: %w", err)
		}
		if n > s.limiter.MaxAttempts() {
			return ErrTooManyAttempts
		}
		attempts = n
	}

	if !s.Consume(ctx, purpose, identity, code) {
		if s.limiter != nil {
			return fmt.Errorf("%w: %d attempts remaining", ErrInvalidOTP, s.limiter.MaxAttempts()-attempts)
		}
		return ErrInvalidOTP
	}

	if s.limiter != nil {
		if err := s.limiter.Reset(ctx, key); err != nil {
			s.logger.Warn("failed to reset OTP attempts", zap.Error(err))
		}
	}
	return nil
}

func (s *OTPService) matches(slot *models.OTPSlot, code string) bool {
	if slot == nil || slot.Code == "" {
		return false
	}
	if s.expired(slot) {
		return false
	}
	supplied := strings.TrimSpace(code)
	stored := strings.TrimSpace(slot.Code)
	return subtle.ConstantTimeCompare([]byte(supplied), []byte(stored)) == 1
}

func (s *OTPService) expired(slot *models.OTPSlot) bool {
	if s.ttl <= 0 {
		return false
	}
	return s.now().After(slot.IssuedAt.Add(s.ttl))
}

// newNumericCode draws each digit independently, so leading zeros survive
func newNumericCode(digits int) (string, error) {
	var b strings.Builder
	b.Grow(digits)
	ten := big.NewInt(10)
	for i := 0; i < digits; i++ {
		n, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + n.Int64()))
	}
	return b.String(), nil
}
