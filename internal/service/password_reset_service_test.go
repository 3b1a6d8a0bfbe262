package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"healthcare-auth/internal/hashing"
	"healthcare-auth/internal/models"
	"healthcare-auth/internal/repository/memory"
)

func TestValidateToken_ExpiryScenario(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	acc := h.register(t, "a@b.com", "password1")

	token, err := h.reset.RequestReset(ctx, acc)
	if err != nil {
		t.Fatalf("request reset: %v", err)
	}
	start := h.clock.Now()

	h.clock.Advance(23*time.Hour + 59*time.Minute)
	if got, _ := h.reset.ValidateToken(ctx, token); got != OutcomeValid {
		t.Fatalf("at T+23h59m expected valid, got %s", got)
	}
	// validation does not consume the token
	if got, _ := h.reset.ValidateToken(ctx, token); got != OutcomeValid {
		t.Fatalf("second validation expected valid, got %s", got)
	}

	h.clock.t = start.Add(24*time.Hour + time.Minute)
	if got, _ := h.reset.ValidateToken(ctx, token); got != OutcomeExpired {
		t.Fatalf("at T+24h01m expected expired, got %s", got)
	}

	if got, _ := h.reset.ValidateToken(ctx, "no-such-token"); got != OutcomeInvalidToken {
		t.Fatalf("unknown token expected invalid, got %s", got)
	}
}

func TestRequestReset_StoresDigestAndEmailsLink(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	acc := h.register(t, "a@b.com", "password1")

	token, _ := h.reset.RequestReset(ctx, acc)

	if _, err := h.tokens.GetResetToken(ctx, token); err == nil {
		t.Fatalf("raw token must not be stored")
	}
	stored, err := h.tokens.GetResetToken(ctx, hashing.TokenDigest(token))
	if err != nil {
		t.Fatalf("digest lookup: %v", err)
	}
	if stored.AccountID != acc.ID || !stored.ExpiresAt.Equal(h.clock.Now().Add(24*time.Hour)) {
		t.Fatalf("unexpected stored token %+v", stored)
	}

	msg, ok := h.notifier.last()
	if !ok || !strings.Contains(msg.Body, "reset-password?token="+token) {
		t.Fatalf("reset link missing from %+v", msg)
	}
	if !h.recorder.has(models.EventResetRequested) {
		t.Fatalf("expected reset request event")
	}
}

func TestRequestResetByEmail_UnknownAccount(t *testing.T) {
	h := newHarness(t)
	if _, err := h.reset.RequestResetByEmail(context.Background(), "nobody@b.com"); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestResetPassword_SingleUse(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.register(t, "a@b.com", "password1")

	token, _ := h.reset.RequestResetByEmail(ctx, " A@b.com ")
	if err := h.reset.ResetPassword(ctx, token, "new-password"); err != nil {
		t.Fatalf("reset: %v", err)
	}

	if _, err := h.auth.Login(ctx, LoginInput{Email: "a@b.com", Password: "new-password"}); err != nil {
		t.Fatalf("login with new password: %v", err)
	}
	if _, err := h.auth.Login(ctx, LoginInput{Email: "a@b.com", Password: "password1"}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("old password must stop working, got %v", err)
	}

	if got, _ := h.reset.ValidateToken(ctx, token); got != OutcomeInvalidToken {
		t.Fatalf("used token must read as invalid, got %s", got)
	}
	if err := h.reset.ResetPassword(ctx, token, "another-password"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("replay must fail, got %v", err)
	}
}

func TestResetPassword_Rejections(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	acc := h.register(t, "a@b.com", "password1")

	if err := h.reset.ResetPassword(ctx, "bogus", "new-password"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}

	token, _ := h.reset.RequestReset(ctx, acc)
	if err := h.reset.ResetPassword(ctx, token, "short"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if got, _ := h.reset.ValidateToken(ctx, token); got != OutcomeValid {
		t.Fatalf("rejected password must not burn the token, got %s", got)
	}

	h.clock.Advance(25 * time.Hour)
	if err := h.reset.ResetPassword(ctx, token, "new-password"); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("expected ErrExpiredToken, got %v", err)
	}
	if !h.recorder.has(models.EventResetTokenRejected) {
		t.Fatalf("expected rejection event")
	}
}

type failingPasswordStore struct {
	*memory.AccountRepository
}

func (failingPasswordStore) UpdatePasswordHash(context.Context, uuid.UUID, string) error {
	return errors.New("connection reset")
}

func TestResetPassword_FailedUpdateKeepsToken(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	acc := h.register(t, "a@b.com", "password1")

	reset := NewPasswordResetService(failingPasswordStore{h.accounts}, h.tokens, h.otp, h.hasher, h.notifier, h.recorder,
		ResetConfig{TokenTTL: 24 * time.Hour, URLBase: "https://app.example/reset-password"},
		zap.NewNop(),
	).WithClock(h.clock.Now)

	token, err := reset.RequestReset(ctx, acc)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if err := reset.ResetPassword(ctx, token, "new-password"); err == nil {
		t.Fatalf("expected store failure to surface")
	}
	if got, _ := reset.ValidateToken(ctx, token); got != OutcomeValid {
		t.Fatalf("token must survive a failed password update, got %s", got)
	}

	if err := h.reset.ResetPassword(ctx, token, "new-password"); err != nil {
		t.Fatalf("retry with a healthy store: %v", err)
	}
	if _, err := h.auth.Login(ctx, LoginInput{Email: "a@b.com", Password: "new-password"}); err != nil {
		t.Fatalf("login with new password: %v", err)
	}
}

func TestChangePassword_LeavesOtherTokens(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	acc := h.register(t, "a@b.com", "password1")

	first, _ := h.reset.RequestReset(ctx, acc)
	second, _ := h.reset.RequestReset(ctx, acc)

	if err := h.reset.ResetPassword(ctx, first, "new-password"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if got, _ := h.reset.ValidateToken(ctx, second); got != OutcomeValid {
		t.Fatalf("other outstanding tokens stay valid, got %s", got)
	}
}

func TestResetOTP_Flow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.register(t, "a@b.com", "password1")

	if err := h.reset.RequestResetOTP(ctx, "a@b.com"); err != nil {
		t.Fatalf("request otp: %v", err)
	}
	code := h.storedCode(t, "a@b.com", models.OTPPurposePasswordReset)
	if code == "" {
		t.Fatalf("expected a reset code in the reset slot")
	}
	if h.storedCode(t, "a@b.com", models.OTPPurposeLogin) != "" {
		t.Fatalf("login slot must stay empty")
	}
	if msg, _ := h.notifier.last(); msg.Subject != "Your Password Reset OTP Code" {
		t.Fatalf("unexpected subject %q", msg.Subject)
	}

	if _, err := h.reset.ConfirmResetOTP(ctx, "a@b.com", "999999x", "new-password"); !errors.Is(err, ErrInvalidOTP) {
		t.Fatalf("expected ErrInvalidOTP, got %v", err)
	}

	changed, err := h.reset.ConfirmResetOTP(ctx, "a@b.com", " "+code+" ", "new-password")
	if err != nil || !changed {
		t.Fatalf("confirm: changed=%v err=%v", changed, err)
	}
	if _, err := h.auth.Login(ctx, LoginInput{Email: "a@b.com", Password: "new-password"}); err != nil {
		t.Fatalf("login with new password: %v", err)
	}
	if _, err := h.reset.ConfirmResetOTP(ctx, "a@b.com", code, "other-password"); !errors.Is(err, ErrInvalidOTP) {
		t.Fatalf("reset code must be single use, got %v", err)
	}
}

func TestResetOTP_VerifyOnly(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.register(t, "a@b.com", "password1")

	_ = h.reset.RequestResetOTP(ctx, "a@b.com")
	code := h.storedCode(t, "a@b.com", models.OTPPurposePasswordReset)

	changed, err := h.reset.ConfirmResetOTP(ctx, "a@b.com", code, "")
	if err != nil || changed {
		t.Fatalf("verify-only: changed=%v err=%v", changed, err)
	}
	if _, err := h.auth.Login(ctx, LoginInput{Email: "a@b.com", Password: "password1"}); err != nil {
		t.Fatalf("password must be unchanged: %v", err)
	}
}

func TestPurgeExpiredTokens(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	acc := h.register(t, "a@b.com", "password1")

	old, _ := h.reset.RequestReset(ctx, acc)
	h.clock.Advance(9 * 24 * time.Hour)
	fresh, _ := h.reset.RequestReset(ctx, acc)

	n, err := h.reset.PurgeExpiredTokens(ctx)
	if err != nil || n != 1 {
		t.Fatalf("purge: n=%d err=%v", n, err)
	}
	if got, _ := h.reset.ValidateToken(ctx, old); got != OutcomeInvalidToken {
		t.Fatalf("purged token must read as invalid, got %s", got)
	}
	if got, _ := h.reset.ValidateToken(ctx, fresh); got != OutcomeValid {
		t.Fatalf("fresh token must survive, got %s", got)
	}
}
