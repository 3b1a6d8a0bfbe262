package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"healthcare-auth/internal/hashing"
	"healthcare-auth/internal/models"
	"healthcare-auth/internal/repository/memory"
	"healthcare-auth/internal/session"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type captureNotifier struct {
	mu   sync.Mutex
	msgs []models.EmailMessage
	err  error
}

func (n *captureNotifier) Dispatch(msg models.EmailMessage) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs = append(n.msgs, msg)
	return n.err
}

func (n *captureNotifier) last() (models.EmailMessage, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.msgs) == 0 {
		return models.EmailMessage{}, false
	}
	return n.msgs[len(n.msgs)-1], true
}

type captureRecorder struct {
	mu     sync.Mutex
	events []models.SecurityEvent
}

func (r *captureRecorder) Record(e models.SecurityEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *captureRecorder) Close(context.Context) error { return nil }

func (r *captureRecorder) has(typ models.SecurityEventType) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e.EventType == typ {
			return true
		}
	}
	return false
}

type harness struct {
	clock    *fakeClock
	accounts *memory.AccountRepository
	tokens   *memory.ResetTokenRepository
	limiter  *memory.AttemptLimiter
	notifier *captureNotifier
	recorder *captureRecorder
	hasher   *hashing.Hasher
	issuer   *session.Issuer
	otp      *OTPService
	auth     *AuthService
	reset    *PasswordResetService
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		clock:    &fakeClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)},
		accounts: memory.NewAccountRepository(),
		tokens:   memory.NewResetTokenRepository(),
		notifier: &captureNotifier{},
		recorder: &captureRecorder{},
		hasher:   hashing.NewHasher(bcrypt.MinCost),
	}
	h.limiter = memory.NewAttemptLimiter(5, 15*time.Minute).WithClock(h.clock.Now)
	h.issuer = session.NewIssuer(testSecret, "healthcare-auth", 24*time.Hour).WithClock(h.clock.Now)

	logger := zap.NewNop()
	h.otp = NewOTPService(h.accounts, h.notifier, h.limiter, 10*time.Minute, logger).WithClock(h.clock.Now)
	h.auth = NewAuthService(h.accounts, h.otp, h.hasher, h.issuer, h.recorder, logger).WithClock(h.clock.Now)
	h.reset = NewPasswordResetService(h.accounts, h.tokens, h.otp, h.hasher, h.notifier, h.recorder,
		ResetConfig{TokenTTL: 24 * time.Hour, URLBase: "https://app.example/reset-password", Retention: 7 * 24 * time.Hour},
		logger,
	).WithClock(h.clock.Now)
	return h
}

// register creates an account through the public API
func (h *harness) register(t *testing.T, email, password string) *models.Account {
	t.Helper()
	acc, err := h.auth.Register(context.Background(), RegisterInput{FullName: "Test Person", Email: email, Password: password})
	if err != nil {
		t.Fatalf("register %s: %v", email, err)
	}
	return acc
}

// storedCode reads the live code for purpose straight from the store
func (h *harness) storedCode(t *testing.T, email string, purpose models.OTPPurpose) string {
	t.Helper()
	acc, err := h.accounts.GetAccountByEmail(context.Background(), email)
	if err != nil {
		t.Fatalf("lookup %s: %v", email, err)
	}
	if slot := acc.OTP(purpose); slot != nil {
		return slot.Code
	}
	return ""
}
