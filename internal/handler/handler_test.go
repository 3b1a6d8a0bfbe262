package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"regexp"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"healthcare-auth/internal/audit"
	"healthcare-auth/internal/config"
	"healthcare-auth/internal/hashing"
	"healthcare-auth/internal/models"
	"healthcare-auth/internal/repository/memory"
	"healthcare-auth/internal/service"
	"healthcare-auth/internal/session"
)

type inbox struct {
	mu   sync.Mutex
	msgs []models.EmailMessage
}

func (i *inbox) Dispatch(msg models.EmailMessage) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.msgs = append(i.msgs, msg)
	return nil
}

func (i *inbox) last(t *testing.T) models.EmailMessage {
	t.Helper()
	i.mu.Lock()
	defer i.mu.Unlock()
	if len(i.msgs) == 0 {
		t.Fatalf("no email sent")
	}
	return i.msgs[len(i.msgs)-1]
}

type testServer struct {
	router   http.Handler
	accounts *memory.AccountRepository
	mail     *inbox
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ts := &testServer{accounts: memory.NewAccountRepository(), mail: &inbox{}}

	factory := service.NewServiceFactory(
		ts.accounts,
		memory.NewResetTokenRepository(),
		hashing.NewHasher(bcrypt.MinCost),
		session.NewIssuer("0123456789abcdef0123456789abcdef", "healthcare-auth", time.Hour),
		ts.mail,
		memory.NewAttemptLimiter(5, 15*time.Minute),
		audit.NewLogRecorder(zap.NewNop()),
		config.AuthConfig{
			OTPTTL:        10 * time.Minute,
			ResetTokenTTL: 24 * time.Hour,
			ResetURLBase:  "https://app.example/reset-password",
		},
		zap.NewNop(),
	)
	h := NewAuthHandler(factory.AuthService(), factory.PasswordResetService(), zap.NewNop())
	ts.router = NewRouter(h, func(context.Context) error { return nil }, config.ServerConfig{AllowedOrigins: []string{"*"}}, zap.NewNop())
	return ts
}

func (ts *testServer) do(t *testing.T, method, path string, body any, token string) (*httptest.ResponseRecorder, Response) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)

	var resp Response
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode %s %s: %v (%s)", method, path, err, rec.Body.String())
		}
	}
	return rec, resp
}

func (ts *testServer) register(t *testing.T, email, password string) {
	t.Helper()
	rec, _ := ts.do(t, http.MethodPost, "/api/auth/register", map[string]string{
		"fullName": "Amina Uwase", "email": email, "password": password,
	}, "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("register: status %d body %s", rec.Code, rec.Body.String())
	}
}

func (ts *testServer) code(t *testing.T, email string, purpose models.OTPPurpose) string {
	t.Helper()
	acc, err := ts.accounts.GetAccountByEmail(context.Background(), email)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	slot := acc.OTP(purpose)
	if slot == nil {
		t.Fatalf("no %s code stored", purpose)
	}
	return slot.Code
}

func loginToken(t *testing.T, resp Response) string {
	t.Helper()
	data, ok := resp.Data.(map[string]any)
	if !ok {
		t.Fatalf("unexpected data %#v", resp.Data)
	}
	token, _ := data["token"].(string)
	if token == "" {
		t.Fatalf("no token in %#v", data)
	}
	return token
}

func TestRegisterAndLogin(t *testing.T) {
	ts := newTestServer(t)
	ts.register(t, "amina@example.com", "correct-horse")

	rec, _ := ts.do(t, http.MethodPost, "/api/auth/register", map[string]string{
		"fullName": "Other", "email": "AMINA@example.com", "password": "correct-horse",
	}, "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("duplicate register: expected 409, got %d", rec.Code)
	}

	rec, resp := ts.do(t, http.MethodPost, "/api/auth/login", map[string]string{
		"email": "amina@example.com", "password": "wrong-password",
	}, "")
	if rec.Code != http.StatusUnauthorized || resp.Success {
		t.Fatalf("bad password: expected 401, got %d", rec.Code)
	}

	rec, resp = ts.do(t, http.MethodPost, "/api/auth/login", map[string]string{
		"email": "amina@example.com", "password": "correct-horse",
	}, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("login: status %d body %s", rec.Code, rec.Body.String())
	}
	token := loginToken(t, resp)

	rec, resp = ts.do(t, http.MethodGet, "/api/auth/me", nil, token)
	if rec.Code != http.StatusOK {
		t.Fatalf("me: status %d", rec.Code)
	}
	me := resp.Data.(map[string]any)
	if me["email"] != "amina@example.com" {
		t.Fatalf("unexpected claims %#v", me)
	}
	roles := me["roles"].([]any)
	if len(roles) != 1 || roles[0] != "PATIENT" {
		t.Fatalf("expected PATIENT role, got %v", roles)
	}

	if rec, _ := ts.do(t, http.MethodGet, "/api/auth/me", nil, token+"x"); rec.Code != http.StatusUnauthorized {
		t.Fatalf("tampered token: expected 401, got %d", rec.Code)
	}
	if rec, _ := ts.do(t, http.MethodGet, "/api/auth/me", nil, ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing token: expected 401, got %d", rec.Code)
	}
}

func TestMFALoginFlow(t *testing.T) {
	ts := newTestServer(t)
	ts.register(t, "doc@example.com", "correct-horse")

	_, resp := ts.do(t, http.MethodPost, "/api/auth/login", map[string]string{
		"email": "doc@example.com", "password": "correct-horse",
	}, "")
	token := loginToken(t, resp)

	if rec, _ := ts.do(t, http.MethodPost, "/api/auth/enable-mfa", nil, token); rec.Code != http.StatusOK {
		t.Fatalf("enable-mfa: status %d", rec.Code)
	}

	rec, resp := ts.do(t, http.MethodPost, "/api/auth/login", map[string]string{
		"email": "doc@example.com", "password": "correct-horse",
	}, "")
	if rec.Code != http.StatusOK || resp.Message != "2FA code sent to your email." {
		t.Fatalf("expected MFA challenge, got %d %q", rec.Code, resp.Message)
	}
	if data := resp.Data.(map[string]any); data["token"] != nil || data["expiresAt"] != nil {
		t.Fatalf("challenge must not carry a token or expiry: %#v", data)
	}
	if subject := ts.mail.last(t).Subject; subject != "Your 2FA OTP Code" {
		t.Fatalf("unexpected subject %q", subject)
	}

	code := ts.code(t, "doc@example.com", models.OTPPurposeLogin)
	rec, _ = ts.do(t, http.MethodPost, "/api/auth/verify-2fa", map[string]string{"email": "doc@example.com", "otp": "not-it"}, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("wrong code: expected 400, got %d", rec.Code)
	}

	rec, resp = ts.do(t, http.MethodPost, "/api/auth/verify-2fa", map[string]string{"email": "doc@example.com", "otp": code}, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("verify-2fa: status %d body %s", rec.Code, rec.Body.String())
	}
	loginToken(t, resp)

	rec, _ = ts.do(t, http.MethodPost, "/api/auth/verify-otp", map[string]string{"email": "doc@example.com", "otp": code}, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("replayed code: expected 400, got %d", rec.Code)
	}
}

func TestLoginOTPLockout(t *testing.T) {
	ts := newTestServer(t)
	ts.register(t, "pat@example.com", "correct-horse")

	rec, resp := ts.do(t, http.MethodPost, "/api/auth/login-otp/request", map[string]string{"email": "pat@example.com"}, "")
	if rec.Code != http.StatusOK || resp.Message != "OTP sent to your email." {
		t.Fatalf("request: %d %q", rec.Code, resp.Message)
	}

	for i := 0; i < 5; i++ {
		ts.do(t, http.MethodPost, "/api/auth/login-otp/confirm", map[string]string{"email": "pat@example.com", "otp": "999999x"}, "")
	}
	code := ts.code(t, "pat@example.com", models.OTPPurposeLogin)
	rec, _ = ts.do(t, http.MethodPost, "/api/auth/login-otp/confirm", map[string]string{"email": "pat@example.com", "otp": code}, "")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after repeated failures, got %d", rec.Code)
	}

	rec, _ = ts.do(t, http.MethodPost, "/api/auth/login-otp/request", map[string]string{"email": "nobody@example.com"}, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown email: expected 404, got %d", rec.Code)
	}
}

var tokenPattern = regexp.MustCompile(`token=([^\s]+)`)

func TestPasswordResetLinkFlow(t *testing.T) {
	ts := newTestServer(t)
	ts.register(t, "nurse@example.com", "correct-horse")

	rec, resp := ts.do(t, http.MethodPost, "/api/auth/forgot-password", map[string]string{"email": "nurse@example.com"}, "")
	if rec.Code != http.StatusOK || resp.Message != "Password reset link sent to your email." {
		t.Fatalf("forgot-password: %d %q", rec.Code, resp.Message)
	}
	m := tokenPattern.FindStringSubmatch(ts.mail.last(t).Body)
	if m == nil {
		t.Fatalf("no reset link in email")
	}
	raw, err := url.QueryUnescape(m[1])
	if err != nil {
		t.Fatalf("unescape: %v", err)
	}

	_, resp = ts.do(t, http.MethodGet, "/api/auth/reset-password/validate?token="+url.QueryEscape(raw), nil, "")
	if outcome := resp.Data.(map[string]any)["outcome"]; outcome != "valid" {
		t.Fatalf("expected valid, got %v", outcome)
	}

	rec, _ = ts.do(t, http.MethodPost, "/api/auth/reset-password", map[string]string{"token": raw, "newPassword": "short"}, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("weak password: expected 400, got %d", rec.Code)
	}

	rec, resp = ts.do(t, http.MethodPost, "/api/auth/reset-password", map[string]string{"token": raw, "newPassword": "battery-staple"}, "")
	if rec.Code != http.StatusOK || resp.Message != "Password reset successfully." {
		t.Fatalf("reset: %d %s", rec.Code, rec.Body.String())
	}

	rec, _ = ts.do(t, http.MethodPost, "/api/auth/reset-password", map[string]string{"token": raw, "newPassword": "another-one"}, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("reused token: expected 400, got %d", rec.Code)
	}

	rec, _ = ts.do(t, http.MethodPost, "/api/auth/login", map[string]string{"email": "nurse@example.com", "password": "battery-staple"}, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("login with new password: %d", rec.Code)
	}
}

func TestPasswordResetOTPFlow(t *testing.T) {
	ts := newTestServer(t)
	ts.register(t, "admin@example.com", "correct-horse")

	rec, resp := ts.do(t, http.MethodPost, "/api/auth/password-reset/request", map[string]string{"email": "admin@example.com"}, "")
	if rec.Code != http.StatusOK || resp.Message != "Password reset OTP sent to your email." {
		t.Fatalf("request: %d %q", rec.Code, resp.Message)
	}
	code := ts.code(t, "admin@example.com", models.OTPPurposePasswordReset)

	rec, resp = ts.do(t, http.MethodPost, "/api/auth/password-reset/confirm", map[string]string{
		"email": "admin@example.com", "otp": code, "newPassword": "battery-staple",
	}, "")
	if rec.Code != http.StatusOK || resp.Message != "Password reset successfully." {
		t.Fatalf("confirm: %d %s", rec.Code, rec.Body.String())
	}

	rec, _ = ts.do(t, http.MethodPost, "/api/auth/login", map[string]string{"email": "admin@example.com", "password": "battery-staple"}, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("login with new password: %d", rec.Code)
	}
}

func TestMalformedBodyAndUnknownRoute(t *testing.T) {
	ts := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", bytes.NewBufferString("{"))
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("malformed body: expected 400, got %d", rec.Code)
	}

	if rec, _ := ts.do(t, http.MethodGet, "/api/auth/nowhere", nil, ""); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown route: expected 404, got %d", rec.Code)
	}
	if rec, _ := ts.do(t, http.MethodGet, "/health", nil, ""); rec.Code != http.StatusOK {
		t.Fatalf("health: %d", rec.Code)
	}
}

func TestRequireHTTPS(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })
	h := requireHTTPS(next)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusUpgradeRequired {
		t.Fatalf("plain http: expected 426, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Forwarded-Proto", "https")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("forwarded https: expected 204, got %d", rec.Code)
	}
}

func TestGetStatusCode_MasksUnknownErrors(t *testing.T) {
	rec := httptest.NewRecorder()
	respondWithError(rec, zap.NewNop(), getStatusCode(context.DeadlineExceeded), context.DeadlineExceeded, "boom")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	var resp Response
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Error != "internal server error" {
		t.Fatalf("expected masked error, got %q", resp.Error)
	}
}
