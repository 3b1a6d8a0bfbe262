package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"healthcare-auth/internal/service"
)

// AuthHandler serves the /api/auth routes
type AuthHandler struct {
	auth   *service.AuthService
	reset  *service.PasswordResetService
	logger *zap.Logger
}

func NewAuthHandler(auth *service.AuthService, reset *service.PasswordResetService, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{auth: auth, reset: reset, logger: logger}
}

type emailRequest struct {
	Email string `json:"email"`
}

type otpRequest struct {
	Email string `json:"email"`
	OTP   string `json:"otp"`
}

type resetPasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"newPassword"`
}

type resetOTPConfirmRequest struct {
	Email       string `json:"email"`
	OTP         string `json:"otp"`
	NewPassword string `json:"newPassword"`
}

type meResponse struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Roles     []string  `json:"roles"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// RegisterRoutes registers all auth routes
func (h *AuthHandler) RegisterRoutes(r chi.Router) {
	r.Post("/register", h.Register)
	r.Post("/login", h.Login)
	r.Post("/verify-otp", h.VerifyOTP)
	r.Post("/verify-2fa", h.VerifyOTP)

	r.Post("/login-otp/request", h.RequestLoginOTP)
	r.Post("/login-otp/confirm", h.ConfirmLoginOTP)

	r.Post("/forgot-password", h.ForgotPassword)
	r.Post("/reset-password", h.ResetPassword)
	r.Get("/reset-password/validate", h.ValidateResetToken)
	r.Post("/password-reset/request", h.RequestResetOTP)
	r.Post("/password-reset/confirm", h.ConfirmResetOTP)

	r.Group(func(r chi.Router) {
		r.Use(h.requireBearer)
		r.Get("/me", h.Me)
		r.Post("/enable-mfa", h.EnableMFA)
		r.Post("/disable-mfa", h.DisableMFA)
	})
}

func (h *AuthHandler) fail(w http.ResponseWriter, err error, message string) {
	respondWithError(w, h.logger, getStatusCode(err), err, message)
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req service.RegisterInput
	if err := decodeJSON(w, r, &req); err != nil {
		h.fail(w, err, "Invalid request body")
		return
	}

	acc, err := h.auth.Register(r.Context(), req)
	if err != nil {
		h.fail(w, err, "Registration failed")
		return
	}
	respondWithJSON(w, h.logger, http.StatusCreated, successResponse(acc, "Account created"))
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req service.LoginInput
	if err := decodeJSON(w, r, &req); err != nil {
		h.fail(w, err, "Invalid request body")
		return
	}

	res, err := h.auth.Login(r.Context(), req)
	if err != nil {
		h.fail(w, err, "Login failed")
		return
	}
	msg := "Login successful"
	if res.MFARequired {
		msg = res.Message
	}
	respondWithJSON(w, h.logger, http.StatusOK, successResponse(res, msg))
}

func (h *AuthHandler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req otpRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.fail(w, err, "Invalid request body")
		return
	}

	res, err := h.auth.ConfirmMFA(r.Context(), req.Email, req.OTP)
	if err != nil {
		h.fail(w, err, "Invalid 2FA code")
		return
	}
	respondWithJSON(w, h.logger, http.StatusOK, successResponse(res, "Login successful"))
}

func (h *AuthHandler) RequestLoginOTP(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.fail(w, err, "Invalid request body")
		return
	}

	if err := h.auth.RequestLoginOTP(r.Context(), req.Email); err != nil {
		h.fail(w, err, "Could not send OTP")
		return
	}
	respondWithJSON(w, h.logger, http.StatusOK, successResponse(nil, "OTP sent to your email."))
}

func (h *AuthHandler) ConfirmLoginOTP(w http.ResponseWriter, r *http.Request) {
	var req otpRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.fail(w, err, "Invalid request body")
		return
	}

	res, err := h.auth.ConfirmLoginOTP(r.Context(), req.Email, req.OTP)
	if err != nil {
		h.fail(w, err, "Invalid OTP code. Please check and try again.")
		return
	}
	respondWithJSON(w, h.logger, http.StatusOK, successResponse(res, "Login successful"))
}

func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.fail(w, err, "Invalid request body")
		return
	}

	if _, err := h.reset.RequestResetByEmail(r.Context(), req.Email); err != nil {
		h.fail(w, err, "Password reset request failed")
		return
	}
	respondWithJSON(w, h.logger, http.StatusOK, successResponse(nil, "Password reset link sent to your email."))
}

func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.fail(w, err, "Invalid request body")
		return
	}

	if err := h.reset.ResetPassword(r.Context(), req.Token, req.NewPassword); err != nil {
		h.fail(w, err, "Password reset failed")
		return
	}
	respondWithJSON(w, h.logger, http.StatusOK, successResponse(nil, "Password reset successfully."))
}

func (h *AuthHandler) ValidateResetToken(w http.ResponseWriter, r *http.Request) {
	outcome, err := h.reset.ValidateToken(r.Context(), r.URL.Query().Get("token"))
	if err != nil {
		h.fail(w, err, "Token validation failed")
		return
	}
	respondWithJSON(w, h.logger, http.StatusOK, successResponse(map[string]service.Outcome{"outcome": outcome}, ""))
}

func (h *AuthHandler) RequestResetOTP(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.fail(w, err, "Invalid request body")
		return
	}

	if err := h.reset.RequestResetOTP(r.Context(), req.Email); err != nil {
		h.fail(w, err, "Could not send password reset OTP")
		return
	}
	respondWithJSON(w, h.logger, http.StatusOK, successResponse(nil, "Password reset OTP sent to your email."))
}

func (h *AuthHandler) ConfirmResetOTP(w http.ResponseWriter, r *http.Request) {
	var req resetOTPConfirmRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.fail(w, err, "Invalid request body")
		return
	}

	changed, err := h.reset.ConfirmResetOTP(r.Context(), req.Email, req.OTP, req.NewPassword)
	if err != nil {
		h.fail(w, err, "Invalid OTP code.")
		return
	}
	msg := "OTP verified successfully."
	if changed {
		msg = "Password reset successfully."
	}
	respondWithJSON(w, h.logger, http.StatusOK, successResponse(nil, msg))
}

func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	claims, _ := claimsFrom(r.Context())
	resp := meResponse{ID: claims.Subject, Email: claims.Email, Roles: claims.Roles}
	if claims.ExpiresAt != nil {
		resp.ExpiresAt = claims.ExpiresAt.Time
	}
	respondWithJSON(w, h.logger, http.StatusOK, successResponse(resp, ""))
}

func (h *AuthHandler) EnableMFA(w http.ResponseWriter, r *http.Request) {
	h.setMFA(w, r, true)
}

func (h *AuthHandler) DisableMFA(w http.ResponseWriter, r *http.Request) {
	h.setMFA(w, r, false)
}

func (h *AuthHandler) setMFA(w http.ResponseWriter, r *http.Request, enabled bool) {
	claims, _ := claimsFrom(r.Context())
	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		h.fail(w, service.ErrUnauthorized, "Invalid session subject")
		return
	}

	if enabled {
		err = h.auth.EnableMFA(r.Context(), id)
	} else {
		err = h.auth.DisableMFA(r.Context(), id)
	}
	if err != nil {
		h.fail(w, err, "Could not update MFA setting")
		return
	}

	msg := "MFA disabled successfully."
	if enabled {
		msg = "MFA enabled successfully."
	}
	respondWithJSON(w, h.logger, http.StatusOK, successResponse(map[string]bool{"mfaEnabled": enabled}, msg))
}
