package service

import (
	"healthcare-auth/internal/audit"
	"healthcare-auth/internal/config"
	"healthcare-auth/internal/hashing"
	"healthcare-auth/internal/repository"
	"healthcare-auth/internal/session"

	"go.uber.org/zap"
)

// ServiceFactory creates and manages service instances
type ServiceFactory struct {
	accounts repository.AccountRepository
	tokens   repository.ResetTokenRepository
	hasher   *hashing.Hasher
	sessions *session.Issuer
	notifier Notifier
	limiter  AttemptLimiter
	recorder audit.Recorder
	auth     config.AuthConfig
	logger   *zap.Logger

	otpService   *OTPService
	authService  *AuthService
	resetService *PasswordResetService
}

func NewServiceFactory(
	accounts repository.AccountRepository,
	tokens repository.ResetTokenRepository,
	hasher *hashing.Hasher,
	sessions *session.Issuer,
	notifier Notifier,
	limiter AttemptLimiter,
	recorder audit.Recorder,
	auth config.AuthConfig,
	logger *zap.Logger,
) *ServiceFactory {
	return &ServiceFactory{
		accounts: accounts,
		tokens:   tokens,
		hasher:   hasher,
		sessions: sessions,
		notifier: notifier,
		limiter:  limiter,
		recorder: recorder,
		auth:     auth,
		logger:   logger,
	}
}

// OTPService returns the OTP engine instance (singleton)
func (f *ServiceFactory) OTPService() *OTPService {
	if f.otpService == nil {
		f.otpService = NewOTPService(f.accounts, f.notifier, f.limiter, f.auth.OTPTTL, f.logger.Named("otp"))
	}
	return f.otpService
}

// AuthService returns the session issuer instance (singleton)
func (f *ServiceFactory) AuthService() *AuthService {
	if f.authService == nil {
		f.authService = NewAuthService(f.accounts, f.OTPService(), f.hasher, f.sessions, f.recorder, f.logger.Named("auth"))
	}
	return f.authService
}

// PasswordResetService returns the reset engine instance (singleton)
func (f *ServiceFactory) PasswordResetService() *PasswordResetService {
	if f.resetService == nil {
		f.resetService = NewPasswordResetService(
			f.accounts,
			f.tokens,
			f.OTPService(),
			f.hasher,
			f.notifier,
			f.recorder,
			ResetConfig{
				TokenTTL:  f.auth.ResetTokenTTL,
				URLBase:   f.auth.ResetURLBase,
				Retention: f.auth.ResetRetention,
			},
			f.logger.Named("password_reset"),
		)
	}
	return f.resetService
}
