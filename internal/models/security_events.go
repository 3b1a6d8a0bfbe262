package models

import "time"

type SecurityEventType string

const (
	EventLoginSuccess       SecurityEventType = "login_success"
	EventLoginFailure       SecurityEventType = "login_failure"
	EventMFAChallenge       SecurityEventType = "mfa_challenge"
	EventMFASuccess         SecurityEventType = "mfa_success"
	EventMFAFailure         SecurityEventType = "mfa_failure"
	EventOTPLocked          SecurityEventType = "otp_locked"
	EventResetRequested     SecurityEventType = "password_reset_requested"
	EventPasswordChanged    SecurityEventType = "password_changed"
	EventResetTokenRejected SecurityEventType = "password_reset_rejected"
	EventAccountRegistered  SecurityEventType = "account_registered"
	EventMFASettingChanged  SecurityEventType = "mfa_setting_changed"
)

type SecurityEvent struct {
	EventTime time.Time         `db:"event_time"`
	EventType SecurityEventType `db:"event_type"`
	AccountID string            `db:"account_id"`
	Email     string            `db:"email"`
	IPAddress string            `db:"ip_address"`
	UserAgent string            `db:"user_agent"`
	RequestID string            `db:"request_id"`
	Success   bool              `db:"success"`
	Reason    string            `db:"reason"`
}
