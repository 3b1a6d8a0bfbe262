package notification

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"healthcare-auth/internal/models"
)

const signature = "Best regards,\nHealthcare Auth Service"

// OTPMessage renders the one-time code email; label is "2FA", "Login" or
// "Password Reset".
func OTPMessage(to, code, label string, ttl time.Duration, now time.Time) models.EmailMessage {
	var b strings.Builder
	b.WriteString("Hello,\n\n")
	fmt.Fprintf(&b, "Your %s OTP code is: %s\n\n", strings.ToLower(label), code)
	if ttl > 0 {
		fmt.Fprintf(&b, "This code will expire in %s.\n\n", humanDuration(ttl))
	}
	b.WriteString("If you did not request this code, please ignore this email.\n\n")
	b.WriteString(signature)

	return models.EmailMessage{
		ID:        uuid.NewString(),
		To:        to,
		Subject:   fmt.Sprintf("Your %s OTP Code", label),
		Body:      b.String(),
		Purpose:   "otp_" + strings.ReplaceAll(strings.ToLower(label), " ", "_"),
		CreatedAt: now,
	}
}

// ResetLinkMessage renders the password reset link email
func ResetLinkMessage(to, baseURL, token string, ttl time.Duration, now time.Time) models.EmailMessage {
	link := baseURL + "?token=" + url.QueryEscape(token)
	body := fmt.Sprintf("To reset your password, click the link below:\n%s\n\nThe link expires in %s.\n\n%s",
		link, humanDuration(ttl), signature)

	return models.EmailMessage{
		ID:        uuid.NewString(),
		To:        to,
		Subject:   "Password Reset Request",
		Body:      body,
		Purpose:   "password_reset_link",
		CreatedAt: now,
	}
}

func humanDuration(d time.Duration) string {
	switch {
	case d%time.Hour == 0:
		h := int(d / time.Hour)
		if h == 1 {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", h)
	case d%time.Minute == 0:
		m := int(d / time.Minute)
		if m == 1 {
			return "1 minute"
		}
		return fmt.Sprintf("%d minutes", m)
	}
	return d.String()
}
