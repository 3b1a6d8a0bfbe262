package models

import (
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleAdmin   Role = "ADMIN"
	RoleDoctor  Role = "DOCTOR"
	RolePatient Role = "PATIENT"
)

// Valid reports whether r is one of the canonical roles
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleDoctor, RolePatient:
		return true
	}
	return false
}

// OTPPurpose selects one of the account's independent OTP slots
type OTPPurpose string

const (
	OTPPurposeLogin         OTPPurpose = "login"
	OTPPurposePasswordReset OTPPurpose = "password_reset"
)

func (p OTPPurpose) Valid() bool {
	return p == OTPPurposeLogin || p == OTPPurposePasswordReset
}

// OTPSlot is one stored code. A nil *OTPSlot means no live code.
type OTPSlot struct {
	Code     string
	IssuedAt time.Time
}

// Account is a person who can sign in: patient, doctor or administrator
type Account struct {
	ID           uuid.UUID `db:"id" json:"id"`
	FullName     string    `db:"full_name" json:"fullName"`
	Email        string    `db:"email" json:"email"`
	Phone        *string   `db:"phone" json:"phone,omitempty"`
	PasswordHash string    `db:"password_hash" json:"-"`
	Roles        []Role    `db:"roles" json:"roles"`
	MFAEnabled   bool      `db:"mfa_enabled" json:"mfaEnabled"`
	LoginOTP     *OTPSlot  `db:"-" json:"-"`
	ResetOTP     *OTPSlot  `db:"-" json:"-"`
	CreatedAt    time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt    time.Time `db:"updated_at" json:"updatedAt"`
}

// OTP returns the slot for purpose
func (a *Account) OTP(purpose OTPPurpose) *OTPSlot {
	if purpose == OTPPurposePasswordReset {
		return a.ResetOTP
	}
	return a.LoginOTP
}

// SetOTP overwrites the slot for purpose; nil clears it
func (a *Account) SetOTP(purpose OTPPurpose, slot *OTPSlot) {
	if purpose == OTPPurposePasswordReset {
		a.ResetOTP = slot
		return
	}
	a.LoginOTP = slot
}

// RoleNames is the claim form of Roles
func (a *Account) RoleNames() []string {
	names := make([]string, 0, len(a.Roles))
	for _, r := range a.Roles {
		names = append(names, string(r))
	}
	return names
}

// Clone returns a deep copy so stores never hand out shared pointers
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	c := *a
	c.Roles = append([]Role(nil), a.Roles...)
	if a.Phone != nil {
		p := *a.Phone
		c.Phone = &p
	}
	if a.LoginOTP != nil {
		s := *a.LoginOTP
		c.LoginOTP = &s
	}
	if a.ResetOTP != nil {
		s := *a.ResetOTP
		c.ResetOTP = &s
	}
	return &c
}
