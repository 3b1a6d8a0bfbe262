package session

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"healthcare-auth/internal/models"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestIssuer_RoundTrip(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	iss := NewIssuer(testSecret, "healthcare-auth", 24*time.Hour).WithClock(func() time.Time { return now })

	acc := &models.Account{ID: uuid.New(), Email: "doc@example.com", Roles: []models.Role{models.RoleDoctor}}
	token, exp, err := iss.Issue(acc)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if !exp.Equal(now.Add(24 * time.Hour)) {
		t.Fatalf("unexpected expiry %v", exp)
	}

	claims, err := iss.Parse(token)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.Subject != acc.ID.String() || claims.Email != acc.Email {
		t.Fatalf("unexpected claims %+v", claims)
	}
	if len(claims.Roles) != 1 || claims.Roles[0] != "DOCTOR" {
		t.Fatalf("unexpected roles %v", claims.Roles)
	}
}

func TestIssuer_RejectsExpiredAndForeign(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	iss := NewIssuer(testSecret, "healthcare-auth", time.Hour).WithClock(func() time.Time { return now })

	token, _, _ := iss.Issue(&models.Account{ID: uuid.New(), Email: "p@example.com"})

	now = now.Add(2 * time.Hour)
	if _, err := iss.Parse(token); !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("expected expired token to fail, got %v", err)
	}

	other := NewIssuer("ffffffffffffffffffffffffffffffff", "healthcare-auth", time.Hour)
	foreign, _, _ := other.Issue(&models.Account{ID: uuid.New(), Email: "p@example.com"})
	if _, err := NewIssuer(testSecret, "healthcare-auth", time.Hour).Parse(foreign); !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("expected bad signature to fail, got %v", err)
	}

	if _, err := iss.Parse("not-a-token"); !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("expected garbage to fail, got %v", err)
	}
}
