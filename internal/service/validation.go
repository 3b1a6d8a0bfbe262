package service

import (
	"fmt"
	"strings"

	"healthcare-auth/internal/util"
)

const (
	minPasswordLength = 8
	maxPasswordBytes  = 72
)

func validatePassword(password string) error {
	if len(password) < minPasswordLength {
		return fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, minPasswordLength)
	}
	if len(password) > maxPasswordBytes {
		return fmt.Errorf("%w: password must be at most %d bytes", ErrInvalidInput, maxPasswordBytes)
	}
	return nil
}

func validateEmail(email string) error {
	if !util.ValidEmail(email) {
		return fmt.Errorf("%w: a valid email is required", ErrInvalidInput)
	}
	return nil
}

func requireField(name, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%w: %s is required", ErrInvalidInput, name)
	}
	return nil
}
