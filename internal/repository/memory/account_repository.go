// Package memory holds process-local stores used with STORE_DRIVER=memory
// and by tests. A single mutex serializes every read-modify-write.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"healthcare-auth/internal/models"
	"healthcare-auth/internal/repository"

	"github.com/google/uuid"
)

type AccountRepository struct {
	mu      sync.Mutex
	byID    map[uuid.UUID]*models.Account
	byEmail map[string]uuid.UUID
	now     func() time.Time
}

func NewAccountRepository() *AccountRepository {
	return &AccountRepository{
		byID:    make(map[uuid.UUID]*models.Account),
		byEmail: make(map[string]uuid.UUID),
		now:     time.Now,
	}
}

func (r *AccountRepository) CreateAccount(_ context.Context, account *models.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byEmail[account.Email]; exists {
		return fmt.Errorf("account %s: %w", account.Email, repository.ErrDuplicate)
	}
	if account.ID == uuid.Nil {
		account.ID = uuid.New()
	}
	now := r.now().UTC()
	account.CreatedAt = now
	account.UpdatedAt = now

	r.byID[account.ID] = account.Clone()
	r.byEmail[account.Email] = account.ID
	return nil
}

func (r *AccountRepository) GetAccountByEmail(_ context.Context, email string) (*models.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	acc, ok := r.lookupEmail(email)
	if !ok {
		return nil, repository.ErrNotFound
	}
	return acc.Clone(), nil
}

func (r *AccountRepository) GetAccountByID(_ context.Context, id uuid.UUID) (*models.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	acc, ok := r.byID[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return acc.Clone(), nil
}

func (r *AccountRepository) SetOTP(_ context.Context, email string, purpose models.OTPPurpose, slot *models.OTPSlot) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	acc, ok := r.lookupEmail(email)
	if !ok {
		return repository.ErrNotFound
	}
	if slot != nil {
		s := *slot
		slot = &s
	}
	acc.SetOTP(purpose, slot)
	acc.UpdatedAt = r.now().UTC()
	return nil
}

func (r *AccountRepository) ConsumeOTP(_ context.Context, email string, purpose models.OTPPurpose, check repository.OTPCheck) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	acc, ok := r.lookupEmail(email)
	if !ok {
		return false, repository.ErrNotFound
	}
	var current *models.OTPSlot
	if s := acc.OTP(purpose); s != nil {
		c := *s
		current = &c
	}
	if !check(current) {
		return false, nil
	}
	acc.SetOTP(purpose, nil)
	acc.UpdatedAt = r.now().UTC()
	return true, nil
}

func (r *AccountRepository) UpdatePasswordHash(_ context.Context, id uuid.UUID, hash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	acc, ok := r.byID[id]
	if !ok {
		return repository.ErrNotFound
	}
	acc.PasswordHash = hash
	acc.UpdatedAt = r.now().UTC()
	return nil
}

func (r *AccountRepository) SetMFAEnabled(_ context.Context, id uuid.UUID, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	acc, ok := r.byID[id]
	if !ok {
		return repository.ErrNotFound
	}
	acc.MFAEnabled = enabled
	acc.UpdatedAt = r.now().UTC()
	return nil
}

func (r *AccountRepository) HealthCheck(context.Context) error {
	return nil
}

// caller holds r.mu
func (r *AccountRepository) lookupEmail(email string) (*models.Account, bool) {
	id, ok := r.byEmail[email]
	if !ok {
		return nil, false
	}
	acc, ok := r.byID[id]
	return acc, ok
}
