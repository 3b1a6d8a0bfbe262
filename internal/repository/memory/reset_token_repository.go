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

type ResetTokenRepository struct {
	mu       sync.Mutex
	byDigest map[string]*models.PasswordResetToken
}

func NewResetTokenRepository() *ResetTokenRepository {
	return &ResetTokenRepository{byDigest: make(map[string]*models.PasswordResetToken)}
}

func (r *ResetTokenRepository) SaveResetToken(_ context.Context, token *models.PasswordResetToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byDigest[token.Token]; exists {
		return fmt.Errorf("reset token: %w", repository.ErrDuplicate)
	}
	if token.ID == uuid.Nil {
		token.ID = uuid.New()
	}
	c := *token
	r.byDigest[token.Token] = &c
	return nil
}

func (r *ResetTokenRepository) GetResetToken(_ context.Context, digest string) (*models.PasswordResetToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.byDigest[digest]
	if !ok {
		return nil, repository.ErrNotFound
	}
	c := *t
	if t.UsedAt != nil {
		u := *t.UsedAt
		c.UsedAt = &u
	}
	return &c, nil
}

func (r *ResetTokenRepository) MarkResetTokenUsed(_ context.Context, id uuid.UUID, usedAt time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, t := range r.byDigest {
		if t.ID != id {
			continue
		}
		if t.UsedAt != nil {
			return false, nil
		}
		u := usedAt
		t.UsedAt = &u
		return true, nil
	}
	return false, repository.ErrNotFound
}

func (r *ResetTokenRepository) ReleaseResetToken(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, t := range r.byDigest {
		if t.ID == id {
			t.UsedAt = nil
			return nil
		}
	}
	return repository.ErrNotFound
}

func (r *ResetTokenRepository) DeleteExpiredResetTokens(_ context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for digest, t := range r.byDigest {
		if t.ExpiresAt.Before(before) {
			delete(r.byDigest, digest)
			n++
		}
	}
	return n, nil
}
