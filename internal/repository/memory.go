package repository

import (
	"context"
	"strings"
	"sync"
	"time"

	"marketplace-auth/internal/model"
)

// MemoryUserRepository backs the stub when no DATABASE_URL is configured.
type MemoryUserRepository struct {
	mu      sync.RWMutex
	byID    map[string]model.Account
	byEmail map[string]string
}

func NewMemoryUserRepository() *MemoryUserRepository {
	return &MemoryUserRepository{
		byID:    map[string]model.Account{},
		byEmail: map[string]string{},
	}
}

func (r *MemoryUserRepository) FindByID(_ context.Context, id string) (model.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.byID[id]
	if !ok {
		return model.Account{}, model.ErrUserNotFound
	}
	return cloneAccount(a), nil
}

func (r *MemoryUserRepository) FindByEmail(_ context.Context, email string) (model.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byEmail[emailKey(email)]
	if !ok {
		return model.Account{}, model.ErrUserNotFound
	}
	return cloneAccount(r.byID[id]), nil
}

func (r *MemoryUserRepository) Create(_ context.Context, a model.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := emailKey(a.Email)
	if _, exists := r.byEmail[key]; exists {
		return model.ErrUserAlreadyExists
	}
	r.byID[a.ID] = cloneAccount(a)
	r.byEmail[key] = a.ID
	return nil
}

func (r *MemoryUserRepository) Update(_ context.Context, a model.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.byID[a.ID]
	if !ok {
		return model.ErrUserNotFound
	}
	a.Email = existing.Email
	r.byID[a.ID] = cloneAccount(a)
	return nil
}

type memoryToken struct {
	userID    string
	expiresAt time.Time
}

type MemoryTokenRepository struct {
	mu     sync.Mutex
	tokens map[string]memoryToken
	now    func() time.Time
}

func NewMemoryTokenRepository() *MemoryTokenRepository {
	return &MemoryTokenRepository{tokens: map[string]memoryToken{}, now: time.Now}
}

func (r *MemoryTokenRepository) Store(_ context.Context, token string, userID string, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tokens[digest(token)] = memoryToken{userID: userID, expiresAt: expiresAt}
	return nil
}

func (r *MemoryTokenRepository) Validate(_ context.Context, token string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := digest(token)
	t, ok := r.tokens[key]
	if !ok {
		return "", model.ErrTokenNotFound
	}
	if !r.now().Before(t.expiresAt) {
		delete(r.tokens, key)
		return "", model.ErrTokenExpired
	}
	return t.userID, nil
}

func (r *MemoryTokenRepository) Revoke(_ context.Context, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tokens, digest(token))
	return nil
}

func (r *MemoryTokenRepository) RevokeAllForUser(_ context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, t := range r.tokens {
		if t.userID == userID {
			delete(r.tokens, key)
		}
	}
	return nil
}

func emailKey(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func cloneAccount(a model.Account) model.Account {
	a.Roles = append([]model.Role(nil), a.Roles...)
	return a
}
