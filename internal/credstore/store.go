package credstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"marketplace-auth/internal/model"
)

// Fixed keys, mirroring what the browser client kept in local storage.
const (
	KeyAccessToken  = "accessToken"
	KeyRefreshToken = "refreshToken"
	KeyUser         = "user"
	KeyActiveRole   = "activeRole"
)

var allKeys = []string{KeyAccessToken, KeyRefreshToken, KeyUser, KeyActiveRole}

// Backend is a flat string key/value store. Implementations must be safe for
// concurrent use.
type Backend interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key string, value string) error
	Delete(ctx context.Context, keys ...string) error
}

// Store is the typed accessor over a Backend. It holds no state of its own.
type Store struct {
	backend Backend
}

func New(backend Backend) *Store {
	return &Store{backend: backend}
}

func (s *Store) AccessToken(ctx context.Context) (string, error) {
	return s.get(ctx, KeyAccessToken)
}

func (s *Store) RefreshToken(ctx context.Context) (string, error) {
	return s.get(ctx, KeyRefreshToken)
}

func (s *Store) SaveTokens(ctx context.Context, tokens model.AuthTokens) error {
	if tokens.AccessToken == "" {
		return fmt.Errorf("save tokens: %w", model.ErrInvalidInput)
	}

	if err := s.backend.Set(ctx, KeyAccessToken, tokens.AccessToken); err != nil {
		return fmt.Errorf("save access token: %w", err)
	}

	if tokens.RefreshToken != "" {
		if err := s.backend.Set(ctx, KeyRefreshToken, tokens.RefreshToken); err != nil {
			return fmt.Errorf("save refresh token: %w", err)
		}
	}

	return nil
}

// CachedUser returns the last-known user record, or nil when none is stored
// or the stored value is unreadable.
func (s *Store) CachedUser(ctx context.Context) (*model.User, error) {
	raw, err := s.get(ctx, KeyUser)
	if err != nil || raw == "" {
		return nil, err
	}

	var user model.User
	if err := json.Unmarshal([]byte(raw), &user); err != nil {
		_ = s.backend.Delete(ctx, KeyUser)
		return nil, nil
	}

	return &user, nil
}

func (s *Store) SaveUser(ctx context.Context, user model.User) error {
	data, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("encode user: %w", err)
	}

	if err := s.backend.Set(ctx, KeyUser, string(data)); err != nil {
		return fmt.Errorf("save user: %w", err)
	}

	return nil
}

func (s *Store) ActiveRole(ctx context.Context) (model.Role, error) {
	raw, err := s.get(ctx, KeyActiveRole)
	if err != nil || raw == "" {
		return "", err
	}

	role, ok := model.ParseRole(raw)
	if !ok {
		return "", nil
	}

	return role, nil
}

func (s *Store) SaveActiveRole(ctx context.Context, role model.Role) error {
	if role == "" {
		return s.backend.Delete(ctx, KeyActiveRole)
	}

	if err := s.backend.Set(ctx, KeyActiveRole, string(role)); err != nil {
		return fmt.Errorf("save active role: %w", err)
	}

	return nil
}

func (s *Store) Clear(ctx context.Context) error {
	if err := s.backend.Delete(ctx, allKeys...); err != nil {
		return fmt.Errorf("clear credentials: %w", err)
	}
	return nil
}

// AccessTokenExpired reads the exp claim of the stored access token without
// verifying its signature. Tokens without a readable exp are treated as live;
// the server is the authority and will answer 401 if they are not.
func (s *Store) AccessTokenExpired(ctx context.Context, now time.Time, skew time.Duration) (bool, error) {
	token, err := s.AccessToken(ctx)
	if err != nil || token == "" {
		return false, err
	}

	return TokenExpired(token, now, skew), nil
}

func TokenExpired(token string, now time.Time, skew time.Duration) bool {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return false
	}

	if claims.ExpiresAt == nil {
		return false
	}

	return !now.Add(skew).Before(claims.ExpiresAt.Time)
}

func (s *Store) get(ctx context.Context, key string) (string, error) {
	value, ok, err := s.backend.Get(ctx, key)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", key, err)
	}
	if !ok {
		return "", nil
	}
	return value, nil
}
