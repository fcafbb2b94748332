package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"marketplace-auth/internal/credstore"
	"marketplace-auth/internal/event"
	"marketplace-auth/internal/model"
	"marketplace-auth/pkg/apierror"
)

var (
	ErrSessionExpired = errors.New("session expired")
	ErrNoRefreshToken = errors.New("no refresh token")
)

// API is the subset of the auth transport the provider needs.
type API interface {
	CurrentUser(ctx context.Context) (model.User, error)
	Refresh(ctx context.Context, refreshToken string) (model.AuthTokens, error)
	SwitchRole(ctx context.Context, role model.Role) (model.User, error)
	Logout(ctx context.Context, refreshToken string) error
}

type Snapshot struct {
	User       *model.User
	ActiveRole model.Role
}

func (s Snapshot) Authenticated() bool {
	return s.User != nil
}

type Options struct {
	API        API
	Store      *credstore.Store
	Bus        event.Bus
	Logger     *slog.Logger
	ExpirySkew time.Duration
	Now        func() time.Time
}

// Provider owns the process-wide session: the resolved user and the role they
// currently act as.
type Provider struct {
	api    API
	store  *credstore.Store
	bus    event.Bus
	logger *slog.Logger
	id     string
	skew   time.Duration
	now    func() time.Time

	mu         sync.RWMutex
	user       *model.User
	activeRole model.Role
}

func NewProvider(opts Options) *Provider {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &Provider{
		api:    opts.API,
		store:  opts.Store,
		bus:    opts.Bus,
		logger: logger.With("component", "session"),
		id:     uuid.NewString(),
		skew:   opts.ExpirySkew,
		now:    now,
	}
}

func (p *Provider) Current() Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.user == nil {
		return Snapshot{}
	}

	user := *p.user
	user.Roles = append([]model.Role(nil), p.user.Roles...)
	return Snapshot{User: &user, ActiveRole: p.activeRole}
}

// Initialize restores a session silently at startup. Order: existing access
// token, then refresh token, then anonymous. Only a failure to read the
// credential store is returned; every other failure leaves the session either
// restored from cache or anonymous.
func (p *Provider) Initialize(ctx context.Context) error {
	accessToken, err := p.store.AccessToken(ctx)
	if err != nil {
		p.clearLocal()
		return fmt.Errorf("initialize session: %w", err)
	}

	if accessToken != "" {
		user, err := p.api.CurrentUser(ctx)
		if err == nil {
			return p.apply(ctx, user, "")
		}

		if apierror.IsUnauthorized(err) {
			if refreshErr := p.refreshTokens(ctx); refreshErr != nil {
				p.logger.Info("stored session expired", "error", refreshErr)
				return p.clear(ctx)
			}
			user, err = p.api.CurrentUser(ctx)
			if err != nil {
				p.logger.Warn("user fetch failed after refresh", "error", err)
				return p.clear(ctx)
			}
			return p.apply(ctx, user, "")
		}

		cached, cacheErr := p.store.CachedUser(ctx)
		if cacheErr == nil && cached != nil {
			p.logger.Warn("using cached user, server unreachable", "error", err)
			stored, _ := p.store.ActiveRole(ctx)
			p.set(cached, model.ResolveActiveRole(cached, "", stored))
			return nil
		}
		p.logger.Warn("session restore failed", "error", err)
		return p.clear(ctx)
	}

	refreshToken, err := p.store.RefreshToken(ctx)
	if err != nil {
		p.clearLocal()
		return fmt.Errorf("initialize session: %w", err)
	}
	if refreshToken == "" {
		p.clearLocal()
		return nil
	}

	if err := p.refreshTokens(ctx); err != nil {
		p.logger.Info("refresh token rejected", "error", err)
		return p.clear(ctx)
	}
	user, err := p.api.CurrentUser(ctx)
	if err != nil {
		p.logger.Warn("user fetch failed after refresh", "error", err)
		return p.clear(ctx)
	}
	return p.apply(ctx, user, "")
}

// Establish persists freshly issued tokens, loads the user and makes the
// session current. On failure the tokens are discarded again.
func (p *Provider) Establish(ctx context.Context, tokens model.AuthTokens) (model.User, error) {
	if cached, _ := p.store.CachedUser(ctx); cached != nil && cached.ID != tokens.UserID {
		_ = p.store.SaveActiveRole(ctx, "")
	}

	if err := p.store.SaveTokens(ctx, tokens); err != nil {
		return model.User{}, err
	}

	user, err := p.api.CurrentUser(ctx)
	if err != nil {
		_ = p.clear(ctx)
		return model.User{}, fmt.Errorf("load current user: %w", err)
	}

	if err := p.apply(ctx, user, ""); err != nil {
		return model.User{}, err
	}

	p.publish(event.TypeSessionEstablished, user.ID)
	return user, nil
}

// RefreshUser re-reads the user from the server. Any failure ends the session.
func (p *Provider) RefreshUser(ctx context.Context) error {
	var user model.User
	err := p.authorized(ctx, func(ctx context.Context) error {
		var fetchErr error
		user, fetchErr = p.api.CurrentUser(ctx)
		return fetchErr
	})
	if err != nil {
		p.logger.Warn("refresh user failed, logging out", "error", err)
		if !errors.Is(err, ErrSessionExpired) {
			p.Logout(ctx)
		}
		return fmt.Errorf("refresh user: %w", err)
	}

	p.mu.RLock()
	current := p.activeRole
	p.mu.RUnlock()

	return p.apply(ctx, user, current)
}

// SetActiveRole switches the role on the server first and only then locally.
// A role the user does not hold is rejected without a network call.
func (p *Provider) SetActiveRole(ctx context.Context, role model.Role) error {
	snapshot := p.Current()
	if !snapshot.User.HasRole(role) {
		return fmt.Errorf("switch to %s: %w", role, model.ErrRoleNotGranted)
	}

	var updated model.User
	err := p.authorized(ctx, func(ctx context.Context) error {
		var switchErr error
		updated, switchErr = p.api.SwitchRole(ctx, role)
		return switchErr
	})
	if err != nil {
		return fmt.Errorf("switch to %s: %w", role, err)
	}

	if updated.ID == "" {
		updated = *snapshot.User
	}

	if err := p.apply(ctx, updated, role); err != nil {
		return err
	}

	p.publish(event.TypeRoleSwitched, string(role))
	return nil
}

// Logout invalidates the session server side on a best-effort basis and always
// clears local state.
func (p *Provider) Logout(ctx context.Context) {
	refreshToken, _ := p.store.RefreshToken(ctx)
	if accessToken, _ := p.store.AccessToken(ctx); accessToken != "" {
		if err := p.api.Logout(ctx, refreshToken); err != nil {
			p.logger.Warn("server logout failed", "error", err)
		}
	}

	if err := p.clear(ctx); err != nil {
		p.logger.Error("failed to clear credentials", "error", err)
	}

	p.publish(event.TypeSessionLoggedOut, "")
}

// Watch clears the in-memory session when another provider broadcasts a
// logout. It blocks until ctx is done or the bus subscription closes.
func (p *Provider) Watch(ctx context.Context) {
	if p.bus == nil {
		return
	}

	events, unsubscribe := p.bus.Subscribe()
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			if e.Type != event.TypeSessionLoggedOut || e.Origin == p.id {
				continue
			}
			p.logger.Info("logout broadcast received", "origin", e.Origin, "remote", e.Remote())
			p.clearLocal()
		}
	}
}

// authorized runs call with at most one token refresh. A locally expired
// access token is refreshed up front; a 401 triggers a refresh and one retry.
// A second 401, or a failed refresh, expires the session.
func (p *Provider) authorized(ctx context.Context, call func(ctx context.Context) error) error {
	refreshed := false
	if expired, _ := p.store.AccessTokenExpired(ctx, p.now(), p.skew); expired {
		if err := p.refreshTokens(ctx); err != nil {
			p.expire(ctx)
			return fmt.Errorf("%w: %v", ErrSessionExpired, err)
		}
		refreshed = true
	}

	err := call(ctx)
	if !apierror.IsUnauthorized(err) {
		return err
	}

	if !refreshed {
		if refreshErr := p.refreshTokens(ctx); refreshErr != nil {
			p.expire(ctx)
			return fmt.Errorf("%w: %v", ErrSessionExpired, refreshErr)
		}
		err = call(ctx)
		if !apierror.IsUnauthorized(err) {
			return err
		}
	}

	p.expire(ctx)
	return fmt.Errorf("%w: %v", ErrSessionExpired, err)
}

func (p *Provider) refreshTokens(ctx context.Context) error {
	refreshToken, err := p.store.RefreshToken(ctx)
	if err != nil {
		return err
	}
	if refreshToken == "" {
		return ErrNoRefreshToken
	}

	tokens, err := p.api.Refresh(ctx, refreshToken)
	if err != nil {
		return err
	}

	return p.store.SaveTokens(ctx, tokens)
}

func (p *Provider) apply(ctx context.Context, user model.User, preferred model.Role) error {
	stored, err := p.store.ActiveRole(ctx)
	if err != nil {
		p.logger.Warn("failed to read stored active role", "error", err)
	}

	role := model.ResolveActiveRole(&user, preferred, stored)
	p.set(&user, role)

	if err := p.store.SaveUser(ctx, user); err != nil {
		return err
	}
	return p.store.SaveActiveRole(ctx, role)
}

func (p *Provider) expire(ctx context.Context) {
	if err := p.clear(ctx); err != nil {
		p.logger.Error("failed to clear credentials", "error", err)
	}
	p.publish(event.TypeSessionLoggedOut, "expired")
}

func (p *Provider) clear(ctx context.Context) error {
	p.clearLocal()
	return p.store.Clear(ctx)
}

func (p *Provider) clearLocal() {
	p.set(nil, "")
}

func (p *Provider) set(user *model.User, role model.Role) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.user = user
	p.activeRole = role
}

func (p *Provider) publish(t event.Type, payload string) {
	if p.bus == nil {
		return
	}
	e := event.Event{Type: t, Origin: p.id}
	if payload != "" {
		e.Payload = payload
	}
	p.bus.Publish(e)
}
