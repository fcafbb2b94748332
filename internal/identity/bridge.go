package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"marketplace-auth/internal/event"
)

var ErrNotInitialized = errors.New("identity provider not initialized")

type ProviderConfig struct {
	ClientID   string
	AutoSelect bool
}

// IdentityProvider is the third-party sign-in widget.
type IdentityProvider interface {
	Initialize(cfg ProviderConfig, callback func(credential string)) error
	RenderButton(target string) error
}

// ScriptLoader brings the widget's script into the host.
type ScriptLoader interface {
	Present() bool
	Inject(ctx context.Context) error
	Ready() bool
}

// CredentialHandler receives the credential exactly as the widget produced it.
type CredentialHandler interface {
	HandleGoogleCredential(ctx context.Context, credential string) error
}

type Options struct {
	Provider     IdentityProvider
	Loader       ScriptLoader
	Handler      CredentialHandler
	ClientID     string
	PollWait     time.Duration
	PollAttempts int
	Logger       *slog.Logger
}

type Bridge struct {
	provider     IdentityProvider
	loader       ScriptLoader
	handler      CredentialHandler
	clientID     string
	pollWait     time.Duration
	pollAttempts int
	logger       *slog.Logger

	mu          sync.Mutex
	loaded      bool
	initialized bool
}

func NewBridge(opts Options) *Bridge {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	pollWait := opts.PollWait
	if pollWait <= 0 {
		pollWait = 100 * time.Millisecond
	}
	attempts := opts.PollAttempts
	if attempts <= 0 {
		attempts = 10
	}

	return &Bridge{
		provider:     opts.Provider,
		loader:       opts.Loader,
		handler:      opts.Handler,
		clientID:     opts.ClientID,
		pollWait:     pollWait,
		pollAttempts: attempts,
		logger:       logger.With("component", "identity"),
	}
}

// Load brings the widget in at most once. A script that is already present is
// polled for readiness instead of being injected a second time.
func (b *Bridge) Load(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.loadLocked(ctx)
}

func (b *Bridge) loadLocked(ctx context.Context) error {
	if b.loaded {
		return nil
	}

	if b.loader.Present() {
		for i := 0; i < b.pollAttempts && !b.loader.Ready(); i++ {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(b.pollWait):
			}
		}
		if !b.loader.Ready() {
			b.logger.Warn("identity script present but not ready, continuing")
		}
		b.loaded = true
		return nil
	}

	if err := b.loader.Inject(ctx); err != nil {
		return fmt.Errorf("load identity script: %w", err)
	}
	b.loaded = true
	return nil
}

// Initialize wires the widget callback to the credential handler. Repeated
// calls do nothing.
func (b *Bridge) Initialize(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.loadLocked(ctx); err != nil {
		return err
	}
	if b.initialized {
		return nil
	}

	cfg := ProviderConfig{ClientID: b.clientID}
	if err := b.provider.Initialize(cfg, b.forward); err != nil {
		return fmt.Errorf("initialize identity provider: %w", err)
	}
	b.initialized = true
	return nil
}

func (b *Bridge) forward(credential string) {
	if err := b.handler.HandleGoogleCredential(context.Background(), credential); err != nil {
		b.logger.Warn("google credential rejected", "error", err)
	}
}

// DialogOpened renders the sign-in button into target. The login dialog
// recreates its button slot every time it opens.
func (b *Bridge) DialogOpened(ctx context.Context, target string) error {
	if err := b.Initialize(ctx); err != nil {
		return err
	}
	if err := b.provider.RenderButton(target); err != nil {
		return fmt.Errorf("render sign-in button: %w", err)
	}
	return nil
}

// Watch re-renders the button into target on every login dialog open event
// until ctx is done.
func (b *Bridge) Watch(ctx context.Context, bus event.Bus, target string) {
	events, unsubscribe := bus.Subscribe()
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			if e.Type != event.TypeOpenLogin {
				continue
			}
			if err := b.DialogOpened(ctx, target); err != nil {
				b.logger.Warn("sign-in button not rendered", "error", err)
			}
		}
	}
}
