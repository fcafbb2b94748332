package identity

import (
	"context"
	"log/slog"
	"sync"
)

// ManualProvider stands in for the browser widget in the terminal: the user
// pastes an ID token and it goes through the same callback.
type ManualProvider struct {
	logger *slog.Logger

	mu       sync.Mutex
	cfg      ProviderConfig
	callback func(string)
	rendered []string
}

func NewManualProvider(logger *slog.Logger) *ManualProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &ManualProvider{logger: logger}
}

func (p *ManualProvider) Initialize(cfg ProviderConfig, callback func(credential string)) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cfg = cfg
	p.callback = callback
	return nil
}

func (p *ManualProvider) RenderButton(target string) error {
	p.mu.Lock()
	p.rendered = append(p.rendered, target)
	clientID := p.cfg.ClientID
	p.mu.Unlock()

	p.logger.Info("sign in with google: paste an ID token with `google <token>`", "target", target, "client_id", clientID)
	return nil
}

// Submit hands a pasted credential to the registered callback.
func (p *ManualProvider) Submit(credential string) error {
	p.mu.Lock()
	callback := p.callback
	p.mu.Unlock()

	if callback == nil {
		return ErrNotInitialized
	}
	callback(credential)
	return nil
}

func (p *ManualProvider) Renders() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.rendered...)
}

// InlineLoader has nothing to fetch; injecting just marks it present.
type InlineLoader struct {
	mu      sync.Mutex
	present bool
}

func (l *InlineLoader) Present() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.present
}

func (l *InlineLoader) Inject(context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.present = true
	return nil
}

func (l *InlineLoader) Ready() bool {
	return l.Present()
}
