//go:build integration

package integration

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"marketplace-auth/internal/app"
	"marketplace-auth/internal/authflow"
	"marketplace-auth/internal/client"
	"marketplace-auth/internal/config"
	"marketplace-auth/internal/credstore"
	"marketplace-auth/internal/event"
	"marketplace-auth/internal/notify"
	"marketplace-auth/internal/service"
	"marketplace-auth/internal/session"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubAPI struct {
	URL    string
	Outbox *service.OutboxMailer
}

func newStubAPI(t *testing.T, requireLoginOTP bool) *stubAPI {
	t.Helper()

	outbox := &service.OutboxMailer{}
	application, err := app.New(context.Background(), &config.ServerConfig{
		RequestTimeout:   5 * time.Second,
		JWTSecret:        "integration-secret",
		JWTAccessTTL:     15 * time.Minute,
		JWTRefreshTTL:    24 * time.Hour,
		OTPTTL:           10 * time.Minute,
		RequireLoginOTP:  requireLoginOTP,
		AuthRateLimitRPM: 1000,
	}, quietLogger(), app.WithMailer(outbox))
	require.NoError(t, err)

	server := httptest.NewServer(application.Handler())
	t.Cleanup(func() {
		server.Close()
		application.Close()
	})

	return &stubAPI{URL: server.URL + "/api/v1", Outbox: outbox}
}

func (s *stubAPI) lastCode(t *testing.T) string {
	t.Helper()
	sent, ok := s.Outbox.Last()
	require.True(t, ok, "no OTP was sent")
	return sent.Code
}

type routeRecorder struct {
	mu     sync.Mutex
	routes []string
}

func (r *routeRecorder) Navigate(route string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes = append(r.routes, route)
}

func (r *routeRecorder) Last() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.routes) == 0 {
		return ""
	}
	return r.routes[len(r.routes)-1]
}

// clientStack is one client process: credentials, transport, session and the
// dialog orchestrator, all wired the way cmd/authclient wires them.
type clientStack struct {
	Store    *credstore.Store
	Bus      *event.InMemoryBus
	Session  *session.Provider
	Orch     *authflow.Orchestrator
	Toasts   *notify.Recorder
	Routes   *routeRecorder
	cancel   context.CancelFunc
	finished sync.WaitGroup
}

func newClientStack(t *testing.T, api *stubAPI, backend credstore.Backend, cooldownSeconds int, tick time.Duration) *clientStack {
	t.Helper()

	log := quietLogger()
	store := credstore.New(backend)
	bus := event.NewBus()
	transport := client.New(client.Options{BaseURL: api.URL, Tokens: store, Logger: log})
	provider := session.NewProvider(session.Options{API: transport, Store: store, Bus: bus, Logger: log, ExpirySkew: 5 * time.Second})

	stack := &clientStack{
		Store:   store,
		Bus:     bus,
		Session: provider,
		Toasts:  &notify.Recorder{},
		Routes:  &routeRecorder{},
	}
	stack.Orch = authflow.New(authflow.Options{
		Transport:       transport,
		Session:         provider,
		Bus:             bus,
		Notifier:        stack.Toasts,
		Navigator:       stack.Routes,
		Logger:          log,
		CooldownSeconds: cooldownSeconds,
		TickInterval:    tick,
	})

	ctx, cancel := context.WithCancel(context.Background())
	stack.cancel = cancel
	stack.finished.Add(2)
	go func() { defer stack.finished.Done(); stack.Orch.Listen(ctx) }()
	go func() { defer stack.finished.Done(); provider.Watch(ctx) }()

	require.Eventually(t, func() bool { return bus.SubscriberCount() == 2 }, 2*time.Second, 5*time.Millisecond)

	t.Cleanup(stack.Close)
	return stack
}

func (s *clientStack) Close() {
	s.cancel()
	s.finished.Wait()
	s.Orch.Close()
}
