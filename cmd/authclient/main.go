package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"marketplace-auth/internal/authflow"
	"marketplace-auth/internal/client"
	"marketplace-auth/internal/config"
	"marketplace-auth/internal/credstore"
	"marketplace-auth/internal/event"
	"marketplace-auth/internal/i18n"
	"marketplace-auth/internal/identity"
	"marketplace-auth/internal/logger"
	"marketplace-auth/internal/notify"
	"marketplace-auth/internal/session"
)

const signInButtonTarget = "login-dialog/google-button"

func main() {
	if err := run(); err != nil {
		slog.Error("authclient failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadClient()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := logger.New(os.Stderr, cfg.LogLevel)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backend, redisClient, err := openBackend(cfg)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	store := credstore.New(backend)
	bus := event.NewBus()

	api := client.New(client.Options{
		BaseURL: cfg.APIBaseURL,
		Timeout: cfg.RequestTimeout,
		Tokens:  store,
		Logger:  log,
	})

	provider := session.NewProvider(session.Options{
		API:        api,
		Store:      store,
		Bus:        bus,
		Logger:     log,
		ExpirySkew: cfg.ExpirySkew,
	})

	messages, err := i18n.Load()
	if err != nil {
		return fmt.Errorf("failed to load messages: %w", err)
	}

	out := os.Stdout
	orch := authflow.New(authflow.Options{
		Transport: api,
		Session:   provider,
		Bus:       bus,
		Notifier:  notify.NewLogNotifier(log),
		Messages:  messages,
		Navigator: authflow.NavigatorFunc(func(route string) {
			fmt.Fprintf(out, "-> navigate %s\n", route)
		}),
		Logger:          log,
		RTL:             cfg.RTL,
		CooldownSeconds: int(cfg.OTPCooldown.Seconds()),
	})
	defer orch.Close()

	google := identity.NewManualProvider(log)
	bridge := identity.NewBridge(identity.Options{
		Provider: google,
		Loader:   &identity.InlineLoader{},
		Handler:  orch,
		ClientID: cfg.GoogleClientID,
		PollWait: cfg.IdentityPollWait,
		Logger:   log,
	})

	go orch.Listen(ctx)
	go provider.Watch(ctx)
	go bridge.Watch(ctx, bus, signInButtonTarget)
	if redisClient != nil {
		relay := event.NewRedisRelay(redisClient, bus, cfg.RedisNamespace+":session-events", log)
		go func() {
			if err := relay.Run(ctx); err != nil {
				log.Warn("session relay stopped", "error", err)
			}
		}()
	}

	if err := provider.Initialize(ctx); err != nil {
		return err
	}

	sh := &shell{
		out:     out,
		orch:    orch,
		session: provider,
		bus:     bus,
		google:  google,
		rtl:     cfg.RTL,
	}
	sh.printStatus()

	return sh.run(ctx, os.Stdin)
}

func openBackend(cfg *config.ClientConfig) (credstore.Backend, *redis.Client, error) {
	switch cfg.CredentialStore {
	case config.StoreMemory:
		return credstore.NewMemoryBackend(), nil, nil
	case config.StoreRedis:
		rdb, err := credstore.Connect(cfg.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		return credstore.NewRedisBackend(rdb, cfg.RedisNamespace), rdb, nil
	default:
		backend, err := credstore.NewFileBackend(cfg.CredentialFile)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open credential file: %w", err)
		}
		return backend, nil, nil
	}
}

