package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"marketplace-auth/internal/config"
	"marketplace-auth/internal/database"
	"marketplace-auth/internal/handler"
	"marketplace-auth/internal/middleware"
	"marketplace-auth/internal/repository"
	"marketplace-auth/internal/router"
	"marketplace-auth/internal/service"
)

// App is the stub marketplace API: the auth and user endpoints the client
// talks to, backed by PostgreSQL or by in-memory repositories.
type App struct {
	server       *http.Server
	handler      http.Handler
	logger       *slog.Logger
	cleanupFuncs []func()
}

type Option func(*options)

type options struct {
	mailer service.Mailer
}

// WithMailer replaces the log mailer that prints OTP codes.
func WithMailer(m service.Mailer) Option {
	return func(o *options) { o.mailer = m }
}

func New(ctx context.Context, cfg *config.ServerConfig, logger *slog.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	o := options{mailer: service.NewLogMailer(logger)}
	for _, opt := range opts {
		opt(&o)
	}

	var (
		users   service.UserRepository
		tokens  service.TokenRepository
		healthz router.HealthChecker
		cleanup []func()
	)

	if cfg.DatabaseURL != "" {
		logger.Info("connecting to PostgreSQL")
		db, err := database.New(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		if err := db.EnsureSchema(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to ensure database schema: %w", err)
		}

		users = repository.NewUserRepository(db.Pool)
		tokens = repository.NewTokenRepository(db.Pool)
		healthz = db.Health
		cleanup = append(cleanup, db.Close)
		logger.Info("database ready")
	} else {
		logger.Warn("DATABASE_URL not set; accounts are kept in memory")
		users = repository.NewMemoryUserRepository()
		tokens = repository.NewMemoryTokenRepository()
	}

	authService, err := service.NewAuthService(service.AuthConfig{
		JWTSecret:       cfg.JWTSecret,
		AccessTTL:       cfg.JWTAccessTTL,
		RefreshTTL:      cfg.JWTRefreshTTL,
		OTPTTL:          cfg.OTPTTL,
		FixedOTP:        cfg.FixedOTP,
		RequireLoginOTP: cfg.RequireLoginOTP,
	}, users, tokens, o.mailer)
	if err != nil {
		for _, fn := range cleanup {
			fn()
		}
		return nil, fmt.Errorf("failed to initialize auth service: %w", err)
	}

	appRouter := router.New(cfg, logger, middleware.NewAuthMiddleware(authService), router.Handlers{
		Auth:   handler.NewAuthHandler(authService),
		User:   handler.NewUserHandler(authService),
		Health: healthz,
	})

	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           appRouter,
		ReadHeaderTimeout: cfg.ServerReadTimeout,
		WriteTimeout:      cfg.ServerWriteTimeout,
		IdleTimeout:       cfg.ServerIdleTimeout,
	}

	return &App{
		server:       server,
		handler:      appRouter,
		logger:       logger,
		cleanupFuncs: cleanup,
	}, nil
}

func (a *App) Handler() http.Handler {
	return a.handler
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (a *App) Run(ctx context.Context) error {
	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("server starting", "addr", a.server.Addr)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			a.Close()
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := a.server.Shutdown(shutdownCtx)
	a.Close()
	if err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	a.logger.Info("server stopped")
	return nil
}

func (a *App) Close() {
	for _, cleanup := range a.cleanupFuncs {
		cleanup()
	}
	a.cleanupFuncs = nil
}
