package router

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"marketplace-auth/internal/config"
	"marketplace-auth/internal/handler"
	"marketplace-auth/internal/middleware"
)

// HealthChecker reports whether a backing store is reachable.
type HealthChecker func(ctx context.Context) error

type Handlers struct {
	Auth   *handler.AuthHandler
	User   *handler.UserHandler
	Health HealthChecker
}

func New(cfg *config.ServerConfig, logger *slog.Logger, authMiddleware *middleware.AuthMiddleware, h Handlers) http.Handler {
	r := chi.NewRouter()
	rateLimitMiddleware := middleware.NewRateLimitMiddleware(cfg.RateLimitRPM, cfg.AuthRateLimitRPM)

	r.Use(middleware.Recovery(logger))
	r.Use(middleware.Logging(logger))
	r.Use(middleware.CORS(cfg.CORSOrigins))
	r.Use(rateLimitMiddleware.Handler)

	r.Get("/health", health(h.Health))

	r.Route("/api/v1", func(api chi.Router) {
		api.Use(middleware.Timeout(cfg.RequestTimeout))

		api.Route("/auth", func(auth chi.Router) {
			auth.Post("/login", h.Auth.Login)
			auth.Post("/register", h.Auth.Register)
			auth.Post("/otp/verify-login", h.Auth.VerifyLogin)
			auth.Post("/otp/verify-register", h.Auth.VerifyRegister)
			auth.Post("/otp/resend", h.Auth.ResendOTP)
			auth.Post("/refresh", h.Auth.Refresh)
			auth.Post("/google", h.Auth.Google)
			auth.Post("/google/role", h.Auth.GoogleRole)
			auth.With(authMiddleware.RequireAuth).Post("/logout", h.Auth.Logout)
		})

		api.Route("/users", func(users chi.Router) {
			users.Use(authMiddleware.RequireAuth)
			users.Get("/me", h.User.Me)
			users.Put("/profile/switch-role", h.User.SwitchRole)
		})
	})

	return r
}

func health(check HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := http.StatusOK
		body := map[string]string{"status": "ok"}

		if check != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := check(ctx); err != nil {
				status = http.StatusServiceUnavailable
				body = map[string]string{"status": "degraded", "error": err.Error()}
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}
}
