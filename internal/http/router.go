package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pribylovaa/signal-auth/internal/http/handlers"
	"github.com/pribylovaa/signal-auth/internal/http/middleware"
	"github.com/pribylovaa/signal-auth/internal/metrics"
)

// Options — параметры сборки HTTP-роутера.
type Options struct {
	Logger   *slog.Logger
	Timeout  time.Duration
	BasePath string // например, "/api"; если пустой — роуты регистрируются на корне.
	Metrics  *metrics.Metrics

	Validator middleware.TokenValidator
	Resolver  middleware.PrincipalResolver
	// PublicPaths — пути без разбора Bearer-токена; пустой список
	// заменяется на DefaultPublicPaths(BasePath).
	PublicPaths []string
}

// DefaultPublicPaths — эндпойнты, доступные без аутентификации.
func DefaultPublicPaths(basePath string) []string {
	paths := []string{
		"/auth/register",
		"/auth/login",
		"/auth/refresh",
		"/auth/verify-email",
		"/auth/resend-verification",
		"/auth/forgot-password",
		"/auth/reset-password",
		"/auth/check-username",
		"/auth/check-email",
	}

	for i, p := range paths {
		paths[i] = basePath + p
	}

	return paths
}

// NewRouter собирает http.Handler с chi и подключёнными middleware/роутами.
func NewRouter(svc handlers.AuthService, opts Options) http.Handler {
	public := opts.PublicPaths
	if len(public) == 0 {
		public = DefaultPublicPaths(opts.BasePath)
	}

	root := chi.NewRouter()

	// Middleware (внешний -> внутренний).
	root.Use(
		middleware.Recover(),             // безопасно ловим паники
		middleware.RequestID(),           // формируем/прокидываем X-Request-Id (до логирования!)
		middleware.Logging(opts.Logger),  // кладём request-scoped логгер в контекст и логируем
		middleware.Metrics(opts.Metrics), // счётчики по шаблону маршрута
		middleware.Timeout(opts.Timeout), // общий дедлайн запроса (<=0 — без дедлайна)
		middleware.SecurityGate(middleware.GateConfig{
			Validator:   opts.Validator,
			Resolver:    opts.Resolver,
			PublicPaths: public,
			Metrics:     opts.Metrics,
		}),
	)

	h := handlers.New(svc, opts.Metrics)

	if opts.BasePath != "" {
		sub := chi.NewRouter()
		registerRoutes(sub, h)
		root.Mount(opts.BasePath, sub)
		return root
	}

	registerRoutes(root, h)
	return root
}

// registerRoutes — единая точка регистрации всех REST-эндпойнтов.
func registerRoutes(r chi.Router, h *handlers.Handlers) {
	r.Route("/auth", func(r chi.Router) {
		r.Post("/register", h.Register)
		r.Post("/login", h.Login)
		r.Post("/refresh", h.Refresh)
		r.Get("/verify-email", h.VerifyEmail)
		r.Post("/resend-verification", h.ResendVerification)
		r.Post("/forgot-password", h.ForgotPassword)
		r.Post("/reset-password", h.ResetPassword)
		r.Get("/check-username", h.CheckUsername)
		r.Get("/check-email", h.CheckEmail)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAuth)
			r.Post("/logout", h.Logout)
			r.Post("/change-password", h.ChangePassword)
			r.Get("/me", h.Me)
		})
	})
}
