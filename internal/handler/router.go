package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/feedsub/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger *slog.Logger

	// ミドルウェア依存
	SessionFinder     middleware.SessionFinder
	RateLimiter       *middleware.RateLimiter
	CORSAllowedOrigin string
	CSRF              *middleware.CSRFConfig // nilの場合はCSRF検証を行わない

	// 運用
	HealthChecker  HealthChecker
	MetricsHandler http.Handler

	// 購読
	Subscriptions *SubscriptionHandler
	JobStates     *JobStateHandler
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアの実行順序:
//
//	RequestID → Logging → Recovery → SecurityHeaders → CORS → Session → CSRF → RateLimit
//
// /health と /metrics は認証不要。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))
	r.Use(middleware.NewRecoveryMiddleware(deps.Logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	r.Get("/health", NewHealthHandler(deps.HealthChecker, deps.Logger))
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.SessionFinder, deps.Logger))
		if deps.CSRF != nil {
			r.Use(middleware.NewCSRFMiddleware(*deps.CSRF, deps.Logger))
		}
		r.Use(deps.RateLimiter.GeneralMiddleware())

		if deps.CSRF != nil {
			r.Method(http.MethodGet, "/api/csrf-token", middleware.NewCSRFTokenHandler(*deps.CSRF, deps.Logger))
		}

		subscribeLimit := deps.RateLimiter.SubscribeMiddleware()

		r.With(subscribeLimit).Post("/api/subscriptions", deps.Subscriptions.Subscribe)

		r.Route("/api/subscribe_job_states", func(r chi.Router) {
			r.With(subscribeLimit).Post("/", deps.JobStates.Create)
			r.Get("/", deps.JobStates.List)
			r.Get("/{id}", deps.JobStates.Get)
			r.Delete("/{id}", deps.JobStates.Delete)
		})
	})

	return r
}
