package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/menucatalog/internal/metrics"
	"github.com/hitoshi/menucatalog/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// 運用
	HealthChecker HealthChecker
	Gatherer      prometheus.Gatherer
	Metrics       metrics.MetricsCollector
	Logger        *slog.Logger

	// ミドルウェア依存
	Sessions          *middleware.SessionManager
	CSRF              *middleware.CSRFTokens
	Guard             *middleware.Guard
	RateLimiter       *middleware.RateLimiter
	CORSAllowedOrigin string
	HSTS              bool          // Strict-Transport-Securityを付けるか
	SignInRateLimit   int           // サインインの許容回数（IPごと）
	SignInRateWindow  time.Duration // サインインのレート制限ウィンドウ

	// サービス
	AuthService   AuthServiceInterface
	RatingService RatingServiceInterface
	MenuService   MenuServiceInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → CORS → Session → Logging → RateLimit(General)
//
// 書き込み系ルートはさらに Guard → RateLimit(Write) を通る。
// /health と /metrics はセッションを持たない。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware(deps.HSTS))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	authHandler := NewAuthHandler(deps.AuthService, deps.Sessions, deps.CSRF)
	itemHandler := NewItemHandler(deps.RatingService)
	menuHandler := NewMenuHandler(deps.MenuService)

	// --- 運用エンドポイント ---
	r.Get("/health", NewHealthHandler(deps.HealthChecker))
	if deps.Gatherer != nil {
		r.Handle("/metrics", metrics.Handler(deps.Gatherer))
	}

	// --- セッションを扱うルート ---
	r.Group(func(r chi.Router) {
		r.Use(deps.Sessions.Middleware())
		r.Use(middleware.NewLoggingMiddleware(logger, deps.Metrics))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		// 閲覧（匿名可）
		r.Get("/csrf-token", authHandler.CSRFToken)
		r.Get("/menu", menuHandler.GetMenu)
		r.Get("/favorites", menuHandler.GetFavorites)
		r.Get("/items/{id}/ratings", itemHandler.GetRatingCounts)

		// サインインはCSRFのみ検証し、IPごとにレート制限する
		r.With(
			middleware.NewSignInRateLimit(deps.SignInRateLimit, deps.SignInRateWindow),
			deps.Guard.RequireCSRF(),
		).Post("/sign-in", authHandler.SignIn)

		// --- 認証とCSRF検証が必要なルート ---
		r.Group(func(r chi.Router) {
			r.Use(deps.Guard.Middleware())

			r.Post("/sign-out", authHandler.SignOut)

			r.Group(func(r chi.Router) {
				r.Use(deps.RateLimiter.WriteMiddleware())

				r.Put("/items/ratings", itemHandler.SubmitRating)
				r.Post("/items", itemHandler.CreateItem)
			})
		})
	})

	return r
}
