package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/CoderXYZ14/syncal/internal/middleware"
	"github.com/CoderXYZ14/syncal/internal/repository"
)

// HealthChecker はヘルスチェックに必要なインターフェース。
// *sql.DBが満たす。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	HealthChecker     HealthChecker
	SessionFinder     middleware.SessionFinder
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	Logger            *slog.Logger

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// 予定
	EventService EventServiceInterface

	// チャネル管理
	ChannelManager ChannelManagerInterface
	UserRepo       repository.UserRepository
	CallbackURL    string

	// Webhook
	ChannelUserFinder ChannelUserFinder
	Synchronizer      Synchronizer
	WebhookMetrics    WebhookMetricsRecorder

	// メトリクス公開（nilの場合は/metricsを公開しない）
	MetricsHandler http.Handler
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → Logging → CORS → SessionMiddleware → RateLimitMiddleware
//
// Webhook（プロバイダからの通知）、認証ルート、ヘルスチェック、メトリクスは
// セッションゲートの外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	authHandler := NewAuthHandler(deps.AuthService, deps.AuthConfig)
	eventHandler := NewEventHandler(deps.EventService)
	channelHandler := NewChannelHandler(deps.ChannelManager, deps.UserRepo, deps.CallbackURL)
	webhookHandler := NewWebhookHandler(deps.ChannelUserFinder, deps.Synchronizer, deps.WebhookMetrics, logger)

	// --- 認証不要のルート ---

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if deps.HealthChecker != nil {
			if err := deps.HealthChecker.PingContext(r.Context()); err != nil {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusServiceUnavailable)
				json.NewEncoder(w).Encode(map[string]string{"status": "unhealthy"})
				return
			}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})

	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	// プロバイダからのプッシュ通知（認証はチャネルIDの照合で行う）
	r.Route("/api/webhook/calendar", func(r chi.Router) {
		r.Get("/", webhookHandler.Challenge)
		r.Post("/", webhookHandler.Receive)
	})

	// 認証ルート（OAuthフロー）
	r.Route("/auth", func(r chi.Router) {
		r.Get("/google/login", authHandler.Login)
		r.Get("/google/callback", authHandler.Callback)
		r.Post("/logout", authHandler.Logout)
		r.Get("/me", authHandler.Me)
	})

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: Session → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.SessionFinder))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		// 予定管理
		r.Route("/api/calendar/events", func(r chi.Router) {
			r.Get("/", eventHandler.ListEvents)
			r.Post("/", eventHandler.CreateEvent)
			r.Delete("/", eventHandler.DeleteEvent)
		})

		// チャネル管理（開設専用レート制限を追加）
		r.Route("/api/calendar/webhook", func(r chi.Router) {
			r.With(deps.RateLimiter.ChannelSetupMiddleware()).Post("/setup", channelHandler.Setup)
			r.Post("/stop", channelHandler.Stop)
		})
	})

	return r
}
