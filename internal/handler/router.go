package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/icore-platform/icore/internal/metrics"
	"github.com/icore-platform/icore/internal/middleware"
	"github.com/icore-platform/icore/internal/security"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	SessionFinder     middleware.SessionFinder
	AccountFinder     middleware.AccountFinder
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	CSRFConfig        middleware.CSRFConfig

	// 運用
	HealthChecker   HealthChecker
	MetricsGatherer prometheus.Gatherer
	Metrics         metrics.MetricsCollector

	// Telegram webhook
	UpdateHandler UpdateHandlerInterface
	WebhookSecret string

	// 認証
	AuthService    AuthServiceInterface
	AccountService AccountServiceInterface
	AuthConfig     AuthHandlerConfig

	// 連携
	LinkService       LinkServiceInterface
	LinkStatusService LinkStatusServiceInterface

	// 会話
	OwnConversationService OwnConversationServiceInterface
	WebMessageService      WebMessageServiceInterface

	// オペレーター
	OperatorConversationService OperatorConversationServiceInterface
	MessageLogService           MessageLogServiceInterface
	OutboundService             OutboundServiceInterface

	Sanitizer security.MessageSanitizer
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → Logging → CORS → Session → RateLimit(General) → CSRF
//
// webhook、/health、/metricsはセッションの外に配置する。
// オペレータールートにはさらにRequireOperatorを適用する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	sanitizer := deps.Sanitizer
	if sanitizer == nil {
		sanitizer = security.NewMessageSanitizer()
	}

	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	webhookHandler := NewWebhookHandler(deps.UpdateHandler, deps.WebhookSecret, deps.Metrics)
	authHandler := NewAuthHandler(deps.AuthService, deps.AccountService, deps.AuthConfig)
	linkHandler := NewLinkHandler(deps.LinkService, deps.LinkStatusService)
	convHandler := NewConversationHandler(deps.OwnConversationService, deps.WebMessageService, sanitizer)
	operatorHandler := NewOperatorHandler(
		deps.OperatorConversationService, deps.MessageLogService, deps.OutboundService, sanitizer,
	)

	// --- 認証不要のルート ---

	// Telegramからのwebhook（CSRFとセッションは適用しない）
	r.Method(http.MethodPost, "/telegram/webhook", webhookHandler)

	r.Get("/health", NewHealthHandler(deps.HealthChecker))
	if deps.MetricsGatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.MetricsGatherer))
	}

	// --- ブラウザ向けのルート ---
	r.Method(http.MethodGet, "/api/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig))
	r.With(middleware.NewCSRFMiddleware(deps.CSRFConfig)).Post("/auth/logout", authHandler.Logout)

	// ミドルウェアスタック: Session → RateLimit(General) → CSRF
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.SessionFinder))
		r.Use(deps.RateLimiter.GeneralMiddleware())
		r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))

		r.Get("/api/me", authHandler.Me)

		// Telegram連携
		r.Route("/api/telegram", func(r chi.Router) {
			r.Get("/status", linkHandler.Status)
			r.Route("/link", func(r chi.Router) {
				// 発行系は専用レート制限を追加
				r.With(deps.RateLimiter.LinkIssueMiddleware()).Post("/", linkHandler.IssueToken)
				r.With(deps.RateLimiter.LinkIssueMiddleware()).Get("/qr", linkHandler.QRCode)
				r.Delete("/", linkHandler.Unlink)
			})
		})

		// 自分の会話
		r.Route("/api/conversation/messages", func(r chi.Router) {
			r.Get("/", convHandler.ListMessages)
			r.Post("/", convHandler.PostMessage)
		})

		// オペレーター
		r.Route("/api/operator", func(r chi.Router) {
			r.Use(middleware.NewRequireOperatorMiddleware(deps.AccountFinder))

			r.Get("/conversations", operatorHandler.ListConversations)
			r.Route("/conversations/{id}", func(r chi.Router) {
				r.Get("/messages", operatorHandler.ListMessages)
				r.Post("/close", operatorHandler.CloseConversation)
			})
			r.Post("/accounts/{id}/messages", operatorHandler.SendToAccount)
			r.Put("/messages/{id}/read", operatorHandler.MarkRead)
		})
	})

	return r
}
