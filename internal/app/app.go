package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/icore-platform/icore/internal/auth"
	"github.com/icore-platform/icore/internal/config"
	"github.com/icore-platform/icore/internal/conversation"
	"github.com/icore-platform/icore/internal/database"
	"github.com/icore-platform/icore/internal/handler"
	"github.com/icore-platform/icore/internal/identity"
	"github.com/icore-platform/icore/internal/linktoken"
	"github.com/icore-platform/icore/internal/logger"
	"github.com/icore-platform/icore/internal/messagelog"
	"github.com/icore-platform/icore/internal/metrics"
	"github.com/icore-platform/icore/internal/middleware"
	"github.com/icore-platform/icore/internal/relay"
	"github.com/icore-platform/icore/internal/repository"
	"github.com/icore-platform/icore/internal/security"
	"github.com/icore-platform/icore/internal/telegram"
	"github.com/icore-platform/icore/internal/worker/cleanup"
)

// Init はアプリケーションの初期化を行う。
// .envと環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, slog.LevelInfo)

	// 2. .envを読み込む（既存の環境変数は上書きしない）
	if err := config.LoadDotEnv(".env"); err != nil {
		return nil, err
	}

	// 3. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 4. 設定されたログレベルで再構成し、tgbotapiのログもslogへ流す
	logger.SetupDefault(w, logger.ParseLevel(cfg.LogLevel))
	if err := tgbotapi.SetLogger(logger.NewBotLogger(slog.Default())); err != nil {
		return nil, fmt.Errorf("failed to set telegram logger: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	case CommandSetWebhook:
		return runSetWebhook(cfg)
	default:
		return runServe(cfg)
	}
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Connect(context.Background(), cfg.DatabaseURL, database.DefaultPoolConfig())
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established")

	// 2. Telegramクライアントの初期化
	bot, err := telegram.NewBotAPI(cfg.TelegramBotToken, cfg.TelegramAPIEndpoint, cfg.TelegramSendTimeout)
	if err != nil {
		return err
	}
	slog.Info("telegram bot initialized", slog.String("bot_username", bot.Self.UserName))

	// 3. メトリクス
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	// 4. 全依存関係のワイヤリング
	router, rateLimiter := buildRouter(cfg, db, telegram.NewDispatcher(bot), registry, collector)
	defer rateLimiter.Stop()

	// 5. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.TelegramSendTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return serveUntilSignal(server)
}

// buildRouter はリポジトリ、サービス、ハンドラーを組み立ててルーターを返す。
func buildRouter(
	cfg *config.Config,
	db *sql.DB,
	dispatcher relay.Dispatcher,
	registry *prometheus.Registry,
	collector metrics.MetricsCollector,
) (http.Handler, *middleware.RateLimiter) {
	// リポジトリ
	accountRepo := repository.NewPostgresAccountRepo(db)
	sessionRepo := repository.NewPostgresSessionRepo(db)
	linkTokenRepo := repository.NewPostgresLinkTokenRepo(db)
	conversationRepo := repository.NewPostgresConversationRepo(db)
	messageRepo := repository.NewPostgresMessageRepo(db)
	pendingRepo := repository.NewPostgresPendingMessageRepo(db)

	// ドメインサービス
	identityService := identity.NewService(accountRepo)
	linkService := linktoken.NewService(linkTokenRepo, identityService, cfg.LinkTokenTTL, cfg.TelegramBotUsername)
	conversationService := conversation.NewService(conversationRepo)
	messageService := messagelog.NewService(messageRepo)
	authService := auth.NewService(sessionRepo)

	outbound := relay.NewOutbound(
		identityService, conversationService, messageService, dispatcher,
		collector, slog.Default(),
	)
	ingest := relay.NewIngest(
		identityService, linkService, conversationService, messageService, pendingRepo,
		outbound, collector, slog.Default(), cfg.DefaultLocale,
	)

	rateLimiter := middleware.NewRateLimiter(
		middleware.NewRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitLinkIssue),
	)
	cookieSecure := strings.HasPrefix(cfg.BaseURL, "https://")

	deps := &handler.RouterDeps{
		Logger:            slog.Default(),
		SessionFinder:     sessionRepo,
		AccountFinder:     identityService,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		CSRFConfig:        middleware.CSRFConfig{CookieSecure: cookieSecure},

		HealthChecker:   db,
		MetricsGatherer: registry,
		Metrics:         collector,

		UpdateHandler: ingest,
		WebhookSecret: cfg.TelegramWebhookSecret,

		AuthService:    authService,
		AccountService: identityService,
		AuthConfig:     handler.AuthHandlerConfig{CookieSecure: cookieSecure},

		LinkService:       linkService,
		LinkStatusService: identityService,

		OwnConversationService: handler.NewOwnConversationAdapter(conversationService, messageService),
		WebMessageService:      ingest,

		OperatorConversationService: conversationService,
		MessageLogService:           messageService,
		OutboundService:             outbound,

		Sanitizer: security.NewMessageSanitizer(),
	}

	return handler.NewRouter(deps), rateLimiter
}

// serveUntilSignal はサーバーを起動し、SIGINTまたはSIGTERMでグレースフルシャットダウンする。
func serveUntilSignal(server *http.Server) error {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server listen error: %w", err)
	case <-stop:
	}
	slog.Info("shutting down HTTP server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("HTTP server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// DB接続を開き、クリーンアップジョブを定期実行する。
// /metricsはSERVER_PORTで公開する。
func runWorker(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Connect(context.Background(), cfg.DatabaseURL, database.DefaultPoolConfig())
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established (worker)")

	// 2. メトリクス
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	metricsServer := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           metrics.SetupMetricsRoute(registry),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics server error", slog.String("error", err.Error()))
		}
	}()

	// 3. クリーンアップジョブ
	cleanupJob := cleanup.NewCleanupJob(db, slog.Default(), collector, cfg.PendingRetentionDays)

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	slog.Info("worker starting",
		slog.Duration("cleanup_interval", cfg.CleanupInterval),
		slog.Int("pending_retention_days", cfg.PendingRetentionDays),
	)

	// クリーンアップジョブをメインgoroutineで実行（ブロッキング）
	cleanupJob.Start(ctx, cfg.CleanupInterval)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn("metrics server shutdown failed", slog.String("error", err.Error()))
	}

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	version, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully", slog.Uint64("version", uint64(version)))
	return nil
}

// runSetWebhook はBASE_URLから組み立てたwebhook URLをTelegramに登録する。
func runSetWebhook(cfg *config.Config) error {
	bot, err := telegram.NewBotAPI(cfg.TelegramBotToken, cfg.TelegramAPIEndpoint, cfg.TelegramSendTimeout)
	if err != nil {
		return err
	}

	if err := telegram.SetWebhook(bot, cfg.WebhookURL(), cfg.TelegramWebhookSecret); err != nil {
		return fmt.Errorf("set-webhook failed: %w", err)
	}

	slog.Info("telegram webhook registered",
		slog.String("url", cfg.WebhookURL()),
		slog.Bool("secret_token", cfg.TelegramWebhookSecret != ""),
	)
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
