// Package app はアプリケーションの起動とワイヤリングを提供する。
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/CoderXYZ14/syncal/internal/auth"
	"github.com/CoderXYZ14/syncal/internal/calendar"
	"github.com/CoderXYZ14/syncal/internal/config"
	"github.com/CoderXYZ14/syncal/internal/database"
	"github.com/CoderXYZ14/syncal/internal/event"
	"github.com/CoderXYZ14/syncal/internal/handler"
	"github.com/CoderXYZ14/syncal/internal/logger"
	"github.com/CoderXYZ14/syncal/internal/metrics"
	"github.com/CoderXYZ14/syncal/internal/middleware"
	"github.com/CoderXYZ14/syncal/internal/poller"
	"github.com/CoderXYZ14/syncal/internal/repository"
	"github.com/CoderXYZ14/syncal/internal/security"
	"github.com/CoderXYZ14/syncal/internal/subscription"
	syncpkg "github.com/CoderXYZ14/syncal/internal/sync"
	"github.com/CoderXYZ14/syncal/internal/worker/renewal"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	logger.SetupDefault(w)

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
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
	default:
		return runServe(cfg)
	}
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	// 2. リポジトリの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	sessionRepo := repository.NewPostgresSessionRepo(db)
	eventRepo := repository.NewPostgresEventRepo(db)

	// 3. セキュリティサービスの初期化
	callbackGuard := security.NewCallbackGuard()
	sanitizer := security.NewDescriptionSanitizer()

	// 4. メトリクスの初期化
	collector := metrics.NewCollector()

	// 5. ドメインサービスの初期化
	calendarClient := calendar.NewGoogleClient(calendar.GoogleClientConfig{
		MaxResults:   cfg.SyncMaxResults,
		ChannelTTL:   cfg.ChannelTTL,
		FetchTimeout: cfg.SyncFetchTimeout,
	})

	reconciler := syncpkg.NewReconciler(
		calendarClient, eventRepo, sanitizer, collector,
		slog.Default(), syncpkg.Options{},
	)

	channelManager := subscription.NewManager(
		calendarClient, userRepo, callbackGuard, collector, slog.Default(),
	)

	oauthProvider := auth.NewGoogleOAuthProvider(auth.GoogleOAuthConfig{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleRedirectURL,
	})
	authService := auth.NewService(
		oauthProvider, userRepo, sessionRepo,
		auth.ServiceConfig{SessionMaxAge: cfg.SessionMaxAge},
	)

	eventService := event.NewService(
		calendarClient, reconciler, userRepo, eventRepo, sanitizer, slog.Default(),
	)

	// 6. ルーターの構築
	deps := &handler.RouterDeps{
		HealthChecker:     db,
		SessionFinder:     sessionRepo,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       middleware.NewRateLimiter(middleware.NewRateLimiterConfig(cfg.RateLimitGeneral)),
		Logger:            slog.Default(),

		AuthService: authService,
		AuthConfig: handler.AuthHandlerConfig{
			BaseURL:       cfg.BaseURL,
			CookieDomain:  cfg.CookieDomain,
			CookieSecure:  cfg.CookieSecure,
			SessionMaxAge: cfg.SessionMaxAge,
		},

		EventService: eventService,

		ChannelManager: channelManager,
		UserRepo:       userRepo,
		CallbackURL:    cfg.WebhookCallbackURL(),

		ChannelUserFinder: userRepo,
		Synchronizer:      reconciler,
		WebhookMetrics:    collector,

		MetricsHandler: collector.Handler(),
	}

	router := handler.NewRouter(deps)

	// 7. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// チャネル更新ワーカーとポーリングによる補完同期を起動する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established (worker)")

	// 2. リポジトリの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	eventRepo := repository.NewPostgresEventRepo(db)

	// 3. セキュリティサービスとメトリクスの初期化
	callbackGuard := security.NewCallbackGuard()
	sanitizer := security.NewDescriptionSanitizer()
	collector := metrics.NewCollector()

	// 4. 同期エンジンとチャネル管理の初期化
	calendarClient := calendar.NewGoogleClient(calendar.GoogleClientConfig{
		MaxResults:   cfg.SyncMaxResults,
		ChannelTTL:   cfg.ChannelTTL,
		FetchTimeout: cfg.SyncFetchTimeout,
	})

	reconciler := syncpkg.NewReconciler(
		calendarClient, eventRepo, sanitizer, collector,
		slog.Default(), syncpkg.Options{},
	)

	channelManager := subscription.NewManager(
		calendarClient, userRepo, callbackGuard, collector, slog.Default(),
	)

	// 5. チャネル更新ワーカーの初期化
	renewalWorker := renewal.NewWorker(
		userRepo, channelManager, cfg.WebhookCallbackURL(),
		cfg.ChannelRenewMargin, cfg.RenewalInterval, slog.Default(),
	)

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	slog.Info("worker starting",
		slog.Duration("renewal_interval", cfg.RenewalInterval),
		slog.Duration("poll_interval", cfg.PollInterval),
	)

	// 6. ポーリングによる補完同期をバックグラウンドで起動
	// プッシュ通知の欠落・遅延を埋める保険として、
	// アクティブなチャネルを持つ全ユーザーを定期的に同期する。
	syncPoller := poller.New(cfg.PollInterval, func(ctx context.Context) {
		users, err := userRepo.ListWithActiveChannels(ctx)
		if err != nil {
			slog.Error("同期対象ユーザーの列挙に失敗しました",
				slog.String("error", err.Error()),
			)
			return
		}
		for _, user := range users {
			if ctx.Err() != nil {
				return
			}
			if _, err := reconciler.Reconcile(ctx, user); err != nil {
				slog.Error("ポーリング同期に失敗しました",
					slog.String("user_id", user.ID),
					slog.String("error", err.Error()),
				)
			}
		}
	}, slog.Default())

	syncPoller.Start(ctx)
	defer syncPoller.Stop()

	// チャネル更新ワーカーをメインgoroutineで実行（ブロッキング）
	if err := renewalWorker.Run(ctx); err != nil && err != context.Canceled {
		return fmt.Errorf("renewal worker failed: %w", err)
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

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
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

// maskDatabaseURL は接続文字列からパスワードを除去してログ出力用に整形する。
func maskDatabaseURL(databaseURL string) string {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return "(invalid url)"
	}
	if u.User != nil {
		if _, has := u.User.Password(); has {
			u.User = url.UserPassword(u.User.Username(), "xxxxx")
		}
	}
	return u.String()
}
