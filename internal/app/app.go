package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/time/rate"

	"github.com/hitoshi/menucatalog/internal/auth"
	"github.com/hitoshi/menucatalog/internal/config"
	"github.com/hitoshi/menucatalog/internal/database"
	"github.com/hitoshi/menucatalog/internal/handler"
	"github.com/hitoshi/menucatalog/internal/logger"
	"github.com/hitoshi/menucatalog/internal/metrics"
	"github.com/hitoshi/menucatalog/internal/middleware"
	"github.com/hitoshi/menucatalog/internal/rating"
	"github.com/hitoshi/menucatalog/internal/repository"
	"github.com/hitoshi/menucatalog/internal/security"
	"github.com/hitoshi/menucatalog/internal/worker/cleanup"
)

// defaultPool はAPIサーバーとワーカーで共通のコネクションプール設定。
var defaultPool = database.PoolConfig{
	MaxOpenConns:    25,
	MaxIdleConns:    5,
	ConnMaxLifetime: 5 * time.Minute,
}

// Init はアプリケーションの初期化を行う。
// JSON構造化ログをセットアップし、設定を読み込んでログレベルを反映する。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := logger.SetLevel(cfg.LogLevel); err != nil {
		return nil, fmt.Errorf("failed to set log level: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd, err := ParseCommand(args)
	if err != nil {
		return err
	}

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
		slog.String("session_store", cfg.SessionStore),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case CommandWorker:
		return runWorker(ctx, cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(ctx, cfg)
	}
}

// openDatabase はDBに接続し、スキーマがmigrate済みであることを確かめる。
func openDatabase(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	db, err := database.Connect(ctx, cfg.DatabaseURL, defaultPool)
	if err != nil {
		return nil, err
	}
	if err := database.CheckSchema(cfg.DatabaseURL); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w (run the migrate subcommand first)", err)
	}
	return db, nil
}

// openSessionStore は設定に応じたセッションストアを開く。
// 返されたclose関数はプロセス終了時に呼び出す。
func openSessionStore(cfg *config.Config, db *sql.DB) (repository.SessionRepository, func() error, error) {
	noop := func() error { return nil }

	switch cfg.SessionStore {
	case config.SessionStoreMemory:
		return repository.NewMemorySessionRepo(), noop, nil
	case config.SessionStoreBadger:
		bdb, err := repository.OpenBadger(cfg.SessionBadgerPath)
		if err != nil {
			return nil, nil, err
		}
		return repository.NewBadgerSessionRepo(bdb), bdb.Close, nil
	case config.SessionStorePostgres:
		return repository.NewPostgresSessionRepo(db), noop, nil
	default:
		return nil, nil, fmt.Errorf("unknown session store: %q", cfg.SessionStore)
	}
}

// cleansInProcess はserveプロセス内で期限切れセッションを削除すべきストアかを返す。
// Postgresストアはworkerサブコマンドが削除する。
func cleansInProcess(store string) bool {
	return store == config.SessionStoreMemory || store == config.SessionStoreBadger
}

// rateLimiterConfig は設定値（req/min）からRateLimiterConfigを組み立てる。
func rateLimiterConfig(cfg *config.Config) middleware.RateLimiterConfig {
	rl := middleware.DefaultRateLimiterConfig()
	rl.GeneralRate = rate.Limit(float64(cfg.RateLimitGeneral) / 60.0)
	rl.GeneralBurst = cfg.RateLimitGeneral
	rl.WriteRate = rate.Limit(float64(cfg.RateLimitWrite) / 60.0)
	rl.WriteBurst = cfg.RateLimitWrite
	return rl
}

// server はHTTPハンドラーと、停止時に解放するリソースをまとめたもの。
type server struct {
	handler http.Handler
	limiter *middleware.RateLimiter
}

// buildServer は全依存関係をワイヤリングしてHTTPハンドラーを構築する。
func buildServer(cfg *config.Config, db *sql.DB, sessionStore repository.SessionRepository, reg *prometheus.Registry) *server {
	collector := metrics.NewCollector(reg)

	// 1. リポジトリの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	identRepo := repository.NewPostgresIdentityRepo(db)
	menuRepo := repository.NewPostgresMenuRepo(db)
	ratingRepo := repository.NewPostgresRatingRepo(db)
	uow := repository.NewPostgresUnitOfWork(db)

	// 2. セキュリティサービスの初期化
	urlGuard := security.NewURLGuard()
	sanitizer := security.NewTextSanitizer()

	// 3. ドメインサービスの初期化
	provider := auth.NewGoogleProvider(auth.GoogleConfig{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleRedirectURL,
		HTTPClient:   urlGuard.NewSafeClient(cfg.ProviderTimeout),
	}, collector)
	authService := auth.NewService(
		provider, userRepo, identRepo, sanitizer, urlGuard, collector,
		auth.ServiceConfig{ClientID: cfg.GoogleClientID},
	)
	ratingService := rating.NewService(uow, ratingRepo, menuRepo, sanitizer, collector, rating.Config{})

	// 4. セッションとガードの初期化
	sessions := middleware.NewSessionManager(sessionStore, middleware.SessionConfig{
		MaxAge:       cfg.SessionMaxAgeDuration(),
		CookieSecure: cfg.CookieSecure,
		CookieDomain: cfg.CookieDomain,
	})
	csrf := middleware.NewCSRFTokens(middleware.CSRFConfig{
		CookieSecure: cfg.CookieSecure,
		CookieDomain: cfg.CookieDomain,
	})
	limiter := middleware.NewRateLimiter(rateLimiterConfig(cfg))

	// 5. ルーターの構築
	router := handler.NewRouter(&handler.RouterDeps{
		HealthChecker:     db,
		Gatherer:          reg,
		Metrics:           collector,
		Logger:            slog.Default(),
		Sessions:          sessions,
		CSRF:              csrf,
		Guard:             middleware.NewGuard(csrf, collector),
		RateLimiter:       limiter,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		HSTS:              cfg.CookieSecure,
		SignInRateLimit:   cfg.RateLimitSignIn,
		SignInRateWindow:  time.Minute,
		AuthService:       authService,
		RatingService:     ratingService,
		MenuService:       ratingService,
	})

	return &server{handler: router, limiter: limiter}
}

// newRegistry はプロセスとGoランタイムのメトリクスを含むレジストリを生成する。
func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// runServe はAPIサーバーモードで起動する。
// ctxがキャンセルされる（SIGINT/SIGTERM）とグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	// 1. DB接続
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	slog.Info("database connection established")

	// 2. セッションストア
	sessionStore, closeStore, err := openSessionStore(cfg, db)
	if err != nil {
		return fmt.Errorf("failed to open session store: %w", err)
	}
	defer func() {
		if err := closeStore(); err != nil {
			slog.Error("failed to close session store", slog.String("error", err.Error()))
		}
	}()

	if cleansInProcess(cfg.SessionStore) {
		job := cleanup.NewCleanupJob(sessionStore, slog.Default())
		go job.Start(ctx, cfg.SessionCleanupInterval)
	}

	// 3. 依存関係のワイヤリング
	srv := buildServer(cfg, db, sessionStore, newRegistry())
	defer srv.limiter.Stop()

	// 4. HTTPサーバーの起動
	httpServer := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      srv.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server starting", slog.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server listen error: %w", err)
		}
	case <-ctx.Done():
	}
	slog.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// Postgresストアの期限切れセッションを定期的に削除する。
// memory・badgerストアはserveプロセス内で削除するため何もしない。
func runWorker(ctx context.Context, cfg *config.Config) error {
	if cleansInProcess(cfg.SessionStore) {
		slog.Info("session cleanup runs inside the serve process; worker has nothing to do",
			slog.String("session_store", cfg.SessionStore),
		)
		return nil
	}

	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	slog.Info("database connection established (worker)")

	job := cleanup.NewCleanupJob(repository.NewPostgresSessionRepo(db), slog.Default())

	slog.Info("worker starting",
		slog.Duration("cleanup_interval", cfg.SessionCleanupInterval),
	)
	job.Start(ctx, cfg.SessionCleanupInterval)

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

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	target := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(target)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLのパスワードをマスクする。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "***"
	}
	return u.Redacted()
}
