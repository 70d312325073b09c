// Package app はサブコマンドごとの起動処理と依存関係のワイヤリングを提供する。
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/farha/internal/auth"
	"github.com/hitoshi/farha/internal/chat"
	"github.com/hitoshi/farha/internal/config"
	"github.com/hitoshi/farha/internal/database"
	"github.com/hitoshi/farha/internal/handler"
	"github.com/hitoshi/farha/internal/logger"
	"github.com/hitoshi/farha/internal/metrics"
	"github.com/hitoshi/farha/internal/middleware"
	"github.com/hitoshi/farha/internal/repository"
	"github.com/hitoshi/farha/internal/security"
	"github.com/hitoshi/farha/internal/voice"
	"github.com/hitoshi/farha/internal/worker/cleanup"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定されたレベルでロガーを再構成する
	logger.SetupDefaultWithLevel(w, logger.ParseLevel(cfg.LogLevel))

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
		return runHealthcheck(fmt.Sprintf("http://localhost:%s", port))
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("log_level", cfg.LogLevel),
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

// Server はHTTPハンドラーと、終了時に解放すべきリソースをまとめたもの。
type Server struct {
	Handler     http.Handler
	rateLimiter *middleware.RateLimiter
}

// Close はバックグラウンドのgoroutineを停止する。
func (s *Server) Close() {
	s.rateLimiter.Stop()
}

// NewServer は設定とDB接続から全依存関係をワイヤリングし、APIのHTTPハンドラーを構築する。
// regにはメトリクスの登録先を渡す。/metricsはregの内容を公開する。
func NewServer(cfg *config.Config, db *sql.DB, reg *prometheus.Registry) *Server {
	log := slog.Default()
	mc := metrics.NewCollector(reg)

	// リポジトリ
	userRepo := repository.NewPostgresUserRepo(db)
	sessionRepo := repository.NewPostgresSessionRepo(db)
	chatRepo := repository.NewPostgresChatMessageRepo(db)

	// セキュリティ
	guard := security.NewOutboundGuard()
	sanitizer := security.NewTextSanitizer()

	// ドメインサービス
	resolver := auth.NewHTTPResolver(
		guard.NewProviderClient(cfg.IdentityProviderTimeout),
		cfg.IdentityProviderURL,
		log,
		mc,
	)
	authService := auth.NewService(auth.ServiceDeps{
		Resolver:    resolver,
		UserRepo:    userRepo,
		SessionRepo: sessionRepo,
		Sanitizer:   sanitizer,
		URLGuard:    guard,
		Metrics:     mc,
		Logger:      log,
	})
	chatService := chat.NewService(chat.NewMockResponder(), chatRepo, sanitizer, mc, log, cfg.ChatHistoryLimit)

	// レート制限（設定値はreq/min）
	rlCfg := middleware.DefaultRateLimiterConfig()
	rlCfg.GeneralRate = middleware.PerMinute(cfg.RateLimitGeneral)
	rlCfg.GeneralBurst = cfg.RateLimitGeneral
	rlCfg.LoginRate = middleware.PerMinute(cfg.RateLimitLogin)
	rlCfg.LoginBurst = cfg.RateLimitLogin
	rateLimiter := middleware.NewRateLimiter(rlCfg)

	router := handler.NewRouter(&handler.RouterDeps{
		Authenticator: authService,
		RateLimiter:   rateLimiter,
		CORSOrigins:   cfg.CORSOrigins,
		Logger:        log,
		Metrics:       mc,
		Gatherer:      reg,
		AuthService:   authService,
		ChatService:   chatService,
		VoiceService:  voice.NewStubService(),
		Pinger:        db,
	})

	return &Server{Handler: router, rateLimiter: rateLimiter}
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established")

	// 2. ワイヤリング
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewDBStatsCollector(db, "farha"),
	)
	srv := NewServer(cfg, db, reg)
	defer srv.Close()

	// 3. HTTPサーバーの起動
	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           srv.Handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case <-stop:
	case err := <-serveErr:
		return fmt.Errorf("server listen error: %w", err)
	}
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// Worker はクリーンアップジョブと、そのメトリクスを公開するHTTPハンドラーをまとめたもの。
type Worker struct {
	Job     *cleanup.CleanupJob
	Handler http.Handler
}

// NewWorker はクリーンアップジョブをregに記録するCollectorでワイヤリングする。
// Handlerは/metricsでregの内容を公開する。
func NewWorker(cfg *config.Config, purger cleanup.SessionPurger, reg *prometheus.Registry) *Worker {
	mc := metrics.NewCollector(reg)

	job := cleanup.NewCleanupJob(purger, mc, slog.Default())
	job.Retention = cfg.SessionRetention

	r := chi.NewRouter()
	r.Method(http.MethodGet, "/metrics", metrics.Handler(reg))

	return &Worker{Job: job, Handler: r}
}

// runWorker はワーカーモードで起動する。
// DB接続を開き、期限切れセッションのクリーンアップジョブを定期実行する。
// ジョブのメトリクスはWorkerMetricsPortの/metricsで公開する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established (worker)")

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewDBStatsCollector(db, "farha"),
	)
	w := NewWorker(cfg, repository.NewPostgresSessionRepo(db), reg)

	server := &http.Server{
		Addr:              ":" + cfg.WorkerMetricsPort,
		Handler:           w.Handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("worker metrics server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("worker metrics server failed",
				slog.String("error", err.Error()),
			)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// メインgoroutineで実行（ブロッキング）
	w.Job.Start(ctx, cfg.SessionCleanupInterval)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Warn("worker metrics server shutdown failed",
			slog.String("error", err.Error()),
		)
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
// /api/health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(baseURL string) error {
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(baseURL + "/api/health")
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// openDatabase はDB接続を開き、疎通を確認する。
func openDatabase(cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
