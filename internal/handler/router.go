package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/farha/internal/database"
	"github.com/hitoshi/farha/internal/metrics"
	"github.com/hitoshi/farha/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Authenticator middleware.Authenticator
	RateLimiter   *middleware.RateLimiter
	CORSOrigins   []string
	Logger        *slog.Logger
	Metrics       metrics.MetricsCollector

	// Gatherer がnilの場合は/metricsを公開しない
	Gatherer prometheus.Gatherer

	// サービス
	AuthService  AuthServiceInterface
	ChatService  ChatServiceInterface
	VoiceService VoiceServiceInterface

	// ヘルスチェック
	Pinger database.Pinger
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → CORS → Logging → (AuthGate → RateLimit(General))
//
// ヘルスチェック・メトリクス・セッション発行は認証グループの外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSOrigins))
	r.Use(middleware.NewLoggingMiddleware(logger, deps.Metrics))

	authHandler := NewAuthHandler(deps.AuthService)
	chatHandler := NewChatHandler(deps.ChatService)
	voiceHandler := NewVoiceHandler(deps.VoiceService)
	userHandler := NewUserHandler()
	healthHandler := NewHealthHandler(deps.Pinger)

	// --- 認証不要のルート ---
	r.Get("/api/health", healthHandler.Health)
	if deps.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.Gatherer))
	}
	r.With(deps.RateLimiter.LoginMiddleware()).Post("/api/auth/session", authHandler.CreateSession)

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: AuthGate → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewAuthMiddleware(deps.Authenticator))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Post("/api/auth/logout", authHandler.Logout)
		r.Get("/api/user/profile", userHandler.Profile)

		r.Route("/api/chat", func(r chi.Router) {
			r.Post("/", chatHandler.Send)
			r.Get("/history", chatHandler.History)
		})

		r.Route("/api/voice", func(r chi.Router) {
			r.Post("/tts", voiceHandler.TextToSpeech)
			r.Post("/stt", voiceHandler.SpeechToText)
			r.Get("/voices", voiceHandler.Voices)
		})
	})

	return r
}
