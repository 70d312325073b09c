// Package auth は外部IDプロバイダによるセッション発行と、Bearerトークンによる認証ゲートを提供する。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/farha/internal/metrics"
	"github.com/hitoshi/farha/internal/model"
	"github.com/hitoshi/farha/internal/repository"
	"github.com/hitoshi/farha/internal/security"
)

// SessionTTL は発行するセッションの有効期間。呼び出しごとに変更はできない。
const SessionTTL = 7 * 24 * time.Hour

// IssuedSession はセッション発行の結果。
type IssuedSession struct {
	User         *model.User
	SessionToken string
	ExpiresAt    time.Time
}

// ServiceDeps は認証サービスの依存関係。
type ServiceDeps struct {
	Resolver    IdentityResolver
	UserRepo    repository.UserRepository
	SessionRepo repository.SessionRepository
	Sanitizer   security.TextSanitizerService
	URLGuard    security.OutboundGuardService
	Metrics     metrics.MetricsCollector
	Logger      *slog.Logger
}

// Service はセッション発行・認証・ログアウトのビジネスロジックを提供する。
// プロセス内のロックは持たず、並行安全性はストアの単一行操作に委ねる。
type Service struct {
	resolver    IdentityResolver
	userRepo    repository.UserRepository
	sessionRepo repository.SessionRepository
	sanitizer   security.TextSanitizerService
	urlGuard    security.OutboundGuardService
	metrics     metrics.MetricsCollector
	logger      *slog.Logger
	now         func() time.Time
}

// NewService はServiceを生成する。
func NewService(deps ServiceDeps) *Service {
	mc := deps.Metrics
	if mc == nil {
		mc = metrics.NopCollector{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		resolver:    deps.Resolver,
		userRepo:    deps.UserRepo,
		sessionRepo: deps.SessionRepo,
		sanitizer:   deps.Sanitizer,
		urlGuard:    deps.URLGuard,
		metrics:     mc,
		logger:      logger,
		now:         time.Now,
	}
}

// ProcessSession は外部セッションIDをIDプロバイダで検証し、ユーザーを確定してセッションを発行する。
// 手順はプロバイダ照会、emailによるユーザー検索、未登録なら作成、セッション保存の順に逐次実行する。
// ユーザー作成後にセッション保存が失敗した場合もロールバックしない（次回ログインで既存ユーザーとして続行できる）。
func (s *Service) ProcessSession(ctx context.Context, externalSessionID string) (*IssuedSession, error) {
	externalSessionID = strings.TrimSpace(externalSessionID)
	if externalSessionID == "" {
		return nil, model.NewSessionIDRequiredError()
	}

	identity, err := s.resolver.Resolve(ctx, externalSessionID)
	if err != nil {
		if errors.Is(err, ErrProviderRejected) {
			s.metrics.RecordLogin(metrics.LoginResultInvalidSession)
			return nil, model.NewInvalidSessionError()
		}
		s.metrics.RecordLogin(metrics.LoginResultUnavailable)
		return nil, model.NewResolverUnavailableError(err)
	}

	user, err := s.findOrCreateUser(ctx, identity)
	if err != nil {
		s.metrics.RecordLogin(metrics.LoginResultPersistenceFail)
		return nil, model.NewPersistenceFailureError(err)
	}

	now := s.now()
	session := &model.AuthSession{
		SessionToken: identity.SessionToken,
		UserID:       user.ID,
		ExpiresAt:    now.Add(SessionTTL),
		CreatedAt:    now,
	}
	if err := s.sessionRepo.Insert(ctx, session); err != nil {
		s.metrics.RecordLogin(metrics.LoginResultPersistenceFail)
		return nil, model.NewPersistenceFailureError(fmt.Errorf("failed to save session: %w", err))
	}

	s.metrics.RecordLogin(metrics.LoginResultSuccess)
	s.logger.Info("session issued",
		slog.String("user_id", user.ID),
		slog.String("session", MaskToken(session.SessionToken)),
		slog.Time("expires_at", session.ExpiresAt),
	)

	return &IssuedSession{
		User:         user,
		SessionToken: session.SessionToken,
		ExpiresAt:    session.ExpiresAt,
	}, nil
}

// findOrCreateUser はemailでユーザーを検索し、存在しなければ作成する。
// 同一emailの初回ログインが並行した場合、一意制約で後着側の挿入は無視され既存レコードを再取得する。
func (s *Service) findOrCreateUser(ctx context.Context, identity *Identity) (*model.User, error) {
	existing, err := s.userRepo.FindByEmail(ctx, identity.Email)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	if existing != nil {
		s.logger.Info("existing user logged in", slog.String("user_id", existing.ID))
		return existing, nil
	}

	newUser := &model.User{
		ID:        uuid.New().String(),
		Email:     identity.Email,
		Name:      s.displayName(identity),
		Picture:   s.pictureURL(identity.Picture),
		CreatedAt: s.now(),
	}

	created, err := s.userRepo.Insert(ctx, newUser)
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	if created {
		s.metrics.RecordUserCreated()
		s.logger.Info("new user created", slog.String("user_id", newUser.ID))
		return newUser, nil
	}

	// 並行ログインで先に作成されたレコードを使用する
	winner, err := s.userRepo.FindByEmail(ctx, identity.Email)
	if err != nil {
		return nil, fmt.Errorf("failed to re-read user after conflict: %w", err)
	}
	if winner == nil {
		return nil, fmt.Errorf("user disappeared after email conflict")
	}
	s.logger.Info("concurrent first login resolved to existing user", slog.String("user_id", winner.ID))
	return winner, nil
}

// displayName は表示名をサニタイズする。空になった場合はemailを使用する。
func (s *Service) displayName(identity *Identity) string {
	name := identity.Name
	if s.sanitizer != nil {
		name = s.sanitizer.Sanitize(name)
	}
	if name == "" {
		return identity.Email
	}
	return name
}

// pictureURL はプロフィール画像URLを検証し、不正な場合は空文字列を返す。
func (s *Service) pictureURL(raw string) string {
	if raw == "" || s.urlGuard == nil {
		return raw
	}
	if err := s.urlGuard.ValidatePictureURL(raw); err != nil {
		s.logger.Warn("discarding provider picture url", slog.String("reason", err.Error()))
		return ""
	}
	return raw
}

// Authenticate はBearerトークンを検証し、呼び出し元のユーザーを返す。
// トークンが空の場合はストアにアクセスせずAuthenticationRequiredを返す。
// 存在しないトークンと期限切れトークンはどちらもInvalidOrExpiredSessionとなり区別されない。
// 成功時もセッションは更新しない（スライディング有効期限なし）。
func (s *Service) Authenticate(ctx context.Context, token string) (*model.User, error) {
	if token == "" {
		s.metrics.RecordGateDecision(metrics.GateResultNoCredential)
		return nil, model.NewAuthenticationRequiredError()
	}

	session, user, err := s.sessionRepo.FindValid(ctx, token, s.now())
	if err != nil {
		s.metrics.RecordGateDecision(metrics.GateResultStoreFailure)
		return nil, model.NewPersistenceFailureError(fmt.Errorf("failed to find session: %w", err))
	}
	if session == nil {
		s.metrics.RecordGateDecision(metrics.GateResultInvalid)
		s.logger.Debug("rejected bearer token", slog.String("session", MaskToken(token)))
		return nil, model.NewInvalidOrExpiredSessionError()
	}
	if user == nil {
		s.metrics.RecordGateDecision(metrics.GateResultUserNotFound)
		s.logger.Warn("session references missing user",
			slog.String("user_id", session.UserID),
			slog.String("session", MaskToken(token)),
		)
		return nil, model.NewUserNotFoundError()
	}

	s.metrics.RecordGateDecision(metrics.GateResultAllowed)
	return user, nil
}

// Logout はユーザーの全セッションを削除し、削除件数を返す。
// セッションが1件も存在しなくても成功とする。
func (s *Service) Logout(ctx context.Context, userID string) (int64, error) {
	if userID == "" {
		return 0, model.NewAuthenticationRequiredError()
	}

	deleted, err := s.sessionRepo.DeleteByUserID(ctx, userID)
	if err != nil {
		return 0, model.NewPersistenceFailureError(fmt.Errorf("failed to delete sessions: %w", err))
	}

	s.metrics.RecordLogoutSessionsDeleted(deleted)
	s.logger.Info("user logged out",
		slog.String("user_id", userID),
		slog.Int64("sessions_deleted", deleted),
	)
	return deleted, nil
}

// MaskToken はログ出力用にトークンの先頭4文字以外を伏せる。
func MaskToken(token string) string {
	if len(token) <= 4 {
		return "****"
	}
	return token[:4] + "****"
}
