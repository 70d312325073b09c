// Package chat はチャットメッセージの応答生成と履歴の永続化を提供する。
package chat

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/farha/internal/metrics"
	"github.com/hitoshi/farha/internal/model"
	"github.com/hitoshi/farha/internal/repository"
	"github.com/hitoshi/farha/internal/security"
)

const (
	// DefaultHistoryLimit は履歴取得件数の既定値。
	DefaultHistoryLimit = 50
	// MaxHistoryLimit は履歴取得件数の上限。
	MaxHistoryLimit = 200
	// maxMessageLength はメッセージ本文の最大文字数（rune単位）。
	maxMessageLength = 4000
)

// Service はチャットのビジネスロジックを提供する。
type Service struct {
	responder    Responder
	repo         repository.ChatMessageRepository
	sanitizer    security.TextSanitizerService
	metrics      metrics.MetricsCollector
	logger       *slog.Logger
	defaultLimit int
	now          func() time.Time
}

// NewService はServiceを生成する。defaultLimitが範囲外の場合はDefaultHistoryLimitを使用する。
func NewService(
	responder Responder,
	repo repository.ChatMessageRepository,
	sanitizer security.TextSanitizerService,
	mc metrics.MetricsCollector,
	logger *slog.Logger,
	defaultLimit int,
) *Service {
	if defaultLimit < 1 || defaultLimit > MaxHistoryLimit {
		defaultLimit = DefaultHistoryLimit
	}
	if mc == nil {
		mc = metrics.NopCollector{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		responder:    responder,
		repo:         repo,
		sanitizer:    sanitizer,
		metrics:      mc,
		logger:       logger,
		defaultLimit: defaultLimit,
		now:          time.Now,
	}
}

// Send はメッセージをサニタイズして応答を生成し、やり取りを履歴として保存する。
func (s *Service) Send(ctx context.Context, userID, message string, isVoice bool) (*model.ChatMessage, error) {
	text := s.sanitizer.Sanitize(message)
	if text == "" {
		return nil, model.NewInvalidRequestError("message is required")
	}
	if len([]rune(text)) > maxMessageLength {
		return nil, model.NewInvalidRequestError(fmt.Sprintf("message must be at most %d characters", maxMessageLength))
	}

	response, err := s.responder.Respond(ctx, userID, text)
	if err != nil {
		return nil, model.NewInternalError(fmt.Errorf("failed to generate response: %w", err))
	}

	msg := &model.ChatMessage{
		ID:        uuid.New().String(),
		UserID:    userID,
		Message:   text,
		Response:  response,
		Timestamp: s.now().UTC(),
		IsVoice:   isVoice,
	}
	if err := s.repo.Create(ctx, msg); err != nil {
		return nil, model.NewPersistenceFailureError(err)
	}

	s.metrics.RecordChatMessage(isVoice)
	s.logger.Debug("chat message stored",
		slog.String("user_id", userID),
		slog.String("message_id", msg.ID),
		slog.Bool("is_voice", isVoice),
	)
	return msg, nil
}

// History はユーザーのチャット履歴を新しい順に返す。
// limitが0以下の場合は既定値、上限を超える場合はMaxHistoryLimitに丸める。
func (s *Service) History(ctx context.Context, userID string, limit int) ([]*model.ChatMessage, error) {
	messages, err := s.repo.ListByUserID(ctx, userID, s.ClampLimit(limit))
	if err != nil {
		return nil, model.NewPersistenceFailureError(err)
	}
	return messages, nil
}

// ClampLimit は履歴取得件数を[1, MaxHistoryLimit]に丸める。
func (s *Service) ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return s.defaultLimit
	case limit > MaxHistoryLimit:
		return MaxHistoryLimit
	default:
		return limit
	}
}
