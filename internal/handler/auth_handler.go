package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/hitoshi/farha/internal/auth"
	"github.com/hitoshi/farha/internal/model"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	ProcessSession(ctx context.Context, externalSessionID string) (*auth.IssuedSession, error)
	Logout(ctx context.Context, userID string) (int64, error)
}

// AuthHandler はセッション発行とログアウトのHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface) *AuthHandler {
	return &AuthHandler{service: service}
}

// createSessionRequest はセッション発行リクエストのボディ。
type createSessionRequest struct {
	SessionID string `json:"session_id"`
}

// sessionResponse はセッション発行のAPIレスポンス。
type sessionResponse struct {
	User         userResponse `json:"user"`
	SessionToken string       `json:"session_token"`
	ExpiresAt    time.Time    `json:"expires_at"`
}

// CreateSession は外部セッションIDを永続セッションに交換する。
// POST /api/auth/session
func (h *AuthHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if apiErr := decodeJSONBody(w, r, &req); apiErr != nil {
		writeAPIErrorResponse(w, apiErr)
		return
	}
	if strings.TrimSpace(req.SessionID) == "" {
		writeAPIErrorResponse(w, model.NewSessionIDRequiredError())
		return
	}

	issued, err := h.service.ProcessSession(r.Context(), req.SessionID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, sessionResponse{
		User:         toUserResponse(issued.User),
		SessionToken: issued.SessionToken,
		ExpiresAt:    issued.ExpiresAt.UTC(),
	})
}

// Logout は呼び出し元ユーザーの全セッションを削除する。
// POST /api/auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	user := currentUser(w, r)
	if user == nil {
		return
	}

	if _, err := h.service.Logout(r.Context(), user.ID); err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "Logged out successfully"})
}
