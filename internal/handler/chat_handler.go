package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/hitoshi/farha/internal/model"
)

// ChatServiceInterface はチャットハンドラーが必要とするサービスインターフェース。
type ChatServiceInterface interface {
	Send(ctx context.Context, userID, message string, isVoice bool) (*model.ChatMessage, error)
	History(ctx context.Context, userID string, limit int) ([]*model.ChatMessage, error)
}

// ChatHandler はチャットのHTTPハンドラー。
type ChatHandler struct {
	service ChatServiceInterface
}

// NewChatHandler はChatHandlerを生成する。
func NewChatHandler(service ChatServiceInterface) *ChatHandler {
	return &ChatHandler{service: service}
}

// chatRequest はチャット送信リクエストのボディ。
type chatRequest struct {
	Message string `json:"message"`
	IsVoice bool   `json:"is_voice"`
}

// chatResponse はチャット送信のAPIレスポンス。
type chatResponse struct {
	Response  string    `json:"response"`
	MessageID string    `json:"message_id"`
	Timestamp time.Time `json:"timestamp"`
}

// chatMessageResponse はチャット履歴1件のAPIレスポンス。
type chatMessageResponse struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Message   string    `json:"message"`
	Response  string    `json:"response"`
	Timestamp time.Time `json:"timestamp"`
	IsVoice   bool      `json:"is_voice"`
}

// Send はメッセージを送信し、アシスタントの応答を返す。
// POST /api/chat
func (h *ChatHandler) Send(w http.ResponseWriter, r *http.Request) {
	user := currentUser(w, r)
	if user == nil {
		return
	}

	var req chatRequest
	if apiErr := decodeJSONBody(w, r, &req); apiErr != nil {
		writeAPIErrorResponse(w, apiErr)
		return
	}

	msg, err := h.service.Send(r.Context(), user.ID, req.Message, req.IsVoice)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, chatResponse{
		Response:  msg.Response,
		MessageID: msg.ID,
		Timestamp: msg.Timestamp,
	})
}

// History はチャット履歴を新しい順に返す。
// GET /api/chat/history?limit=N
func (h *ChatHandler) History(w http.ResponseWriter, r *http.Request) {
	user := currentUser(w, r)
	if user == nil {
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeAPIErrorResponse(w, model.NewInvalidRequestError("limit must be an integer"))
			return
		}
		limit = n
	}

	messages, err := h.service.History(r.Context(), user.ID, limit)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	resp := make([]chatMessageResponse, len(messages))
	for i, m := range messages {
		resp[i] = chatMessageResponse{
			ID:        m.ID,
			UserID:    m.UserID,
			Message:   m.Message,
			Response:  m.Response,
			Timestamp: m.Timestamp.UTC(),
			IsVoice:   m.IsVoice,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
