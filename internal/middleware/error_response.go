package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/hitoshi/farha/internal/model"
)

// ErrorResponseBody はAPIエラーレスポンスの統一フォーマット。
// 原因カテゴリと対処方法を含む。detailはmessageと同じ値で、既存クライアントとの互換用。
type ErrorResponseBody struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Detail   string `json:"detail"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// statusByCode はエラーコードとHTTPステータスの対応表。
var statusByCode = map[string]int{
	model.ErrCodeAuthenticationRequired:  http.StatusUnauthorized,
	model.ErrCodeInvalidOrExpiredSession: http.StatusUnauthorized,
	model.ErrCodeUserNotFound:            http.StatusNotFound,
	model.ErrCodeInvalidSession:          http.StatusBadRequest,
	model.ErrCodeSessionIDRequired:       http.StatusBadRequest,
	model.ErrCodeInvalidRequest:          http.StatusBadRequest,
	model.ErrCodeRateLimited:             http.StatusTooManyRequests,
	model.ErrCodeResolverUnavailable:     http.StatusInternalServerError,
	model.ErrCodePersistenceFailure:      http.StatusInternalServerError,
	model.ErrCodeInternal:                http.StatusInternalServerError,
}

// StatusCodeFor はAPIErrorに対応するHTTPステータスコードを返す。
// 未知のコードはカテゴリから判定する。
func StatusCodeFor(apiErr *model.APIError) int {
	if status, ok := statusByCode[apiErr.Code]; ok {
		return status
	}
	switch apiErr.Category {
	case "auth":
		return http.StatusUnauthorized
	case "validation":
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// WriteAPIError はAPIErrorを対応するステータスコードで書き込む。
func WriteAPIError(w http.ResponseWriter, apiErr *model.APIError) {
	status := StatusCodeFor(apiErr)
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer realm="farha"`)
	}
	WriteErrorResponse(w, status, apiErr)
}

// WriteErrorResponse は統一エラーフォーマットでHTTPエラーレスポンスを書き込む。
// サーバー起因のエラーの原因はレスポンスに含めない。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponseBody{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Detail:   apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// WriteInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, model.NewInternalError(nil))
}
