// Package handler はHTTPハンドラーとルーティングを提供する。
package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/farha/internal/middleware"
	"github.com/hitoshi/farha/internal/model"
)

// maxJSONBodySize はJSONリクエストボディの上限。
const maxJSONBodySize = 1 << 20

// userResponse はユーザー情報のAPIレスポンス。
type userResponse struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Picture   *string   `json:"picture"`
	CreatedAt time.Time `json:"created_at"`
}

func toUserResponse(u *model.User) userResponse {
	resp := userResponse{
		ID:        u.ID,
		Email:     u.Email,
		Name:      u.Name,
		CreatedAt: u.CreatedAt.UTC(),
	}
	if u.Picture != "" {
		picture := u.Picture
		resp.Picture = &picture
	}
	return resp
}

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// writeAPIErrorResponse は統一エラーフォーマットでエラーレスポンスを書き込む。
func writeAPIErrorResponse(w http.ResponseWriter, apiErr *model.APIError) {
	middleware.WriteAPIError(w, apiErr)
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
// サーバー起因のエラーは原因をログに記録し、レスポンスには一般的なメッセージのみを返す。
func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		apiErr = model.NewInternalError(err)
	}
	if apiErr.IsServerSide() {
		slog.Error("request failed",
			slog.String("code", apiErr.Code),
			slog.String("error", apiErr.Error()),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
		)
	}
	writeAPIErrorResponse(w, apiErr)
}

// decodeJSONBody はリクエストボディを型付き構造体にデコードする。
// 未知のフィールド、複数のJSON値、サイズ超過はINVALID_REQUESTとなる。
func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) *model.APIError {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodySize)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		var maxBytesErr *http.MaxBytesError
		var syntaxErr *json.SyntaxError
		var typeErr *json.UnmarshalTypeError
		switch {
		case errors.Is(err, io.EOF):
			return model.NewInvalidRequestError("request body is empty")
		case errors.As(err, &maxBytesErr):
			return model.NewInvalidRequestError("request body is too large")
		case errors.As(err, &syntaxErr):
			return model.NewInvalidRequestError(fmt.Sprintf("malformed JSON at offset %d", syntaxErr.Offset))
		case errors.As(err, &typeErr):
			return model.NewInvalidRequestError(fmt.Sprintf("field %q has the wrong type", typeErr.Field))
		default:
			return model.NewInvalidRequestError(err.Error())
		}
	}
	if dec.More() {
		return model.NewInvalidRequestError("request body must contain a single JSON object")
	}
	return nil
}

// currentUser は認証ミドルウェアが注入したユーザーを取得する。
// 取得できない場合は401を書き込みnilを返す。
func currentUser(w http.ResponseWriter, r *http.Request) *model.User {
	user, err := middleware.UserFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, model.NewAuthenticationRequiredError())
		return nil
	}
	return user
}
