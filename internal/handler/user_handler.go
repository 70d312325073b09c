package handler

import "net/http"

// UserHandler はユーザー情報のHTTPハンドラー。
type UserHandler struct{}

// NewUserHandler はUserHandlerを生成する。
func NewUserHandler() *UserHandler {
	return &UserHandler{}
}

// Profile は認証済みユーザーのプロフィールを返す。
// GET /api/user/profile
func (h *UserHandler) Profile(w http.ResponseWriter, r *http.Request) {
	user := currentUser(w, r)
	if user == nil {
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(user))
}
