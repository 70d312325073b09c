// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
// causeはサーバー側のログ出力専用であり、レスポンスには含めない。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, system
	Action   string // ユーザー向け対処方法

	cause error
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap はラップされた原因エラーを返す。
func (e *APIError) Unwrap() error {
	return e.cause
}

// IsServerSide はサーバー起因のエラー（5xx相当）かを返す。
func (e *APIError) IsServerSide() bool {
	return e.Category == "system"
}

// 定義済みエラーコード
const (
	ErrCodeAuthenticationRequired  = "AUTHENTICATION_REQUIRED"
	ErrCodeInvalidOrExpiredSession = "INVALID_OR_EXPIRED_SESSION"
	ErrCodeUserNotFound            = "USER_NOT_FOUND"
	ErrCodeInvalidSession          = "INVALID_SESSION"
	ErrCodeSessionIDRequired       = "SESSION_ID_REQUIRED"
	ErrCodeInvalidRequest          = "INVALID_REQUEST"
	ErrCodeRateLimited             = "RATE_LIMIT_EXCEEDED"
	ErrCodeResolverUnavailable     = "RESOLVER_UNAVAILABLE"
	ErrCodePersistenceFailure      = "PERSISTENCE_FAILURE"
	ErrCodeInternal                = "INTERNAL_ERROR"
)

// NewAuthenticationRequiredError はBearer認証情報が提示されていない場合のエラーを生成する。
func NewAuthenticationRequiredError() *APIError {
	return &APIError{
		Code:     ErrCodeAuthenticationRequired,
		Message:  "Authentication required",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}

// NewInvalidOrExpiredSessionError は有効なセッションが見つからない場合のエラーを生成する。
// 存在しないトークンと期限切れトークンは区別しない。
func NewInvalidOrExpiredSessionError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidOrExpiredSession,
		Message:  "Invalid or expired session",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewUserNotFoundError はセッションが参照するユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "User not found",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewInvalidSessionError は外部IdPがセッションIDを拒否した場合のエラーを生成する。
func NewInvalidSessionError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidSession,
		Message:  "Invalid session ID",
		Category: "auth",
		Action:   "もう一度ログインをやり直してください。",
	}
}

// NewSessionIDRequiredError はsession_idが未指定の場合のエラーを生成する。
func NewSessionIDRequiredError() *APIError {
	return &APIError{
		Code:     ErrCodeSessionIDRequired,
		Message:  "Session ID required",
		Category: "validation",
		Action:   "session_idを指定してください。",
	}
}

// NewInvalidRequestError はリクエストボディやパラメータが不正な場合のエラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("Invalid request: %s", reason),
		Category: "validation",
		Action:   "リクエスト内容を確認してください。",
	}
}

// NewRateLimitedError はレート制限を超過した場合のエラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "Too many requests",
		Category: "validation",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewResolverUnavailableError は外部IdPに到達できない場合のエラーを生成する。
// 詳細はcauseとしてログにのみ残す。
func NewResolverUnavailableError(cause error) *APIError {
	return &APIError{
		Code:     ErrCodeResolverUnavailable,
		Message:  "Internal server error",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
		cause:    cause,
	}
}

// NewPersistenceFailureError はストアの読み書きに失敗した場合のエラーを生成する。
// 詳細はcauseとしてログにのみ残す。
func NewPersistenceFailureError(cause error) *APIError {
	return &APIError{
		Code:     ErrCodePersistenceFailure,
		Message:  "Internal server error",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
		cause:    cause,
	}
}

// NewInternalError はその他の内部エラーを生成する。
func NewInternalError(cause error) *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "Internal server error",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
		cause:    cause,
	}
}
