// Package model はドメインモデルを定義する。
package model

import "time"

// User は認証済みのエンドユーザーを表す。
// emailは外部IdPの安定した識別キーであり、全ユーザーで一意となる。
// 初回ログイン時に1回だけ作成され、以降この認証サブシステムから更新・削除されることはない。
type User struct {
	ID        string
	Email     string
	Name      string
	Picture   string // 任意。未設定の場合は空文字列
	CreatedAt time.Time
}

// AuthSession は失効可能な永続ログインセッションを表す。
// SessionTokenはBearer認証情報としてそのまま使用される。
// 有効性は読み取り時に now < ExpiresAt で判定する（期限切れ行の削除には依存しない）。
type AuthSession struct {
	SessionToken string
	UserID       string
	ExpiresAt    time.Time
	CreatedAt    time.Time
}

// IsValidAt は指定時刻においてセッションが有効かを返す。
func (s *AuthSession) IsValidAt(now time.Time) bool {
	return now.Before(s.ExpiresAt)
}
