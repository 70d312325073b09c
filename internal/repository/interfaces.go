// Package repository はデータ永続化のインターフェースとPostgreSQL実装を定義する。
// User と AuthSession の永続レコードはこのパッケージのみが所有する。
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/hitoshi/farha/internal/model"
)

// ErrDuplicateKey は主キーまたは一意制約に違反した場合のエラー。
var ErrDuplicateKey = errors.New("duplicate key")

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmail はemailでユーザーを取得する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// Insert はユーザーを作成する。
	// IDが衝突した場合はErrDuplicateKeyを返す。
	// 同一emailのユーザーが既に存在する場合は何も書き込まずcreated=falseを返す。
	Insert(ctx context.Context, user *model.User) (created bool, err error)
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Insert はセッションを作成する。
	// 同一トークンが同一ユーザーに対して既に存在する場合は有効期限のみ更新する。
	// 別ユーザーのトークンと衝突した場合はErrDuplicateKeyを返す。
	Insert(ctx context.Context, session *model.AuthSession) error

	// FindValid は now < expires_at を満たすセッションと所有ユーザーを1クエリで取得する。
	// セッションが存在しない場合と期限切れの場合はどちらも (nil, nil, nil) を返す。
	// セッションは有効だがユーザーが存在しない場合は (session, nil, nil) を返す。
	FindValid(ctx context.Context, token string, now time.Time) (*model.AuthSession, *model.User, error)

	// DeleteByUserID は指定ユーザーの全セッションを削除し、削除件数を返す。
	DeleteByUserID(ctx context.Context, userID string) (int64, error)

	// DeleteExpiredBefore は cutoff より前に期限切れとなったセッションを削除し、削除件数を返す。
	DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// ChatMessageRepository はチャット履歴の永続化インターフェース。
type ChatMessageRepository interface {
	// Create はチャットメッセージを保存する。
	Create(ctx context.Context, msg *model.ChatMessage) error

	// ListByUserID はユーザーのチャット履歴を新しい順に最大limit件返す。
	ListByUserID(ctx context.Context, userID string, limit int) ([]*model.ChatMessage, error)
}
