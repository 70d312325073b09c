package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/farha/internal/model"
)

// PostgresSessionRepo はPostgreSQLを使用したセッションリポジトリ。
// 各操作は単一文で完結し、複数レコードにまたがるトランザクションは使用しない。
type PostgresSessionRepo struct {
	db *sql.DB
}

// NewPostgresSessionRepo はPostgresSessionRepoを生成する。
func NewPostgresSessionRepo(db *sql.DB) *PostgresSessionRepo {
	return &PostgresSessionRepo{db: db}
}

// Insert はセッションを作成する。
// 同一ユーザーの同一トークンが再提示された場合は有効期限を更新する。
// 別ユーザーが保持するトークンとの衝突はErrDuplicateKeyとする。
func (r *PostgresSessionRepo) Insert(ctx context.Context, session *model.AuthSession) error {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO auth_sessions (session_token, user_id, expires_at, created_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (session_token) DO UPDATE
		   SET expires_at = EXCLUDED.expires_at
		   WHERE auth_sessions.user_id = EXCLUDED.user_id`,
		session.SessionToken, session.UserID, session.ExpiresAt, session.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("session token already owned by another user: %w", ErrDuplicateKey)
	}
	return nil
}

// FindValid は有効期限内のセッションと所有ユーザーを取得する。
// 期限判定と検索は同一クエリで行うため、期限切れと未登録は区別されない。
func (r *PostgresSessionRepo) FindValid(ctx context.Context, token string, now time.Time) (*model.AuthSession, *model.User, error) {
	session := &model.AuthSession{}
	var (
		userID    sql.NullString
		email     sql.NullString
		name      sql.NullString
		picture   sql.NullString
		createdAt sql.NullTime
	)

	err := r.db.QueryRowContext(ctx,
		`SELECT s.session_token, s.user_id, s.expires_at, s.created_at,
		        u.id, u.email, u.name, u.picture, u.created_at
		 FROM auth_sessions s
		 LEFT JOIN users u ON u.id = s.user_id
		 WHERE s.session_token = $1 AND s.expires_at > $2`,
		token, now,
	).Scan(
		&session.SessionToken, &session.UserID, &session.ExpiresAt, &session.CreatedAt,
		&userID, &email, &name, &picture, &createdAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to find session: %w", err)
	}

	if !userID.Valid {
		return session, nil, nil
	}

	user := &model.User{
		ID:        userID.String,
		Email:     email.String,
		Name:      name.String,
		Picture:   picture.String,
		CreatedAt: createdAt.Time,
	}
	return session, user, nil
}

// DeleteByUserID は指定ユーザーの全セッションを削除する。
// 対象が0件でもエラーにはしない。
func (r *PostgresSessionRepo) DeleteByUserID(ctx context.Context, userID string) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM auth_sessions WHERE user_id = $1`,
		userID,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete user sessions: %w", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return count, nil
}

// DeleteExpiredBefore は cutoff より前に期限切れとなったセッションを削除する。
// expires_at が cutoff と一致するセッションは残す。
func (r *PostgresSessionRepo) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM auth_sessions WHERE expires_at < $1`,
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return count, nil
}

// compile-time interface check
var _ SessionRepository = (*PostgresSessionRepo)(nil)
