package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/farha/internal/model"
)

// PostgresChatMessageRepo はPostgreSQLを使用したチャット履歴リポジトリ。
type PostgresChatMessageRepo struct {
	db *sql.DB
}

// NewPostgresChatMessageRepo はPostgresChatMessageRepoを生成する。
func NewPostgresChatMessageRepo(db *sql.DB) *PostgresChatMessageRepo {
	return &PostgresChatMessageRepo{db: db}
}

// Create はチャットメッセージを保存する。
func (r *PostgresChatMessageRepo) Create(ctx context.Context, msg *model.ChatMessage) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO chat_messages (id, user_id, message, response, is_voice, sent_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		msg.ID, msg.UserID, msg.Message, msg.Response, msg.IsVoice, msg.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to create chat message: %w", err)
	}
	return nil
}

// ListByUserID はユーザーのチャット履歴を送信日時の降順で返す。
func (r *PostgresChatMessageRepo) ListByUserID(ctx context.Context, userID string, limit int) ([]*model.ChatMessage, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, message, response, is_voice, sent_at
		 FROM chat_messages
		 WHERE user_id = $1
		 ORDER BY sent_at DESC
		 LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list chat messages: %w", err)
	}
	defer rows.Close()

	messages := make([]*model.ChatMessage, 0, limit)
	for rows.Next() {
		msg := &model.ChatMessage{}
		if err := rows.Scan(&msg.ID, &msg.UserID, &msg.Message, &msg.Response, &msg.IsVoice, &msg.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan chat message: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate chat messages: %w", err)
	}

	return messages, nil
}

// compile-time interface check
var _ ChatMessageRepository = (*PostgresChatMessageRepo)(nil)
