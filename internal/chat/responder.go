package chat

import (
	"context"
	"fmt"
)

// Responder はユーザーのメッセージに対するアシスタントの応答を生成する。
type Responder interface {
	Respond(ctx context.Context, userID, message string) (string, error)
}

// MockResponder は外部の言語モデルを呼ばずに定型の応答を返すResponder。
type MockResponder struct{}

// NewMockResponder はMockResponderを生成する。
func NewMockResponder() *MockResponder {
	return &MockResponder{}
}

// Respond はメッセージをそのまま含む定型応答を返す。
func (r *MockResponder) Respond(ctx context.Context, _ string, message string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return fmt.Sprintf("Local AI mock reply to: %s", message), nil
}

var _ Responder = (*MockResponder)(nil)
