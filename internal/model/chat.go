package model

import "time"

// ChatMessage はユーザーとアシスタントの1往復のやり取りを表す。
type ChatMessage struct {
	ID        string
	UserID    string
	Message   string
	Response  string
	Timestamp time.Time
	IsVoice   bool
}
