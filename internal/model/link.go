package model

import "time"

// LinkToken はアカウントと外部チャットIDの紐付け意思を証明する短命トークン。
// アカウントごとに未消費のトークンは最大1つ。
type LinkToken struct {
	Token      string
	AccountID  string
	IssuedAt   time.Time
	ExpiresAt  time.Time
	ConsumedAt *time.Time
}

// IsConsumed はトークンが消費済みかを返す。
func (t *LinkToken) IsConsumed() bool {
	return t.ConsumedAt != nil
}

// IsExpired は指定時刻においてトークンが期限切れかを返す。
func (t *LinkToken) IsExpired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// PendingExternalMessage はアカウントに解決できなかった外部チャットからの受信メッセージ。
// 該当チャットIDがリンクされた時点で会話に取り込まれる。
type PendingExternalMessage struct {
	ID                string
	ExternalChatID    int64
	ExternalUsername  string
	ExternalMessageID string
	Text              string
	Payload           []byte // 受信したupdateの生JSON
	ReceivedAt        time.Time
	ProcessedAt       *time.Time
}
