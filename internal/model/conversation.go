package model

import "time"

// Conversation はWeb UIと外部チャットをまたいだユーザーのメッセージスレッド。
// アカウントごとにActiveな会話は最大1つ。
type Conversation struct {
	ID             string
	AccountID      string
	Active         bool
	CreatedAt      time.Time
	LastActivityAt time.Time
}

// ConversationSummary はオペレーター受信箱に表示する会話の要約。
type ConversationSummary struct {
	Conversation
	DisplayName      string
	ExternalUsername string
	UnreadCount      int
}

// Direction はメッセージの向きを表す。
type Direction string

const (
	// DirectionInbound はユーザーからプラットフォームへのメッセージ。
	DirectionInbound Direction = "inbound"
	// DirectionOutbound はプラットフォームからユーザーへのメッセージ。
	DirectionOutbound Direction = "outbound"
)

// AuthorRole はメッセージの作成者種別を表す。
type AuthorRole string

const (
	AuthorUser       AuthorRole = "user"
	AuthorOperator   AuthorRole = "operator"
	AuthorAutomation AuthorRole = "automation"
)

// Message は統合メッセージログの1行。追記のみで、本文は作成後に変更しない。
// 変更可能なのはオペレーターが設定する既読フラグのみ。
type Message struct {
	ID                string
	Seq               int64 // 挿入順の単調増加番号。カーソルとして使う
	ConversationID    string
	AccountID         string
	Direction         Direction
	AuthorRole        AuthorRole
	Body              string
	ExternalMessageID *string
	IsRead            bool
	CreatedAt         time.Time
}

// NewMessage はAppendに渡す未保存メッセージ。
type NewMessage struct {
	ConversationID    string
	AccountID         string
	Direction         Direction
	AuthorRole        AuthorRole
	Body              string
	ExternalMessageID string // 空文字は外部IDなし
}
