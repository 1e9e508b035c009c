// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/icore-platform/icore/internal/model"
)

// AccountRepository はアカウントと外部チャットIDの紐付けの永続化インターフェース。
type AccountRepository interface {
	// FindByID は指定IDのアカウントを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Account, error)

	// FindByExternalChatID は外部チャットIDでアカウントを検索する。見つからない場合はnilを返す。
	FindByExternalChatID(ctx context.Context, chatID int64) (*model.Account, error)

	// FindByExternalUsername は外部ユーザー名で大文字小文字を区別せず検索する。
	// 同名が複数ある場合は最後に更新されたアカウントを返す。見つからない場合はnilを返す。
	FindByExternalUsername(ctx context.Context, username string) (*model.Account, error)

	// BindExternal はアカウントに外部チャットIDとユーザー名を設定する。
	// チャットIDが他アカウントに紐付いている場合はErrConflictを返す。
	// アカウントが存在しない場合はfalseを返す。
	BindExternal(ctx context.Context, accountID string, chatID int64, username string) (bool, error)

	// ClearExternal は外部チャットIDとユーザー名をクリアする。
	// アカウントが存在しない場合はfalseを返す。
	ClearExternal(ctx context.Context, accountID string) (bool, error)

	// UpdateExternalUsername は紐付け済みアカウントのユーザー名のみを更新する。
	UpdateExternalUsername(ctx context.Context, accountID, username string) error
}

// SessionRepository はセッションデータの永続化インターフェース。
// セッションは認証サービスが作成するため、ここでは参照と削除のみ行う。
type SessionRepository interface {
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
}

// LinkTokenRepository はリンクトークンの永続化インターフェース。
type LinkTokenRepository interface {
	// Replace はアカウントの未消費トークンを削除し、新しいトークンを同一トランザクションで保存する。
	// トークン値が衝突した場合はErrConflictを返す。
	Replace(ctx context.Context, token *model.LinkToken) error

	// Consume は未消費かつ期限内のトークンを消費済みにし、所有アカウントIDを返す。
	// 条件付きUPDATE1文で行うため、同時に消費できるのは1つだけ。
	// 消費できなかった場合は空文字を返す。
	Consume(ctx context.Context, token string, now time.Time) (string, error)

	// FindByToken はトークンを取得する。見つからない場合はnilを返す。
	FindByToken(ctx context.Context, token string) (*model.LinkToken, error)
}

// ConversationRepository は会話の永続化インターフェース。
type ConversationRepository interface {
	// FindByID は指定IDの会話を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Conversation, error)

	// FindActiveByAccountID はアカウントのActiveな会話を取得する。見つからない場合はnilを返す。
	FindActiveByAccountID(ctx context.Context, accountID string) (*model.Conversation, error)

	// Create は会話を作成する。既にActiveな会話がある場合はErrConflictを返す。
	Create(ctx context.Context, conversation *model.Conversation) error

	// Deactivate は会話を非Activeにする。会話が存在しない場合はfalseを返す。
	Deactivate(ctx context.Context, id string) (bool, error)

	// ListRecent は最終アクティビティの新しい順に会話を返す。
	// アカウント表示名、外部ユーザー名、未読のinbound件数を含む。
	ListRecent(ctx context.Context, limit int) ([]model.ConversationSummary, error)
}

// MessageRepository は統合メッセージログの永続化インターフェース。
type MessageRepository interface {
	// Append はメッセージを追記し、会話のlast_activity_atを同一トランザクションで更新する。
	// 外部メッセージIDが既に存在する場合は既存行とfalseを返す。
	Append(ctx context.Context, msg *model.NewMessage) (*model.Message, bool, error)

	// ListByConversation はafterSeqより後のメッセージをseq昇順で最大limit件返す。
	ListByConversation(ctx context.Context, conversationID string, afterSeq int64, limit int) ([]*model.Message, error)

	// SetRead は既読フラグを設定する。メッセージが存在しない場合はfalseを返す。
	// 値が変わらない場合も存在すればtrueを返す。
	SetRead(ctx context.Context, id string, read bool) (bool, error)
}

// PendingMessageRepository は未解決チャットからの受信メッセージの永続化インターフェース。
type PendingMessageRepository interface {
	// Enqueue は保留メッセージを保存する。外部メッセージIDが既に存在する場合はfalseを返す。
	Enqueue(ctx context.Context, msg *model.PendingExternalMessage) (bool, error)

	// ListUnprocessedByChatID はチャットIDの未処理メッセージを受信順に返す。
	ListUnprocessedByChatID(ctx context.Context, chatID int64) ([]*model.PendingExternalMessage, error)

	// MarkProcessed は保留メッセージを処理済みにする。
	MarkProcessed(ctx context.Context, id string) error
}
