package handler

import (
	"context"

	"github.com/icore-platform/icore/internal/model"
)

// ActiveConversationFinder はアカウントのActiveな会話を作成せずに取得するインターフェース。
type ActiveConversationFinder interface {
	FindActive(ctx context.Context, accountID string) (*model.Conversation, error)
}

// ConversationMessageLister は会話のメッセージ一覧を取得するインターフェース。
type ConversationMessageLister interface {
	ListByConversation(ctx context.Context, conversationID string, afterSeq int64, limit int) ([]*model.Message, error)
}

// OwnConversationAdapter は conversation.Service と messagelog.Service を
// OwnConversationServiceInterface に適合させるアダプタ。
type OwnConversationAdapter struct {
	conversations ActiveConversationFinder
	messages      ConversationMessageLister
}

// NewOwnConversationAdapter はOwnConversationAdapterを生成する。
func NewOwnConversationAdapter(conversations ActiveConversationFinder, messages ConversationMessageLister) *OwnConversationAdapter {
	return &OwnConversationAdapter{conversations: conversations, messages: messages}
}

// ListOwnMessages はアカウントのActiveな会話のメッセージを返す。
// 会話がまだない場合は空の一覧を返す。
func (a *OwnConversationAdapter) ListOwnMessages(ctx context.Context, accountID string, afterSeq int64, limit int) ([]*model.Message, error) {
	conv, err := a.conversations.FindActive(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return []*model.Message{}, nil
	}
	return a.messages.ListByConversation(ctx, conv.ID, afterSeq, limit)
}
