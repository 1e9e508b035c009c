// Package messagelog は会話の統合メッセージログへの追記と参照を提供する。
package messagelog

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/icore-platform/icore/internal/model"
	"github.com/icore-platform/icore/internal/repository"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 200
)

// Service はメッセージログのサービス層。
type Service struct {
	messages repository.MessageRepository
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(messages repository.MessageRepository) *Service {
	return &Service{messages: messages}
}

// ParseCursor はsinceパラメータを直前に取得したメッセージのseqとして解釈する。
// 空文字は先頭から。
func ParseCursor(cursor string) (int64, error) {
	if cursor == "" {
		return 0, nil
	}
	seq, err := strconv.ParseInt(cursor, 10, 64)
	if err != nil || seq < 0 {
		return 0, model.NewInvalidCursorError(cursor)
	}
	return seq, nil
}

// Append はメッセージを追記する。
// 同じ外部メッセージIDが既に記録されている場合は既存のメッセージとfalseを返す。
func (s *Service) Append(ctx context.Context, msg model.NewMessage) (*model.Message, bool, error) {
	if strings.TrimSpace(msg.Body) == "" {
		return nil, false, model.NewEmptyMessageError()
	}
	if err := validateAuthor(msg.Direction, msg.AuthorRole); err != nil {
		return nil, false, err
	}

	stored, created, err := s.messages.Append(ctx, &msg)
	if err != nil {
		return nil, false, fmt.Errorf("メッセージの追記に失敗しました: %w", err)
	}
	if !created {
		slog.Info("重複した外部メッセージを無視しました",
			slog.String("conversation_id", msg.ConversationID),
			slog.String("external_message_id", msg.ExternalMessageID),
		)
	}
	return stored, created, nil
}

// ListByConversation はafterSeqより後のメッセージを追記順に返す。
// 最後に返したメッセージのSeqを次の呼び出しのafterSeqに渡すと続きを取得できる。
func (s *Service) ListByConversation(ctx context.Context, conversationID string, afterSeq int64, limit int) ([]*model.Message, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	messages, err := s.messages.ListByConversation(ctx, conversationID, afterSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("メッセージ一覧の取得に失敗しました: %w", err)
	}
	if messages == nil {
		messages = []*model.Message{}
	}
	return messages, nil
}

// MarkRead はメッセージの既読フラグを設定する。
func (s *Service) MarkRead(ctx context.Context, messageID string, read bool) error {
	ok, err := s.messages.SetRead(ctx, messageID, read)
	if err != nil {
		return fmt.Errorf("既読フラグの更新に失敗しました: %w", err)
	}
	if !ok {
		return model.NewMessageNotFoundError(messageID)
	}
	return nil
}

// validateAuthor は向きと作成者の組み合わせを検証する。
// inboundはユーザーのみ、outboundはオペレーターか自動応答のみ。
func validateAuthor(direction model.Direction, author model.AuthorRole) error {
	switch direction {
	case model.DirectionInbound:
		if author == model.AuthorUser {
			return nil
		}
	case model.DirectionOutbound:
		if author == model.AuthorOperator || author == model.AuthorAutomation {
			return nil
		}
	}
	return fmt.Errorf("不正なメッセージ種別です: direction=%s author=%s", direction, author)
}
