// Package conversation はアカウントごとのActiveな会話を解決する。
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/icore-platform/icore/internal/model"
	"github.com/icore-platform/icore/internal/repository"
)

const (
	// maxResolveAttempts は同時作成で競合した場合の再読込回数の上限。
	maxResolveAttempts = 3

	DefaultListLimit = 50
	MaxListLimit     = 200
)

// Service は会話の解決、クローズ、一覧を提供する。
type Service struct {
	conversations repository.ConversationRepository
	now           func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(conversations repository.ConversationRepository) *Service {
	return &Service{
		conversations: conversations,
		now:           time.Now,
	}
}

// ResolveActive はアカウントのActiveな会話を返し、なければ作成する。
// 同時に作成された場合は一意インデックス違反を検出し、勝った側の会話を読み直して返す。
func (s *Service) ResolveActive(ctx context.Context, accountID string) (*model.Conversation, error) {
	for attempt := 1; attempt <= maxResolveAttempts; attempt++ {
		existing, err := s.conversations.FindActiveByAccountID(ctx, accountID)
		if err != nil {
			return nil, fmt.Errorf("Activeな会話の取得に失敗しました: %w", err)
		}
		if existing != nil {
			return existing, nil
		}

		now := s.now()
		conv := &model.Conversation{
			ID:             uuid.New().String(),
			AccountID:      accountID,
			Active:         true,
			CreatedAt:      now,
			LastActivityAt: now,
		}
		err = s.conversations.Create(ctx, conv)
		if errors.Is(err, repository.ErrConflict) {
			slog.Debug("会話の同時作成を検出しました",
				slog.String("account_id", accountID),
				slog.Int("attempt", attempt),
			)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("会話の作成に失敗しました: %w", err)
		}

		slog.Info("会話を作成しました",
			slog.String("account_id", accountID),
			slog.String("conversation_id", conv.ID),
		)
		return conv, nil
	}
	return nil, fmt.Errorf("会話の解決が%d回競合しました: account_id=%s", maxResolveAttempts, accountID)
}

// FindActive はアカウントのActiveな会話を返す。なければnilを返し、作成はしない。
func (s *Service) FindActive(ctx context.Context, accountID string) (*model.Conversation, error) {
	conv, err := s.conversations.FindActiveByAccountID(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("Activeな会話の取得に失敗しました: %w", err)
	}
	return conv, nil
}

// Get は指定IDの会話を返す。
func (s *Service) Get(ctx context.Context, conversationID string) (*model.Conversation, error) {
	conv, err := s.conversations.FindByID(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("会話の取得に失敗しました: %w", err)
	}
	if conv == nil {
		return nil, model.NewConversationNotFoundError(conversationID)
	}
	return conv, nil
}

// Close は会話を非Activeにする。次の受信メッセージで新しい会話が作られる。
func (s *Service) Close(ctx context.Context, conversationID string) error {
	ok, err := s.conversations.Deactivate(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("会話のクローズに失敗しました: %w", err)
	}
	if !ok {
		return model.NewConversationNotFoundError(conversationID)
	}
	slog.Info("会話をクローズしました", slog.String("conversation_id", conversationID))
	return nil
}

// ListRecent はオペレーター受信箱用に最近の会話を返す。
func (s *Service) ListRecent(ctx context.Context, limit int) ([]model.ConversationSummary, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	summaries, err := s.conversations.ListRecent(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("会話一覧の取得に失敗しました: %w", err)
	}
	if summaries == nil {
		summaries = []model.ConversationSummary{}
	}
	return summaries, nil
}
