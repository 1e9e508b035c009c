// Package identity はiCoreアカウントと外部チャットIDの紐付けを管理する。
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/icore-platform/icore/internal/model"
	"github.com/icore-platform/icore/internal/repository"
)

// LinkStatus はアカウントの外部チャット連携状態。
type LinkStatus struct {
	Linked   bool
	Username string
}

// Service はアカウントの外部アイデンティティ解決と紐付けを提供する。
// チャットIDが恒久キーで、ユーザー名は副次的なインデックスとしてのみ使う。
type Service struct {
	accounts repository.AccountRepository
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(accounts repository.AccountRepository) *Service {
	return &Service{accounts: accounts}
}

// NormalizeUsername は先頭の@と前後の空白を取り除く。
func NormalizeUsername(username string) string {
	return strings.TrimPrefix(strings.TrimSpace(username), "@")
}

// FindAccount は指定IDのアカウントを返す。
func (s *Service) FindAccount(ctx context.Context, accountID string) (*model.Account, error) {
	account, err := s.accounts.FindByID(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("アカウントの取得に失敗しました: %w", err)
	}
	if account == nil {
		return nil, model.NewAccountNotFoundError(accountID)
	}
	return account, nil
}

// ResolveByExternalChatID はチャットIDに紐付いたアカウントを返す。
func (s *Service) ResolveByExternalChatID(ctx context.Context, chatID int64) (*model.Account, error) {
	account, err := s.accounts.FindByExternalChatID(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("チャットIDによるアカウント解決に失敗しました: %w", err)
	}
	if account == nil {
		return nil, model.NewAccountNotFoundError(strconv.FormatInt(chatID, 10))
	}
	return account, nil
}

// ResolveByExternalUsername はユーザー名（大文字小文字を区別しない）でアカウントを返す。
func (s *Service) ResolveByExternalUsername(ctx context.Context, username string) (*model.Account, error) {
	name := NormalizeUsername(username)
	if name == "" {
		return nil, model.NewAccountNotFoundError(username)
	}
	account, err := s.accounts.FindByExternalUsername(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("ユーザー名によるアカウント解決に失敗しました: %w", err)
	}
	if account == nil {
		return nil, model.NewAccountNotFoundError(name)
	}
	return account, nil
}

// Bind はアカウントにチャットIDを紐付ける。
// チャットIDが別アカウントに紐付いている場合は上書きせずIDENTITY_CONFLICTを返す。
// 同じアカウントへの再紐付けは冪等。
func (s *Service) Bind(ctx context.Context, accountID string, chatID int64, username string) error {
	username = NormalizeUsername(username)

	owner, err := s.accounts.FindByExternalChatID(ctx, chatID)
	if err != nil {
		return fmt.Errorf("チャットIDの所有者確認に失敗しました: %w", err)
	}
	if owner != nil {
		if owner.ID != accountID {
			slog.Warn("チャットIDは別アカウントに紐付いています",
				slog.String("account_id", accountID),
				slog.String("owner_account_id", owner.ID),
				slog.Int64("chat_id", chatID),
			)
			return model.NewIdentityConflictError()
		}
		return s.RefreshUsername(ctx, owner, username)
	}

	ok, err := s.accounts.BindExternal(ctx, accountID, chatID, username)
	if errors.Is(err, repository.ErrConflict) {
		// 所有者確認の後に別のリクエストが先に紐付けた
		return model.NewIdentityConflictError()
	}
	if err != nil {
		return fmt.Errorf("チャットIDの紐付けに失敗しました: %w", err)
	}
	if !ok {
		return model.NewAccountNotFoundError(accountID)
	}

	slog.Info("チャットIDを紐付けました",
		slog.String("account_id", accountID),
		slog.Int64("chat_id", chatID),
	)
	return nil
}

// Unbind はアカウントのチャットIDとユーザー名をクリアする。
func (s *Service) Unbind(ctx context.Context, accountID string) error {
	ok, err := s.accounts.ClearExternal(ctx, accountID)
	if err != nil {
		return fmt.Errorf("チャットIDの紐付け解除に失敗しました: %w", err)
	}
	if !ok {
		return model.NewAccountNotFoundError(accountID)
	}
	slog.Info("チャットIDの紐付けを解除しました", slog.String("account_id", accountID))
	return nil
}

// RefreshUsername は紐付け済みアカウントのユーザー名が変わっていれば更新する。
func (s *Service) RefreshUsername(ctx context.Context, account *model.Account, username string) error {
	username = NormalizeUsername(username)
	if !account.IsLinked() || account.ExternalUsername == username {
		return nil
	}
	if err := s.accounts.UpdateExternalUsername(ctx, account.ID, username); err != nil {
		return fmt.Errorf("ユーザー名の更新に失敗しました: %w", err)
	}
	account.ExternalUsername = username
	return nil
}

// Status はアカウントの連携状態を返す。
func (s *Service) Status(ctx context.Context, accountID string) (*LinkStatus, error) {
	account, err := s.FindAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return &LinkStatus{
		Linked:   account.IsLinked(),
		Username: account.ExternalUsername,
	}, nil
}
