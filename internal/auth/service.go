// Package auth はログインセッションの破棄を提供する。
// セッションの発行はプラットフォームの認証サービスが行い、本サービスは参照と削除のみ行う。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrSessionIDRequired はセッションIDが空の場合のエラー。
var ErrSessionIDRequired = errors.New("session ID is required")

// SessionDeleter はセッション削除のインターフェース。
// repository.SessionRepositoryの部分集合。
type SessionDeleter interface {
	DeleteByID(ctx context.Context, id string) error
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	sessions SessionDeleter
}

// NewService はServiceを生成する。
func NewService(sessions SessionDeleter) *Service {
	return &Service{sessions: sessions}
}

// Logout はセッションを破棄する。存在しないセッションの削除も成功として扱う。
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return ErrSessionIDRequired
	}

	if err := s.sessions.DeleteByID(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	slog.Info("session deleted", slog.String("session_id_prefix", sessionPrefix(sessionID)))
	return nil
}

// sessionPrefix はログ出力用にセッションIDの先頭だけを返す。
func sessionPrefix(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
