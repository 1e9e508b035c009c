// Package linktoken はアカウント連携用の短命・単回使用トークンを発行、消費する。
package linktoken

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"time"

	"github.com/skip2/go-qrcode"

	"github.com/icore-platform/icore/internal/model"
	"github.com/icore-platform/icore/internal/repository"
)

const (
	// tokenBytes はトークンのランダム部のバイト数。
	tokenBytes = 32
	// maxIssueAttempts はトークン値衝突時の再生成回数の上限。
	maxIssueAttempts = 3
	// QRCodeSize はQRコードPNGの一辺のピクセル数。
	QRCodeSize = 256
)

// Identity はトークン消費後のアカウント紐付けを行うインターフェース。
type Identity interface {
	Bind(ctx context.Context, accountID string, chatID int64, username string) error
	FindAccount(ctx context.Context, accountID string) (*model.Account, error)
}

// Service はリンクトークンの発行と消費を提供する。
type Service struct {
	tokens      repository.LinkTokenRepository
	identity    Identity
	ttl         time.Duration
	botUsername string
	random      io.Reader
	now         func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(tokens repository.LinkTokenRepository, identity Identity, ttl time.Duration, botUsername string) *Service {
	return &Service{
		tokens:      tokens,
		identity:    identity,
		ttl:         ttl,
		botUsername: botUsername,
		random:      rand.Reader,
		now:         time.Now,
	}
}

// Issue はアカウントの新しいトークンを発行する。以前の未消費トークンは無効になる。
func (s *Service) Issue(ctx context.Context, accountID string) (*model.LinkToken, error) {
	for attempt := 1; attempt <= maxIssueAttempts; attempt++ {
		value, err := s.generate()
		if err != nil {
			return nil, err
		}

		now := s.now()
		token := &model.LinkToken{
			Token:     value,
			AccountID: accountID,
			IssuedAt:  now,
			ExpiresAt: now.Add(s.ttl),
		}

		err = s.tokens.Replace(ctx, token)
		if errors.Is(err, repository.ErrConflict) {
			slog.Warn("リンクトークンが衝突したため再生成します",
				slog.String("account_id", accountID),
				slog.Int("attempt", attempt),
			)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("リンクトークンの保存に失敗しました: %w", err)
		}

		slog.Info("リンクトークンを発行しました",
			slog.String("account_id", accountID),
			slog.Time("expires_at", token.ExpiresAt),
		)
		return token, nil
	}
	return nil, fmt.Errorf("リンクトークンの生成が%d回衝突しました", maxIssueAttempts)
}

// Consume はトークンを消費してチャットIDをアカウントに紐付け、紐付けたアカウントを返す。
// 消費は原子的で、同じトークンで成功するのは1回だけ。
// 紐付けがIDENTITY_CONFLICTで失敗してもトークンは消費済みのまま残る。
func (s *Service) Consume(ctx context.Context, token string, chatID int64, username string) (*model.Account, error) {
	if token == "" {
		return nil, model.NewLinkTokenNotFoundError()
	}

	now := s.now()
	accountID, err := s.tokens.Consume(ctx, token, now)
	if err != nil {
		return nil, fmt.Errorf("リンクトークンの消費に失敗しました: %w", err)
	}
	if accountID == "" {
		return nil, s.classifyRejected(ctx, token, now)
	}

	if err := s.identity.Bind(ctx, accountID, chatID, username); err != nil {
		return nil, err
	}
	return s.identity.FindAccount(ctx, accountID)
}

// classifyRejected は消費できなかったトークンの理由を判定する。
func (s *Service) classifyRejected(ctx context.Context, token string, now time.Time) error {
	lt, err := s.tokens.FindByToken(ctx, token)
	if err != nil {
		return fmt.Errorf("リンクトークンの取得に失敗しました: %w", err)
	}
	switch {
	case lt == nil:
		return model.NewLinkTokenNotFoundError()
	case lt.IsConsumed():
		return model.NewLinkTokenConsumedError()
	case lt.IsExpired(now):
		return model.NewLinkTokenExpiredError()
	default:
		// UPDATEとSELECTの間に別の消費者が勝った
		return model.NewLinkTokenConsumedError()
	}
}

// DeepLink はボットのstartパラメータにトークンを載せたURLを返す。
func (s *Service) DeepLink(token string) string {
	return "https://t.me/" + url.PathEscape(s.botUsername) + "?start=" + url.QueryEscape(token)
}

// QRCode はリンクをQRコードPNGにエンコードする。
func (s *Service) QRCode(link string) ([]byte, error) {
	png, err := qrcode.Encode(link, qrcode.Medium, QRCodeSize)
	if err != nil {
		return nil, fmt.Errorf("QRコードの生成に失敗しました: %w", err)
	}
	return png, nil
}

func (s *Service) generate() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := io.ReadFull(s.random, buf); err != nil {
		return "", fmt.Errorf("乱数の生成に失敗しました: %w", err)
	}
	// Telegramのstartパラメータは[A-Za-z0-9_-]のみ許可される
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
