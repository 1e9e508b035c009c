package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/icore-platform/icore/internal/model"
)

// PostgresLinkTokenRepo はPostgreSQLを使用したリンクトークンリポジトリ。
type PostgresLinkTokenRepo struct {
	db *sql.DB
}

// NewPostgresLinkTokenRepo はPostgresLinkTokenRepoを生成する。
func NewPostgresLinkTokenRepo(db *sql.DB) *PostgresLinkTokenRepo {
	return &PostgresLinkTokenRepo{db: db}
}

// Replace はアカウントの未消費トークンを削除し、新しいトークンを保存する。
func (r *PostgresLinkTokenRepo) Replace(ctx context.Context, token *model.LinkToken) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// 期限切れを含む未消費トークンを破棄する
	_, err = tx.ExecContext(ctx,
		`DELETE FROM link_tokens WHERE account_id = $1 AND consumed_at IS NULL`,
		token.AccountID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete previous link tokens: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO link_tokens (token, account_id, issued_at, expires_at)
		 VALUES ($1, $2, $3, $4)`,
		token.Token, token.AccountID, token.IssuedAt, token.ExpiresAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("failed to insert link token: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Consume は未消費かつ期限内のトークンを消費済みにし、所有アカウントIDを返す。
func (r *PostgresLinkTokenRepo) Consume(ctx context.Context, token string, now time.Time) (string, error) {
	var accountID string
	err := r.db.QueryRowContext(ctx,
		`UPDATE link_tokens
		 SET consumed_at = $2
		 WHERE token = $1 AND consumed_at IS NULL AND expires_at > $2
		 RETURNING account_id`,
		token, now,
	).Scan(&accountID)

	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to consume link token: %w", err)
	}
	return accountID, nil
}

// FindByToken はトークンを取得する。見つからない場合はnilを返す。
func (r *PostgresLinkTokenRepo) FindByToken(ctx context.Context, token string) (*model.LinkToken, error) {
	lt := &model.LinkToken{}
	var consumedAt sql.NullTime
	err := r.db.QueryRowContext(ctx,
		`SELECT token, account_id, issued_at, expires_at, consumed_at
		 FROM link_tokens WHERE token = $1`,
		token,
	).Scan(&lt.Token, &lt.AccountID, &lt.IssuedAt, &lt.ExpiresAt, &consumedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find link token: %w", err)
	}
	if consumedAt.Valid {
		t := consumedAt.Time
		lt.ConsumedAt = &t
	}
	return lt, nil
}

// compile-time interface check
var _ LinkTokenRepository = (*PostgresLinkTokenRepo)(nil)
