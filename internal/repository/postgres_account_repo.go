package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/icore-platform/icore/internal/model"
)

// PostgresAccountRepo はPostgreSQLを使用したアカウントリポジトリ。
type PostgresAccountRepo struct {
	db *sql.DB
}

// NewPostgresAccountRepo はPostgresAccountRepoを生成する。
func NewPostgresAccountRepo(db *sql.DB) *PostgresAccountRepo {
	return &PostgresAccountRepo{db: db}
}

const accountColumns = `id, display_name, locale, role, external_chat_id, external_username, created_at, updated_at`

// rowScanner は*sql.Rowと*sql.Rowsの共通部分。
type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*model.Account, error) {
	account := &model.Account{}
	var chatID sql.NullInt64
	var username sql.NullString
	err := row.Scan(
		&account.ID, &account.DisplayName, &account.Locale, &account.Role,
		&chatID, &username, &account.CreatedAt, &account.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if chatID.Valid {
		id := chatID.Int64
		account.ExternalChatID = &id
	}
	account.ExternalUsername = nullStringValue(username)
	return account, nil
}

// FindByID は指定IDのアカウントを取得する。見つからない場合はnilを返す。
func (r *PostgresAccountRepo) FindByID(ctx context.Context, id string) (*model.Account, error) {
	account, err := scanAccount(r.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = $1`,
		id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find account by ID: %w", err)
	}
	return account, nil
}

// FindByExternalChatID は外部チャットIDでアカウントを検索する。見つからない場合はnilを返す。
func (r *PostgresAccountRepo) FindByExternalChatID(ctx context.Context, chatID int64) (*model.Account, error) {
	account, err := scanAccount(r.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE external_chat_id = $1`,
		chatID,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find account by external chat ID: %w", err)
	}
	return account, nil
}

// FindByExternalUsername は外部ユーザー名で大文字小文字を区別せず検索する。
func (r *PostgresAccountRepo) FindByExternalUsername(ctx context.Context, username string) (*model.Account, error) {
	username = strings.TrimPrefix(strings.TrimSpace(username), "@")
	if username == "" {
		return nil, nil
	}

	account, err := scanAccount(r.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+`
		 FROM accounts
		 WHERE lower(external_username) = lower($1)
		 ORDER BY updated_at DESC
		 LIMIT 1`,
		username,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find account by external username: %w", err)
	}
	return account, nil
}

// BindExternal はアカウントに外部チャットIDとユーザー名を設定する。
// 一意インデックス違反はErrConflictに変換する。
func (r *PostgresAccountRepo) BindExternal(ctx context.Context, accountID string, chatID int64, username string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE accounts
		 SET external_chat_id = $2, external_username = $3, updated_at = now()
		 WHERE id = $1`,
		accountID, chatID, nullString(username),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return false, ErrConflict
		}
		return false, fmt.Errorf("failed to bind external chat: %w", err)
	}
	return affected(result)
}

// ClearExternal は外部チャットIDとユーザー名をクリアする。
func (r *PostgresAccountRepo) ClearExternal(ctx context.Context, accountID string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE accounts
		 SET external_chat_id = NULL, external_username = NULL, updated_at = now()
		 WHERE id = $1`,
		accountID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to clear external chat: %w", err)
	}
	return affected(result)
}

// UpdateExternalUsername は紐付け済みアカウントのユーザー名のみを更新する。
func (r *PostgresAccountRepo) UpdateExternalUsername(ctx context.Context, accountID, username string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE accounts
		 SET external_username = $2, updated_at = now()
		 WHERE id = $1 AND external_chat_id IS NOT NULL`,
		accountID, nullString(username),
	)
	if err != nil {
		return fmt.Errorf("failed to update external username: %w", err)
	}
	return nil
}

func affected(result sql.Result) (bool, error) {
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

// compile-time interface check
var _ AccountRepository = (*PostgresAccountRepo)(nil)
