package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/icore-platform/icore/internal/model"
)

// PostgresConversationRepo はPostgreSQLを使用した会話リポジトリ。
type PostgresConversationRepo struct {
	db *sql.DB
}

// NewPostgresConversationRepo はPostgresConversationRepoを生成する。
func NewPostgresConversationRepo(db *sql.DB) *PostgresConversationRepo {
	return &PostgresConversationRepo{db: db}
}

const conversationColumns = `id, account_id, active, created_at, last_activity_at`

func scanConversation(row rowScanner) (*model.Conversation, error) {
	c := &model.Conversation{}
	if err := row.Scan(&c.ID, &c.AccountID, &c.Active, &c.CreatedAt, &c.LastActivityAt); err != nil {
		return nil, err
	}
	return c, nil
}

// FindByID は指定IDの会話を取得する。見つからない場合はnilを返す。
func (r *PostgresConversationRepo) FindByID(ctx context.Context, id string) (*model.Conversation, error) {
	c, err := scanConversation(r.db.QueryRowContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE id = $1`,
		id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find conversation: %w", err)
	}
	return c, nil
}

// FindActiveByAccountID はアカウントのActiveな会話を取得する。見つからない場合はnilを返す。
func (r *PostgresConversationRepo) FindActiveByAccountID(ctx context.Context, accountID string) (*model.Conversation, error) {
	c, err := scanConversation(r.db.QueryRowContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE account_id = $1 AND active`,
		accountID,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find active conversation: %w", err)
	}
	return c, nil
}

// Create は会話を作成する。Activeな会話の重複はErrConflictを返す。
func (r *PostgresConversationRepo) Create(ctx context.Context, c *model.Conversation) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO conversations (id, account_id, active, created_at, last_activity_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		c.ID, c.AccountID, c.Active, c.CreatedAt, c.LastActivityAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("failed to create conversation: %w", err)
	}
	return nil
}

// Deactivate は会話を非Activeにする。
func (r *PostgresConversationRepo) Deactivate(ctx context.Context, id string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE conversations SET active = false WHERE id = $1`,
		id,
	)
	if err != nil {
		return false, fmt.Errorf("failed to deactivate conversation: %w", err)
	}
	return affected(result)
}

// ListRecent は最終アクティビティの新しい順に会話の要約を返す。
func (r *PostgresConversationRepo) ListRecent(ctx context.Context, limit int) ([]model.ConversationSummary, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT c.id, c.account_id, c.active, c.created_at, c.last_activity_at,
		        a.display_name, a.external_username,
		        COUNT(m.id) FILTER (WHERE m.direction = 'inbound' AND NOT m.is_read) AS unread_count
		 FROM conversations c
		 JOIN accounts a ON a.id = c.account_id
		 LEFT JOIN messages m ON m.conversation_id = c.id
		 GROUP BY c.id, a.display_name, a.external_username
		 ORDER BY c.last_activity_at DESC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	var summaries []model.ConversationSummary
	for rows.Next() {
		var s model.ConversationSummary
		var username sql.NullString
		if err := rows.Scan(
			&s.ID, &s.AccountID, &s.Active, &s.CreatedAt, &s.LastActivityAt,
			&s.DisplayName, &username, &s.UnreadCount,
		); err != nil {
			return nil, fmt.Errorf("failed to scan conversation summary: %w", err)
		}
		s.ExternalUsername = nullStringValue(username)
		summaries = append(summaries, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate conversations: %w", err)
	}
	return summaries, nil
}

// compile-time interface check
var _ ConversationRepository = (*PostgresConversationRepo)(nil)
