package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/icore-platform/icore/internal/model"
)

// PostgresMessageRepo はPostgreSQLを使用したメッセージログリポジトリ。
type PostgresMessageRepo struct {
	db *sql.DB
}

// NewPostgresMessageRepo はPostgresMessageRepoを生成する。
func NewPostgresMessageRepo(db *sql.DB) *PostgresMessageRepo {
	return &PostgresMessageRepo{db: db}
}

const messageColumns = `id, seq, conversation_id, account_id, direction, author_role, body, external_message_id, is_read, created_at`

func scanMessage(row rowScanner) (*model.Message, error) {
	m := &model.Message{}
	var externalID sql.NullString
	err := row.Scan(
		&m.ID, &m.Seq, &m.ConversationID, &m.AccountID, &m.Direction, &m.AuthorRole,
		&m.Body, &externalID, &m.IsRead, &m.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if externalID.Valid {
		id := externalID.String
		m.ExternalMessageID = &id
	}
	return m, nil
}

// Append はメッセージを追記する。
// 外部メッセージIDの重複はON CONFLICT DO NOTHINGで吸収し、既存行を返す。
func (r *PostgresMessageRepo) Append(ctx context.Context, nm *model.NewMessage) (*model.Message, bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	msg := &model.Message{
		ID:             uuid.New().String(),
		ConversationID: nm.ConversationID,
		AccountID:      nm.AccountID,
		Direction:      nm.Direction,
		AuthorRole:     nm.AuthorRole,
		Body:           nm.Body,
	}
	if nm.ExternalMessageID != "" {
		id := nm.ExternalMessageID
		msg.ExternalMessageID = &id
	}

	err = tx.QueryRowContext(ctx,
		`INSERT INTO messages (id, conversation_id, account_id, direction, author_role, body, external_message_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (external_message_id) WHERE external_message_id IS NOT NULL DO NOTHING
		 RETURNING seq, created_at`,
		msg.ID, msg.ConversationID, msg.AccountID, msg.Direction, msg.AuthorRole,
		msg.Body, nullString(nm.ExternalMessageID),
	).Scan(&msg.Seq, &msg.CreatedAt)

	if err == sql.ErrNoRows {
		// 同じ外部IDの再配信
		existing, err := scanMessage(tx.QueryRowContext(ctx,
			`SELECT `+messageColumns+` FROM messages WHERE external_message_id = $1`,
			nm.ExternalMessageID,
		))
		if err != nil {
			return nil, false, fmt.Errorf("failed to load duplicate message: %w", err)
		}
		return existing, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to insert message: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE conversations SET last_activity_at = $2 WHERE id = $1`,
		msg.ConversationID, msg.CreatedAt,
	)
	if err != nil {
		return nil, false, fmt.Errorf("failed to touch conversation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return msg, true, nil
}

// ListByConversation はafterSeqより後のメッセージをseq昇順で返す。
func (r *PostgresMessageRepo) ListByConversation(ctx context.Context, conversationID string, afterSeq int64, limit int) ([]*model.Message, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+messageColumns+`
		 FROM messages
		 WHERE conversation_id = $1 AND seq > $2
		 ORDER BY seq ASC
		 LIMIT $3`,
		conversationID, afterSeq, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	messages := make([]*model.Message, 0)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}
	return messages, nil
}

// SetRead は既読フラグを設定する。
func (r *PostgresMessageRepo) SetRead(ctx context.Context, id string, read bool) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE messages SET is_read = $2 WHERE id = $1`,
		id, read,
	)
	if err != nil {
		return false, fmt.Errorf("failed to set read marker: %w", err)
	}
	return affected(result)
}

// compile-time interface check
var _ MessageRepository = (*PostgresMessageRepo)(nil)
