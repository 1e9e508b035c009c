package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/icore-platform/icore/internal/model"
)

// PostgresPendingMessageRepo はPostgreSQLを使用した保留メッセージリポジトリ。
type PostgresPendingMessageRepo struct {
	db *sql.DB
}

// NewPostgresPendingMessageRepo はPostgresPendingMessageRepoを生成する。
func NewPostgresPendingMessageRepo(db *sql.DB) *PostgresPendingMessageRepo {
	return &PostgresPendingMessageRepo{db: db}
}

// Enqueue は保留メッセージを保存する。外部メッセージIDの重複はfalseを返す。
func (r *PostgresPendingMessageRepo) Enqueue(ctx context.Context, p *model.PendingExternalMessage) (bool, error) {
	payload := p.Payload
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO pending_external_messages
		    (id, external_chat_id, external_username, external_message_id, text, payload, received_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (external_message_id) DO NOTHING`,
		p.ID, p.ExternalChatID, nullString(p.ExternalUsername), p.ExternalMessageID,
		p.Text, payload, p.ReceivedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to enqueue pending message: %w", err)
	}
	return affected(result)
}

// ListUnprocessedByChatID はチャットIDの未処理メッセージを受信順に返す。
func (r *PostgresPendingMessageRepo) ListUnprocessedByChatID(ctx context.Context, chatID int64) ([]*model.PendingExternalMessage, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, external_chat_id, external_username, external_message_id, text, payload, received_at
		 FROM pending_external_messages
		 WHERE external_chat_id = $1 AND processed_at IS NULL
		 ORDER BY received_at ASC, id ASC`,
		chatID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending messages: %w", err)
	}
	defer rows.Close()

	var pending []*model.PendingExternalMessage
	for rows.Next() {
		p := &model.PendingExternalMessage{}
		var username sql.NullString
		if err := rows.Scan(
			&p.ID, &p.ExternalChatID, &username, &p.ExternalMessageID,
			&p.Text, &p.Payload, &p.ReceivedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan pending message: %w", err)
		}
		p.ExternalUsername = nullStringValue(username)
		pending = append(pending, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate pending messages: %w", err)
	}
	return pending, nil
}

// MarkProcessed は保留メッセージを処理済みにする。
func (r *PostgresPendingMessageRepo) MarkProcessed(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE pending_external_messages SET processed_at = now() WHERE id = $1 AND processed_at IS NULL`,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to mark pending message processed: %w", err)
	}
	return nil
}

// compile-time interface check
var _ PendingMessageRepository = (*PostgresPendingMessageRepo)(nil)
