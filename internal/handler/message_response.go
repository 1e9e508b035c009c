package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/icore-platform/icore/internal/messagelog"
	"github.com/icore-platform/icore/internal/model"
	"github.com/icore-platform/icore/internal/security"
)

type messageResponse struct {
	ID                string    `json:"id"`
	Seq               int64     `json:"seq"`
	ConversationID    string    `json:"conversation_id"`
	AccountID         string    `json:"account_id"`
	Direction         string    `json:"direction"`
	AuthorRole        string    `json:"author_role"`
	Body              string    `json:"body"`
	ExternalMessageID *string   `json:"external_message_id"`
	IsRead            bool      `json:"is_read"`
	CreatedAt         time.Time `json:"created_at"`
}

type messageListResponse struct {
	Messages   []messageResponse `json:"messages"`
	NextCursor string            `json:"next_cursor"`
}

// toMessageResponse はメッセージをレスポンス型に変換する。本文はマークアップのみ除去し、エスケープはしない。
func toMessageResponse(sanitizer security.MessageSanitizer, msg *model.Message) messageResponse {
	return messageResponse{
		ID:                msg.ID,
		Seq:               msg.Seq,
		ConversationID:    msg.ConversationID,
		AccountID:         msg.AccountID,
		Direction:         string(msg.Direction),
		AuthorRole:        string(msg.AuthorRole),
		Body:              sanitizer.Sanitize(msg.Body),
		ExternalMessageID: msg.ExternalMessageID,
		IsRead:            msg.IsRead,
		CreatedAt:         msg.CreatedAt,
	}
}

// toMessageListResponse はメッセージ一覧と次のカーソルを返す。
// 空の場合のカーソルは入力のafterSeqのまま。
func toMessageListResponse(sanitizer security.MessageSanitizer, messages []*model.Message, afterSeq int64) messageListResponse {
	items := make([]messageResponse, len(messages))
	next := afterSeq
	for i, m := range messages {
		items[i] = toMessageResponse(sanitizer, m)
		next = m.Seq
	}
	return messageListResponse{Messages: items, NextCursor: strconv.FormatInt(next, 10)}
}

// parsePage はsinceとlimitのクエリパラメータを解釈する。
func parsePage(r *http.Request) (int64, int, error) {
	afterSeq, err := messagelog.ParseCursor(r.URL.Query().Get("since"))
	if err != nil {
		return 0, 0, err
	}
	limit, err := parseLimit(r)
	if err != nil {
		return 0, 0, err
	}
	return afterSeq, limit, nil
}

// parseLimit はlimitクエリパラメータを解釈する。未指定は0（サービスのデフォルト）。
func parseLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return 0, newInvalidRequestError("limitは0以上の整数で指定してください。")
	}
	return limit, nil
}
