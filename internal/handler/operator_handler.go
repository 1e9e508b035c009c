package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/icore-platform/icore/internal/middleware"
	"github.com/icore-platform/icore/internal/model"
	"github.com/icore-platform/icore/internal/security"
)

// OperatorConversationServiceInterface はオペレーター受信箱の会話操作のサービスインターフェース。
type OperatorConversationServiceInterface interface {
	ListRecent(ctx context.Context, limit int) ([]model.ConversationSummary, error)
	Get(ctx context.Context, conversationID string) (*model.Conversation, error)
	Close(ctx context.Context, conversationID string) error
}

// MessageLogServiceInterface はオペレーターが使うメッセージログのサービスインターフェース。
type MessageLogServiceInterface interface {
	ListByConversation(ctx context.Context, conversationID string, afterSeq int64, limit int) ([]*model.Message, error)
	MarkRead(ctx context.Context, messageID string, read bool) error
}

// OutboundServiceInterface はオペレーター送信のサービスインターフェース。
// 配信失敗時も記録済みのメッセージとDELIVERY_FAILEDを返す。
type OutboundServiceInterface interface {
	SendToAccount(ctx context.Context, accountID string, author model.AuthorRole, text string) (*model.Message, error)
}

// OperatorHandler はオペレーターAPIのHTTPハンドラー。
// 権限の確認はRequireOperatorミドルウェアで行う。
type OperatorHandler struct {
	conversations OperatorConversationServiceInterface
	messages      MessageLogServiceInterface
	outbound      OutboundServiceInterface
	sanitizer     security.MessageSanitizer
}

// NewOperatorHandler はOperatorHandlerを生成する。
func NewOperatorHandler(
	conversations OperatorConversationServiceInterface,
	messages MessageLogServiceInterface,
	outbound OutboundServiceInterface,
	sanitizer security.MessageSanitizer,
) *OperatorHandler {
	return &OperatorHandler{
		conversations: conversations,
		messages:      messages,
		outbound:      outbound,
		sanitizer:     sanitizer,
	}
}

type conversationSummaryResponse struct {
	ID               string    `json:"id"`
	AccountID        string    `json:"account_id"`
	Active           bool      `json:"active"`
	DisplayName      string    `json:"display_name"`
	ExternalUsername string    `json:"external_username,omitempty"`
	UnreadCount      int       `json:"unread_count"`
	CreatedAt        time.Time `json:"created_at"`
	LastActivityAt   time.Time `json:"last_activity_at"`
}

type sendMessageRequest struct {
	Text string `json:"text"`
}

type markReadRequest struct {
	Read *bool `json:"read"`
}

// deliveryFailedResponse は配信失敗時のエラーと記録済みメッセージ。
type deliveryFailedResponse struct {
	middleware.ErrorResponseBody
	RecordedMessage messageResponse `json:"recorded_message"`
}

// pathID はURLパラメータのidを返す。UUIDとして解釈できない場合はnotFoundのエラーを返す。
// 不正なidをそのままUUID列の検索に渡さないため、全てのオペレータールートで使う。
func pathID(r *http.Request, notFound func(id string) *model.APIError) (string, error) {
	id := chi.URLParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		return "", notFound(id)
	}
	return id, nil
}

// ListConversations は最近の会話を返す。
// GET /api/operator/conversations?limit=
func (h *OperatorHandler) ListConversations(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	summaries, err := h.conversations.ListRecent(r.Context(), limit)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	results := make([]conversationSummaryResponse, len(summaries))
	for i, s := range summaries {
		results[i] = conversationSummaryResponse{
			ID:               s.ID,
			AccountID:        s.AccountID,
			Active:           s.Active,
			DisplayName:      s.DisplayName,
			ExternalUsername: s.ExternalUsername,
			UnreadCount:      s.UnreadCount,
			CreatedAt:        s.CreatedAt,
			LastActivityAt:   s.LastActivityAt,
		}
	}
	writeJSON(w, http.StatusOK, results)
}

// ListMessages は会話のメッセージを追記順に返す。
// GET /api/operator/conversations/{id}/messages?since=&limit=
func (h *OperatorHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	conversationID, err := pathID(r, model.NewConversationNotFoundError)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	afterSeq, limit, err := parsePage(r)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	if _, err := h.conversations.Get(r.Context(), conversationID); err != nil {
		handleServiceError(w, err)
		return
	}
	messages, err := h.messages.ListByConversation(r.Context(), conversationID, afterSeq, limit)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toMessageListResponse(h.sanitizer, messages, afterSeq))
}

// CloseConversation は会話をクローズする。
// POST /api/operator/conversations/{id}/close
func (h *OperatorHandler) CloseConversation(w http.ResponseWriter, r *http.Request) {
	conversationID, err := pathID(r, model.NewConversationNotFoundError)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if err := h.conversations.Close(r.Context(), conversationID); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SendToAccount はオペレーターとしてアカウントの外部チャットへ送信する。
// POST /api/operator/accounts/{id}/messages
//
// 配信に失敗した場合も送信メッセージは記録され、502とともに返す。
func (h *OperatorHandler) SendToAccount(w http.ResponseWriter, r *http.Request) {
	accountID, err := pathID(r, model.NewAccountNotFoundError)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, newInvalidRequestError("リクエストボディの解析に失敗しました。"))
		return
	}

	msg, err := h.outbound.SendToAccount(r.Context(), accountID, model.AuthorOperator, req.Text)
	if err != nil {
		if msg != nil && model.HasCode(err, model.ErrCodeDeliveryFailed) {
			h.writeDeliveryFailed(w, accountID, msg, err)
			return
		}
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toMessageResponse(h.sanitizer, msg))
}

func (h *OperatorHandler) writeDeliveryFailed(w http.ResponseWriter, accountID string, msg *model.Message, err error) {
	slog.Warn("operator message delivery failed",
		slog.String("account_id", accountID),
		slog.String("message_id", msg.ID),
		slog.String("error", err.Error()),
	)
	apiErr := model.NewDeliveryFailedError(nil)
	writeJSON(w, http.StatusBadGateway, deliveryFailedResponse{
		ErrorResponseBody: middleware.NewErrorResponseBody(apiErr),
		RecordedMessage:   toMessageResponse(h.sanitizer, msg),
	})
}

// MarkRead はメッセージの既読フラグを設定する。
// PUT /api/operator/messages/{id}/read
func (h *OperatorHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	messageID, err := pathID(r, model.NewMessageNotFoundError)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	var req markReadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Read == nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, newInvalidRequestError("readを真偽値で指定してください。"))
		return
	}

	if err := h.messages.MarkRead(r.Context(), messageID, *req.Read); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
