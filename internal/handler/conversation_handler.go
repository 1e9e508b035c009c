package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/icore-platform/icore/internal/model"
	"github.com/icore-platform/icore/internal/security"
)

// OwnConversationServiceInterface はログインアカウント自身の会話ログを参照するサービスインターフェース。
type OwnConversationServiceInterface interface {
	ListOwnMessages(ctx context.Context, accountID string, afterSeq int64, limit int) ([]*model.Message, error)
}

// WebMessageServiceInterface はWeb UIからのメッセージ投稿のサービスインターフェース。
type WebMessageServiceInterface interface {
	PostFromWeb(ctx context.Context, accountID, text string) (*model.Message, *model.Message, error)
}

// ConversationHandler はログインアカウント自身の会話APIのHTTPハンドラー。
type ConversationHandler struct {
	own       OwnConversationServiceInterface
	web       WebMessageServiceInterface
	sanitizer security.MessageSanitizer
}

// NewConversationHandler はConversationHandlerを生成する。
func NewConversationHandler(own OwnConversationServiceInterface, web WebMessageServiceInterface, sanitizer security.MessageSanitizer) *ConversationHandler {
	return &ConversationHandler{own: own, web: web, sanitizer: sanitizer}
}

type postMessageRequest struct {
	Text string `json:"text"`
}

type postMessageResponse struct {
	Message messageResponse `json:"message"`
	Reply   messageResponse `json:"reply"`
}

// ListMessages はActiveな会話のメッセージを追記順に返す。
// GET /api/conversation/messages?since=&limit=
func (h *ConversationHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	accountID, ok := requireAccountID(w, r)
	if !ok {
		return
	}
	afterSeq, limit, err := parsePage(r)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	messages, err := h.own.ListOwnMessages(r.Context(), accountID, afterSeq, limit)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toMessageListResponse(h.sanitizer, messages, afterSeq))
}

// PostMessage はWeb UIからのメッセージを記録し、自動応答とともに返す。
// POST /api/conversation/messages
func (h *ConversationHandler) PostMessage(w http.ResponseWriter, r *http.Request) {
	accountID, ok := requireAccountID(w, r)
	if !ok {
		return
	}

	var req postMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, newInvalidRequestError("リクエストボディの解析に失敗しました。"))
		return
	}

	inbound, reply, err := h.web.PostFromWeb(r.Context(), accountID, req.Text)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, postMessageResponse{
		Message: toMessageResponse(h.sanitizer, inbound),
		Reply:   toMessageResponse(h.sanitizer, reply),
	})
}
