package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/icore-platform/icore/internal/identity"
	"github.com/icore-platform/icore/internal/middleware"
	"github.com/icore-platform/icore/internal/model"
)

// --- モック定義 ---

type mockUpdateHandler struct {
	handleUpdateFn func(ctx context.Context, update tgbotapi.Update, raw []byte) error
	calls          int
}

func (m *mockUpdateHandler) HandleUpdate(ctx context.Context, update tgbotapi.Update, raw []byte) error {
	m.calls++
	if m.handleUpdateFn != nil {
		return m.handleUpdateFn(ctx, update, raw)
	}
	return nil
}

type mockAuthService struct {
	logoutFn func(ctx context.Context, sessionID string) error
}

func (m *mockAuthService) Logout(ctx context.Context, sessionID string) error {
	if m.logoutFn != nil {
		return m.logoutFn(ctx, sessionID)
	}
	return nil
}

type mockAccountService struct {
	findAccountFn func(ctx context.Context, accountID string) (*model.Account, error)
}

func (m *mockAccountService) FindAccount(ctx context.Context, accountID string) (*model.Account, error) {
	if m.findAccountFn != nil {
		return m.findAccountFn(ctx, accountID)
	}
	return nil, model.NewAccountNotFoundError(accountID)
}

type mockLinkService struct {
	issueFn  func(ctx context.Context, accountID string) (*model.LinkToken, error)
	qrCodeFn func(link string) ([]byte, error)
}

func (m *mockLinkService) Issue(ctx context.Context, accountID string) (*model.LinkToken, error) {
	if m.issueFn != nil {
		return m.issueFn(ctx, accountID)
	}
	return nil, nil
}

func (m *mockLinkService) DeepLink(token string) string {
	return "https://t.me/icore_bot?start=" + token
}

func (m *mockLinkService) QRCode(link string) ([]byte, error) {
	if m.qrCodeFn != nil {
		return m.qrCodeFn(link)
	}
	return []byte("\x89PNG"), nil
}

type mockLinkStatusService struct {
	statusFn func(ctx context.Context, accountID string) (*identity.LinkStatus, error)
	unbindFn func(ctx context.Context, accountID string) error
}

func (m *mockLinkStatusService) Status(ctx context.Context, accountID string) (*identity.LinkStatus, error) {
	if m.statusFn != nil {
		return m.statusFn(ctx, accountID)
	}
	return &identity.LinkStatus{}, nil
}

func (m *mockLinkStatusService) Unbind(ctx context.Context, accountID string) error {
	if m.unbindFn != nil {
		return m.unbindFn(ctx, accountID)
	}
	return nil
}

type mockOwnConversationService struct {
	listOwnMessagesFn func(ctx context.Context, accountID string, afterSeq int64, limit int) ([]*model.Message, error)
}

func (m *mockOwnConversationService) ListOwnMessages(ctx context.Context, accountID string, afterSeq int64, limit int) ([]*model.Message, error) {
	if m.listOwnMessagesFn != nil {
		return m.listOwnMessagesFn(ctx, accountID, afterSeq, limit)
	}
	return []*model.Message{}, nil
}

type mockWebMessageService struct {
	postFromWebFn func(ctx context.Context, accountID, text string) (*model.Message, *model.Message, error)
}

func (m *mockWebMessageService) PostFromWeb(ctx context.Context, accountID, text string) (*model.Message, *model.Message, error) {
	if m.postFromWebFn != nil {
		return m.postFromWebFn(ctx, accountID, text)
	}
	return nil, nil, nil
}

type mockOperatorConversationService struct {
	listRecentFn func(ctx context.Context, limit int) ([]model.ConversationSummary, error)
	getFn        func(ctx context.Context, conversationID string) (*model.Conversation, error)
	closeFn      func(ctx context.Context, conversationID string) error
}

func (m *mockOperatorConversationService) ListRecent(ctx context.Context, limit int) ([]model.ConversationSummary, error) {
	if m.listRecentFn != nil {
		return m.listRecentFn(ctx, limit)
	}
	return []model.ConversationSummary{}, nil
}

func (m *mockOperatorConversationService) Get(ctx context.Context, conversationID string) (*model.Conversation, error) {
	if m.getFn != nil {
		return m.getFn(ctx, conversationID)
	}
	return &model.Conversation{ID: conversationID, Active: true}, nil
}

func (m *mockOperatorConversationService) Close(ctx context.Context, conversationID string) error {
	if m.closeFn != nil {
		return m.closeFn(ctx, conversationID)
	}
	return nil
}

type mockMessageLogService struct {
	listByConversationFn func(ctx context.Context, conversationID string, afterSeq int64, limit int) ([]*model.Message, error)
	markReadFn           func(ctx context.Context, messageID string, read bool) error
}

func (m *mockMessageLogService) ListByConversation(ctx context.Context, conversationID string, afterSeq int64, limit int) ([]*model.Message, error) {
	if m.listByConversationFn != nil {
		return m.listByConversationFn(ctx, conversationID, afterSeq, limit)
	}
	return []*model.Message{}, nil
}

func (m *mockMessageLogService) MarkRead(ctx context.Context, messageID string, read bool) error {
	if m.markReadFn != nil {
		return m.markReadFn(ctx, messageID, read)
	}
	return nil
}

type mockOutboundService struct {
	sendToAccountFn func(ctx context.Context, accountID string, author model.AuthorRole, text string) (*model.Message, error)
}

func (m *mockOutboundService) SendToAccount(ctx context.Context, accountID string, author model.AuthorRole, text string) (*model.Message, error) {
	if m.sendToAccountFn != nil {
		return m.sendToAccountFn(ctx, accountID, author, text)
	}
	return nil, nil
}

type mockSanitizer struct{}

func (mockSanitizer) Sanitize(body string) string { return body }

// --- テストヘルパー ---

// withAccountID はテスト用にリクエストコンテキストにアカウントIDを注入するヘルパー。
func withAccountID(r *http.Request, accountID string) *http.Request {
	return r.WithContext(middleware.ContextWithAccountID(r.Context(), accountID))
}

// withChiURLParam はテスト用にchiのURLパラメータを注入するヘルパー。
func withChiURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	ctx := context.WithValue(r.Context(), chi.RouteCtxKey, rctx)
	return r.WithContext(ctx)
}

// parseAPIErrorResponse はレスポンスボディからAPIErrorレスポンスをパースするヘルパー。
func parseAPIErrorResponse(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var result map[string]any
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	return result
}

func strPtr(s string) *string { return &s }
