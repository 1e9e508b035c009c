package handler

import (
	"context"
	"crypto/subtle"
	"io"
	"log/slog"
	"net/http"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/icore-platform/icore/internal/metrics"
	"github.com/icore-platform/icore/internal/model"
	"github.com/icore-platform/icore/internal/relay"
	"github.com/icore-platform/icore/internal/telegram"
)

// WebhookSecretHeader はTelegramがsetWebhookのsecret_tokenを載せるヘッダー。
const WebhookSecretHeader = "X-Telegram-Bot-Api-Secret-Token"

// maxWebhookBodySize はwebhookリクエストボディの上限（1MB）。
const maxWebhookBodySize = 1 << 20

// UpdateHandlerInterface はwebhookで受けたupdateを処理するサービスのインターフェース。
type UpdateHandlerInterface interface {
	HandleUpdate(ctx context.Context, update tgbotapi.Update, raw []byte) error
}

// WebhookHandler はTelegramのwebhookを受け付けるハンドラー。
type WebhookHandler struct {
	updates UpdateHandlerInterface
	secret  string
	metrics metrics.MetricsCollector
}

// NewWebhookHandler はWebhookHandlerを生成する。secretが空の場合はヘッダーを検証しない。
func NewWebhookHandler(updates UpdateHandlerInterface, secret string, collector metrics.MetricsCollector) *WebhookHandler {
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &WebhookHandler{updates: updates, secret: secret, metrics: collector}
}

// ServeHTTP はupdateを処理する。
// POST /telegram/webhook
//
// プラットフォームの再送を防ぐため、処理結果にかかわらず200を返す。
// シークレットが一致しないリクエストはプラットフォームからの配信ではないため401を返す。
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.secret != "" {
		got := r.Header.Get(WebhookSecretHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.secret)) != 1 {
			slog.Warn("webhook secret mismatch", slog.String("remote_addr", r.RemoteAddr))
			writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
			return
		}
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBodySize))
	if err != nil {
		slog.Warn("failed to read webhook body", slog.String("error", err.Error()))
		h.metrics.RecordWebhookDropped(relay.DropMalformed)
		writeWebhookOK(w)
		return
	}

	update, err := telegram.DecodeUpdate(body)
	if err != nil {
		slog.Warn("failed to decode webhook update", slog.String("error", err.Error()))
		h.metrics.RecordWebhookDropped(relay.DropMalformed)
		writeWebhookOK(w)
		return
	}

	h.process(r.Context(), update, body)
	writeWebhookOK(w)
}

// process はupdateを処理し、エラーとpanicをログに記録する。
func (h *WebhookHandler) process(ctx context.Context, update tgbotapi.Update, raw []byte) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("panic while handling webhook update",
				slog.Int("update_id", update.UpdateID),
				slog.Any("panic", rec),
			)
		}
	}()

	if err := h.updates.HandleUpdate(ctx, update, raw); err != nil {
		slog.Error("failed to handle webhook update",
			slog.Int("update_id", update.UpdateID),
			slog.String("error", err.Error()),
		)
	}
}

func writeWebhookOK(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
