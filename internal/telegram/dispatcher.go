package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// MaxMessageLength はsendMessageのテキスト上限（文字数）。
const MaxMessageLength = 4096

// Sender はtgbotapi.BotAPIの送信部分のインターフェース。
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Requester はtgbotapi.BotAPIの任意メソッド呼び出し部分のインターフェース。
type Requester interface {
	MakeRequest(endpoint string, params tgbotapi.Params) (*tgbotapi.APIResponse, error)
}

// DeliveryError はTelegramへの送信失敗を表す。
type DeliveryError struct {
	ChatID int64
	Code   int // Bot APIのerror_code。通信エラーの場合は0
	Err    error
}

func (e *DeliveryError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("telegram: sendMessage to chat %d failed (%d): %v", e.ChatID, e.Code, e.Err)
	}
	return fmt.Sprintf("telegram: sendMessage to chat %d failed: %v", e.ChatID, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// NewBotAPI はタイムアウト付きHTTPクライアントでBotAPIを生成する。
// 生成時にgetMeでトークンを検証する。
// tgbotapiはcontextを受け取らないため、送信時間の上限はクライアントのTimeoutで決まる。
func NewBotAPI(token, apiEndpoint string, timeout time.Duration) (*tgbotapi.BotAPI, error) {
	client := &http.Client{Timeout: timeout}
	bot, err := tgbotapi.NewBotAPIWithClient(token, apiEndpoint, client)
	if err != nil {
		return nil, fmt.Errorf("telegram: failed to initialize bot: %w", err)
	}
	return bot, nil
}

// Dispatcher はチャットへのテキスト送信を行う。リトライはしない。
type Dispatcher struct {
	sender Sender
}

// NewDispatcher はDispatcherを生成する。
func NewDispatcher(sender Sender) *Dispatcher {
	return &Dispatcher{sender: sender}
}

// Send はチャットにテキストを送信し、送信されたメッセージの外部IDを返す。
// 失敗時は*DeliveryErrorを返す。
func (d *Dispatcher) Send(ctx context.Context, chatID int64, text string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", &DeliveryError{ChatID: chatID, Err: err}
	}

	if utf8.RuneCountInString(text) > MaxMessageLength {
		slog.Warn("送信テキストが上限を超えたため切り詰めます",
			slog.Int64("chat_id", chatID),
			slog.Int("length", utf8.RuneCountInString(text)),
		)
		text = truncateRunes(text, MaxMessageLength)
	}

	sent, err := d.sender.Send(tgbotapi.NewMessage(chatID, text))
	if err != nil {
		de := &DeliveryError{ChatID: chatID, Err: err}
		var apiErr *tgbotapi.Error
		if errors.As(err, &apiErr) {
			de.Code = apiErr.Code
		}
		return "", de
	}
	return ExternalMessageID(chatID, sent.MessageID, 0), nil
}

// SetWebhook はwebhook URLとシークレットトークンをTelegramに登録する。
// tgbotapi.WebhookConfigはsecret_tokenに対応していないためMakeRequestを直接使う。
func SetWebhook(r Requester, webhookURL, secretToken string) error {
	params := tgbotapi.Params{"url": webhookURL}
	params.AddNonEmpty("secret_token", secretToken)
	allowed, err := json.Marshal([]string{"message", "edited_message", "channel_post", "edited_channel_post"})
	if err != nil {
		return err
	}
	params["allowed_updates"] = string(allowed)

	if _, err := r.MakeRequest("setWebhook", params); err != nil {
		return fmt.Errorf("telegram: setWebhook failed: %w", err)
	}
	return nil
}

func truncateRunes(s string, n int) string {
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
