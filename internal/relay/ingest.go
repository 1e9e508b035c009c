package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"

	"github.com/icore-platform/icore/internal/metrics"
	"github.com/icore-platform/icore/internal/model"
	"github.com/icore-platform/icore/internal/repository"
	"github.com/icore-platform/icore/internal/responder"
	"github.com/icore-platform/icore/internal/telegram"
)

// 破棄理由（icore_webhook_dropped_totalのreasonラベル）
const (
	DropMalformed     = "malformed"
	DropUnsupported   = "unsupported"
	DropUnknownTarget = "unknown_target"
)

// LinkConsumer はリンクトークン消費のインターフェース。
type LinkConsumer interface {
	Consume(ctx context.Context, token string, chatID int64, username string) (*model.Account, error)
}

// Ingest はwebhookで受けたupdateを処理する。
type Ingest struct {
	identity      Identity
	links         LinkConsumer
	conversations ConversationResolver
	messages      MessageAppender
	pending       repository.PendingMessageRepository
	outbound      *Outbound
	metrics       metrics.MetricsCollector
	logger        *slog.Logger
	defaultLocale string
	now           func() time.Time
}

// NewIngest はIngestを生成する。
func NewIngest(
	identity Identity,
	links LinkConsumer,
	conversations ConversationResolver,
	messages MessageAppender,
	pending repository.PendingMessageRepository,
	outbound *Outbound,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
	defaultLocale string,
) *Ingest {
	if collector == nil {
		collector = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingest{
		identity:      identity,
		links:         links,
		conversations: conversations,
		messages:      messages,
		pending:       pending,
		outbound:      outbound,
		metrics:       collector,
		logger:        logger,
		defaultLocale: responder.NormalizeLocale(defaultLocale),
		now:           time.Now,
	}
}

// HandleUpdate はupdateを1件処理する。
// 扱えないupdateはログとメトリクスに残して破棄し、nilを返す。
// 返すエラーはストアなど内部処理の失敗のみ。
func (i *Ingest) HandleUpdate(ctx context.Context, update tgbotapi.Update, raw []byte) error {
	event, err := telegram.Classify(update)
	if err != nil {
		reason := DropUnsupported
		if errors.Is(err, telegram.ErrMalformedPayload) {
			reason = DropMalformed
		}
		i.metrics.RecordWebhookDropped(reason)
		i.logger.Warn("updateを破棄しました",
			slog.Int("update_id", update.UpdateID),
			slog.String("reason", reason),
			slog.String("error", err.Error()),
		)
		return nil
	}

	switch event.Kind {
	case telegram.KindDirectMessage:
		i.metrics.RecordWebhookUpdate(string(telegram.KindDirectMessage))
		return i.handleDirect(ctx, event, raw)
	case telegram.KindChannelPost:
		return i.handleChannelPost(ctx, event)
	default:
		i.metrics.RecordWebhookDropped(DropUnsupported)
		return nil
	}
}

// PostFromWeb はWeb UIから送られたメッセージを記録し、自動応答を記録する。
// 自動応答はWeb UIに表示するためのもので、外部チャットには送信しない。
func (i *Ingest) PostFromWeb(ctx context.Context, accountID, text string) (*model.Message, *model.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil, model.NewEmptyMessageError()
	}
	account, err := i.identity.FindAccount(ctx, accountID)
	if err != nil {
		return nil, nil, err
	}
	conv, err := i.conversations.ResolveActive(ctx, account.ID)
	if err != nil {
		return nil, nil, err
	}

	inbound, _, err := i.messages.Append(ctx, model.NewMessage{
		ConversationID: conv.ID,
		AccountID:      account.ID,
		Direction:      model.DirectionInbound,
		AuthorRole:     model.AuthorUser,
		Body:           text,
	})
	if err != nil {
		return nil, nil, err
	}
	reply, _, err := i.messages.Append(ctx, model.NewMessage{
		ConversationID: conv.ID,
		AccountID:      account.ID,
		Direction:      model.DirectionOutbound,
		AuthorRole:     model.AuthorAutomation,
		Body:           responder.Generate(text, account.Locale),
	})
	if err != nil {
		return nil, nil, err
	}
	return inbound, reply, nil
}

func (i *Ingest) handleDirect(ctx context.Context, event *telegram.Event, raw []byte) error {
	if token, ok := telegram.ParseStartCommand(event.Text); ok {
		if token != "" {
			return i.handleLink(ctx, event, token)
		}
		return i.handleBareStart(ctx, event)
	}

	account, err := i.identity.ResolveByExternalChatID(ctx, event.ChatID)
	if model.HasCode(err, model.ErrCodeAccountNotFound) {
		return i.handleUnlinked(ctx, event, raw)
	}
	if err != nil {
		return err
	}

	if err := i.identity.RefreshUsername(ctx, account, event.SenderUsername); err != nil {
		i.logger.Warn("ユーザー名の更新に失敗しました",
			slog.String("account_id", account.ID),
			slog.String("error", err.Error()),
		)
	}

	conv, err := i.conversations.ResolveActive(ctx, account.ID)
	if err != nil {
		return err
	}
	_, created, err := i.messages.Append(ctx, model.NewMessage{
		ConversationID:    conv.ID,
		AccountID:         account.ID,
		Direction:         model.DirectionInbound,
		AuthorRole:        model.AuthorUser,
		Body:              event.Text,
		ExternalMessageID: event.ExternalMessageID,
	})
	if err != nil {
		return err
	}
	if !created {
		// 再配信。応答は最初の配信で送信済み
		return nil
	}

	reply := responder.Generate(event.Text, account.Locale)
	if _, err := i.outbound.deliver(ctx, account, conv, model.AuthorAutomation, reply); err != nil {
		if model.HasCode(err, model.ErrCodeDeliveryFailed) {
			return nil
		}
		return err
	}
	return nil
}

// handleUnlinked は未連携チャットのメッセージを保留し、連携手順を返信する。
// 会話は作成しない。
func (i *Ingest) handleUnlinked(ctx context.Context, event *telegram.Event, raw []byte) error {
	created, err := i.pending.Enqueue(ctx, &model.PendingExternalMessage{
		ID:                uuid.New().String(),
		ExternalChatID:    event.ChatID,
		ExternalUsername:  event.SenderUsername,
		ExternalMessageID: event.ExternalMessageID,
		Text:              event.Text,
		Payload:           raw,
		ReceivedAt:        i.now(),
	})
	if err != nil {
		return fmt.Errorf("保留メッセージの保存に失敗しました: %w", err)
	}
	if created {
		i.metrics.RecordPendingEnqueued()
	}

	// 連携手順は何度送っても問題ない
	if err := i.outbound.SendToChat(ctx, event.ChatID, responder.LinkInstructions(i.senderLocale(event))); err != nil {
		i.logger.Warn("連携手順の送信に失敗しました",
			slog.Int64("chat_id", event.ChatID),
			slog.String("error", err.Error()),
		)
	}
	return nil
}

func (i *Ingest) handleBareStart(ctx context.Context, event *telegram.Event) error {
	account, err := i.identity.ResolveByExternalChatID(ctx, event.ChatID)
	var reply string
	switch {
	case model.HasCode(err, model.ErrCodeAccountNotFound):
		reply = responder.LinkInstructions(i.senderLocale(event))
	case err != nil:
		return err
	default:
		reply = responder.LinkSucceeded(account.Locale)
	}
	if err := i.outbound.SendToChat(ctx, event.ChatID, reply); err != nil {
		i.logger.Warn("/startへの応答に失敗しました",
			slog.Int64("chat_id", event.ChatID),
			slog.String("error", err.Error()),
		)
	}
	return nil
}

func (i *Ingest) handleLink(ctx context.Context, event *telegram.Event, token string) error {
	account, err := i.links.Consume(ctx, token, event.ChatID, event.SenderUsername)

	var reply, result string
	switch {
	case err == nil:
		result = "success"
		reply = responder.LinkSucceeded(account.Locale)
	case model.HasCode(err, model.ErrCodeLinkTokenExpired):
		result = "expired"
		reply = responder.LinkFailed(i.senderLocale(event))
	case model.HasCode(err, model.ErrCodeLinkTokenConsumed):
		result = "consumed"
		reply = responder.LinkFailed(i.senderLocale(event))
	case model.HasCode(err, model.ErrCodeLinkTokenNotFound):
		result = "not_found"
		reply = responder.LinkFailed(i.senderLocale(event))
	case model.HasCode(err, model.ErrCodeIdentityConflict):
		result = "conflict"
		reply = responder.LinkConflict(i.senderLocale(event))
	default:
		i.metrics.RecordLinkAttempt("error")
		return err
	}
	i.metrics.RecordLinkAttempt(result)
	i.logger.Info("リンクトークンを処理しました",
		slog.Int64("chat_id", event.ChatID),
		slog.String("result", result),
	)

	if err := i.outbound.SendToChat(ctx, event.ChatID, reply); err != nil {
		i.logger.Warn("連携結果の送信に失敗しました",
			slog.Int64("chat_id", event.ChatID),
			slog.String("error", err.Error()),
		)
	}
	if account == nil {
		return nil
	}
	return i.drainPending(ctx, account, event.ChatID)
}

// drainPending は連携前に受信した保留メッセージを受信順に会話へ取り込む。
// 取り込んだメッセージには自動応答しない。
func (i *Ingest) drainPending(ctx context.Context, account *model.Account, chatID int64) error {
	pending, err := i.pending.ListUnprocessedByChatID(ctx, chatID)
	if err != nil {
		return fmt.Errorf("保留メッセージの取得に失敗しました: %w", err)
	}
	if len(pending) == 0 {
		return nil
	}

	conv, err := i.conversations.ResolveActive(ctx, account.ID)
	if err != nil {
		return err
	}
	for _, p := range pending {
		if _, _, err := i.messages.Append(ctx, model.NewMessage{
			ConversationID:    conv.ID,
			AccountID:         account.ID,
			Direction:         model.DirectionInbound,
			AuthorRole:        model.AuthorUser,
			Body:              p.Text,
			ExternalMessageID: p.ExternalMessageID,
		}); err != nil {
			return err
		}
		if err := i.pending.MarkProcessed(ctx, p.ID); err != nil {
			return fmt.Errorf("保留メッセージの処理済み更新に失敗しました: %w", err)
		}
	}
	i.logger.Info("保留メッセージを会話に取り込みました",
		slog.String("account_id", account.ID),
		slog.String("conversation_id", conv.ID),
		slog.Int("count", len(pending)),
	)
	return nil
}

// handleChannelPost はチャンネル投稿をオペレーター返信かメンションとして処理する。
func (i *Ingest) handleChannelPost(ctx context.Context, event *telegram.Event) error {
	handled, err := i.handleAdminReply(ctx, event)
	if err != nil || handled {
		return err
	}

	recorded := 0
	for _, name := range event.Mentions {
		target, err := i.identity.ResolveByExternalUsername(ctx, name)
		if model.HasCode(err, model.ErrCodeAccountNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		conv, err := i.conversations.ResolveActive(ctx, target.ID)
		if err != nil {
			return err
		}
		// 1つの投稿が複数アカウントに届くため外部IDはアカウントごとに分ける
		if _, _, err := i.messages.Append(ctx, model.NewMessage{
			ConversationID:    conv.ID,
			AccountID:         target.ID,
			Direction:         model.DirectionInbound,
			AuthorRole:        model.AuthorUser,
			Body:              event.Text,
			ExternalMessageID: event.ExternalMessageID + ":mention:" + target.ID,
		}); err != nil {
			return err
		}
		recorded++
	}

	if recorded == 0 {
		i.metrics.RecordWebhookDropped(DropUnknownTarget)
		i.logger.Info("宛先のないチャンネル投稿を破棄しました",
			slog.Int64("chat_id", event.ChatID),
			slog.Int("message_id", event.MessageID),
		)
		return nil
	}
	i.metrics.RecordWebhookUpdate(string(telegram.KindMention))
	return nil
}

// handleAdminReply は"@username 本文"形式のオペレーター投稿を該当アカウントへの返信として送信する。
// 投稿者がオペレーターでない場合はfalseを返す。
func (i *Ingest) handleAdminReply(ctx context.Context, event *telegram.Event) (bool, error) {
	if event.SenderID == 0 {
		return false, nil
	}
	username, rest, ok := telegram.LeadingMention(event.Text)
	if !ok || rest == "" {
		return false, nil
	}

	sender, err := i.identity.ResolveByExternalChatID(ctx, event.SenderID)
	if model.HasCode(err, model.ErrCodeAccountNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !sender.IsOperator() {
		return false, nil
	}

	target, err := i.identity.ResolveByExternalUsername(ctx, username)
	if model.HasCode(err, model.ErrCodeAccountNotFound) {
		i.metrics.RecordWebhookDropped(DropUnknownTarget)
		i.logger.Info("返信先のアカウントが見つかりません",
			slog.String("operator_id", sender.ID),
			slog.String("username", username),
		)
		return true, nil
	}
	if err != nil {
		return true, err
	}

	i.metrics.RecordWebhookUpdate(string(telegram.KindAdminReply))
	if _, err := i.outbound.SendToAccount(ctx, target.ID, model.AuthorOperator, rest); err != nil {
		if model.HasCode(err, model.ErrCodeDeliveryFailed) || model.HasCode(err, model.ErrCodeNotLinked) {
			return true, nil
		}
		return true, err
	}
	i.logger.Info("チャンネル経由のオペレーター返信を送信しました",
		slog.String("operator_id", sender.ID),
		slog.String("account_id", target.ID),
	)
	return true, nil
}

func (i *Ingest) senderLocale(event *telegram.Event) string {
	if event.SenderLanguage == "" {
		return i.defaultLocale
	}
	return responder.NormalizeLocale(event.SenderLanguage)
}
