// Package relay はwebhookで受けたTelegramのupdateと、プラットフォームからの送信を
// 会話とメッセージログに結び付ける。
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/icore-platform/icore/internal/metrics"
	"github.com/icore-platform/icore/internal/model"
)

// Identity はアカウント解決のインターフェース。
type Identity interface {
	FindAccount(ctx context.Context, accountID string) (*model.Account, error)
	ResolveByExternalChatID(ctx context.Context, chatID int64) (*model.Account, error)
	ResolveByExternalUsername(ctx context.Context, username string) (*model.Account, error)
	RefreshUsername(ctx context.Context, account *model.Account, username string) error
}

// ConversationResolver はアカウントのActiveな会話を返すインターフェース。
type ConversationResolver interface {
	ResolveActive(ctx context.Context, accountID string) (*model.Conversation, error)
}

// MessageAppender はメッセージログへの追記インターフェース。
type MessageAppender interface {
	Append(ctx context.Context, msg model.NewMessage) (*model.Message, bool, error)
}

// Dispatcher は外部チャットへの送信インターフェース。
type Dispatcher interface {
	Send(ctx context.Context, chatID int64, text string) (string, error)
}

// Outbound はプラットフォームからユーザーへの送信を行う。
// 送信結果にかかわらずoutboundメッセージをログに記録する。
type Outbound struct {
	identity      Identity
	conversations ConversationResolver
	messages      MessageAppender
	dispatcher    Dispatcher
	metrics       metrics.MetricsCollector
	logger        *slog.Logger
}

// NewOutbound はOutboundを生成する。
func NewOutbound(
	identity Identity,
	conversations ConversationResolver,
	messages MessageAppender,
	dispatcher Dispatcher,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
) *Outbound {
	if collector == nil {
		collector = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Outbound{
		identity:      identity,
		conversations: conversations,
		messages:      messages,
		dispatcher:    dispatcher,
		metrics:       collector,
		logger:        logger,
	}
}

// SendToAccount はアカウントの連携済みチャットへテキストを送信し、記録したメッセージを返す。
// 送信に失敗した場合も外部IDなしで記録し、記録済みメッセージとDELIVERY_FAILEDを返す。
func (o *Outbound) SendToAccount(ctx context.Context, accountID string, author model.AuthorRole, text string) (*model.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, model.NewEmptyMessageError()
	}

	account, err := o.identity.FindAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if !account.IsLinked() {
		return nil, model.NewNotLinkedError(accountID)
	}

	conv, err := o.conversations.ResolveActive(ctx, account.ID)
	if err != nil {
		return nil, err
	}
	return o.deliver(ctx, account, conv, author, text)
}

// SendToChat はアカウントに紐付かないチャットへシステム応答を送信する。ログには記録しない。
func (o *Outbound) SendToChat(ctx context.Context, chatID int64, text string) error {
	start := time.Now()
	_, err := o.dispatcher.Send(ctx, chatID, text)
	o.recordDispatch(err, time.Since(start))
	if err != nil {
		return fmt.Errorf("チャットへの送信に失敗しました: %w", err)
	}
	return nil
}

// deliver は送信してから結果をoutboundメッセージとして記録する。
func (o *Outbound) deliver(ctx context.Context, account *model.Account, conv *model.Conversation, author model.AuthorRole, text string) (*model.Message, error) {
	start := time.Now()
	externalID, sendErr := o.dispatcher.Send(ctx, *account.ExternalChatID, text)
	o.recordDispatch(sendErr, time.Since(start))

	// 送信がタイムアウトしても記録は残す
	recordCtx := ctx
	if ctx.Err() != nil {
		recordCtx = context.WithoutCancel(ctx)
	}
	msg, _, err := o.messages.Append(recordCtx, model.NewMessage{
		ConversationID:    conv.ID,
		AccountID:         account.ID,
		Direction:         model.DirectionOutbound,
		AuthorRole:        author,
		Body:              text,
		ExternalMessageID: externalID,
	})
	if err != nil {
		if sendErr != nil {
			err = errors.Join(err, sendErr)
		}
		return nil, fmt.Errorf("送信メッセージの記録に失敗しました: %w", err)
	}

	if sendErr != nil {
		o.logger.Warn("メッセージの送信に失敗しました",
			slog.String("account_id", account.ID),
			slog.String("message_id", msg.ID),
			slog.String("error", sendErr.Error()),
		)
		return msg, model.NewDeliveryFailedError(sendErr)
	}
	return msg, nil
}

func (o *Outbound) recordDispatch(err error, d time.Duration) {
	result := metrics.ResultSuccess
	if err != nil {
		result = metrics.ResultFailure
	}
	o.metrics.RecordDispatch(result, d)
}
