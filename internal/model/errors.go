// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, link, relay, system
	Action   string // ユーザー向け対処方法
	Err      error  // 原因（ログ用。レスポンスには含めない）
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap は原因エラーを返す。
func (e *APIError) Unwrap() error {
	return e.Err
}

// 定義済みエラーコード
const (
	ErrCodeAccountNotFound      = "ACCOUNT_NOT_FOUND"
	ErrCodeConversationNotFound = "CONVERSATION_NOT_FOUND"
	ErrCodeMessageNotFound      = "MESSAGE_NOT_FOUND"
	ErrCodeIdentityConflict     = "IDENTITY_CONFLICT"
	ErrCodeNotLinked            = "NOT_LINKED"
	ErrCodeLinkTokenNotFound    = "LINK_TOKEN_NOT_FOUND"
	ErrCodeLinkTokenExpired     = "LINK_TOKEN_EXPIRED"
	ErrCodeLinkTokenConsumed    = "LINK_TOKEN_CONSUMED"
	ErrCodeDeliveryFailed       = "DELIVERY_FAILED"
	ErrCodeEmptyMessage         = "EMPTY_MESSAGE"
	ErrCodeInvalidCursor        = "INVALID_CURSOR"
	ErrCodeForbidden            = "FORBIDDEN"
	ErrCodeUnauthorized         = "UNAUTHORIZED"
	ErrCodeCSRFInvalid          = "CSRF_INVALID"
)

// HasCode はerrがcodeを持つAPIErrorを含むかを返す。
func HasCode(err error, code string) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == code
	}
	return false
}

// NewAccountNotFoundError はアカウント未検出エラーを生成する。
func NewAccountNotFoundError(accountID string) *APIError {
	return &APIError{
		Code:     ErrCodeAccountNotFound,
		Message:  fmt.Sprintf("指定されたアカウントが見つかりません: %s", accountID),
		Category: "auth",
		Action:   "アカウントIDを確認してください。",
	}
}

// NewConversationNotFoundError は会話未検出エラーを生成する。
func NewConversationNotFoundError(conversationID string) *APIError {
	return &APIError{
		Code:     ErrCodeConversationNotFound,
		Message:  fmt.Sprintf("指定された会話が見つかりません: %s", conversationID),
		Category: "relay",
		Action:   "会話IDを確認してください。",
	}
}

// NewMessageNotFoundError はメッセージ未検出エラーを生成する。
func NewMessageNotFoundError(messageID string) *APIError {
	return &APIError{
		Code:     ErrCodeMessageNotFound,
		Message:  fmt.Sprintf("指定されたメッセージが見つかりません: %s", messageID),
		Category: "relay",
		Action:   "メッセージIDを確認してください。",
	}
}

// NewIdentityConflictError は外部チャットIDが別アカウントに紐付いている場合のエラーを生成する。
func NewIdentityConflictError() *APIError {
	return &APIError{
		Code:     ErrCodeIdentityConflict,
		Message:  "このTelegramアカウントは既に別のiCoreアカウントに紐付いています。",
		Category: "link",
		Action:   "紐付け済みのiCoreアカウントで連携を解除してから、再度お試しください。",
	}
}

// NewNotLinkedError はTelegram未連携のアカウントへの送信エラーを生成する。
func NewNotLinkedError(accountID string) *APIError {
	return &APIError{
		Code:     ErrCodeNotLinked,
		Message:  fmt.Sprintf("アカウントはTelegramと連携されていません: %s", accountID),
		Category: "link",
		Action:   "ユーザーにTelegram連携を依頼してください。",
	}
}

// NewLinkTokenNotFoundError はリンクトークン未検出エラーを生成する。
func NewLinkTokenNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeLinkTokenNotFound,
		Message:  "連携リンクが無効です。",
		Category: "link",
		Action:   "iCoreから新しい連携リンクを発行してください。",
	}
}

// NewLinkTokenExpiredError はリンクトークン期限切れエラーを生成する。
func NewLinkTokenExpiredError() *APIError {
	return &APIError{
		Code:     ErrCodeLinkTokenExpired,
		Message:  "連携リンクの有効期限が切れています。",
		Category: "link",
		Action:   "iCoreから新しい連携リンクを発行してください。",
	}
}

// NewLinkTokenConsumedError はリンクトークン使用済みエラーを生成する。
func NewLinkTokenConsumedError() *APIError {
	return &APIError{
		Code:     ErrCodeLinkTokenConsumed,
		Message:  "連携リンクは既に使用されています。",
		Category: "link",
		Action:   "iCoreから新しい連携リンクを発行してください。",
	}
}

// NewDeliveryFailedError は外部プラットフォームへの送信失敗エラーを生成する。
// 送信を試みたメッセージはログに記録済みであることを前提とする。
func NewDeliveryFailedError(cause error) *APIError {
	return &APIError{
		Code:     ErrCodeDeliveryFailed,
		Message:  "Telegramへのメッセージ送信に失敗しました。",
		Category: "relay",
		Action:   "メッセージは記録されています。しばらく待ってから再送してください。",
		Err:      cause,
	}
}

// NewEmptyMessageError は本文が空のメッセージのエラーを生成する。
func NewEmptyMessageError() *APIError {
	return &APIError{
		Code:     ErrCodeEmptyMessage,
		Message:  "メッセージ本文が空です。",
		Category: "validation",
		Action:   "本文を入力してください。",
	}
}

// NewInvalidCursorError は無効なカーソルのエラーを生成する。
func NewInvalidCursorError(cursor string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCursor,
		Message:  fmt.Sprintf("無効なカーソルです: %s", cursor),
		Category: "validation",
		Action:   "sinceには直前に取得したメッセージのseqを指定してください。",
	}
}

// NewForbiddenError はオペレーター権限が必要な操作のエラーを生成する。
func NewForbiddenError() *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  "この操作にはオペレーター権限が必要です。",
		Category: "auth",
		Action:   "オペレーターアカウントでログインしてください。",
	}
}

// NewUnauthorizedError はセッションがない、または無効な場合のエラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "ログインが必要です。",
		Category: "auth",
		Action:   "iCoreにログインしてから再度お試しください。",
	}
}

// NewCSRFInvalidError はCSRFトークンの検証に失敗した場合のエラーを生成する。
func NewCSRFInvalidError() *APIError {
	return &APIError{
		Code:     ErrCodeCSRFInvalid,
		Message:  "CSRFトークンの検証に失敗しました。",
		Category: "auth",
		Action:   "ページを再読み込みしてから再度お試しください。",
	}
}
