// Package model はドメインモデルを定義する。
package model

import "time"

// Role はアカウントの権限種別を表す。
type Role string

const (
	// RoleUser は一般ユーザー。
	RoleUser Role = "user"
	// RoleOperator はプラットフォームを代表して返信できるオペレーター。
	RoleOperator Role = "operator"
)

// Account はiCoreのユーザーアカウントを表す。
// ExternalChatID はリンクフローでのみ設定され、アンリンクでクリアされる。
type Account struct {
	ID               string
	DisplayName      string
	Locale           string
	Role             Role
	ExternalChatID   *int64
	ExternalUsername string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// IsLinked は外部チャットIDが紐付いているかを返す。
func (a *Account) IsLinked() bool {
	return a.ExternalChatID != nil
}

// IsOperator はオペレーター権限を持つかを返す。
func (a *Account) IsOperator() bool {
	return a.Role == RoleOperator
}

// Session はユーザーのログインセッションを表す。
// 認証サービスがsessionsテーブルに書き込み、本サービスは検証のみ行う。
type Session struct {
	ID        string
	AccountID string
	ExpiresAt time.Time
	CreatedAt time.Time
}
