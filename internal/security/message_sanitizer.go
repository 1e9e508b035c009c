// Package security はアプリケーションのセキュリティ機能を提供する。
//
// メッセージ本文はユーザーやTelegramから届いた任意のテキストのため、
// Web UIに返す前にbluemondayでマークアップを除去する。
package security

import (
	"html"

	"github.com/microcosm-cc/bluemonday"
)

// MessageSanitizer はメッセージ本文からマークアップを除去する。
type MessageSanitizer interface {
	// Sanitize は全てのHTML要素を除去したプレーンテキストを返す。
	// script, styleは中身ごと除去される。結果はHTMLエスケープされないため、
	// 表示側でエスケープすること。
	Sanitize(body string) string
}

// messageSanitizer はMessageSanitizerの実装。
// bluemonday.Policyはスレッドセーフなので共有して使う。
type messageSanitizer struct {
	policy *bluemonday.Policy
}

// NewMessageSanitizer はStrictPolicyを使うMessageSanitizerを生成する。
func NewMessageSanitizer() MessageSanitizer {
	return &messageSanitizer{policy: bluemonday.StrictPolicy()}
}

// Sanitize は本文からマークアップを除去する。
// StrictPolicyが出力するエンティティは元の文字に戻すため、
// タグを含まない本文はTelegramに送ったものと同じ文字列になる。
func (s *messageSanitizer) Sanitize(body string) string {
	if body == "" {
		return ""
	}
	return html.UnescapeString(s.policy.Sanitize(body))
}
