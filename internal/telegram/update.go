// Package telegram はTelegram Bot APIとのやり取りを扱う。
// webhook updateの分類と、メッセージ送信の薄いラッパーを提供する。
package telegram

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// EventKind はupdateの分類結果。
type EventKind string

const (
	KindDirectMessage EventKind = "direct_message"
	KindChannelPost   EventKind = "channel_post"
	// KindMention と KindAdminReply はチャンネル投稿をアカウント解決後に細分化したもの。
	KindMention    EventKind = "mention"
	KindAdminReply EventKind = "admin_reply"
)

var (
	// ErrMalformedPayload はメッセージ本体、チャット、テキストのいずれかが欠けたupdate。
	ErrMalformedPayload = errors.New("telegram: malformed update payload")
	// ErrUnsupportedUpdate はこのサービスが扱わない種類のupdate（グループ、コールバック等）。
	ErrUnsupportedUpdate = errors.New("telegram: unsupported update")
)

// Event は分類済みの受信イベント。
type Event struct {
	Kind              EventKind
	Edited            bool
	UpdateID          int
	ChatID            int64
	ChatTitle         string
	SenderID          int64 // fromがない場合は0
	SenderUsername    string
	SenderLanguage    string // IETF言語タグ（例: ru, uz-UZ）
	MessageID         int
	Text              string
	ExternalMessageID string
	Mentions          []string // 本文中の@ユーザー名（先頭の@なし、出現順、重複なし）
}

// DecodeUpdate はwebhookのリクエストボディをupdateにデコードする。
func DecodeUpdate(body []byte) (tgbotapi.Update, error) {
	var update tgbotapi.Update
	if err := json.Unmarshal(body, &update); err != nil {
		return tgbotapi.Update{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return update, nil
}

// Classify はupdateをイベントに分類する。
// 通常メッセージと編集メッセージは同じ扱いで、編集は新しい受信メッセージになる。
func Classify(update tgbotapi.Update) (*Event, error) {
	var (
		msg    *tgbotapi.Message
		kind   EventKind
		edited bool
	)
	switch {
	case update.Message != nil:
		msg, kind = update.Message, KindDirectMessage
	case update.EditedMessage != nil:
		msg, kind, edited = update.EditedMessage, KindDirectMessage, true
	case update.ChannelPost != nil:
		msg, kind = update.ChannelPost, KindChannelPost
	case update.EditedChannelPost != nil:
		msg, kind, edited = update.EditedChannelPost, KindChannelPost, true
	default:
		return nil, ErrUnsupportedUpdate
	}

	if msg.Chat == nil {
		return nil, fmt.Errorf("%w: missing chat", ErrMalformedPayload)
	}
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return nil, fmt.Errorf("%w: missing text", ErrMalformedPayload)
	}
	if kind == KindDirectMessage && msg.Chat.Type != "private" {
		return nil, ErrUnsupportedUpdate
	}

	event := &Event{
		Kind:              kind,
		Edited:            edited,
		UpdateID:          update.UpdateID,
		ChatID:            msg.Chat.ID,
		ChatTitle:         msg.Chat.Title,
		MessageID:         msg.MessageID,
		Text:              text,
		ExternalMessageID: ExternalMessageID(msg.Chat.ID, msg.MessageID, msg.EditDate),
		Mentions:          ExtractMentions(text),
	}
	if msg.From != nil {
		event.SenderID = msg.From.ID
		event.SenderUsername = msg.From.UserName
		event.SenderLanguage = msg.From.LanguageCode
	} else if kind == KindDirectMessage {
		event.SenderUsername = msg.Chat.UserName
	}
	return event, nil
}

// ExternalMessageID はチャット内でのみ一意なmessage_idを全体で一意な文字列にする。
// 編集はedit_dateを付けて別IDにする。同じupdateの再配信は同じIDになる。
func ExternalMessageID(chatID int64, messageID int, editDate int) string {
	id := strconv.FormatInt(chatID, 10) + ":" + strconv.Itoa(messageID)
	if editDate > 0 {
		id += ":edit:" + strconv.Itoa(editDate)
	}
	return id
}

// ParseStartCommand は"/start <token>"または"/start@bot <token>"からトークンを取り出す。
// /startでない場合はfalseを返す。トークンなしの/startは空文字とtrueを返す。
func ParseStartCommand(text string) (string, bool) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return "", false
	}
	cmd := fields[0]
	if at := strings.IndexByte(cmd, '@'); at >= 0 {
		cmd = cmd[:at]
	}
	if cmd != "/start" {
		return "", false
	}
	if len(fields) < 2 {
		return "", true
	}
	return fields[1], true
}

// Telegramのユーザー名は5〜32文字の英数字とアンダースコア。
var mentionPattern = regexp.MustCompile(`(?:^|[^A-Za-z0-9_@])@([A-Za-z0-9_]{5,32})\b`)

// ExtractMentions は本文中の@ユーザー名を出現順に返す。
func ExtractMentions(text string) []string {
	matches := mentionPattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(matches))
	mentions := make([]string, 0, len(matches))
	for _, m := range matches {
		name := m[1]
		key := strings.ToLower(name)
		if seen[key] {
			continue
		}
		seen[key] = true
		mentions = append(mentions, name)
	}
	return mentions
}

// LeadingMention は本文が@ユーザー名で始まる場合、そのユーザー名と残りの本文を返す。
func LeadingMention(text string) (username, rest string, ok bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "@") {
		return "", "", false
	}
	end := strings.IndexFunc(text[1:], func(r rune) bool {
		return !(r == '_' || r >= '0' && r <= '9' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z')
	})
	if end < 0 {
		end = len(text) - 1
	}
	username = text[1 : end+1]
	if len(username) < 5 {
		return "", "", false
	}
	rest = strings.TrimLeftFunc(text[end+1:], func(r rune) bool {
		return r == ',' || r == ':' || r == ';' || unicode.IsSpace(r)
	})
	return username, strings.TrimSpace(rest), true
}
