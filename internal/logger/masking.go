package logger

import (
	"context"
	"log/slog"
	"regexp"
)

// ボットトークン（<bot_id>:<secret>）。APIのURL中では"bot"が前置される。
var botTokenPattern = regexp.MustCompile(`\b(?:bot)?\d{5,}:[A-Za-z0-9_-]{30,}`)

const maskedToken = "bot***:***"

// MaskTokens は文字列中のボットトークンをマスクする。
func MaskTokens(s string) string {
	return botTokenPattern.ReplaceAllString(s, maskedToken)
}

// TokenMaskingHandler はメッセージと属性値からボットトークンを除去するslog.Handler。
type TokenMaskingHandler struct {
	next slog.Handler
}

// NewTokenMaskingHandler はnextをラップしたハンドラを返す。
func NewTokenMaskingHandler(next slog.Handler) *TokenMaskingHandler {
	return &TokenMaskingHandler{next: next}
}

func (h *TokenMaskingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *TokenMaskingHandler) Handle(ctx context.Context, record slog.Record) error {
	// 元のRecordはslog側で再利用されるため書き換えず、新しいRecordに積み直す。
	masked := slog.NewRecord(record.Time, record.Level, MaskTokens(record.Message), record.PC)
	record.Attrs(func(a slog.Attr) bool {
		masked.AddAttrs(maskAttr(a))
		return true
	})
	return h.next.Handle(ctx, masked)
}

func (h *TokenMaskingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	masked := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		masked[i] = maskAttr(a)
	}
	return &TokenMaskingHandler{next: h.next.WithAttrs(masked)}
}

func (h *TokenMaskingHandler) WithGroup(name string) slog.Handler {
	return &TokenMaskingHandler{next: h.next.WithGroup(name)}
}

func maskAttr(a slog.Attr) slog.Attr {
	return slog.Attr{Key: a.Key, Value: maskValue(a.Value)}
}

func maskValue(v slog.Value) slog.Value {
	v = v.Resolve()
	switch v.Kind() {
	case slog.KindString:
		return slog.StringValue(MaskTokens(v.String()))
	case slog.KindAny:
		// エラーはURLを含むことがあるため文字列化してマスクする
		if err, ok := v.Any().(error); ok {
			return slog.StringValue(MaskTokens(err.Error()))
		}
		return v
	case slog.KindGroup:
		group := v.Group()
		masked := make([]slog.Attr, len(group))
		for i, a := range group {
			masked[i] = maskAttr(a)
		}
		return slog.GroupValue(masked...)
	default:
		return v
	}
}
