package logger

import (
	"fmt"
	"log/slog"
	"strings"
)

// BotLogger はtelegram-bot-apiのBotLoggerインターフェースをslogに橋渡しする。
// ライブラリのデバッグ出力にもトークンマスクが適用される。
type BotLogger struct {
	logger *slog.Logger
}

// NewBotLogger はBotLoggerを生成する。loggerがnilの場合はslog.Default()を使う。
func NewBotLogger(logger *slog.Logger) *BotLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &BotLogger{logger: logger}
}

func (l *BotLogger) Println(v ...interface{}) {
	l.logger.Debug(strings.TrimSuffix(fmt.Sprintln(v...), "\n"), slog.String("component", "telegram"))
}

func (l *BotLogger) Printf(format string, v ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, v...), slog.String("component", "telegram"))
}
