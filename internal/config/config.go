package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Telegram
	TelegramBotToken      string
	TelegramBotUsername   string
	TelegramAPIEndpoint   string
	TelegramWebhookSecret string
	TelegramSendTimeout   time.Duration

	// Link
	LinkTokenTTL  time.Duration
	DefaultLocale string

	// Rate Limit（req/min）
	RateLimitGeneral   int
	RateLimitLinkIssue int

	// Worker
	CleanupInterval      time.Duration
	PendingRetentionDays int

	// Logging
	LogLevel string

	// Server
	ServerPort string
	BaseURL    string

	// CORS
	CORSAllowedOrigin string
}

// LoadDotEnv は指定パスの.envファイルを環境変数に読み込む。
// ファイルが存在しない場合は何もしない。既に設定済みの環境変数は上書きしない。
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.TelegramBotToken = os.Getenv("TELEGRAM_BOT_TOKEN")
	if cfg.TelegramBotToken == "" {
		missing = append(missing, "TELEGRAM_BOT_TOKEN")
	}

	cfg.TelegramBotUsername = strings.TrimPrefix(os.Getenv("TELEGRAM_BOT_USERNAME"), "@")
	if cfg.TelegramBotUsername == "" {
		missing = append(missing, "TELEGRAM_BOT_USERNAME")
	}

	cfg.BaseURL = strings.TrimRight(os.Getenv("BASE_URL"), "/")
	if cfg.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.TelegramAPIEndpoint = getEnvString("TELEGRAM_API_ENDPOINT", "https://api.telegram.org/bot%s/%s")
	cfg.TelegramWebhookSecret = getEnvString("TELEGRAM_WEBHOOK_SECRET", "")
	cfg.TelegramSendTimeout = getEnvDuration("TELEGRAM_SEND_TIMEOUT", 10*time.Second)
	cfg.LinkTokenTTL = getEnvDuration("LINK_TOKEN_TTL", 30*time.Minute)
	cfg.DefaultLocale = getEnvString("DEFAULT_LOCALE", "en")
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitLinkIssue = getEnvInt("RATE_LIMIT_LINK_ISSUE", 10)
	cfg.CleanupInterval = getEnvDuration("CLEANUP_INTERVAL", 24*time.Hour)
	cfg.PendingRetentionDays = getEnvInt("PENDING_RETENTION_DAYS", 30)
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	if !strings.Contains(cfg.TelegramAPIEndpoint, "%s") {
		return nil, fmt.Errorf("TELEGRAM_API_ENDPOINT must contain %%s placeholders for token and method: %q", cfg.TelegramAPIEndpoint)
	}

	return cfg, nil
}

// WebhookURL はTelegramに登録するwebhookのURLを返す。
func (c *Config) WebhookURL() string {
	return c.BaseURL + "/telegram/webhook"
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil || i <= 0 {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return defaultVal
	}
	return d
}
