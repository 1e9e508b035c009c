package middleware

import (
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiterConfig はレート制限の設定を保持する。
type RateLimiterConfig struct {
	GeneralRate     rate.Limit    // API全般のレート（req/sec）
	GeneralBurst    int           // API全般のバーストサイズ
	LinkIssueRate   rate.Limit    // リンクトークン発行のレート（req/sec）
	LinkIssueBurst  int           // リンクトークン発行のバーストサイズ
	CleanupInterval time.Duration // 期限切れエントリのクリーンアップ間隔
}

// DefaultRateLimiterConfig はデフォルトのレート制限設定を返す。
// API全般 120 req/min/account、リンク発行 10 req/min/account。
func DefaultRateLimiterConfig() RateLimiterConfig {
	return NewRateLimiterConfig(120, 10)
}

// NewRateLimiterConfig は1分あたりのリクエスト数からレート制限設定を生成する。
func NewRateLimiterConfig(generalPerMinute, linkIssuePerMinute int) RateLimiterConfig {
	return RateLimiterConfig{
		GeneralRate:     rate.Limit(float64(generalPerMinute) / 60.0),
		GeneralBurst:    generalPerMinute,
		LinkIssueRate:   rate.Limit(float64(linkIssuePerMinute) / 60.0),
		LinkIssueBurst:  linkIssuePerMinute,
		CleanupInterval: 5 * time.Minute,
	}
}

// accountLimiter はアカウントごとのレートリミッターとアクセス時刻を保持する。
type accountLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// bucketSet は同じレートを共有するアカウント別リミッターの集合。
type bucketSet struct {
	name  string
	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*accountLimiter
}

func newBucketSet(name string, limit rate.Limit, burst int) *bucketSet {
	return &bucketSet{
		name:     name,
		limit:    limit,
		burst:    burst,
		limiters: make(map[string]*accountLimiter),
	}
}

// get はアカウントのリミッターを取得または作成し、最終アクセス時刻を更新する。
func (b *bucketSet) get(accountID string, now time.Time) *rate.Limiter {
	b.mu.Lock()
	defer b.mu.Unlock()

	al, ok := b.limiters[accountID]
	if !ok {
		al = &accountLimiter{limiter: rate.NewLimiter(b.limit, b.burst)}
		b.limiters[accountID] = al
	}
	al.lastAccess = now
	return al.limiter
}

func (b *bucketSet) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.limiters)
}

// evict は最終アクセスからttl以上経過したエントリを削除する。
func (b *bucketSet) evict(now time.Time, ttl time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for accountID, al := range b.limiters {
		if now.Sub(al.lastAccess) > ttl {
			delete(b.limiters, accountID)
		}
	}
}

// middleware はこのバケット集合でレート制限するミドルウェアを返す。
// SessionMiddlewareの後に配置する。
func (b *bucketSet) middleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			accountID, err := AccountIDFromContext(r.Context())
			if err != nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			if !b.get(accountID, time.Now()).Allow() {
				slog.Warn("rate limit exceeded",
					slog.String("account_id", accountID),
					slog.String("limit_type", b.name),
				)
				writeRateLimitResponse(w, b.limit)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RateLimiter はアカウントごとのレート制限を管理する。
// API全般とリンクトークン発行の2種類を独立に提供する。
type RateLimiter struct {
	config    RateLimiterConfig
	general   *bucketSet
	linkIssue *bucketSet
	stopCh    chan struct{}
	stopOnce  sync.Once
}

// NewRateLimiter は新しいRateLimiterを生成する。
// バックグラウンドで期限切れエントリのクリーンアップを開始する。
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	rl := &RateLimiter{
		config:    config,
		general:   newBucketSet("general", config.GeneralRate, config.GeneralBurst),
		linkIssue: newBucketSet("link_issue", config.LinkIssueRate, config.LinkIssueBurst),
		stopCh:    make(chan struct{}),
	}

	go rl.cleanupLoop()

	return rl
}

// Stop はクリーンアップのバックグラウンドゴルーチンを停止する。
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}

// GeneralMiddleware はAPI全般のレート制限ミドルウェアを返す。
func (rl *RateLimiter) GeneralMiddleware() func(next http.Handler) http.Handler {
	return rl.general.middleware()
}

// LinkIssueMiddleware はリンクトークン発行専用のレート制限ミドルウェアを返す。
func (rl *RateLimiter) LinkIssueMiddleware() func(next http.Handler) http.Handler {
	return rl.linkIssue.middleware()
}

// GeneralLimiterCount は現在管理されているAPI全般リミッターのエントリ数を返す。
func (rl *RateLimiter) GeneralLimiterCount() int {
	return rl.general.len()
}

// LinkIssueLimiterCount は現在管理されているリンク発行リミッターのエントリ数を返す。
func (rl *RateLimiter) LinkIssueLimiterCount() int {
	return rl.linkIssue.len()
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup(time.Now())
		case <-rl.stopCh:
			return
		}
	}
}

// cleanup は最終アクセス時刻がCleanupIntervalの2倍を超えたエントリを削除する。
func (rl *RateLimiter) cleanup(now time.Time) {
	ttl := rl.config.CleanupInterval * 2
	rl.general.evict(now, ttl)
	rl.linkIssue.evict(now, ttl)
}

// writeRateLimitResponse は429 Too Many Requestsレスポンスを書き込む。
// Retry-Afterヘッダーにはトークンが1つ補充されるまでの秒数を設定する。
func writeRateLimitResponse(w http.ResponseWriter, r rate.Limit) {
	retryAfterSec := 1
	if r > 0 {
		retryAfterSec = int(math.Ceil(1.0 / float64(r)))
	}
	if retryAfterSec < 1 {
		retryAfterSec = 1
	}

	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSec))
	writeErrorBody(w, http.StatusTooManyRequests, ErrorResponseBody{
		Code:     "RATE_LIMIT_EXCEEDED",
		Message:  "リクエストが多すぎます。",
		Category: "system",
		Action:   "Retry-Afterの秒数だけ待ってから再度お試しください。",
	})
}
