// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// webhook受信、返信送信、クリーンアップワーカーから利用する。
type MetricsCollector interface {
	RecordWebhookUpdate(kind string)
	RecordWebhookDropped(reason string)
	RecordDispatch(result string, duration time.Duration)
	RecordLinkAttempt(result string)
	RecordPendingEnqueued()
	RecordCleanupDeleted(target string, count int64)
}

// 送信・リンク結果のラベル値
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	webhookUpdates  *prometheus.CounterVec
	webhookDropped  *prometheus.CounterVec
	dispatchTotal   *prometheus.CounterVec
	dispatchLatency prometheus.Histogram
	linkAttempts    *prometheus.CounterVec
	pendingEnqueued prometheus.Counter
	cleanupDeleted  *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		webhookUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "icore_webhook_updates_total",
			Help: "分類済みwebhook updateの種別ごとの合計数",
		}, []string{"kind"}),
		webhookDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "icore_webhook_dropped_total",
			Help: "処理せずに破棄したwebhook updateの理由ごとの合計数",
		}, []string{"reason"}),
		dispatchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "icore_dispatch_total",
			Help: "Telegramへの返信送信の結果ごとの合計数",
		}, []string{"result"}),
		dispatchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "icore_dispatch_latency_seconds",
			Help:    "Telegramへの返信送信のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		linkAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "icore_link_attempts_total",
			Help: "リンクトークン消費の結果ごとの合計数",
		}, []string{"result"}),
		pendingEnqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "icore_pending_enqueued_total",
			Help: "未連携チャットから保留した受信メッセージの合計数",
		}),
		cleanupDeleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "icore_cleanup_deleted_total",
			Help: "クリーンアップジョブが削除した行数",
		}, []string{"target"}),
	}

	reg.MustRegister(
		c.webhookUpdates,
		c.webhookDropped,
		c.dispatchTotal,
		c.dispatchLatency,
		c.linkAttempts,
		c.pendingEnqueued,
		c.cleanupDeleted,
	)

	return c
}

// RecordWebhookUpdate は分類済みupdateを記録する。
func (c *Collector) RecordWebhookUpdate(kind string) {
	c.webhookUpdates.WithLabelValues(kind).Inc()
}

// RecordWebhookDropped は破棄したupdateを記録する。
func (c *Collector) RecordWebhookDropped(reason string) {
	c.webhookDropped.WithLabelValues(reason).Inc()
}

// RecordDispatch は返信送信の結果とレイテンシを記録する。
func (c *Collector) RecordDispatch(result string, duration time.Duration) {
	c.dispatchTotal.WithLabelValues(result).Inc()
	c.dispatchLatency.Observe(duration.Seconds())
}

// RecordLinkAttempt はリンクトークン消費の結果を記録する。
// resultはsuccessかエラーコード。
func (c *Collector) RecordLinkAttempt(result string) {
	c.linkAttempts.WithLabelValues(result).Inc()
}

// RecordPendingEnqueued は保留メッセージの追加を記録する。
func (c *Collector) RecordPendingEnqueued() {
	c.pendingEnqueued.Inc()
}

// RecordCleanupDeleted はクリーンアップで削除した行数を記録する。
func (c *Collector) RecordCleanupDeleted(target string, count int64) {
	c.cleanupDeleted.WithLabelValues(target).Add(float64(count))
}

// Nop は何も記録しないMetricsCollector。
type Nop struct{}

func (Nop) RecordWebhookUpdate(string)           {}
func (Nop) RecordWebhookDropped(string)          {}
func (Nop) RecordDispatch(string, time.Duration) {}
func (Nop) RecordLinkAttempt(string)             {}
func (Nop) RecordPendingEnqueued()               {}
func (Nop) RecordCleanupDeleted(string, int64)   {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
// workerプロセスで単独のメトリクスサーバーを立てる場合に使う。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}

// compile-time interface check
var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)
