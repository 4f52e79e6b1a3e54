// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector はマーケットプレイスのPrometheusメトリクスを収集する。
// 各サービスやワーカーは自分が使うメソッドだけのインターフェースで受け取る。
type Collector struct {
	ordersPlaced      *prometheus.CounterVec
	orderValue        *prometheus.CounterVec
	orderTransitions  *prometheus.CounterVec
	paymentProofs     prometheus.Counter
	pointsAwarded     prometheus.Counter
	rewardsRedeemed   prometheus.Counter
	outboxProcessed   *prometheus.CounterVec
	outboxLatency     prometheus.Histogram
	catalogFetch      *prometheus.CounterVec
	catalogHTTPStatus *prometheus.CounterVec
	catalogLatency    prometheus.Histogram
	listingsImported  prometheus.Counter
	httpRequests      *prometheus.CounterVec
	httpLatency       prometheus.Histogram
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		ordersPlaced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketplace_orders_placed_total",
			Help: "作成された注文の合計数",
		}, []string{"currency"}),
		orderValue: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketplace_order_value_cents_total",
			Help: "作成された注文の合計金額（最小通貨単位）",
		}, []string{"currency"}),
		orderTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketplace_order_transitions_total",
			Help: "注文ステータス遷移の合計数",
		}, []string{"from", "to"}),
		paymentProofs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "marketplace_payment_proofs_uploaded_total",
			Help: "アップロードされた振込証明の合計数",
		}),
		pointsAwarded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "marketplace_points_awarded_total",
			Help: "付与されたポイントの合計",
		}),
		rewardsRedeemed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "marketplace_rewards_redeemed_total",
			Help: "特典交換の合計数",
		}),
		outboxProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketplace_outbox_events_total",
			Help: "アウトボックスイベントの処理結果別件数",
		}, []string{"event_type", "result"}),
		outboxLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "marketplace_outbox_dispatch_seconds",
			Help:    "アウトボックスイベント1件の処理時間（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		catalogFetch: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketplace_catalog_fetch_total",
			Help: "カタログフィードフェッチの結果別件数",
		}, []string{"result"}),
		catalogHTTPStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketplace_catalog_http_status_total",
			Help: "カタログフィードのHTTPステータスコード別レスポンス数",
		}, []string{"status_code"}),
		catalogLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "marketplace_catalog_fetch_latency_seconds",
			Help:    "カタログフィードフェッチのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		listingsImported: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "marketplace_listings_imported_total",
			Help: "カタログフィードから作成・更新された出品の合計数",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketplace_http_requests_total",
			Help: "APIリクエストのメソッドとステータスコード別件数",
		}, []string{"method", "status_code"}),
		httpLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "marketplace_http_request_duration_seconds",
			Help:    "APIリクエストの処理時間（秒）",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		c.ordersPlaced,
		c.orderValue,
		c.orderTransitions,
		c.paymentProofs,
		c.pointsAwarded,
		c.rewardsRedeemed,
		c.outboxProcessed,
		c.outboxLatency,
		c.catalogFetch,
		c.catalogHTTPStatus,
		c.catalogLatency,
		c.listingsImported,
		c.httpRequests,
		c.httpLatency,
	)

	return c
}

// RecordOrderPlaced は注文の作成を記録する。
func (c *Collector) RecordOrderPlaced(currency string, totalCents int64) {
	c.ordersPlaced.WithLabelValues(currency).Inc()
	c.orderValue.WithLabelValues(currency).Add(float64(totalCents))
}

// RecordOrderTransition は注文ステータスの遷移を記録する。
func (c *Collector) RecordOrderTransition(from, to string) {
	c.orderTransitions.WithLabelValues(from, to).Inc()
}

// RecordPaymentProofUploaded は振込証明のアップロードを記録する。
func (c *Collector) RecordPaymentProofUploaded() {
	c.paymentProofs.Inc()
}

// RecordPointsAwarded は付与ポイントを記録する。
func (c *Collector) RecordPointsAwarded(points int64) {
	c.pointsAwarded.Add(float64(points))
}

// RecordRewardRedeemed は特典交換を記録する。
func (c *Collector) RecordRewardRedeemed() {
	c.rewardsRedeemed.Inc()
}

// RecordOutboxResult はアウトボックスイベントの処理結果（done, retry, dead）と処理時間を記録する。
func (c *Collector) RecordOutboxResult(eventType, result string, duration time.Duration) {
	c.outboxProcessed.WithLabelValues(eventType, result).Inc()
	c.outboxLatency.Observe(duration.Seconds())
}

// RecordFetchSuccess はカタログフィードのフェッチ成功を記録する。
func (c *Collector) RecordFetchSuccess(feedID string) {
	c.catalogFetch.WithLabelValues("success").Inc()
}

// RecordFetchFailure はカタログフィードのフェッチ失敗を記録する。
func (c *Collector) RecordFetchFailure(feedID string, reason string) {
	c.catalogFetch.WithLabelValues("failure").Inc()
}

// RecordParseFailure はカタログフィードのパース失敗を記録する。
func (c *Collector) RecordParseFailure(feedID string) {
	c.catalogFetch.WithLabelValues("parse_failure").Inc()
}

// RecordHTTPStatus はカタログフィードのHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.catalogHTTPStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordFetchLatency はカタログフィードフェッチのレイテンシを記録する。
func (c *Collector) RecordFetchLatency(duration time.Duration) {
	c.catalogLatency.Observe(duration.Seconds())
}

// RecordListingsImported はカタログフィードから取り込んだ出品数を記録する。
func (c *Collector) RecordListingsImported(count int) {
	c.listingsImported.Add(float64(count))
}

// RecordRequest はAPIリクエストのステータスと処理時間を記録する。
func (c *Collector) RecordRequest(method string, statusCode int, duration time.Duration) {
	c.httpRequests.WithLabelValues(method, strconv.Itoa(statusCode)).Inc()
	c.httpLatency.Observe(duration.Seconds())
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}
