// Package metrics はPrometheusメトリクスの定義と記録を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector は同期エンジンとチャネル管理のメトリクスを収集する。
type Collector struct {
	registry *prometheus.Registry

	reconcileTotal    *prometheus.CounterVec
	reconcileDuration prometheus.Histogram
	eventsUpserted    prometheus.Counter
	webhooksReceived  *prometheus.CounterVec
	channelsOpened    prometheus.Counter
	channelsClosed    prometheus.Counter
}

// NewCollector はCollectorを生成し、全メトリクスを専用レジストリに登録する。
func NewCollector() *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
		reconcileTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "syncal_reconcile_total",
			Help: "同期実行の総数（結果ラベル付き）",
		}, []string{"result"}),
		reconcileDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "syncal_reconcile_duration_seconds",
			Help:    "同期1回あたりの所要時間",
			Buckets: prometheus.DefBuckets,
		}),
		eventsUpserted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "syncal_events_upserted_total",
			Help: "ミラーへUPSERTされた予定の総数",
		}),
		webhooksReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "syncal_webhooks_received_total",
			Help: "受信したWebhook通知の総数（リソース状態ラベル付き）",
		}, []string{"state"}),
		channelsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "syncal_channels_opened_total",
			Help: "開設したプッシュチャネルの総数",
		}),
		channelsClosed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "syncal_channels_closed_total",
			Help: "クローズしたプッシュチャネルの総数",
		}),
	}

	registry.MustRegister(
		c.reconcileTotal,
		c.reconcileDuration,
		c.eventsUpserted,
		c.webhooksReceived,
		c.channelsOpened,
		c.channelsClosed,
	)

	return c
}

// RecordReconcile は結果ラベル付きで同期の実行を記録する。
func (c *Collector) RecordReconcile(result string, duration time.Duration) {
	c.reconcileTotal.WithLabelValues(result).Inc()
	c.reconcileDuration.Observe(duration.Seconds())
}

// RecordEventsUpserted はUPSERTされた予定数を加算する。
func (c *Collector) RecordEventsUpserted(count int) {
	c.eventsUpserted.Add(float64(count))
}

// RecordWebhookReceived はWebhook通知の受信を記録する。
func (c *Collector) RecordWebhookReceived(state string) {
	c.webhooksReceived.WithLabelValues(state).Inc()
}

// RecordChannelOpened はチャネル開設を記録する。
func (c *Collector) RecordChannelOpened() {
	c.channelsOpened.Inc()
}

// RecordChannelClosed はチャネルクローズを記録する。
func (c *Collector) RecordChannelClosed() {
	c.channelsClosed.Inc()
}

// Handler は/metricsエンドポイント用のHTTPハンドラを返す。
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
