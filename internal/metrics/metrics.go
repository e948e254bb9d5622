// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// スケジューラとトランスポート層から利用する。
type MetricsCollector interface {
	RecordSendSuccess(method string)
	RecordSendFailure(method string)
	RecordSendLatency(method string, duration time.Duration)
	RecordRecoveredTimers(count int)
	SetActiveTimers(count int)
	RecordCleanupDeleted(count int64)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	sendSuccess     *prometheus.CounterVec
	sendFail        *prometheus.CounterVec
	sendLatency     *prometheus.HistogramVec
	recoveredTimers prometheus.Counter
	activeTimers    prometheus.Gauge
	cleanupDeleted  prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		sendSuccess: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mealmaster_notification_sent_total",
			Help: "通知送信成功の合計数（送信方法別）",
		}, []string{"method"}),
		sendFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mealmaster_notification_fail_total",
			Help: "通知送信失敗の合計数（送信方法別）",
		}, []string{"method"}),
		sendLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mealmaster_notification_latency_seconds",
			Help:    "通知送信のレイテンシ（秒、送信方法別）",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
		recoveredTimers: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mealmaster_recovered_timers_total",
			Help: "再起動時に復元されたタイマーの合計数",
		}),
		activeTimers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mealmaster_active_timers",
			Help: "現在登録されているタイマー数",
		}),
		cleanupDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mealmaster_cleanup_deleted_total",
			Help: "クリーンアップで削除された終端リマインダーの合計数",
		}),
	}

	reg.MustRegister(
		c.sendSuccess,
		c.sendFail,
		c.sendLatency,
		c.recoveredTimers,
		c.activeTimers,
		c.cleanupDeleted,
	)

	return c
}

// RecordSendSuccess は通知送信成功を記録する。
func (c *Collector) RecordSendSuccess(method string) {
	c.sendSuccess.WithLabelValues(method).Inc()
}

// RecordSendFailure は通知送信失敗を記録する。
func (c *Collector) RecordSendFailure(method string) {
	c.sendFail.WithLabelValues(method).Inc()
}

// RecordSendLatency は通知送信のレイテンシを記録する。
func (c *Collector) RecordSendLatency(method string, duration time.Duration) {
	c.sendLatency.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordRecoveredTimers は復元されたタイマー数を記録する。
func (c *Collector) RecordRecoveredTimers(count int) {
	c.recoveredTimers.Add(float64(count))
}

// SetActiveTimers は現在のタイマー数を記録する。
func (c *Collector) SetActiveTimers(count int) {
	c.activeTimers.Set(float64(count))
}

// RecordCleanupDeleted はクリーンアップの削除件数を記録する。
func (c *Collector) RecordCleanupDeleted(count int64) {
	c.cleanupDeleted.Add(float64(count))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
