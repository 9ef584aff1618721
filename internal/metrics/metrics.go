// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 配信処理の結果ラベル
const (
	OutcomePublished   = "published"
	OutcomeNoRecipient = "no_recipients"
	OutcomeRejected    = "rejected"
	OutcomeError       = "error"
)

// MetricsCollector はメトリクス収集のインターフェース。
// アラート配信・決済Webhook・HTTP層から利用する。
type MetricsCollector interface {
	RecordAlert(status string)
	RecordDispatch(outcome string, duration time.Duration)
	RecordBillingEvent(eventType, outcome string)
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	alerts           *prometheus.CounterVec
	dispatches       *prometheus.CounterVec
	dispatchDuration prometheus.Histogram
	billingEvents    *prometheus.CounterVec
	httpStatus       *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "strmonitor_alerts_total",
			Help: "購読者ごとのアラート送信試行数（結果別）",
		}, []string{"status"}),
		dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "strmonitor_dispatch_total",
			Help: "アラート配信要求の処理数（結果別）",
		}, []string{"outcome"}),
		dispatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "strmonitor_dispatch_duration_seconds",
			Help:    "アラート配信1回あたりの所要時間（秒）",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
		billingEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "strmonitor_billing_events_total",
			Help: "受信した決済Webhookイベント数（種別・結果別）",
		}, []string{"type", "outcome"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "strmonitor_http_responses_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.alerts,
		c.dispatches,
		c.dispatchDuration,
		c.billingEvents,
		c.httpStatus,
	)

	return c
}

// RecordAlert は1購読者への送信結果を記録する。
func (c *Collector) RecordAlert(status string) {
	c.alerts.WithLabelValues(status).Inc()
}

// RecordDispatch は配信要求の結果と所要時間を記録する。
func (c *Collector) RecordDispatch(outcome string, duration time.Duration) {
	c.dispatches.WithLabelValues(outcome).Inc()
	c.dispatchDuration.Observe(duration.Seconds())
}

// RecordBillingEvent は決済イベントの処理結果を記録する。
func (c *Collector) RecordBillingEvent(eventType, outcome string) {
	c.billingEvents.WithLabelValues(eventType, outcome).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Nop は何も記録しないMetricsCollector。テストやメトリクス無効時に使う。
type Nop struct{}

func (Nop) RecordAlert(string)                   {}
func (Nop) RecordDispatch(string, time.Duration) {}
func (Nop) RecordBillingEvent(string, string)    {}
func (Nop) RecordHTTPStatus(int)                 {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)
