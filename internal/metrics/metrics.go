// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// フェッチャ、リゾルバ、ワーカー、キューから利用する。
type MetricsCollector interface {
	RecordFetch(outcome string, duration time.Duration)
	RecordHTTPStatus(statusCode int)
	RecordSubscribe(mode, result string)
	RecordJobTransition(state, code string)
	RecordTaskEnqueued(backend string, bulkImport bool)
	RecordTaskProcessed(backend string, ok bool)
	RecordJobStatesPurged(count int64)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	fetchLatency     *prometheus.HistogramVec
	httpStatus       *prometheus.CounterVec
	subscribeResults *prometheus.CounterVec
	jobTransitions   *prometheus.CounterVec
	tasksEnqueued    *prometheus.CounterVec
	tasksProcessed   *prometheus.CounterVec
	jobStatesPurged  prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		fetchLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "feedsub_fetch_duration_seconds",
			Help:    "フィード取得のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"outcome"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "feedsub_fetch_http_status_total",
			Help: "フィード取得時のHTTPステータスコード別レスポンス数",
		}, []string{"status_code"}),
		subscribeResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "feedsub_subscribe_total",
			Help: "購読処理の結果別の合計数",
		}, []string{"mode", "result"}),
		jobTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "feedsub_job_state_transitions_total",
			Help: "ジョブ状態の遷移数",
		}, []string{"state", "code"}),
		tasksEnqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "feedsub_tasks_enqueued_total",
			Help: "キューに投入された購読タスク数",
		}, []string{"backend", "bulk_import"}),
		tasksProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "feedsub_tasks_processed_total",
			Help: "処理された購読タスク数",
		}, []string{"backend", "result"}),
		jobStatesPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "feedsub_job_states_purged_total",
			Help: "保持期間切れで削除されたジョブ状態の合計数",
		}),
	}

	reg.MustRegister(
		c.fetchLatency,
		c.httpStatus,
		c.subscribeResults,
		c.jobTransitions,
		c.tasksEnqueued,
		c.tasksProcessed,
		c.jobStatesPurged,
	)

	return c
}

// RecordFetch はフィード取得の結果とレイテンシを記録する。
func (c *Collector) RecordFetch(outcome string, duration time.Duration) {
	c.fetchLatency.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordSubscribe は購読処理の結果を記録する。modeはsyncまたはasync。
func (c *Collector) RecordSubscribe(mode, result string) {
	c.subscribeResults.WithLabelValues(mode, result).Inc()
}

// RecordJobTransition はジョブ状態の遷移を記録する。codeはERROR時のエラーコード。
func (c *Collector) RecordJobTransition(state, code string) {
	c.jobTransitions.WithLabelValues(state, code).Inc()
}

// RecordTaskEnqueued は購読タスクの投入を記録する。
func (c *Collector) RecordTaskEnqueued(backend string, bulkImport bool) {
	c.tasksEnqueued.WithLabelValues(backend, strconv.FormatBool(bulkImport)).Inc()
}

// RecordTaskProcessed は購読タスクの処理結果を記録する。
func (c *Collector) RecordTaskProcessed(backend string, ok bool) {
	result := "ok"
	if !ok {
		result = "retry"
	}
	c.tasksProcessed.WithLabelValues(backend, result).Inc()
}

// RecordJobStatesPurged は削除したジョブ状態数を記録する。
func (c *Collector) RecordJobStatesPurged(count int64) {
	c.jobStatesPurged.Add(float64(count))
}

// Nop は何も記録しないMetricsCollector。
type Nop struct{}

func (Nop) RecordFetch(string, time.Duration) {}
func (Nop) RecordHTTPStatus(int) {}
func (Nop) RecordSubscribe(string, string) {}
func (Nop) RecordJobTransition(string, string) {}
func (Nop) RecordTaskEnqueued(string, bool) {}
func (Nop) RecordTaskProcessed(string, bool) {}
func (Nop) RecordJobStatesPurged(int64) {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)
