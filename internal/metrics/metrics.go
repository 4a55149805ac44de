// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// 権限判定、招待、キャッシュ、変更通知の各層から利用する。
type MetricsCollector interface {
	RecordCapabilityCheck(capability string)
	RecordInvitation(outcome string)
	RecordCacheResult(kind string, hit bool)
	RecordCacheInvalidation(table string)
	RecordRealtimeEvent(table, op string)
	RecordDroppedSubscription(table string)
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	capabilityChecks   *prometheus.CounterVec
	invitations        *prometheus.CounterVec
	cacheRequests      *prometheus.CounterVec
	cacheInvalidations *prometheus.CounterVec
	realtimeEvents     *prometheus.CounterVec
	droppedSubs        *prometheus.CounterVec
	httpStatus         *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		capabilityChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taskboard_capability_checks_total",
			Help: "権限判定の結果別の件数",
		}, []string{"capability"}),
		invitations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taskboard_invitations_total",
			Help: "招待操作の結果別の件数",
		}, []string{"outcome"}),
		cacheRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taskboard_cache_requests_total",
			Help: "キャッシュ参照のヒット/ミス別の件数",
		}, []string{"kind", "result"}),
		cacheInvalidations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taskboard_cache_invalidations_total",
			Help: "変更通知によるキャッシュ無効化のテーブル別の件数",
		}, []string{"table"}),
		realtimeEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taskboard_realtime_events_total",
			Help: "受信した変更通知のテーブル・操作別の件数",
		}, []string{"table", "op"}),
		droppedSubs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taskboard_realtime_dropped_subscriptions_total",
			Help: "切断された変更通知購読の件数",
		}, []string{"table"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taskboard_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.capabilityChecks,
		c.invitations,
		c.cacheRequests,
		c.cacheInvalidations,
		c.realtimeEvents,
		c.droppedSubs,
		c.httpStatus,
	)

	return c
}

// RecordCapabilityCheck は権限判定の結果を記録する。
func (c *Collector) RecordCapabilityCheck(capability string) {
	c.capabilityChecks.WithLabelValues(capability).Inc()
}

// RecordInvitation は招待操作の結果を記録する。
// outcomeは created, accepted, already_joined, rejected, already_resolved のいずれか。
func (c *Collector) RecordInvitation(outcome string) {
	c.invitations.WithLabelValues(outcome).Inc()
}

// RecordCacheResult はキャッシュ参照の結果を記録する。
func (c *Collector) RecordCacheResult(kind string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	c.cacheRequests.WithLabelValues(kind, result).Inc()
}

// RecordCacheInvalidation は変更通知による無効化を記録する。
func (c *Collector) RecordCacheInvalidation(table string) {
	c.cacheInvalidations.WithLabelValues(table).Inc()
}

// RecordRealtimeEvent は受信した変更通知を記録する。
func (c *Collector) RecordRealtimeEvent(table, op string) {
	c.realtimeEvents.WithLabelValues(table, op).Inc()
}

// RecordDroppedSubscription は購読の切断を記録する。
func (c *Collector) RecordDroppedSubscription(table string) {
	c.droppedSubs.WithLabelValues(table).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

var _ MetricsCollector = (*Collector)(nil)
