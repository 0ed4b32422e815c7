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
// 認証サービス、ガード、評価サービスから利用する。
type MetricsCollector interface {
	RecordSignIn(outcome string)
	RecordSignOut(revoked bool)
	RecordGuardRejection(reason string)
	RecordRatingSubmitted(tier int)
	RecordUpsertConflict()
	RecordProviderLatency(endpoint string, duration time.Duration)
	RecordBreakerState(name string, state string)
	RecordHTTPStatus(statusCode int)
}

// breakerStates はサーキットブレーカーの状態ラベル。
var breakerStates = []string{"closed", "half-open", "open"}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	signIn          *prometheus.CounterVec
	signOut         *prometheus.CounterVec
	guardRejections *prometheus.CounterVec
	ratings         *prometheus.CounterVec
	upsertConflicts prometheus.Counter
	providerLatency *prometheus.HistogramVec
	breakerState    *prometheus.GaugeVec
	httpStatus      *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		signIn: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "menucatalog_sign_in_total",
			Help: "サインイン試行の結果別の合計数",
		}, []string{"outcome"}),
		signOut: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "menucatalog_sign_out_total",
			Help: "サインアウトの合計数（トークン失効の成否別）",
		}, []string{"revoked"}),
		guardRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "menucatalog_guard_rejections_total",
			Help: "ガードが拒否したリクエストの理由別の合計数",
		}, []string{"reason"}),
		ratings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "menucatalog_ratings_submitted_total",
			Help: "評価段階別の評価送信数",
		}, []string{"tier"}),
		upsertConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "menucatalog_rating_upsert_conflicts_total",
			Help: "一意制約違反により更新として再試行した評価の数",
		}),
		providerLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "menucatalog_provider_request_seconds",
			Help:    "IDプロバイダーへのリクエストのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"endpoint"}),
		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "menucatalog_circuit_breaker_state",
			Help: "サーキットブレーカーの現在状態（該当状態が1）",
		}, []string{"name", "state"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "menucatalog_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.signIn,
		c.signOut,
		c.guardRejections,
		c.ratings,
		c.upsertConflicts,
		c.providerLatency,
		c.breakerState,
		c.httpStatus,
	)

	return c
}

// RecordSignIn はサインインの結果を記録する。
func (c *Collector) RecordSignIn(outcome string) {
	c.signIn.WithLabelValues(outcome).Inc()
}

// RecordSignOut はサインアウトを記録する。
func (c *Collector) RecordSignOut(revoked bool) {
	c.signOut.WithLabelValues(strconv.FormatBool(revoked)).Inc()
}

// RecordGuardRejection はガードによる拒否を記録する。
func (c *Collector) RecordGuardRejection(reason string) {
	c.guardRejections.WithLabelValues(reason).Inc()
}

// RecordRatingSubmitted は評価の送信を記録する。
func (c *Collector) RecordRatingSubmitted(tier int) {
	c.ratings.WithLabelValues(strconv.Itoa(tier)).Inc()
}

// RecordUpsertConflict は評価UPSERTの競合による再試行を記録する。
func (c *Collector) RecordUpsertConflict() {
	c.upsertConflicts.Inc()
}

// RecordProviderLatency はIDプロバイダーへのリクエストのレイテンシを記録する。
func (c *Collector) RecordProviderLatency(endpoint string, duration time.Duration) {
	c.providerLatency.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// RecordBreakerState はサーキットブレーカーの状態を記録する。
func (c *Collector) RecordBreakerState(name string, state string) {
	for _, s := range breakerStates {
		v := 0.0
		if s == state {
			v = 1
		}
		c.breakerState.WithLabelValues(name, s).Set(v)
	}
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// NopCollector は何も記録しないMetricsCollector。テストやメトリクス無効時に使う。
type NopCollector struct{}

func (NopCollector) RecordSignIn(string)                         {}
func (NopCollector) RecordSignOut(bool)                          {}
func (NopCollector) RecordGuardRejection(string)                 {}
func (NopCollector) RecordRatingSubmitted(int)                   {}
func (NopCollector) RecordUpsertConflict()                       {}
func (NopCollector) RecordProviderLatency(string, time.Duration) {}
func (NopCollector) RecordBreakerState(string, string)           {}
func (NopCollector) RecordHTTPStatus(int)                        {}

// compile-time interface check
var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = NopCollector{}
)
