// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ログイン結果のラベル値
const (
	LoginResultSuccess         = "success"
	LoginResultInvalidSession  = "invalid_session"
	LoginResultUnavailable     = "resolver_unavailable"
	LoginResultPersistenceFail = "persistence_failure"
)

// 認証ゲート判定結果のラベル値
const (
	GateResultAllowed      = "allowed"
	GateResultNoCredential = "no_credential"
	GateResultInvalid      = "invalid_or_expired"
	GateResultUserNotFound = "user_not_found"
	GateResultStoreFailure = "store_failure"
)

// MetricsCollector はメトリクス収集のインターフェース。
// 認証サービス、チャットサービス、クリーンアップジョブ、HTTPミドルウェアから利用する。
type MetricsCollector interface {
	RecordLogin(result string)
	RecordUserCreated()
	RecordGateDecision(result string)
	RecordLogoutSessionsDeleted(count int64)
	RecordSessionsPurged(count int64)
	RecordChatMessage(isVoice bool)
	RecordHTTPStatus(statusCode int)
	RecordIdentityResolveLatency(duration time.Duration)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	login          *prometheus.CounterVec
	usersCreated   prometheus.Counter
	gate           *prometheus.CounterVec
	logoutDeleted  prometheus.Counter
	sessionsPurged prometheus.Counter
	chatMessages   *prometheus.CounterVec
	httpStatus     *prometheus.CounterVec
	resolveLatency prometheus.Histogram
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		login: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "farha_login_total",
			Help: "セッション発行試行の結果別合計数",
		}, []string{"result"}),
		usersCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "farha_users_created_total",
			Help: "初回ログインで作成されたユーザーの合計数",
		}),
		gate: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "farha_gate_total",
			Help: "認証ゲートの判定結果別合計数",
		}, []string{"result"}),
		logoutDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "farha_logout_sessions_deleted_total",
			Help: "ログアウトで削除されたセッションの合計数",
		}),
		sessionsPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "farha_sessions_purged_total",
			Help: "クリーンアップジョブで削除された期限切れセッションの合計数",
		}),
		chatMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "farha_chat_messages_total",
			Help: "保存されたチャットメッセージの合計数",
		}, []string{"voice"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "farha_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		resolveLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "farha_identity_resolve_seconds",
			Help:    "IDプロバイダ照会のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		c.login,
		c.usersCreated,
		c.gate,
		c.logoutDeleted,
		c.sessionsPurged,
		c.chatMessages,
		c.httpStatus,
		c.resolveLatency,
	)

	return c
}

// RecordLogin はセッション発行試行の結果を記録する。
func (c *Collector) RecordLogin(result string) {
	c.login.WithLabelValues(result).Inc()
}

// RecordUserCreated はユーザー作成を記録する。
func (c *Collector) RecordUserCreated() {
	c.usersCreated.Inc()
}

// RecordGateDecision は認証ゲートの判定結果を記録する。
func (c *Collector) RecordGateDecision(result string) {
	c.gate.WithLabelValues(result).Inc()
}

// RecordLogoutSessionsDeleted はログアウトで削除されたセッション数を記録する。
func (c *Collector) RecordLogoutSessionsDeleted(count int64) {
	c.logoutDeleted.Add(float64(count))
}

// RecordSessionsPurged はクリーンアップで削除されたセッション数を記録する。
func (c *Collector) RecordSessionsPurged(count int64) {
	c.sessionsPurged.Add(float64(count))
}

// RecordChatMessage はチャットメッセージの保存を記録する。
func (c *Collector) RecordChatMessage(isVoice bool) {
	c.chatMessages.WithLabelValues(strconv.FormatBool(isVoice)).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordIdentityResolveLatency はIDプロバイダ照会のレイテンシを記録する。
func (c *Collector) RecordIdentityResolveLatency(duration time.Duration) {
	c.resolveLatency.Observe(duration.Seconds())
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// NopCollector は何も記録しないMetricsCollector。
// メトリクスを必要としないテストやworkerコマンドで使用する。
type NopCollector struct{}

func (NopCollector) RecordLogin(string) {}
func (NopCollector) RecordUserCreated() {}
func (NopCollector) RecordGateDecision(string) {}
func (NopCollector) RecordLogoutSessionsDeleted(int64) {}
func (NopCollector) RecordSessionsPurged(int64) {}
func (NopCollector) RecordChatMessage(bool) {}
func (NopCollector) RecordHTTPStatus(int) {}
func (NopCollector) RecordIdentityResolveLatency(time.Duration) {}
