// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/SoftcialDev/LivekitAppMonoRepo-sub002/internal/model"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ワーカーやサービス層から利用する。
type MetricsCollector interface {
	RecordPresenceTransition(status model.PresenceStatus)
	RecordBroadcastFailure()
	RecordCommandIssued(command model.CommandType)
	RecordCommandDelivered()
	RecordCommandExpired()
	RecordCommandsAcknowledged(count int)
	RecordReconcileRun(corrected int)
	RecordReconcileError()
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	presenceTransitions  *prometheus.CounterVec
	broadcastFailures    prometheus.Counter
	commandsIssued       *prometheus.CounterVec
	commandsDelivered    prometheus.Counter
	commandsExpired      prometheus.Counter
	commandsAcknowledged prometheus.Counter
	reconcileRuns        prometheus.Counter
	reconcileCorrections prometheus.Counter
	reconcileErrors      prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		presenceTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "presence_transitions_total",
			Help: "プレゼンス遷移のステータス別合計数",
		}, []string{"status"}),
		broadcastFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "presence_broadcast_failures_total",
			Help: "プレゼンス変化のブロードキャスト失敗の合計数",
		}),
		commandsIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "commands_issued_total",
			Help: "発行されたコマンドの種別別合計数",
		}, []string{"command"}),
		commandsDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "commands_delivered_total",
			Help: "リアルタイムチャネルで即時配信されたコマンドの合計数",
		}),
		commandsExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "commands_expired_total",
			Help: "読み取り時にTTL超過で失効扱いになったコマンドの合計数",
		}),
		commandsAcknowledged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "commands_acknowledged_total",
			Help: "ACKされたコマンドの合計数",
		}),
		reconcileRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reconcile_runs_total",
			Help: "照合サイクルの実行回数",
		}),
		reconcileCorrections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reconcile_corrections_total",
			Help: "照合ジョブが補正したプレゼンスレコードの合計数",
		}),
		reconcileErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reconcile_errors_total",
			Help: "照合サイクルで発生したエラーの合計数",
		}),
	}

	reg.MustRegister(
		c.presenceTransitions,
		c.broadcastFailures,
		c.commandsIssued,
		c.commandsDelivered,
		c.commandsExpired,
		c.commandsAcknowledged,
		c.reconcileRuns,
		c.reconcileCorrections,
		c.reconcileErrors,
	)

	return c
}

// RecordPresenceTransition はプレゼンス遷移を記録する。
func (c *Collector) RecordPresenceTransition(status model.PresenceStatus) {
	c.presenceTransitions.WithLabelValues(string(status)).Inc()
}

// RecordBroadcastFailure はブロードキャスト失敗を記録する。
func (c *Collector) RecordBroadcastFailure() {
	c.broadcastFailures.Inc()
}

// RecordCommandIssued はコマンド発行を記録する。
func (c *Collector) RecordCommandIssued(command model.CommandType) {
	c.commandsIssued.WithLabelValues(string(command)).Inc()
}

// RecordCommandDelivered は即時配信の成功を記録する。
func (c *Collector) RecordCommandDelivered() {
	c.commandsDelivered.Inc()
}

// RecordCommandExpired はTTL超過による失効を記録する。
func (c *Collector) RecordCommandExpired() {
	c.commandsExpired.Inc()
}

// RecordCommandsAcknowledged はACKされたコマンド数を記録する。
func (c *Collector) RecordCommandsAcknowledged(count int) {
	c.commandsAcknowledged.Add(float64(count))
}

// RecordReconcileRun は照合サイクルの完了と補正件数を記録する。
func (c *Collector) RecordReconcileRun(corrected int) {
	c.reconcileRuns.Inc()
	c.reconcileCorrections.Add(float64(corrected))
}

// RecordReconcileError は照合サイクルのエラーを記録する。
func (c *Collector) RecordReconcileError() {
	c.reconcileErrors.Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
// Prometheusスクレイプに対応する。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}
