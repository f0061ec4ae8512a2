package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PaymentMetrics 支付链路指标
type PaymentMetrics struct {
	// 结账/捕获
	CheckoutsTotal *prometheus.CounterVec // channel, result
	CapturesTotal  *prometheus.CounterVec // result

	// 回调
	WebhooksTotal *prometheus.CounterVec // result: handled|duplicate|invalid_signature|ignored|failed

	// 对账
	ReconciliationsTotal     *prometheus.CounterVec // source: hosted|direct, result
	ReconciliationMismatches prometheus.Counter
	HeuristicClassifications prometheus.Counter

	// 网关出站调用
	GatewayRequestDuration *prometheus.HistogramVec // provider, op
	TokenRefreshTotal      *prometheus.CounterVec   // provider, result
}

// NewPaymentMetrics 创建支付指标收集器
// 测试中传入独立的 prometheus.NewRegistry()，避免重复注册
func NewPaymentMetrics(reg prometheus.Registerer) *PaymentMetrics {
	factory := promauto.With(reg)

	return &PaymentMetrics{
		CheckoutsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payment_checkouts_total",
				Help: "Total number of checkout sessions created",
			},
			[]string{"channel", "result"},
		),

		CapturesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payment_captures_total",
				Help: "Total number of direct-capture attempts",
			},
			[]string{"result"},
		),

		WebhooksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payment_webhooks_total",
				Help: "Total number of inbound webhook events by outcome",
			},
			[]string{"result"},
		),

		ReconciliationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payment_reconciliations_total",
				Help: "Total number of order reconciliations",
			},
			[]string{"source", "result"},
		),

		ReconciliationMismatches: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "payment_reconciliation_mismatches_total",
				Help: "Reconciliations where computed totals differed from the provider total",
			},
		),

		HeuristicClassifications: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "payment_heuristic_line_classifications_total",
				Help: "Line items classified by description keywords instead of an explicit type tag",
			},
		),

		GatewayRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "payment_gateway_request_duration_seconds",
				Help:    "Outbound payment provider call duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"provider", "op"},
		),

		TokenRefreshTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payment_token_refresh_total",
				Help: "OAuth token refresh attempts by provider",
			},
			[]string{"provider", "result"},
		),
	}
}

// ObserveGatewayRequest 记录一次网关出站调用耗时
func (m *PaymentMetrics) ObserveGatewayRequest(provider, op string, start time.Time) {
	m.GatewayRequestDuration.WithLabelValues(provider, op).Observe(time.Since(start).Seconds())
}
