// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relay_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// WebhooksTotal tracks inbound webhook deliveries by channel and outcome.
	WebhooksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_webhooks_total",
			Help: "Inbound webhook deliveries",
		},
		[]string{"channel", "outcome"},
	)

	// PipelineOutcomes tracks terminal states of the background pipeline.
	PipelineOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_pipeline_outcomes_total",
			Help: "Terminal pipeline states per inbound message",
		},
		[]string{"channel", "outcome"},
	)

	// AgentDispatchDuration tracks agent runtime invocation latency.
	AgentDispatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relay_agent_dispatch_duration_seconds",
			Help:    "Agent runtime invocation duration",
			Buckets: []float64{1, 2, 5, 10, 20, 30, 45, 60, 90, 120},
		},
		[]string{"channel", "status"},
	)

	// AgentTokensTotal tracks tokens reported by the agent runtime.
	AgentTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_agent_tokens_total",
			Help: "Agent runtime tokens processed",
		},
		[]string{"model", "direction"},
	)

	// QuotaRejections tracks messages stopped by the quota gate.
	QuotaRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_quota_rejections_total",
			Help: "Messages rejected by the monthly quota gate",
		},
		[]string{"plan"},
	)

	// RepliesTotal tracks outbound platform deliveries.
	RepliesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_replies_total",
			Help: "Outbound platform reply deliveries",
		},
		[]string{"channel", "status"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordDispatch records metrics for one agent runtime invocation.
func RecordDispatch(channel, status, model string, duration float64, tokensIn, tokensOut int) {
	AgentDispatchDuration.WithLabelValues(channel, status).Observe(duration)
	if model != "" {
		AgentTokensTotal.WithLabelValues(model, "in").Add(float64(tokensIn))
		AgentTokensTotal.WithLabelValues(model, "out").Add(float64(tokensOut))
	}
}
