package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aether_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "aether_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	GatewayConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "aether_gateway_connections",
			Help: "Number of admitted websocket connections.",
		},
	)

	GatewayRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aether_gateway_rejections_total",
			Help: "Total number of websocket admission rejections.",
		},
		[]string{"reason"},
	)

	PipelineMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aether_pipeline_messages_total",
			Help: "Total number of inbound chat messages processed by the pipeline.",
		},
		[]string{"outcome"},
	)

	PipelineStageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "aether_pipeline_stage_duration_seconds",
			Help:    "Duration of individual pipeline stages in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stage"},
	)

	PipelineTailFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "aether_pipeline_tail_failures_total",
			Help: "Total number of swallowed failures in the reply persistence tail.",
		},
	)

	MemoryUpsertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aether_memory_upserts_total",
			Help: "Total number of memory record upserts.",
		},
		[]string{"status"},
	)
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		GatewayConnections,
		GatewayRejectionsTotal,
		PipelineMessagesTotal,
		PipelineStageDuration,
		PipelineTailFailuresTotal,
		MemoryUpsertsTotal,
	)
}
