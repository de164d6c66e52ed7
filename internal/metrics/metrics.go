// Package metrics registers the Prometheus metrics used by the routing
// proxy. Import this package (via blank import) from the server entry point
// to register all metrics before the /metrics handler is mounted.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Request-level counters and histograms.
var (
	// RequestsTotal counts completed requests labelled by virtual model,
	// provider, target model, and outcome ("success" or "error"). Requests
	// that find no candidate pipeline are not counted.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "router_requests_total",
			Help: "Total number of requests dispatched by the routing proxy.",
		},
		[]string{"virtual_model", "provider", "target_model", "status"},
	)

	// RequestDuration observes end-to-end request latency in seconds.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "router_request_duration_seconds",
			Help:    "End-to-end request duration in seconds.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"virtual_model", "provider"},
	)

	// TokensInput counts total prompt tokens sent to upstreams.
	TokensInput = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "router_tokens_input_total",
			Help: "Total prompt tokens sent upstream.",
		},
		[]string{"provider", "target_model"},
	)

	// TokensOutput counts total completion tokens received from upstreams.
	TokensOutput = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "router_tokens_output_total",
			Help: "Total completion tokens received from upstream.",
		},
		[]string{"provider", "target_model"},
	)

	// UpstreamErrors counts Server-stage errors by provider and error kind
	// (the §7 error kinds: upstream_timeout, upstream_transient,
	// upstream_rate_limited, upstream_auth).
	UpstreamErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "router_upstream_errors_total",
			Help: "Total upstream errors by provider and error kind.",
		},
		[]string{"provider", "kind"},
	)

	// PipelineBlacklisted tracks per-pipeline blacklist state as a gauge:
	// 0 = active, 1 = blacklisted.
	PipelineBlacklisted = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "router_pipeline_blacklisted",
			Help: "Whether a pipeline is currently excluded from router selection (0=active 1=blacklisted).",
		},
		[]string{"pipeline_id"},
	)

	// PipelinesRegistered tracks the live pipeline count per virtual model.
	PipelinesRegistered = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "router_pipelines_registered",
			Help: "Number of live, registered pipelines per virtual model.",
		},
		[]string{"virtual_model"},
	)
)
