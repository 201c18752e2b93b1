// Package metrics defines prometheus metrics to expose.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestCount counts bridged requests by service and outcome.
	RequestCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "photo_bridge_request_count_total",
			Help: "Total number of bridged requests by outcome",
		},
		[]string{"service", "outcome"},
	)

	// RemoteCallDuration observes how long the hosted model takes to answer.
	RemoteCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "photo_bridge_remote_call_duration_seconds",
			Help:    "Time spent waiting for the hosted model",
			Buckets: []float64{.5, 1, 2.5, 5, 10, 15, 20, 30, 45, 60, 90, 120, 180, 300},
		},
		[]string{"service", "result"},
	)

	// InflightRequests gauges calls currently waiting on the hosted model.
	InflightRequests = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "photo_bridge_inflight_requests",
			Help: "Requests currently waiting on the hosted model",
		},
		[]string{"service"},
	)

	// ResponseCodes counts responses by route and status code.
	ResponseCodes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "photo_bridge_status_code",
			Help: "Status Codes",
		},
		[]string{"path", "status_code"},
	)

	// RateLimited counts requests rejected by the rate limiter.
	RateLimited = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "photo_bridge_rate_limited_total",
			Help: "Requests rejected by the rate limiter",
		},
		[]string{"path"},
	)
)
