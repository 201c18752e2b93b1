package usecase

import (
	"context"

	"github.com/example/photo-bridge/internal/repository"
)

// Aggregator computes request log aggregates.
type Aggregator interface {
	AggregateMetrics(ctx context.Context, service string) (*repository.Aggregation, error)
}

// MetricsSummary represents aggregated request insights for one service.
type MetricsSummary struct {
	Service            string  `json:"service"`
	TotalRequests      int64   `json:"total_requests"`
	SuccessfulRequests int64   `json:"successful_requests"`
	SuccessRate        float64 `json:"success_rate"`
	AverageLatencyMs   float64 `json:"average_latency_ms"`
}

// Summarize aggregates the persisted request logs of service.
func Summarize(ctx context.Context, agg Aggregator, service string) (*MetricsSummary, error) {
	aggregation, err := agg.AggregateMetrics(ctx, service)
	if err != nil {
		return nil, err
	}

	summary := &MetricsSummary{
		Service:            service,
		TotalRequests:      aggregation.TotalCount,
		SuccessfulRequests: aggregation.SuccessCount,
		AverageLatencyMs:   aggregation.AverageLatencyMs,
	}
	if aggregation.TotalCount > 0 {
		summary.SuccessRate = float64(aggregation.SuccessCount) / float64(aggregation.TotalCount)
	}
	return summary, nil
}
