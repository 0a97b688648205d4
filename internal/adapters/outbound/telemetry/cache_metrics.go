package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/archon-research/token-cache/internal/ports/outbound"
)

var _ outbound.CacheMetricsRecorder = (*CacheMetrics)(nil)

// CacheMetrics records token cache lookups and origin fetch latency.
type CacheMetrics struct {
	lookups       metric.Int64Counter
	originLatency metric.Float64Histogram
}

// NewCacheMetrics creates the instruments on the global meter provider.
func NewCacheMetrics(meterName string) (*CacheMetrics, error) {
	return NewCacheMetricsWithMeter(otel.Meter(meterName))
}

// NewCacheMetricsWithMeter creates the instruments on meter.
func NewCacheMetricsWithMeter(meter metric.Meter) (*CacheMetrics, error) {
	lookups, err := meter.Int64Counter(
		"token_cache.lookups",
		metric.WithDescription("Token metadata lookups by serving tier"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create token_cache.lookups counter: %w", err)
	}

	latency, err := meter.Float64Histogram(
		"token_cache.origin_fetch_duration",
		metric.WithDescription("Time taken to fetch token metadata from the origin"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create token_cache.origin_fetch_duration histogram: %w", err)
	}

	return &CacheMetrics{lookups: lookups, originLatency: latency}, nil
}

// RecordLookup increments the lookup counter for tier.
func (m *CacheMetrics) RecordLookup(ctx context.Context, tier string) {
	m.lookups.Add(ctx, 1, metric.WithAttributes(attribute.String("tier", tier)))
}

// RecordOriginFetch records one origin fetch.
func (m *CacheMetrics) RecordOriginFetch(ctx context.Context, seconds float64, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	m.originLatency.Record(ctx, seconds, metric.WithAttributes(attribute.String("status", status)))
}
