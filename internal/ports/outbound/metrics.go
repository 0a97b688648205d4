package outbound

import "context"

// Lookup tiers reported to the metrics recorder.
const (
	TierMemory  = "memory"
	TierDurable = "durable"
	TierOrigin  = "origin"
	TierError   = "error"
)

// CacheMetricsRecorder records token cache activity without tying services to
// a telemetry implementation.
type CacheMetricsRecorder interface {
	// RecordLookup counts one GetOrAdd call, labelled by the tier that served it.
	RecordLookup(ctx context.Context, tier string)

	// RecordOriginFetch records the latency of one origin fetch and whether it succeeded.
	RecordOriginFetch(ctx context.Context, seconds float64, success bool)
}
