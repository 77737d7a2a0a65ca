// Package metrics provides the OpenTelemetry-backed implementation of
// gateway.Metrics, exported through a Prometheus bridge the same way the
// rest of this stack wires otel/exporters/prometheus behind a
// sdkmetric.MeterProvider: metrics are recorded through the OTel Metrics
// API and scraped in Prometheus exposition format from /metrics.
package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/lokutor-ai/tts-gateway/pkg/gateway"
)

const meterName = "github.com/lokutor-ai/tts-gateway"

// Metrics is the OpenTelemetry-backed instrumentation surface wired into
// gateway.Manager via the gateway.Metrics interface.
type Metrics struct {
	activeSessions      metric.Int64UpDownCounter
	chunksEmitted       metric.Int64Counter
	synthDuration       metric.Float64Histogram
	chunkBytes          metric.Int64Histogram
	backpressureTrips   metric.Int64Counter
	ttlEvictions        metric.Int64Counter
	sendQueueDepth      metric.Int64Gauge
}

// synthLatencyBuckets (seconds) covers the latency range this gateway's
// spec tolerates: sub-10ms dummy synthesis up to multi-second vendor calls.
var synthLatencyBuckets = []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// New builds a Metrics instance from mp. Returns an error if any instrument
// fails to register.
func New(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	met := &Metrics{}
	var err error

	if met.activeSessions, err = m.Int64UpDownCounter("gateway.active_sessions",
		metric.WithDescription("Number of sessions currently registered in the manager."),
	); err != nil {
		return nil, err
	}
	if met.chunksEmitted, err = m.Int64Counter("gateway.chunks_emitted",
		metric.WithDescription("Total audio_chunk messages emitted across all sessions."),
	); err != nil {
		return nil, err
	}
	if met.synthDuration, err = m.Float64Histogram("gateway.synth.duration",
		metric.WithDescription("Latency of a single engine.SynthesizePCM16 call."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(synthLatencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.chunkBytes, err = m.Int64Histogram("gateway.chunk.bytes",
		metric.WithDescription("Size in bytes of synthesized PCM16 per chunk."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if met.backpressureTrips, err = m.Int64Counter("gateway.backpressure_trips",
		metric.WithDescription("Total sessions terminated for send-queue saturation."),
	); err != nil {
		return nil, err
	}
	if met.ttlEvictions, err = m.Int64Counter("gateway.ttl_evictions",
		metric.WithDescription("Total sessions reclaimed by the TTL cleanup loop."),
	); err != nil {
		return nil, err
	}
	if met.sendQueueDepth, err = m.Int64Gauge("gateway.send_queue.depth",
		metric.WithDescription("Send queue depth at the last observation from any session."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// Compile-time check that Metrics satisfies gateway.Metrics.
var _ gateway.Metrics = (*Metrics)(nil)

func (m *Metrics) SessionOpened() {
	m.activeSessions.Add(context.Background(), 1)
}

func (m *Metrics) SessionClosed() {
	m.activeSessions.Add(context.Background(), -1)
}

func (m *Metrics) ChunkEmitted(synthDuration time.Duration, bytes int) {
	ctx := context.Background()
	m.chunksEmitted.Add(ctx, 1)
	m.synthDuration.Record(ctx, synthDuration.Seconds())
	m.chunkBytes.Record(ctx, int64(bytes))
}

func (m *Metrics) BackpressureTripped() {
	m.backpressureTrips.Add(context.Background(), 1)
}

func (m *Metrics) TTLEvicted() {
	m.ttlEvictions.Add(context.Background(), 1)
}

func (m *Metrics) QueueDepth(sessionID string, depth int) {
	m.sendQueueDepth.Record(context.Background(), int64(depth))
}
